package arena

const chunkSize = 4096

// Allocator provides raw storage for an arena.
type Allocator interface {
	// Alloc returns n bytes that stay valid until Reset.
	Alloc(n int) []byte
	// Reset invalidates every allocation and makes the storage reusable.
	Reset()
	// Release frees all storage. The allocator is unusable afterwards.
	Release()
}

// Slab allocates from fixed-size Go chunks that are reused after Reset.
// Requests larger than a chunk get their own buffer.
type Slab struct {
	chunks [][]byte
	large  [][]byte
	cur    int
	off    int
}

func NewSlab() *Slab {
	return &Slab{}
}

func (s *Slab) Alloc(n int) []byte {
	if n > chunkSize {
		b := make([]byte, n)
		s.large = append(s.large, b)
		return b
	}
	for s.cur < len(s.chunks) {
		if s.off+n <= chunkSize {
			b := s.chunks[s.cur][s.off : s.off+n : s.off+n]
			s.off += n
			return b
		}
		s.cur++
		s.off = 0
	}
	s.chunks = append(s.chunks, make([]byte, chunkSize))
	s.cur = len(s.chunks) - 1
	s.off = n
	return s.chunks[s.cur][:n:n]
}

func (s *Slab) Reset() {
	s.cur = 0
	s.off = 0
	s.large = nil
}

func (s *Slab) Release() {
	s.chunks = nil
	s.large = nil
	s.cur = 0
	s.off = 0
}

// Chunks returns the number of reusable chunks held.
func (s *Slab) Chunks() int {
	return len(s.chunks)
}

package engine

// Config holds configuration for the process runtime.
type Config struct {
	// CompilationCacheDir persists compiled guest code between processes.
	// Empty disables the on-disk cache.
	CompilationCacheDir string

	// MemoryLimitPages sets the maximum memory per guest in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CloseOnContextDone aborts a running guest call when its context is
	// cancelled. The guest instance is unusable afterwards.
	CloseOnContextDone bool
}

// Package arena holds the transient strings a slave hands back to a C host.
//
// Every string is copied NUL-terminated, in call order, so that the host can
// use the address directly. Addresses stay valid until the next Clear of the
// arena that holds them, after which their storage is reused. Go callers
// never see arena storage; they keep their own copies.
//
// Storage comes from an Allocator: the default Slab keeps Go memory, while
// the C ABI build supplies one backed by C memory.
package arena

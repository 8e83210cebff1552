package engine

const (
	CabiRealloc = "cabi_realloc"
	CabiFree    = "cabi_free"

	// CabiPostPrefix prefixes the optional post-return export of a function
	// returning data in linear memory.
	CabiPostPrefix = "cabi_post_"

	// Legacy names from pre-standardization component model implementations
	legacyRealloc = "canonical_abi_realloc"
	legacyAlloc   = "allocate"
	simpleAlloc   = "alloc"
	legacyDealloc = "deallocate"
	simpleFree    = "free"
)

// PostReturnName returns the post-return export name for an export.
func PostReturnName(export string) string {
	return CabiPostPrefix + export
}

package store

import "unsafe"

// uintptrDiff returns the byte distance from base to target within the same
// backing allocation. Used by AnonManager.AddressOf and MmapManager.AddressOf
// to recover a page's index from its slice header; never used to reinterpret
// memory (spec.md §9
// explicitly asks for owning types + typed views instead of pointer casts,
// which this preserves — the raw pointer here is only ever compared, never
// dereferenced through a different type).
func uintptrDiff(target, base *byte) uintptr {
	return uintptr(unsafe.Pointer(target)) - uintptr(unsafe.Pointer(base))
}

// Package store implements the hard paged-storage subsystem: DbAddress, the
// PageManager (anonymous and memory-mapped backends), RootPage, DataPage and
// AbandonedPage (spec.md §3, §4.3-§4.5, §6).
package store

import "fmt"

// Address is a compact page reference: 24 bits of page index packed into a
// little-endian u32, with the top byte reserved and required to be zero
// (spec.md §6 "DbAddress encoding"). Null is the all-ones sentinel.
type Address uint32

// Null is the sentinel "no page" address.
const Null Address = 0xFFFFFFFF

// MaxPageIndex is the largest addressable page index: three bytes (2^24
// pages), spec.md §4.5 "Bounds".
const MaxPageIndex = 1<<24 - 1

// AddressOf builds an Address from a page index, panicking if index exceeds
// the 24-bit range.
func AddressOf(index uint32) Address {
	if index > MaxPageIndex {
		panic(fmt.Sprintf("store: page index %d exceeds 24-bit range", index))
	}
	return Address(index)
}

// IsNull reports whether a is the null sentinel.
func (a Address) IsNull() bool { return a == Null }

// Index returns the page index encoded in a. Panics if a is Null.
func (a Address) Index() uint32 {
	if a.IsNull() {
		panic("store: Index called on Null address")
	}
	return uint32(a) & 0x00FFFFFF
}

func (a Address) String() string {
	if a.IsNull() {
		return "null"
	}
	return fmt.Sprintf("page#%d", a.Index())
}

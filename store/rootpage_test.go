package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/paprika/page"
	"github.com/erigontech/paprika/store"
)

func newRootView() store.RootView {
	p := page.Wrap(make([]byte, page.Size))
	return store.InitRootPage(p, 0)
}

func TestRootView_BasicFields(t *testing.T) {
	r := newRootView()
	r.SetBlockNumber(42)
	var hash [store.HashSize]byte
	hash[0], hash[31] = 0xAB, 0xCD
	r.SetStateHash(hash)
	r.SetNextFreePage(7)

	require.Equal(t, uint64(42), r.BlockNumber())
	require.Equal(t, hash, r.StateHash())
	require.Equal(t, uint32(7), r.NextFreePage())
}

func TestRootView_FanOut(t *testing.T) {
	r := newRootView()
	require.True(t, r.FanOut(0).IsNull())

	r.SetFanOut(0, store.AddressOf(3))
	r.SetFanOut(255, store.AddressOf(9))
	require.Equal(t, store.AddressOf(3), r.FanOut(0))
	require.Equal(t, store.AddressOf(9), r.FanOut(255))
	require.True(t, r.FanOut(1).IsNull())
}

func TestRootView_AbandonedHeads(t *testing.T) {
	r := newRootView()

	_, ok := r.AbandonedHead(5)
	require.False(t, ok)

	require.True(t, r.SetAbandonedHead(5, store.AddressOf(10)))
	require.True(t, r.SetAbandonedHead(6, store.AddressOf(11)))

	head, ok := r.AbandonedHead(5)
	require.True(t, ok)
	require.Equal(t, store.AddressOf(10), head)

	// Updating an existing batch id's head in place.
	require.True(t, r.SetAbandonedHead(5, store.AddressOf(99)))
	head, ok = r.AbandonedHead(5)
	require.True(t, ok)
	require.Equal(t, store.AddressOf(99), head)

	r.RemoveAbandonedHead(5)
	_, ok = r.AbandonedHead(5)
	require.False(t, ok)

	head, ok = r.AbandonedHead(6)
	require.True(t, ok)
	require.Equal(t, store.AddressOf(11), head)
}

func TestRootView_AbandonedHeads_TableFullRejectsNewBatch(t *testing.T) {
	r := newRootView()
	for i := 0; i < store.MaxAbandonedHeads; i++ {
		require.True(t, r.SetAbandonedHead(uint32(i), store.AddressOf(uint32(i))))
	}
	// The table is now full; a brand-new batch id is rejected, but updating
	// an existing one still works.
	require.False(t, r.SetAbandonedHead(uint32(store.MaxAbandonedHeads), store.AddressOf(1)))
	require.True(t, r.SetAbandonedHead(0, store.AddressOf(777)))
}

func TestRootView_CopyFrom(t *testing.T) {
	src := newRootView()
	src.SetBlockNumber(100)
	src.SetFanOut(3, store.AddressOf(44))

	dstPage := page.Wrap(make([]byte, page.Size))
	dstPage.Stamp(1)
	dst := store.AsRootView(dstPage)

	dst.CopyFrom(src)
	require.Equal(t, uint64(100), dst.BlockNumber())
	require.Equal(t, store.AddressOf(44), dst.FanOut(3))
	// CopyFrom only touches the body; the header (batch id) is untouched.
	require.Equal(t, uint32(1), dstPage.BatchID())
}

package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/paprika/store"
)

func TestAbandoned_EnqueueDequeue_BelowHistoryDepth(t *testing.T) {
	pm := store.NewAnonManager(64 * 4096)

	head, err := store.Enqueue(pm, 10, store.Null, store.AddressOf(5))
	require.NoError(t, err)
	require.False(t, head.IsNull())

	// Not old enough yet: current batch 15, abandoned at 10, depth 64.
	_, _, ok, err := store.DequeueFree(pm, 15, 64, head)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAbandoned_EnqueueDequeue_PastHistoryDepth(t *testing.T) {
	pm := store.NewAnonManager(64 * 4096)

	head, err := store.Enqueue(pm, 10, store.Null, store.AddressOf(5))
	require.NoError(t, err)
	head, err = store.Enqueue(pm, 10, head, store.AddressOf(6))
	require.NoError(t, err)

	freed, newHead, ok, err := store.DequeueFree(pm, 10+64, 64, head)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, []store.Address{store.AddressOf(5), store.AddressOf(6)}, freed)
	require.Equal(t, head, newHead) // node still has one entry left

	freed2, newHead2, ok, err := store.DequeueFree(pm, 10+64, 64, newHead)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, freed, freed2)

	// Node is now empty; the next call unlinks it and recycles its address.
	_, finalHead, ok, err := store.DequeueFree(pm, 10+64, 64, newHead2)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, finalHead.IsNull())
}

func TestAbandoned_Enqueue_ChainsNewNodeWhenFull(t *testing.T) {
	pm := store.NewAnonManager(4096 * 4096)

	head := store.Null
	var err error
	for i := 0; i < store.AbandonedCapacity+5; i++ {
		head, err = store.Enqueue(pm, 1, head, store.AddressOf(uint32(i+1000)))
		require.NoError(t, err)
	}

	p, err := pm.GetAt(head)
	require.NoError(t, err)
	v := store.AsAbandonedView(p)
	require.False(t, v.Next().IsNull(), "overflow must have chained a second node")
}

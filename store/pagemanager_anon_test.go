package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/paprika/store"
)

func TestAnonManager_AllocateBumpsWatermark(t *testing.T) {
	pm := store.NewAnonManager(8 * 4096)
	require.Equal(t, uint32(0), pm.NextPageIndex())

	_, a0, err := pm.Allocate(true)
	require.NoError(t, err)
	_, a1, err := pm.Allocate(true)
	require.NoError(t, err)

	require.Equal(t, store.AddressOf(0), a0)
	require.Equal(t, store.AddressOf(1), a1)
	require.Equal(t, uint32(2), pm.NextPageIndex())
}

func TestAnonManager_Allocate_OutOfSpace(t *testing.T) {
	pm := store.NewAnonManager(2 * 4096)
	_, _, err := pm.Allocate(true)
	require.NoError(t, err)
	_, _, err = pm.Allocate(true)
	require.NoError(t, err)
	_, _, err = pm.Allocate(true)
	require.Error(t, err)
}

func TestAnonManager_EnsureWritable_CopiesOnBatchMismatch(t *testing.T) {
	pm := store.NewAnonManager(8 * 4096)
	p, addr, err := pm.Allocate(true)
	require.NoError(t, err)
	p.Stamp(1)
	copy(p.Body(), []byte("hello"))

	writable, newAddr, copied, err := pm.EnsureWritable(p, addr, 1)
	require.NoError(t, err)
	require.False(t, copied)
	require.Equal(t, addr, newAddr)
	require.Equal(t, p.Bytes(), writable.Bytes())

	writable2, newAddr2, copied2, err := pm.EnsureWritable(p, addr, 2)
	require.NoError(t, err)
	require.True(t, copied2)
	require.NotEqual(t, addr, newAddr2)
	require.Equal(t, uint32(2), writable2.BatchID())
	require.Equal(t, []byte("hello"), writable2.Body()[:5])

	// Original page is untouched.
	require.Equal(t, uint32(1), p.BatchID())
}

func TestAnonManager_PushFree_ReusedByAllocate(t *testing.T) {
	pm := store.NewAnonManager(8 * 4096)
	_, addr, err := pm.Allocate(true)
	require.NoError(t, err)
	pm.PushFree(addr)

	_, reused, err := pm.Allocate(true)
	require.NoError(t, err)
	require.Equal(t, addr, reused)
	require.Equal(t, uint32(1), pm.NextPageIndex(), "reuse from the free list must not bump the watermark")
}

func TestAnonManager_SetNextPageIndex_RestoresWatermark(t *testing.T) {
	pm := store.NewAnonManager(8 * 4096)
	pm.SetNextPageIndex(5)
	_, addr, err := pm.Allocate(true)
	require.NoError(t, err)
	require.Equal(t, store.AddressOf(5), addr)
}

package paprika_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/paprika/nibble"
	"github.com/erigontech/paprika/paprika"
)

func TestDatabase_SetStorage_DistinctSlotsDontCollide(t *testing.T) {
	db := newTestDatabase(t)

	account := nibble.FromBytes([]byte("account-0000000000000000000000"))
	slotA := nibble.FromBytes([]byte("slot-aaaaaaaaaaaaaaaaaaaaaaaaaa"))
	slotB := nibble.FromBytes([]byte("slot-bbbbbbbbbbbbbbbbbbbbbbbbbb"))

	b, err := db.BeginBatch(nil)
	require.NoError(t, err)
	require.NoError(t, b.SetStorage(account, slotA, []byte("va")))
	require.NoError(t, b.SetStorage(account, slotB, []byte("vb")))
	_, err = b.Commit(paprika.FlushDataOnly)
	require.NoError(t, err)

	r, err := db.BeginReadOnlyBatch()
	require.NoError(t, err)
	defer r.Dispose()

	va, err := r.GetStorage(account, slotA)
	require.NoError(t, err)
	require.Equal(t, "va", string(va))

	vb, err := r.GetStorage(account, slotB)
	require.NoError(t, err)
	require.Equal(t, "vb", string(vb))
}

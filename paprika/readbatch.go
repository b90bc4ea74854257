package paprika

import (
	"github.com/erigontech/paprika/nibble"
	"github.com/erigontech/paprika/paprikaerr"
	"github.com/erigontech/paprika/store"
)

// ReadBatch is a read-only view anchored to one historical root slot (spec.md
// §4.7). Multiple ReadBatch values may be live concurrently, and concurrently
// with the single writer Batch, since they only ever read pages whose
// batch_id is fixed once written (copy-on-write immutability).
type ReadBatch struct {
	db       *Database
	root     store.RootView
	batchID  uint32
	disposed bool
}

func (r *ReadBatch) checkLive() error {
	if r.disposed {
		return paprikaerr.New(paprikaerr.KindInvalidArgument, "read batch already disposed")
	}
	return nil
}

// Get reads key as of this batch's anchored root.
func (r *ReadBatch) Get(key nibble.Path) ([]byte, error) {
	if err := r.checkLive(); err != nil {
		return nil, err
	}
	if key.Length() < fanOutNibbles {
		return nil, paprikaerr.New(paprikaerr.KindInvalidArgument,
			"key must have at least %d nibbles", fanOutNibbles)
	}
	bucket := fanOutBucket(key)
	addr := r.root.FanOut(bucket)
	if addr.IsNull() {
		return nil, paprikaerr.ErrNotFound
	}
	return store.DataPageGet(r.db.pm, addr, key.SliceFrom(fanOutNibbles))
}

// GetAccount reads and decodes the account stored at key.
func (r *ReadBatch) GetAccount(key nibble.Path) (Account, error) {
	raw, err := r.Get(key)
	if err != nil {
		return Account{}, err
	}
	return DecodeAccount(raw)
}

// GetStorage reads the value stored for the combined account/storage key.
func (r *ReadBatch) GetStorage(accountKey, storageKey nibble.Path) ([]byte, error) {
	return r.Get(combineStorageKey(accountKey, storageKey))
}

// Metadata reports the anchored root slot's identifying fields.
func (r *ReadBatch) Metadata() RootMetadata {
	return RootMetadata{
		BatchID:     r.root.BatchID(),
		BlockNumber: r.root.BlockNumber(),
		StateHash:   r.root.StateHash(),
	}
}

// Dispose releases this batch's lease. reclaimAbandoned holds back chains
// abandoned after the oldest leased batch, so releasing the oldest lease lets
// later commits reclaim those pages once they pass history_depth (spec.md §5
// "shared-resource policy").
func (r *ReadBatch) Dispose() error {
	if err := r.checkLive(); err != nil {
		return err
	}
	r.disposed = true
	r.db.releaseLease(r.batchID)
	return nil
}

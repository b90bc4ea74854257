package paprika

import "github.com/erigontech/paprika/nibble"

// storageKeyHalfNibbles is how many leading nibbles of each of accountKey and
// storageKey contribute to a combined storage-cell key (see DESIGN.md Open
// Question decision on combining set_storage's two paths into the single
// nibble.Path domain the core routes on).
const storageKeyHalfNibbles = nibble.MaxLength / 2

// combineStorageKey folds an account key and a storage-slot key into the
// single nibble.Path the fan-out/DataPage tree routes on (spec.md §4.6
// "set_storage(account_key, storage_key, value)"). Each half is clamped to
// its leading storageKeyHalfNibbles nibbles so the combination always fits
// within nibble.MaxLength.
func combineStorageKey(accountKey, storageKey nibble.Path) nibble.Path {
	a := clampNibbles(accountKey, storageKeyHalfNibbles)
	s := clampNibbles(storageKey, storageKeyHalfNibbles)

	buf := make([]byte, 0, nibble.MaxLength)
	buf = a.AppendNibbles(buf)
	buf = s.AppendNibbles(buf)

	packed := make([]byte, (len(buf)+1)/2)
	for i, n := range buf {
		if i%2 == 0 {
			packed[i/2] = n << 4
		} else {
			packed[i/2] |= n
		}
	}
	return nibble.FromNibbles(packed, 0, len(buf))
}

func clampNibbles(p nibble.Path, max int) nibble.Path {
	if p.Length() <= max {
		return p
	}
	return p.SliceTo(max)
}

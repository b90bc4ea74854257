package paprika

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/erigontech/paprika/paprikaerr"
)

// AccountEncodedLen is the fixed wire width of an Account: an 8-byte
// big-endian nonce followed by a 32-byte big-endian balance (SPEC_FULL.md
// §6 "Account encoding"). Full account RLP (code hash, storage root) is out
// of scope per spec.md §1; those fields live entirely in the opaque
// pre-commit hook's domain.
const AccountEncodedLen = 8 + 32

// Account is the fixed-width value type `set`/`get_account` store and
// retrieve.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int
}

// Encode serializes a into its fixed 40-byte wire form.
func (a Account) Encode() []byte {
	buf := make([]byte, AccountEncodedLen)
	binary.BigEndian.PutUint64(buf[0:8], a.Nonce)
	balance := a.Balance
	if balance == nil {
		balance = new(uint256.Int)
	}
	b32 := balance.Bytes32()
	copy(buf[8:40], b32[:])
	return buf
}

// DecodeAccount parses the fixed 40-byte wire form written by Encode.
func DecodeAccount(b []byte) (Account, error) {
	if len(b) != AccountEncodedLen {
		return Account{}, paprikaerr.New(paprikaerr.KindCorruption,
			"account value is %d bytes, want %d", len(b), AccountEncodedLen)
	}
	nonce := binary.BigEndian.Uint64(b[0:8])
	balance := new(uint256.Int).SetBytes(b[8:40])
	return Account{Nonce: nonce, Balance: balance}, nil
}

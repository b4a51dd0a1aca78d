package rewards

import (
	"math/big"

	"nftyield/crypto"
)

// MaxSnapshots bounds the unclaimed segment history per (user, collection).
// Pushing beyond the cap fails rather than evicting: callers must claim to
// make room.
const MaxSnapshots = 50

// maxCollectionSlots bounds the active-collection index space per user.
const maxCollectionSlots = 256

// UserCheckpoint is the user-scoped accrual checkpoint for one collection.
type UserCheckpoint struct {
	// User identifies the depositor.
	User crypto.Address
	// Collection identifies the NFT collection the position belongs to.
	Collection crypto.Address
	// LastIndex is the wad-scaled global index at the start of the live
	// (open) accrual segment.
	LastIndex *big.Int
	// Balance is the tracked deposit balance during the live segment.
	Balance *big.Int
	// NftBalance counts the user's NFTs from the collection during the live
	// segment.
	NftBalance uint64
	// AccruedRemainder carries the deficit from partially-filled payouts.
	AccruedRemainder *big.Int
	// LastUpdateBlock records the block height of the last applied update.
	LastUpdateBlock uint64
	// LastSyncedNonce is the signer nonce that last touched this position.
	// Claims are rejected as stale while it trails the global nonce.
	LastSyncedNonce uint64
}

// Clone produces a deep copy to protect engine-internal references.
func (c *UserCheckpoint) Clone() *UserCheckpoint {
	if c == nil {
		return nil
	}
	clone := &UserCheckpoint{
		User:            c.User,
		Collection:      c.Collection,
		NftBalance:      c.NftBalance,
		LastUpdateBlock: c.LastUpdateBlock,
		LastSyncedNonce: c.LastSyncedNonce,
	}
	clone.LastIndex = copyBigInt(c.LastIndex)
	clone.Balance = copyBigInt(c.Balance)
	clone.AccruedRemainder = copyBigInt(c.AccruedRemainder)
	return clone
}

func (c *UserCheckpoint) normalize() {
	if c.LastIndex == nil {
		c.LastIndex = big.NewInt(0)
	}
	if c.Balance == nil {
		c.Balance = big.NewInt(0)
	}
	if c.AccruedRemainder == nil {
		c.AccruedRemainder = big.NewInt(0)
	}
}

// empty reports whether the position holds nothing worth retaining: no
// balance, no NFTs and no carried deficit.
func (c *UserCheckpoint) empty() bool {
	return c.Balance.Sign() == 0 && c.NftBalance == 0 && c.AccruedRemainder.Sign() == 0
}

// Snapshot captures one closed accrual segment. The segment's end index is
// the next snapshot's start index, or the live checkpoint's LastIndex for the
// most recent closed segment.
type Snapshot struct {
	// BlockNumber is the height at which the captured segment began.
	BlockNumber uint64
	// NftBalance is the NFT count held during the segment.
	NftBalance uint64
	// Balance is the deposit balance held during the segment.
	Balance *big.Int
	// IndexAtStart is the wad-scaled global index when the segment opened.
	IndexAtStart *big.Int
}

// Clone produces a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		BlockNumber:  s.BlockNumber,
		NftBalance:   s.NftBalance,
		Balance:      copyBigInt(s.Balance),
		IndexAtStart: copyBigInt(s.IndexAtStart),
	}
}

// BalanceUpdate is a single externally-attested balance delta for a
// (user, collection) position.
type BalanceUpdate struct {
	User         crypto.Address
	Collection   crypto.Address
	BlockNumber  uint64
	NftDelta     int64
	BalanceDelta *big.Int
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

package vault

import (
	"math/big"

	"nftyield/crypto"
)

// CollectionCheckpoint is the collection-scoped accrual checkpoint. Amounts
// are denominated in the vault's underlying asset and expressed as big
// integers to match on-ledger precision.
type CollectionCheckpoint struct {
	// Collection identifies the NFT collection the checkpoint belongs to.
	Collection crypto.Address
	// LastIndex is the global deposit index observed at the last accrual,
	// wad-scaled. Invariant: LastIndex never exceeds the global index.
	LastIndex *big.Int
	// Principal is the tracked deposit principal including compounded yield.
	Principal *big.Int
	// AccruedRemainder carries yield computed as due but not yet settled.
	AccruedRemainder *big.Int
	// LastUpdateBlock records the block height of the last mutation.
	LastUpdateBlock uint64
	// YieldShareBps is the collection's share of vault yield in basis points.
	YieldShareBps uint64
	// RewardShareBps is the share of accrued yield routed to NFT holder
	// rewards, in basis points.
	RewardShareBps uint64
	// Beta is the wad-scaled NFT boost coefficient consumed by the rewards
	// engine when computing holder bonuses.
	Beta *big.Int
}

// CollectionConfig bundles the admin-settable collection parameters.
type CollectionConfig struct {
	YieldShareBps  uint64
	RewardShareBps uint64
	Beta           *big.Int
}

// Clone produces a deep copy to protect internal references.
func (c *CollectionCheckpoint) Clone() *CollectionCheckpoint {
	if c == nil {
		return nil
	}
	clone := &CollectionCheckpoint{
		Collection:      c.Collection,
		LastUpdateBlock: c.LastUpdateBlock,
		YieldShareBps:   c.YieldShareBps,
		RewardShareBps:  c.RewardShareBps,
	}
	clone.LastIndex = copyBigInt(c.LastIndex)
	clone.Principal = copyBigInt(c.Principal)
	clone.AccruedRemainder = copyBigInt(c.AccruedRemainder)
	clone.Beta = copyBigInt(c.Beta)
	return clone
}

func (c *CollectionCheckpoint) normalize() {
	if c.LastIndex == nil {
		c.LastIndex = big.NewInt(0)
	}
	if c.Principal == nil {
		c.Principal = big.NewInt(0)
	}
	if c.AccruedRemainder == nil {
		c.AccruedRemainder = big.NewInt(0)
	}
	if c.Beta == nil {
		c.Beta = big.NewInt(0)
	}
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

package rewards

import (
	"math/big"

	"nftyield/native/yield"
)

// maxBoost caps the NFT boost at a 900% bonus (9e18 wad-scaled). The cap is a
// deliberate anti-runaway-incentive ceiling and must be preserved exactly.
var maxBoost = new(big.Int).Mul(big.NewInt(9), yield.Wad())

// CalculateBoost returns min(nftBalance * beta, 9e18). Beta is wad-scaled.
func CalculateBoost(nftBalance uint64, beta *big.Int) *big.Int {
	if nftBalance == 0 || beta == nil || beta.Sign() <= 0 {
		return big.NewInt(0)
	}
	boost := new(big.Int).Mul(new(big.Int).SetUint64(nftBalance), beta)
	if boost.Cmp(maxBoost) > 0 {
		return new(big.Int).Set(maxBoost)
	}
	return boost
}

// calculateRewardsWithDelta is the shared reward primitive applied to every
// accrual segment. Step ordering is load-bearing: each division truncates
// toward the protocol, so reordering changes rounding direction.
//
// A zero NFT balance forfeits the entire segment reward, base yield included,
// not just the bonus.
func calculateRewardsWithDelta(indexDelta, segmentStartIndex *big.Int, nftBalance uint64, principalBalance, beta *big.Int, shareBps uint64) *big.Int {
	if nftBalance == 0 ||
		indexDelta == nil || indexDelta.Sign() == 0 ||
		principalBalance == nil || principalBalance.Sign() == 0 ||
		segmentStartIndex == nil || segmentStartIndex.Sign() == 0 {
		return big.NewInt(0)
	}

	yieldReward := yield.MulDiv(principalBalance, indexDelta, segmentStartIndex)
	boost := CalculateBoost(nftBalance, beta)
	bonusReward := yield.MulDiv(yieldReward, boost, yield.Wad())
	raw := new(big.Int).Add(yieldReward, bonusReward)
	return yield.BpsShare(raw, shareBps)
}

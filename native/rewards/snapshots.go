package rewards

import (
	"math/big"

	"nftyield/crypto"
)

// closeSegment appends a snapshot of the segment that is ending to the
// staged history. The very first balance-establishing update never produces
// a segment: there is no prior accrual period to capture.
func closeSegment(cp *UserCheckpoint, snaps []Snapshot, maxSnaps int) ([]Snapshot, error) {
	if cp.LastUpdateBlock == 0 {
		return snaps, nil
	}
	if len(snaps) >= maxSnaps {
		return nil, ErrMaxSnapshotsReached
	}
	return append(snaps, Snapshot{
		BlockNumber:  cp.LastUpdateBlock,
		NftBalance:   cp.NftBalance,
		Balance:      copyBigInt(cp.Balance),
		IndexAtStart: copyBigInt(cp.LastIndex),
	}), nil
}

// integrateSegments sums the reward across all closed segments and the live
// open segment up to currentIndex. Each closed segment's end index is the
// next segment's start index; the most recent closed segment ends at the
// live checkpoint's LastIndex. The open segment is optionally replayed
// through caller-supplied simulated updates before its reward is computed.
func integrateSegments(cp *UserCheckpoint, snaps []Snapshot, simulated []BalanceUpdate, currentIndex, beta *big.Int, shareBps uint64) (*big.Int, *big.Int, error) {
	total := big.NewInt(0)

	for i, seg := range snaps {
		var endIndex *big.Int
		if i+1 < len(snaps) {
			endIndex = snaps[i+1].IndexAtStart
		} else {
			endIndex = cp.LastIndex
		}
		if endIndex == nil || seg.IndexAtStart == nil || endIndex.Cmp(seg.IndexAtStart) <= 0 {
			continue
		}
		indexDelta := new(big.Int).Sub(endIndex, seg.IndexAtStart)
		total.Add(total, calculateRewardsWithDelta(indexDelta, seg.IndexAtStart, seg.NftBalance, seg.Balance, beta, shareBps))
	}

	nftBalance := cp.NftBalance
	balance := copyBigInt(cp.Balance)
	lastBlock := cp.LastUpdateBlock
	for _, sim := range simulated {
		if sim.BlockNumber < lastBlock {
			return nil, nil, ErrSimulationOutOfOrder
		}
		if sim.NftDelta < 0 {
			magnitude := uint64(-sim.NftDelta)
			if magnitude > nftBalance {
				return nil, nil, ErrSimulationUnderflow
			}
			nftBalance -= magnitude
		} else {
			nftBalance += uint64(sim.NftDelta)
		}
		if sim.BalanceDelta != nil {
			balance = new(big.Int).Add(balance, sim.BalanceDelta)
			if balance.Sign() < 0 {
				return nil, nil, ErrSimulationUnderflow
			}
		}
		lastBlock = sim.BlockNumber
	}

	if currentIndex.Cmp(cp.LastIndex) > 0 && cp.LastIndex.Sign() > 0 {
		indexDelta := new(big.Int).Sub(currentIndex, cp.LastIndex)
		total.Add(total, calculateRewardsWithDelta(indexDelta, cp.LastIndex, nftBalance, balance, beta, shareBps))
	}

	return total, new(big.Int).Set(currentIndex), nil
}

// PendingReward computes the reward a position would receive if claimed at
// the current stored index, optionally replaying simulated balance updates
// over the open segment. No state is mutated.
func (e *Engine) PendingReward(user, collection crypto.Address, simulated []BalanceUpdate) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.config == nil {
		return nil, errNilConfig
	}
	cp, err := e.state.GetUserCheckpoint(user, collection)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrNoPosition
	}
	cp.normalize()
	snaps, err := e.state.GetSnapshots(user, collection)
	if err != nil {
		return nil, err
	}
	current, err := e.currentIndex()
	if err != nil {
		return nil, err
	}
	beta, shareBps, err := e.config.RewardConfig(collection)
	if err != nil {
		return nil, err
	}
	reward, _, err := integrateSegments(cp, snaps, simulated, current, beta, shareBps)
	if err != nil {
		return nil, err
	}
	return reward, nil
}

// ClearSegments prunes the claimed segment history for a position. The live
// checkpoint is untouched.
func (e *Engine) ClearSegments(user, collection crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.DeleteSnapshots(user, collection)
}

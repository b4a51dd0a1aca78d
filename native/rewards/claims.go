package rewards

import (
	"math/big"
	"strconv"

	"nftyield/core/types"
	"nftyield/crypto"
	nativecommon "nftyield/native/common"
	"nftyield/native/yield"
)

// claimDue is one collection's settled obligation inside a ClaimAll pass.
type claimDue struct {
	collection crypto.Address
	cp         *UserCheckpoint
	due        *big.Int
}

// Claim settles a single position: every closed segment plus the open
// segment is integrated at the freshly-ratcheted index, the carried
// remainder is added, and the lending adapter pays out. A partial payout
// carries the shortfall forward as the position's remainder. Nothing is
// persisted when the payout call fails.
func (e *Engine) Claim(user, collection crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.adapter == nil {
		return nil, errNilAdapter
	}
	if e.config == nil {
		return nil, errNilConfig
	}

	current, err := e.refreshedIndex()
	if err != nil {
		return nil, err
	}

	due, err := e.settlePosition(user, collection, current)
	if err != nil {
		return nil, err
	}

	if due.due.Sign() == 0 {
		// Nothing owed; fold the segment history into the live
		// checkpoint so the bounded history is freed.
		if err := e.commitSettlement(due, current, big.NewInt(0)); err != nil {
			return nil, err
		}
		e.telemetry.ObserveClaim("empty")
		return big.NewInt(0), nil
	}

	received, err := e.adapter.Payout(due.due, user)
	if err != nil {
		return nil, err
	}
	shortfall := new(big.Int).Sub(due.due, received)
	if shortfall.Sign() < 0 {
		shortfall = big.NewInt(0)
	}

	if err := e.commitSettlement(due, current, shortfall); err != nil {
		return nil, err
	}

	outcome := "paid"
	if shortfall.Sign() > 0 {
		outcome = "partial"
		e.telemetry.AddClaimShortfall(bigFloat(shortfall))
		e.state.AppendEvent(&types.Event{Type: eventDeficit, Attributes: map[string]string{
			"user":       user.String(),
			"collection": collection.String(),
			"deficit":    shortfall.String(),
		}})
	}
	e.telemetry.ObserveClaim(outcome)
	e.state.AppendEvent(&types.Event{Type: eventClaimed, Attributes: map[string]string{
		"user":       user.String(),
		"collection": collection.String(),
		"amount":     received.String(),
	}})
	return received, nil
}

// ClaimAll settles every active position the user holds with one aggregated
// payout. When the adapter delivers less than the total due, the shortfall
// is apportioned across collections pro rata to what each was owed;
// one-unit deficits and the flooring residual land in the sweepable dust
// bucket instead of being carried per position.
func (e *Engine) ClaimAll(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.adapter == nil {
		return nil, errNilAdapter
	}
	if e.config == nil {
		return nil, errNilConfig
	}

	current, err := e.refreshedIndex()
	if err != nil {
		return nil, err
	}

	words, err := e.state.ActiveSlots(user)
	if err != nil {
		return nil, err
	}
	var dues []*claimDue
	total := big.NewInt(0)
	err = forEachSetSlot(words, func(slot uint32) error {
		collection, ok, err := e.state.CollectionBySlot(slot)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		due, err := e.settlePosition(user, collection, current)
		if err != nil {
			return err
		}
		dues = append(dues, due)
		total.Add(total, due.due)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(dues) == 0 {
		return nil, ErrNoPosition
	}

	if total.Sign() == 0 {
		for _, due := range dues {
			if err := e.commitSettlement(due, current, big.NewInt(0)); err != nil {
				return nil, err
			}
		}
		e.telemetry.ObserveClaim("empty")
		return big.NewInt(0), nil
	}

	received, err := e.adapter.Payout(total, user)
	if err != nil {
		return nil, err
	}
	shortfall := new(big.Int).Sub(total, received)
	if shortfall.Sign() < 0 {
		shortfall = big.NewInt(0)
	}

	dust := big.NewInt(0)
	apportioned := big.NewInt(0)
	for _, due := range dues {
		deficit := yield.MulDiv(due.due, shortfall, total)
		apportioned.Add(apportioned, deficit)
		if deficit.Cmp(big.NewInt(1)) <= 0 {
			// Too small to be worth carrying on the position.
			dust.Add(dust, deficit)
			deficit = big.NewInt(0)
		}
		if err := e.commitSettlement(due, current, deficit); err != nil {
			return nil, err
		}
	}
	// Flooring leaves part of the shortfall unassigned; it joins the dust.
	dust.Add(dust, new(big.Int).Sub(shortfall, apportioned))

	if dust.Sign() > 0 {
		bucket, err := e.state.DustBucket()
		if err != nil {
			return nil, err
		}
		if bucket == nil {
			bucket = big.NewInt(0)
		}
		bucket = new(big.Int).Add(bucket, dust)
		if err := e.state.SetDustBucket(bucket); err != nil {
			return nil, err
		}
		e.telemetry.SetRoundingDust(bigFloat(bucket))
	}

	outcome := "paid"
	if shortfall.Sign() > 0 {
		outcome = "partial"
		e.telemetry.AddClaimShortfall(bigFloat(shortfall))
	}
	e.telemetry.ObserveClaim(outcome)
	e.state.AppendEvent(&types.Event{Type: eventClaimed, Attributes: map[string]string{
		"user":        user.String(),
		"collections": strconv.Itoa(len(dues)),
		"amount":      received.String(),
	}})
	return received, nil
}

// SweepDust pays the accumulated rounding dust out to a treasury-designated
// recipient and empties the bucket.
func (e *Engine) SweepDust(caller []byte, recipient crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleTreasury, caller); err != nil {
		return nil, err
	}
	if e.adapter == nil {
		return nil, errNilAdapter
	}
	bucket, err := e.state.DustBucket()
	if err != nil {
		return nil, err
	}
	if bucket == nil || bucket.Sign() == 0 {
		return big.NewInt(0), nil
	}
	received, err := e.adapter.Payout(bucket, recipient)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(bucket, received)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	if err := e.state.SetDustBucket(remaining); err != nil {
		return nil, err
	}
	e.telemetry.SetRoundingDust(bigFloat(remaining))
	e.state.AppendEvent(&types.Event{Type: eventDustSwept, Attributes: map[string]string{
		"recipient": recipient.String(),
		"amount":    received.String(),
	}})
	return received, nil
}

// refreshedIndex ratchets the global index through the configured refresher
// and returns the resulting value. Without a refresher the stored index is
// used as-is.
func (e *Engine) refreshedIndex() (*big.Int, error) {
	if e.refresher != nil {
		return e.refresher.RefreshIndex()
	}
	return e.currentIndex()
}

// settlePosition integrates a position's full segment history at the given
// index and returns what it is owed. The position must have seen every
// signed update: a checkpoint whose synced nonce trails the global nonce
// would settle against balances the signer has already superseded.
func (e *Engine) settlePosition(user, collection crypto.Address, current *big.Int) (*claimDue, error) {
	cp, err := e.state.GetUserCheckpoint(user, collection)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrNoPosition
	}
	cp.normalize()

	nonce, err := e.state.SignerNonce()
	if err != nil {
		return nil, err
	}
	if cp.LastSyncedNonce != nonce {
		return nil, ErrStaleClaim
	}

	snaps, err := e.state.GetSnapshots(user, collection)
	if err != nil {
		return nil, err
	}
	beta, shareBps, err := e.config.RewardConfig(collection)
	if err != nil {
		return nil, err
	}
	reward, _, err := integrateSegments(cp, snaps, nil, current, beta, shareBps)
	if err != nil {
		return nil, err
	}
	due := new(big.Int).Add(reward, cp.AccruedRemainder)
	return &claimDue{collection: collection, cp: cp, due: due}, nil
}

// commitSettlement resets a settled position: the segment history is
// discarded, the live segment restarts at the settlement index and the
// remainder carries whatever the payout left unfilled. Positions holding
// nothing afterwards drop out of the active set.
func (e *Engine) commitSettlement(due *claimDue, current, remainder *big.Int) error {
	cp := due.cp
	cp.LastIndex = new(big.Int).Set(current)
	cp.AccruedRemainder = new(big.Int).Set(remainder)
	if err := e.state.DeleteSnapshots(cp.User, cp.Collection); err != nil {
		return err
	}
	if err := e.state.PutUserCheckpoint(cp); err != nil {
		return err
	}
	if cp.empty() {
		return e.clearActive(cp.User, cp.Collection)
	}
	return nil
}

func bigFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

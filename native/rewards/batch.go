package rewards

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"nftyield/core/types"
	"nftyield/crypto"
	nativecommon "nftyield/native/common"
)

// BatchDigest computes the canonical signing digest for a balance-update
// batch. The preimage binds the domain, chain and the nonce the batch will
// consume, so a signature can never be replayed across domains or nonces.
// Every numeric field is encoded as a full 32-byte word; signed deltas carry
// an explicit sign byte ahead of the magnitude word.
func (e *Engine) BatchDigest(nonce uint64, updates []BalanceUpdate) ([32]byte, error) {
	items := make([]byte, 0, len(updates)*130)
	for _, u := range updates {
		items = append(items, leftPad32(u.User.Bytes())...)
		items = append(items, leftPad32(u.Collection.Bytes())...)
		items = append(items, uint64Word(u.BlockNumber)...)
		items = append(items, signedInt64Word(u.NftDelta)...)
		signed, err := signedBigWord(u.BalanceDelta)
		if err != nil {
			return [32]byte{}, err
		}
		items = append(items, signed...)
	}
	itemsHash := ethcrypto.Keccak256(items)
	payload := fmt.Sprintf("%s|chain=%d|nonce=%d|updates=%d|items=%s",
		e.domain, e.chainID, nonce, len(updates), hex.EncodeToString(itemsHash))
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256([]byte(payload)))
	return digest, nil
}

func leftPad32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func uint64Word(v uint64) []byte {
	word := uint256.NewInt(v).Bytes32()
	return word[:]
}

func signedInt64Word(v int64) []byte {
	sign := byte(0)
	magnitude := uint64(v)
	if v < 0 {
		sign = 1
		magnitude = uint64(-v)
	}
	word := uint256.NewInt(magnitude).Bytes32()
	return append([]byte{sign}, word[:]...)
}

func signedBigWord(v *big.Int) ([]byte, error) {
	if v == nil {
		v = big.NewInt(0)
	}
	sign := byte(0)
	magnitude := v
	if v.Sign() < 0 {
		sign = 1
		magnitude = new(big.Int).Neg(v)
	}
	encoded, overflow := uint256.FromBig(magnitude)
	if overflow {
		return nil, fmt.Errorf("rewards: balance delta exceeds 256 bits")
	}
	word := encoded.Bytes32()
	return append([]byte{sign}, word[:]...), nil
}

// stagedPosition accumulates the in-flight mutations for one position while
// a batch is validated. Nothing is persisted until the whole batch passes.
type stagedPosition struct {
	cp      *UserCheckpoint
	snaps   []Snapshot
	touched bool
}

// ProcessSignedBatch validates and applies a signed batch of balance
// updates. Application is all-or-nothing: an ordering violation or underflow
// anywhere in the batch leaves state untouched, including the signer nonce.
// The consumed nonce is returned on success.
func (e *Engine) ProcessSignedBatch(updates []BalanceUpdate, sig []byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		e.telemetry.ObserveBatchRejected("empty")
		return 0, ErrEmptyBatch
	}

	nonce, err := e.verifyBatchSignature(updates, sig)
	if err != nil {
		return 0, err
	}

	current, err := e.currentIndex()
	if err != nil {
		return 0, err
	}

	staged := make(map[string]*stagedPosition)
	order := make([]string, 0, len(updates))

	for _, u := range updates {
		key := positionKey(u.User, u.Collection)
		pos, ok := staged[key]
		if !ok {
			cp, err := e.state.GetUserCheckpoint(u.User, u.Collection)
			if err != nil {
				return 0, err
			}
			// Slot capacity is checked up front so the commit phase
			// cannot fail halfway through the batch.
			slot, err := e.state.AssignCollectionSlot(u.Collection)
			if err != nil {
				return 0, err
			}
			if slot >= maxCollectionSlots {
				e.telemetry.ObserveBatchRejected(rejectionReason(ErrCollectionSlotsExhausted))
				return 0, ErrCollectionSlotsExhausted
			}
			pos = &stagedPosition{}
			if cp == nil {
				pos.cp = &UserCheckpoint{
					User:             u.User,
					Collection:       u.Collection,
					LastIndex:        new(big.Int).Set(current),
					Balance:          big.NewInt(0),
					AccruedRemainder: big.NewInt(0),
				}
			} else {
				cp.normalize()
				pos.cp = cp
			}
			snaps, err := e.state.GetSnapshots(u.User, u.Collection)
			if err != nil {
				return 0, err
			}
			pos.snaps = snaps
			staged[key] = pos
			order = append(order, key)
		}

		if err := applyStagedUpdate(pos, u, current, nonce, e.maxSnaps); err != nil {
			e.telemetry.ObserveBatchRejected(rejectionReason(err))
			return 0, err
		}
	}

	// Commit phase: the batch is valid, persist every staged position in
	// input order, then consume the nonce.
	for _, key := range order {
		pos := staged[key]
		// A drained position with closed segments still owes a claim, so
		// it stays active until those are settled.
		if pos.cp.empty() && len(pos.snaps) == 0 {
			if err := e.clearActive(pos.cp.User, pos.cp.Collection); err != nil {
				return 0, err
			}
		} else {
			if err := e.markActive(pos.cp.User, pos.cp.Collection); err != nil {
				return 0, err
			}
		}
		if pos.touched {
			if err := e.state.PutSnapshots(pos.cp.User, pos.cp.Collection, pos.snaps); err != nil {
				return 0, err
			}
		}
		if err := e.state.PutUserCheckpoint(pos.cp); err != nil {
			return 0, err
		}
	}
	if err := e.state.SetSignerNonce(nonce); err != nil {
		return 0, err
	}

	e.telemetry.ObserveBatchApplied(len(updates))
	e.state.AppendEvent(&types.Event{Type: eventBatchApplied, Attributes: map[string]string{
		"nonce": strconv.FormatUint(nonce, 10),
		"items": strconv.Itoa(len(updates)),
	}})
	return nonce, nil
}

// SyncNonce accepts a signature-only, zero-update call that consumes the
// next nonce without touching any position. This is the single calling
// convention where an empty batch is legal; it exists for nonce bookkeeping
// when the signer needs to resynchronise.
func (e *Engine) SyncNonce(sig []byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	nonce, err := e.verifyBatchSignature(nil, sig)
	if err != nil {
		return 0, err
	}
	if err := e.state.SetSignerNonce(nonce); err != nil {
		return 0, err
	}
	e.state.AppendEvent(&types.Event{Type: eventNonceSynced, Attributes: map[string]string{
		"nonce": strconv.FormatUint(nonce, 10),
	}})
	return nonce, nil
}

// verifyBatchSignature recovers the signer over the digest binding the next
// nonce and compares it against the authorized signer. The consumed nonce is
// returned.
func (e *Engine) verifyBatchSignature(updates []BalanceUpdate, sig []byte) (uint64, error) {
	if e.signer.IsZero() {
		return 0, errSignerUnset
	}
	stored, err := e.state.SignerNonce()
	if err != nil {
		return 0, err
	}
	nonce := stored + 1
	digest, err := e.BatchDigest(nonce, updates)
	if err != nil {
		return 0, err
	}
	recovered, err := crypto.RecoverAddress(digest[:], sig)
	if err != nil {
		e.telemetry.ObserveBatchRejected("signature")
		return 0, ErrInvalidSignature
	}
	if !recovered.Equal(e.signer) {
		e.telemetry.ObserveBatchRejected("signature")
		return 0, ErrInvalidSignature
	}
	return nonce, nil
}

// applyStagedUpdate mutates a staged position with one update. A zero-delta
// update only refreshes the sync nonce and ordering clock; it does not close
// the open segment since the tracked balances are unchanged.
func applyStagedUpdate(pos *stagedPosition, u BalanceUpdate, currentIndex *big.Int, nonce uint64, maxSnaps int) error {
	cp := pos.cp
	if u.BlockNumber < cp.LastUpdateBlock {
		return ErrUpdateOutOfOrder
	}

	zeroDelta := u.NftDelta == 0 && (u.BalanceDelta == nil || u.BalanceDelta.Sign() == 0)
	if zeroDelta {
		cp.LastUpdateBlock = u.BlockNumber
		cp.LastSyncedNonce = nonce
		return nil
	}

	snaps, err := closeSegment(cp, pos.snaps, maxSnaps)
	if err != nil {
		return err
	}
	pos.snaps = snaps
	pos.touched = true

	if u.NftDelta < 0 {
		magnitude := uint64(-u.NftDelta)
		if magnitude > cp.NftBalance {
			return ErrUnderflow
		}
		cp.NftBalance -= magnitude
	} else {
		cp.NftBalance += uint64(u.NftDelta)
	}
	if u.BalanceDelta != nil {
		next := new(big.Int).Add(cp.Balance, u.BalanceDelta)
		if next.Sign() < 0 {
			return ErrUnderflow
		}
		cp.Balance = next
	}

	cp.LastIndex = new(big.Int).Set(currentIndex)
	cp.LastUpdateBlock = u.BlockNumber
	cp.LastSyncedNonce = nonce
	return nil
}

func positionKey(user, collection crypto.Address) string {
	return string(user.Bytes()) + "|" + string(collection.Bytes())
}

func rejectionReason(err error) string {
	switch err {
	case ErrUpdateOutOfOrder:
		return "out_of_order"
	case ErrUnderflow:
		return "underflow"
	case ErrMaxSnapshotsReached:
		return "snapshot_cap"
	case ErrCollectionSlotsExhausted:
		return "slots_exhausted"
	default:
		return "other"
	}
}

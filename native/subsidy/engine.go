package subsidy

import (
	"encoding/hex"
	"errors"
	"math/big"

	"nftyield/core/types"
	"nftyield/crypto"
	nativecommon "nftyield/native/common"
	"nftyield/native/yield"
)

const moduleName = "subsidy"

const (
	eventRootUpdated = "subsidy.root.updated"
	eventClaimed     = "subsidy.claimed"
)

var (
	// ErrInvalidProof marks a claim whose Merkle proof does not bind the
	// recipient and amount to the vault's distribution root.
	ErrInvalidProof = errors.New("subsidy: invalid distribution proof")
	// ErrNothingToClaim marks a claim whose cumulative amount does not
	// exceed what the recipient has already been paid.
	ErrNothingToClaim = errors.New("subsidy: cumulative amount not increased")
	// ErrUnknownRoot marks a claim against a vault with no published root.
	ErrUnknownRoot = errors.New("subsidy: no distribution root for vault")
	// ErrCorruptRecord marks a persisted claim record whose checksum does
	// not match its contents.
	ErrCorruptRecord = errors.New("subsidy: claim record checksum mismatch")

	errNilState      = errors.New("subsidy: state not configured")
	errNilAdapter    = errors.New("subsidy: lending adapter not configured")
	errInvalidAmount = errors.New("subsidy: cumulative amount must be positive")
)

type engineState interface {
	SubsidyRoot(vaultID string) ([32]byte, bool, error)
	SetSubsidyRoot(vaultID string, root [32]byte) error
	ClaimRecord(vaultID string, user crypto.Address) (*ClaimRecord, error)
	PutClaimRecord(record *ClaimRecord) error
	AppendEvent(evt *types.Event)
}

// Engine distributes epoch subsidies against published Merkle roots. Each
// root commits cumulative entitlements, so recipients claim the difference
// between their entitlement and their running claimed total.
type Engine struct {
	state    engineState
	adapter  yield.LendingAdapter
	verifier ProofVerifier
	pauses   nativecommon.PauseView
}

// NewEngine constructs a subsidy engine with the default keccak verifier.
func NewEngine() *Engine {
	return &Engine{verifier: KeccakVerifier{}}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAdapter wires the lending-market adapter used for payouts.
func (e *Engine) SetAdapter(adapter yield.LendingAdapter) {
	if e == nil {
		return
	}
	e.adapter = adapter
}

// SetVerifier overrides the Merkle proof verifier.
func (e *Engine) SetVerifier(v ProofVerifier) {
	if e == nil || v == nil {
		return
	}
	e.verifier = v
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// UpdateRoot publishes a vault's distribution root. The epoch coordinator
// calls this when an epoch ends with subsidies.
func (e *Engine) UpdateRoot(vaultID string, root [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.state.SetSubsidyRoot(vaultID, root); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{Type: eventRootUpdated, Attributes: map[string]string{
		"vault": vaultID,
		"root":  hex.EncodeToString(root[:]),
	}})
	return nil
}

// Root returns the current distribution root for a vault.
func (e *Engine) Root(vaultID string) ([32]byte, bool, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, false, errNilState
	}
	return e.state.SubsidyRoot(vaultID)
}

// Claimed returns the cumulative amount already paid to a recipient.
func (e *Engine) Claimed(vaultID string, user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord(vaultID, user)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(record.Claimed), nil
}

// Claim pays out the unclaimed portion of a recipient's cumulative
// entitlement. The proof must bind (recipient, cumulativeAmount) to the
// vault's published root, and the cumulative amount must strictly exceed
// the running claimed total. The incremental difference is paid; a partial
// adapter fill only advances the claimed total by what was delivered, so
// the remainder stays claimable.
func (e *Engine) Claim(vaultID string, user crypto.Address, cumulativeAmount *big.Int, proof [][32]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.adapter == nil {
		return nil, errNilAdapter
	}
	if cumulativeAmount == nil || cumulativeAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	root, ok, err := e.state.SubsidyRoot(vaultID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownRoot
	}
	if !e.verifier.Verify(root, user, cumulativeAmount, proof) {
		return nil, ErrInvalidProof
	}

	record, err := e.loadRecord(vaultID, user)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &ClaimRecord{Vault: vaultID, User: user, Claimed: big.NewInt(0)}
	}
	if cumulativeAmount.Cmp(record.Claimed) <= 0 {
		return nil, ErrNothingToClaim
	}
	increment := new(big.Int).Sub(cumulativeAmount, record.Claimed)

	received, err := e.adapter.Payout(increment, user)
	if err != nil {
		return nil, err
	}
	if received.Sign() > 0 {
		record.Claimed = new(big.Int).Add(record.Claimed, received)
		record.Seal()
		if err := e.state.PutClaimRecord(record); err != nil {
			return nil, err
		}
	}

	e.state.AppendEvent(&types.Event{Type: eventClaimed, Attributes: map[string]string{
		"vault":  vaultID,
		"user":   user.String(),
		"amount": received.String(),
		"total":  record.Claimed.String(),
	}})
	return received, nil
}

func (e *Engine) loadRecord(vaultID string, user crypto.Address) (*ClaimRecord, error) {
	record, err := e.state.ClaimRecord(vaultID, user)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if record.Claimed == nil {
		record.Claimed = big.NewInt(0)
	}
	if !record.Verify() {
		return nil, ErrCorruptRecord
	}
	return record, nil
}

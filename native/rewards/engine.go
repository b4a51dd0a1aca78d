package rewards

import (
	"math/big"

	"nftyield/core/types"
	"nftyield/crypto"
	nativecommon "nftyield/native/common"
	"nftyield/native/yield"
	"nftyield/observability/metrics"
)

const moduleName = "rewards"

const (
	eventBatchApplied = "rewards.batch.applied"
	eventNonceSynced  = "rewards.nonce.synced"
	eventClaimed      = "rewards.claimed"
	eventDeficit      = "rewards.claim.deficit"
	eventDustSwept    = "rewards.dust.swept"
)

type engineState interface {
	GetGlobalIndex() (*big.Int, error)
	GetUserCheckpoint(user, collection crypto.Address) (*UserCheckpoint, error)
	PutUserCheckpoint(cp *UserCheckpoint) error
	GetSnapshots(user, collection crypto.Address) ([]Snapshot, error)
	PutSnapshots(user, collection crypto.Address, snaps []Snapshot) error
	DeleteSnapshots(user, collection crypto.Address) error
	SignerNonce() (uint64, error)
	SetSignerNonce(nonce uint64) error
	AssignCollectionSlot(collection crypto.Address) (uint32, error)
	CollectionBySlot(slot uint32) (crypto.Address, bool, error)
	ActiveSlots(user crypto.Address) ([]uint64, error)
	SetActiveSlots(user crypto.Address, words []uint64) error
	DustBucket() (*big.Int, error)
	SetDustBucket(amount *big.Int) error
	AppendEvent(evt *types.Event)
}

// ConfigSource supplies per-collection reward parameters. The vault registry
// implements it.
type ConfigSource interface {
	RewardConfig(collection crypto.Address) (beta *big.Int, shareBps uint64, err error)
}

// IndexRefresher ratchets the shared global index against the lending market
// before reward computation. The vault engine implements it.
type IndexRefresher interface {
	RefreshIndex() (*big.Int, error)
}

// Engine tracks user×collection reward positions: segment history, signed
// balance-update batches and claim distribution. All reward math flows
// through the shared segment formula.
type Engine struct {
	state     engineState
	config    ConfigSource
	adapter   yield.LendingAdapter
	refresher IndexRefresher
	auth      nativecommon.Authorizer
	pauses    nativecommon.PauseView
	signer    crypto.Address
	domain    string
	chainID   uint64
	maxSnaps  int
	telemetry *metrics.EngineMetrics
}

// NewEngine constructs a rewards engine bound to a signing domain.
func NewEngine(domain string, chainID uint64) *Engine {
	return &Engine{
		domain:    domain,
		chainID:   chainID,
		maxSnaps:  MaxSnapshots,
		telemetry: metrics.Engine(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetConfigSource wires the per-collection reward parameter source.
func (e *Engine) SetConfigSource(src ConfigSource) {
	if e == nil {
		return
	}
	e.config = src
}

// SetAdapter wires the external lending-market adapter used for payouts.
func (e *Engine) SetAdapter(adapter yield.LendingAdapter) {
	if e == nil {
		return
	}
	e.adapter = adapter
}

// SetIndexRefresher wires the global index refresher consulted before claims.
func (e *Engine) SetIndexRefresher(r IndexRefresher) {
	if e == nil {
		return
	}
	e.refresher = r
}

// SetAuthorizer wires the external authorization oracle.
func (e *Engine) SetAuthorizer(auth nativecommon.Authorizer) {
	if e == nil {
		return
	}
	e.auth = auth
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetSigner configures the authorized batch signer.
func (e *Engine) SetSigner(signer crypto.Address) {
	if e == nil {
		return
	}
	e.signer = signer
}

// Checkpoint returns a copy of the user's position for a collection.
func (e *Engine) Checkpoint(user, collection crypto.Address) (*UserCheckpoint, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cp, err := e.state.GetUserCheckpoint(user, collection)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrNoPosition
	}
	cp.normalize()
	return cp.Clone(), nil
}

// Snapshots returns copies of the unclaimed closed segments for a position.
func (e *Engine) Snapshots(user, collection crypto.Address) ([]Snapshot, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	snaps, err := e.state.GetSnapshots(user, collection)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, len(snaps))
	for i, s := range snaps {
		out[i] = s.Clone()
	}
	return out, nil
}

// SignerNonce returns the current global update nonce.
func (e *Engine) SignerNonce() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.SignerNonce()
}

func (e *Engine) currentIndex() (*big.Int, error) {
	stored, err := e.state.GetGlobalIndex()
	if err != nil {
		return nil, err
	}
	return yield.IndexFromValue(stored).Current(), nil
}

// --- active collection tracking ---

// Active collections per user are kept as a bitset over globally-assigned
// collection slots so claimAll iterates O(active) in a stable ascending
// order.

func hasBit(words []uint64, slot uint32) bool {
	word := int(slot / 64)
	if word >= len(words) {
		return false
	}
	return words[word]&(1<<(slot%64)) != 0
}

func setBit(words []uint64, slot uint32) []uint64 {
	word := int(slot / 64)
	for len(words) <= word {
		words = append(words, 0)
	}
	words[word] |= 1 << (slot % 64)
	return words
}

func clearBit(words []uint64, slot uint32) []uint64 {
	word := int(slot / 64)
	if word < len(words) {
		words[word] &^= 1 << (slot % 64)
	}
	for len(words) > 0 && words[len(words)-1] == 0 {
		words = words[:len(words)-1]
	}
	return words
}

// forEachSetSlot visits set bits in ascending slot order.
func forEachSetSlot(words []uint64, fn func(slot uint32) error) error {
	for w, word := range words {
		if word == 0 {
			continue
		}
		for b := uint32(0); b < 64; b++ {
			if word&(1<<b) != 0 {
				if err := fn(uint32(w)*64 + b); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Engine) markActive(user, collection crypto.Address) error {
	slot, err := e.state.AssignCollectionSlot(collection)
	if err != nil {
		return err
	}
	if slot >= maxCollectionSlots {
		return ErrCollectionSlotsExhausted
	}
	words, err := e.state.ActiveSlots(user)
	if err != nil {
		return err
	}
	if hasBit(words, slot) {
		return nil
	}
	return e.state.SetActiveSlots(user, setBit(words, slot))
}

func (e *Engine) clearActive(user, collection crypto.Address) error {
	slot, err := e.state.AssignCollectionSlot(collection)
	if err != nil {
		return err
	}
	words, err := e.state.ActiveSlots(user)
	if err != nil {
		return err
	}
	if !hasBit(words, slot) {
		return nil
	}
	return e.state.SetActiveSlots(user, clearBit(words, slot))
}

package vault

import (
	"errors"
	"math/big"
	"strconv"

	"nftyield/core/types"
	"nftyield/crypto"
	nativecommon "nftyield/native/common"
	"nftyield/native/epoch"
	"nftyield/native/yield"
)

var (
	errNilState           = errors.New("vault engine: state not configured")
	errNilAdapter         = errors.New("vault engine: lending adapter not configured")
	errInvalidAmount      = errors.New("vault engine: amount must be positive")
	errNotRegistered      = errors.New("vault engine: collection not registered")
	errShareBpsRange      = errors.New("vault engine: yield share exceeds 10000 bps")
	errBetaWidth          = errors.New("vault engine: beta exceeds max representable width")
	errBetaNegative       = errors.New("vault engine: beta must not be negative")
	errZeroCollection     = errors.New("vault engine: collection address must not be zero")
	errEpochNotCompleted  = errors.New("vault engine: epoch not completed")
	errNoEpochSource      = errors.New("vault engine: epoch source not configured")
	errVaultIDUnset       = errors.New("vault engine: vault identifier not configured")
	errIndexRegression    = errors.New("vault engine: checkpoint index ahead of global index")
	// ErrUnderflow is returned when a negative delta exceeds the tracked
	// principal.
	ErrUnderflow = errors.New("vault engine: principal underflow")
)

// maxBetaBits bounds the bit width of the boost coefficient so downstream
// products stay within predictable range.
const maxBetaBits = 128

const moduleName = "vault"

const (
	eventCollectionRegistered = "vault.collection.registered"
	eventShareUpdated         = "vault.share.updated"
	eventBetaUpdated          = "vault.beta.updated"
	eventDeposit              = "vault.deposit"
	eventWithdraw             = "vault.withdraw"
	eventAccrued              = "vault.yield.accrued"
	eventEpochYieldApplied    = "vault.epoch_yield.applied"
	eventIndexRefreshed       = "vault.index.refreshed"
)

type engineState interface {
	GetGlobalIndex() (*big.Int, error)
	PutGlobalIndex(value *big.Int) error
	GetCollection(collection crypto.Address) (*CollectionCheckpoint, error)
	PutCollection(cp *CollectionCheckpoint) error
	EpochYieldApplied(epochID uint64, collection crypto.Address) (bool, error)
	MarkEpochYieldApplied(epochID uint64, collection crypto.Address) error
	AppendEvent(evt *types.Event)
}

// EpochSource exposes completed epoch allocations to the vault. The epoch
// coordinator satisfies it.
type EpochSource interface {
	GetEpoch(id uint64) (*epoch.Epoch, error)
}

// Engine orchestrates collection-scoped deposit accounting: registration,
// principal mutations, lazy index accrual and idempotent application of epoch
// yield. All index math is wad-scaled and routed through yield.MulDiv.
type Engine struct {
	state       engineState
	adapter     yield.LendingAdapter
	epochSource EpochSource
	auth        nativecommon.Authorizer
	pauses      nativecommon.PauseView
	blockHeight uint64
	vaultID     string
}

// NewEngine constructs a vault engine for the identified vault.
func NewEngine(vaultID string) *Engine {
	return &Engine{vaultID: vaultID}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAdapter wires the external lending-market adapter.
func (e *Engine) SetAdapter(adapter yield.LendingAdapter) {
	if e == nil {
		return
	}
	e.adapter = adapter
}

// SetEpochSource wires the epoch coordinator view used when applying epoch
// yield.
func (e *Engine) SetEpochSource(src EpochSource) {
	if e == nil {
		return
	}
	e.epochSource = src
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

// SetBlockHeight records the block height stamped onto checkpoint mutations.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

// VaultID returns the configured vault identifier.
func (e *Engine) VaultID() string {
	if e == nil {
		return ""
	}
	return e.vaultID
}

// RegisterCollection whitelists a collection with its share and boost
// configuration. Registration is idempotent: an existing checkpoint is never
// reset, only its configuration may change through the dedicated setters.
func (e *Engine) RegisterCollection(caller []byte, collection crypto.Address, cfg CollectionConfig) (*CollectionCheckpoint, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleAdmin, caller); err != nil {
		return nil, err
	}
	if collection.IsZero() {
		return nil, errZeroCollection
	}
	if cfg.YieldShareBps > 10_000 || cfg.RewardShareBps > 10_000 {
		return nil, errShareBpsRange
	}
	if cfg.Beta != nil {
		if cfg.Beta.Sign() < 0 {
			return nil, errBetaNegative
		}
		if cfg.Beta.BitLen() > maxBetaBits {
			return nil, errBetaWidth
		}
	}

	existing, err := e.state.GetCollection(collection)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.normalize()
		return existing.Clone(), nil
	}

	index, err := e.currentIndex()
	if err != nil {
		return nil, err
	}
	cp := &CollectionCheckpoint{
		Collection:       collection,
		LastIndex:        index,
		Principal:        big.NewInt(0),
		AccruedRemainder: big.NewInt(0),
		LastUpdateBlock:  e.blockHeight,
		YieldShareBps:    cfg.YieldShareBps,
		RewardShareBps:   cfg.RewardShareBps,
		Beta:             copyBigInt(cfg.Beta),
	}
	if err := e.state.PutCollection(cp); err != nil {
		return nil, err
	}
	e.state.AppendEvent(&types.Event{Type: eventCollectionRegistered, Attributes: map[string]string{
		"collection":     collection.String(),
		"yieldShareBps":  strconv.FormatUint(cfg.YieldShareBps, 10),
		"rewardShareBps": strconv.FormatUint(cfg.RewardShareBps, 10),
		"beta":           cp.Beta.String(),
	}})
	return cp.Clone(), nil
}

// RewardConfig exposes the holder-reward parameters for a collection. The
// rewards engine consumes this as its configuration source.
func (e *Engine) RewardConfig(collection crypto.Address) (*big.Int, uint64, error) {
	if e == nil || e.state == nil {
		return nil, 0, errNilState
	}
	cp, err := e.state.GetCollection(collection)
	if err != nil {
		return nil, 0, err
	}
	if cp == nil {
		return nil, 0, errNotRegistered
	}
	cp.normalize()
	return copyBigInt(cp.Beta), cp.RewardShareBps, nil
}

// SetYieldShare updates the collection's yield share. The checkpoint is
// accrued under the old share first so the change is never retroactive.
func (e *Engine) SetYieldShare(caller []byte, collection crypto.Address, shareBps uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	if shareBps > 10_000 {
		return errShareBpsRange
	}
	cp, err := e.ensureCollection(collection)
	if err != nil {
		return err
	}
	if _, err := e.accrue(cp); err != nil {
		return err
	}
	cp.YieldShareBps = shareBps
	cp.LastUpdateBlock = e.blockHeight
	if err := e.state.PutCollection(cp); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{Type: eventShareUpdated, Attributes: map[string]string{
		"collection": collection.String(),
		"shareBps":   strconv.FormatUint(shareBps, 10),
	}})
	return nil
}

// SetRewardShare updates the share of yield routed to NFT holder rewards.
func (e *Engine) SetRewardShare(caller []byte, collection crypto.Address, shareBps uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	if shareBps > 10_000 {
		return errShareBpsRange
	}
	cp, err := e.ensureCollection(collection)
	if err != nil {
		return err
	}
	if _, err := e.accrue(cp); err != nil {
		return err
	}
	cp.RewardShareBps = shareBps
	cp.LastUpdateBlock = e.blockHeight
	if err := e.state.PutCollection(cp); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{Type: eventShareUpdated, Attributes: map[string]string{
		"collection":     collection.String(),
		"rewardShareBps": strconv.FormatUint(shareBps, 10),
	}})
	return nil
}

// SetBeta updates the collection's boost coefficient, accruing first.
func (e *Engine) SetBeta(caller []byte, collection crypto.Address, beta *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	if beta != nil {
		if beta.Sign() < 0 {
			return errBetaNegative
		}
		if beta.BitLen() > maxBetaBits {
			return errBetaWidth
		}
	}
	cp, err := e.ensureCollection(collection)
	if err != nil {
		return err
	}
	if _, err := e.accrue(cp); err != nil {
		return err
	}
	cp.Beta = copyBigInt(beta)
	cp.LastUpdateBlock = e.blockHeight
	if err := e.state.PutCollection(cp); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{Type: eventBetaUpdated, Attributes: map[string]string{
		"collection": collection.String(),
		"beta":       cp.Beta.String(),
	}})
	return nil
}

// Collection returns a copy of the collection checkpoint.
func (e *Engine) Collection(collection crypto.Address) (*CollectionCheckpoint, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cp, err := e.state.GetCollection(collection)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, errNotRegistered
	}
	cp.normalize()
	return cp.Clone(), nil
}

// RefreshIndex reads the lending market totals and ratchets the global index.
// A computed ratio below the stored index is ignored; the index never
// decreases.
func (e *Engine) RefreshIndex() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.adapter == nil {
		return nil, errNilAdapter
	}
	stored, err := e.state.GetGlobalIndex()
	if err != nil {
		return nil, err
	}
	index := yield.IndexFromValue(stored)

	assets, err := e.adapter.TotalAssets()
	if err != nil {
		return nil, err
	}
	principal, err := e.adapter.TotalPrincipal()
	if err != nil {
		return nil, err
	}
	next := index.Refresh(yield.ObservedRatio(assets, principal))
	if err := e.state.PutGlobalIndex(next); err != nil {
		return nil, err
	}
	e.state.AppendEvent(&types.Event{Type: eventIndexRefreshed, Attributes: map[string]string{
		"index": next.String(),
	}})
	return next, nil
}

// Deposit moves principal into the lending market and credits the collection
// checkpoint. Accrues first so the new principal never earns retroactively.
func (e *Engine) Deposit(collection crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.adapter == nil {
		return errNilAdapter
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	cp, err := e.ensureCollection(collection)
	if err != nil {
		return err
	}
	if _, err := e.accrue(cp); err != nil {
		return err
	}
	if err := e.adapter.Deposit(amount); err != nil {
		return err
	}
	cp.Principal = new(big.Int).Add(cp.Principal, amount)
	cp.LastUpdateBlock = e.blockHeight
	if err := e.state.PutCollection(cp); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{Type: eventDeposit, Attributes: map[string]string{
		"collection": collection.String(),
		"amount":     amount.String(),
	}})
	return nil
}

// Withdraw pulls principal back out of the lending market. Fails with
// ErrUnderflow when the amount exceeds the tracked principal.
func (e *Engine) Withdraw(collection crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.adapter == nil {
		return errNilAdapter
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	cp, err := e.ensureCollection(collection)
	if err != nil {
		return err
	}
	if _, err := e.accrue(cp); err != nil {
		return err
	}
	if cp.Principal.Cmp(amount) < 0 {
		return ErrUnderflow
	}
	if err := e.adapter.Withdraw(amount); err != nil {
		return err
	}
	cp.Principal = new(big.Int).Sub(cp.Principal, amount)
	cp.LastUpdateBlock = e.blockHeight
	if err := e.state.PutCollection(cp); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{Type: eventWithdraw, Attributes: map[string]string{
		"collection": collection.String(),
		"amount":     amount.String(),
	}})
	return nil
}

// Accrue settles pending yield into the collection checkpoint and returns the
// accrued delta.
func (e *Engine) Accrue(collection crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	cp, err := e.ensureCollection(collection)
	if err != nil {
		return nil, err
	}
	delta, err := e.accrue(cp)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutCollection(cp); err != nil {
		return nil, err
	}
	return delta, nil
}

// ApplyDelta adds a signed quantity to the collection principal. A negative
// delta whose magnitude exceeds the principal fails with ErrUnderflow.
func (e *Engine) ApplyDelta(collection crypto.Address, delta *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if delta == nil || delta.Sign() == 0 {
		return nil, errInvalidAmount
	}
	cp, err := e.ensureCollection(collection)
	if err != nil {
		return nil, err
	}
	if _, err := e.accrue(cp); err != nil {
		return nil, err
	}
	next := new(big.Int).Add(cp.Principal, delta)
	if next.Sign() < 0 {
		return nil, ErrUnderflow
	}
	cp.Principal = next
	cp.LastUpdateBlock = e.blockHeight
	if err := e.state.PutCollection(cp); err != nil {
		return nil, err
	}
	return new(big.Int).Set(next), nil
}

// ApplyCollectionYieldForEpoch applies the collection's share of a completed
// epoch's vault allocation into its principal. Idempotent per
// (epoch, collection): a second call is a no-op.
func (e *Engine) ApplyCollectionYieldForEpoch(collection crypto.Address, epochID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.epochSource == nil {
		return nil, errNoEpochSource
	}
	if e.vaultID == "" {
		return nil, errVaultIDUnset
	}

	applied, err := e.state.EpochYieldApplied(epochID, collection)
	if err != nil {
		return nil, err
	}
	if applied {
		return big.NewInt(0), nil
	}

	ep, err := e.epochSource.GetEpoch(epochID)
	if err != nil {
		return nil, err
	}
	if ep == nil || ep.Status != epoch.StatusCompleted {
		return nil, errEpochNotCompleted
	}

	cp, err := e.ensureCollection(collection)
	if err != nil {
		return nil, err
	}
	if _, err := e.accrue(cp); err != nil {
		return nil, err
	}

	portion := yield.BpsShare(ep.Allocation(e.vaultID), cp.YieldShareBps)
	if portion.Sign() > 0 {
		cp.Principal = new(big.Int).Add(cp.Principal, portion)
	}
	cp.LastUpdateBlock = e.blockHeight
	if err := e.state.PutCollection(cp); err != nil {
		return nil, err
	}
	if err := e.state.MarkEpochYieldApplied(epochID, collection); err != nil {
		return nil, err
	}
	e.state.AppendEvent(&types.Event{Type: eventEpochYieldApplied, Attributes: map[string]string{
		"collection": collection.String(),
		"epoch":      strconv.FormatUint(epochID, 10),
		"amount":     portion.String(),
	}})
	return portion, nil
}

func (e *Engine) ensureCollection(collection crypto.Address) (*CollectionCheckpoint, error) {
	cp, err := e.state.GetCollection(collection)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, errNotRegistered
	}
	cp.normalize()
	return cp, nil
}

// accrue settles yield since the last observed index into the checkpoint. The
// collection strategy compounds the accrued delta directly into principal.
// LastIndex always advances to the current index, even at a zero share, so a
// later share change can never count the skipped window retroactively.
func (e *Engine) accrue(cp *CollectionCheckpoint) (*big.Int, error) {
	current, err := e.currentIndex()
	if err != nil {
		return nil, err
	}
	if cp.LastIndex.Sign() == 0 {
		cp.LastIndex = current
		return big.NewInt(0), nil
	}
	if cp.LastIndex.Cmp(current) > 0 {
		return nil, errIndexRegression
	}
	indexDelta := new(big.Int).Sub(current, cp.LastIndex)
	if indexDelta.Sign() == 0 {
		return big.NewInt(0), nil
	}

	delta := accrualDelta(cp.Principal, indexDelta, cp.YieldShareBps)
	if delta.Sign() > 0 {
		cp.Principal = new(big.Int).Add(cp.Principal, delta)
		e.state.AppendEvent(&types.Event{Type: eventAccrued, Attributes: map[string]string{
			"collection": cp.Collection.String(),
			"amount":     delta.String(),
		}})
	}
	cp.LastIndex = current
	return delta, nil
}

// accrualDelta computes principal * indexDelta * shareBps / (wad * 10000)
// with a single flooring division over the full-width product.
func accrualDelta(principal, indexDelta *big.Int, shareBps uint64) *big.Int {
	if principal == nil || principal.Sign() == 0 || indexDelta == nil || indexDelta.Sign() == 0 || shareBps == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(principal, indexDelta)
	den := new(big.Int).Mul(yield.Wad(), yield.BasisPointsDenominator())
	return yield.MulDiv(scaled, new(big.Int).SetUint64(shareBps), den)
}

func (e *Engine) currentIndex() (*big.Int, error) {
	stored, err := e.state.GetGlobalIndex()
	if err != nil {
		return nil, err
	}
	return yield.IndexFromValue(stored).Current(), nil
}

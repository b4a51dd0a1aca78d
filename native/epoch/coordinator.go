package epoch

import (
	"errors"
	"math/big"
	"strconv"
	"time"

	"nftyield/core/types"
	nativecommon "nftyield/native/common"
	"nftyield/observability/metrics"
)

var (
	errNilState        = errors.New("epoch coordinator: state not configured")
	errInvalidDuration = errors.New("epoch coordinator: epoch duration must be positive")
	errInvalidAmount   = errors.New("epoch coordinator: amount must be positive")
	errEpochInProgress = errors.New("epoch coordinator: previous epoch not completed")
	errEpochNotFound   = errors.New("epoch coordinator: epoch not found")
	errEpochNotActive  = errors.New("epoch coordinator: epoch not active")
	errEpochNotOpen    = errors.New("epoch coordinator: epoch not active or processing")
	errEpochTerminal   = errors.New("epoch coordinator: epoch already terminal")
	errEmptyVaultID    = errors.New("epoch coordinator: vault identifier required")
)

const moduleName = "epoch"

const (
	eventEpochStarted    = "epoch.started"
	eventEpochProcessing = "epoch.processing"
	eventEpochCompleted  = "epoch.completed"
	eventEpochFailed     = "epoch.failed"
	eventYieldAllocated  = "epoch.yield_allocated"
)

// CoordinatorState describes the persistence the coordinator needs from the
// surrounding state implementation.
type CoordinatorState interface {
	CurrentEpochID() (uint64, error)
	SetCurrentEpochID(id uint64) error
	GetEpoch(id uint64) (*Epoch, error)
	PutEpoch(epoch *Epoch) error
	AppendEvent(evt *types.Event)
}

// RootSink receives the Merkle root for an epoch's subsidy distribution. The
// subsidy claims collaborator implements it.
type RootSink interface {
	UpdateRoot(vaultID string, root [32]byte) error
}

// Coordinator owns the epoch lifecycle state machine and the per-epoch
// allocation ledger. Allocation of pooled yield is only legal while the
// current epoch is active; completion atomically records subsidies and pushes
// the claim root to the sink.
type Coordinator struct {
	state     CoordinatorState
	duration  time.Duration
	rootSink  RootSink
	auth      nativecommon.Authorizer
	pauses    nativecommon.PauseView
	now       func() time.Time
	telemetry *metrics.EngineMetrics
}

// NewCoordinator constructs a coordinator with the given epoch duration.
func NewCoordinator(duration time.Duration) (*Coordinator, error) {
	if duration <= 0 {
		return nil, errInvalidDuration
	}
	return &Coordinator{
		duration:  duration,
		now:       time.Now,
		telemetry: metrics.Engine(),
	}, nil
}

// SetState wires the coordinator to the external persistence layer.
func (c *Coordinator) SetState(state CoordinatorState) { c.state = state }

// SetRootSink wires the subsidy claims collaborator that receives epoch roots.
func (c *Coordinator) SetRootSink(sink RootSink) {
	if c == nil {
		return
	}
	c.rootSink = sink
}

// SetAuthorizer wires the external authorization oracle.
func (c *Coordinator) SetAuthorizer(auth nativecommon.Authorizer) {
	if c == nil {
		return
	}
	c.auth = auth
}

func (c *Coordinator) SetPauses(p nativecommon.PauseView) {
	if c == nil {
		return
	}
	c.pauses = p
}

// SetClock overrides the time source. Useful in tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.now = now
}

// StartEpoch opens the next epoch. It fails while a prior epoch exists in any
// state other than completed, including failed epochs: a failure requires
// external remediation before the cadence resumes.
func (c *Coordinator) StartEpoch(caller []byte) (uint64, error) {
	if c == nil || c.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(c.pauses, moduleName); err != nil {
		return 0, err
	}
	if err := nativecommon.Authorize(c.auth, nativecommon.RoleEpochOperator, caller); err != nil {
		return 0, err
	}

	currentID, err := c.state.CurrentEpochID()
	if err != nil {
		return 0, err
	}
	if currentID > 0 {
		current, err := c.state.GetEpoch(currentID)
		if err != nil {
			return 0, err
		}
		if current != nil && current.Status != StatusCompleted {
			return 0, errEpochInProgress
		}
	}

	start := c.now().UTC()
	next := &Epoch{
		ID:                        currentID + 1,
		StartTime:                 uint64(start.Unix()),
		EndTime:                   uint64(start.Add(c.duration).Unix()),
		TotalYieldAvailable:       big.NewInt(0),
		TotalSubsidiesDistributed: big.NewInt(0),
		Status:                    StatusActive,
	}
	if err := c.state.PutEpoch(next); err != nil {
		return 0, err
	}
	if err := c.state.SetCurrentEpochID(next.ID); err != nil {
		return 0, err
	}
	c.state.AppendEvent(&types.Event{Type: eventEpochStarted, Attributes: map[string]string{
		"epoch": strconv.FormatUint(next.ID, 10),
		"start": strconv.FormatUint(next.StartTime, 10),
		"end":   strconv.FormatUint(next.EndTime, 10),
	}})
	c.telemetry.ObserveEpochTransition(StatusActive.String())
	return next.ID, nil
}

// CurrentEpoch returns a copy of the current epoch, or nil when none exists.
func (c *Coordinator) CurrentEpoch() (*Epoch, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	id, err := c.state.CurrentEpochID()
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	epoch, err := c.state.GetEpoch(id)
	if err != nil {
		return nil, err
	}
	return epoch.Clone(), nil
}

// GetEpoch returns a copy of the identified epoch.
func (c *Coordinator) GetEpoch(id uint64) (*Epoch, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	epoch, err := c.state.GetEpoch(id)
	if err != nil {
		return nil, err
	}
	if epoch == nil {
		return nil, errEpochNotFound
	}
	return epoch.Clone(), nil
}

// AllocateVaultYield records yield earmarked for a vault within the current
// epoch. Only legal while the epoch is active.
func (c *Coordinator) AllocateVaultYield(vaultID string, amount *big.Int) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(c.pauses, moduleName); err != nil {
		return err
	}
	if vaultID == "" {
		return errEmptyVaultID
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	id, err := c.state.CurrentEpochID()
	if err != nil {
		return err
	}
	if id == 0 {
		return errEpochNotFound
	}
	epoch, err := c.state.GetEpoch(id)
	if err != nil {
		return err
	}
	if epoch == nil {
		return errEpochNotFound
	}
	if epoch.Status != StatusActive {
		return errEpochNotActive
	}

	epoch.addAllocation(vaultID, amount)
	epoch.TotalYieldAvailable = new(big.Int).Add(copyBigInt(epoch.TotalYieldAvailable), amount)
	if err := c.state.PutEpoch(epoch); err != nil {
		return err
	}
	c.state.AppendEvent(&types.Event{Type: eventYieldAllocated, Attributes: map[string]string{
		"epoch":  strconv.FormatUint(epoch.ID, 10),
		"vault":  vaultID,
		"amount": amount.String(),
	}})
	return nil
}

// BeginProcessing moves an active epoch into the processing state. Part of
// the two-step completion path; the fast path calls EndEpochWithSubsidies
// directly from active.
func (c *Coordinator) BeginProcessing(epochID uint64, caller []byte) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(c.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(c.auth, nativecommon.RoleEpochOperator, caller); err != nil {
		return err
	}
	epoch, err := c.state.GetEpoch(epochID)
	if err != nil {
		return err
	}
	if epoch == nil {
		return errEpochNotFound
	}
	if epoch.Status != StatusActive {
		return errEpochNotActive
	}
	epoch.Status = StatusProcessing
	if err := c.state.PutEpoch(epoch); err != nil {
		return err
	}
	c.state.AppendEvent(&types.Event{Type: eventEpochProcessing, Attributes: map[string]string{
		"epoch": strconv.FormatUint(epoch.ID, 10),
	}})
	c.telemetry.ObserveEpochTransition(StatusProcessing.String())
	return nil
}

// EndEpochWithSubsidies completes the epoch, records the distributed subsidy
// total and pushes the Merkle root for the vault's claims to the sink. The
// epoch must be active (fast path) or processing (two-step path). Root
// propagation happens before the status flip is persisted so a sink failure
// leaves the epoch open for retry.
func (c *Coordinator) EndEpochWithSubsidies(epochID uint64, vaultID string, root [32]byte, subsidiesDistributed *big.Int, caller []byte) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(c.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(c.auth, nativecommon.RoleEpochOperator, caller); err != nil {
		return err
	}
	if vaultID == "" {
		return errEmptyVaultID
	}
	epoch, err := c.state.GetEpoch(epochID)
	if err != nil {
		return err
	}
	if epoch == nil {
		return errEpochNotFound
	}
	if epoch.Status != StatusActive && epoch.Status != StatusProcessing {
		return errEpochNotOpen
	}

	if c.rootSink != nil {
		if err := c.rootSink.UpdateRoot(vaultID, root); err != nil {
			return err
		}
	}

	if subsidiesDistributed == nil {
		subsidiesDistributed = big.NewInt(0)
	}
	epoch.TotalSubsidiesDistributed = new(big.Int).Set(subsidiesDistributed)
	epoch.Status = StatusCompleted
	if err := c.state.PutEpoch(epoch); err != nil {
		return err
	}
	c.state.AppendEvent(&types.Event{Type: eventEpochCompleted, Attributes: map[string]string{
		"epoch":     strconv.FormatUint(epoch.ID, 10),
		"vault":     vaultID,
		"subsidies": subsidiesDistributed.String(),
	}})
	c.telemetry.ObserveEpochTransition(StatusCompleted.String())
	return nil
}

// MarkEpochFailed transitions any non-terminal epoch to failed.
func (c *Coordinator) MarkEpochFailed(epochID uint64, reason string, caller []byte) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if err := nativecommon.Authorize(c.auth, nativecommon.RoleEpochOperator, caller); err != nil {
		return err
	}
	epoch, err := c.state.GetEpoch(epochID)
	if err != nil {
		return err
	}
	if epoch == nil {
		return errEpochNotFound
	}
	if epoch.Status.Terminal() {
		return errEpochTerminal
	}
	epoch.Status = StatusFailed
	epoch.FailureReason = reason
	if err := c.state.PutEpoch(epoch); err != nil {
		return err
	}
	c.state.AppendEvent(&types.Event{Type: eventEpochFailed, Attributes: map[string]string{
		"epoch":  strconv.FormatUint(epoch.ID, 10),
		"reason": reason,
	}})
	c.telemetry.ObserveEpochTransition(StatusFailed.String())
	return nil
}

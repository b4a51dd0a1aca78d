package epoch

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nftyield/core/types"
)

type mockState struct {
	currentID uint64
	epochs    map[uint64]*Epoch
	events    []types.Event
}

func newMockState() *mockState {
	return &mockState{epochs: make(map[uint64]*Epoch)}
}

func (m *mockState) CurrentEpochID() (uint64, error) { return m.currentID, nil }

func (m *mockState) SetCurrentEpochID(id uint64) error {
	m.currentID = id
	return nil
}

func (m *mockState) GetEpoch(id uint64) (*Epoch, error) {
	return m.epochs[id].Clone(), nil
}

func (m *mockState) PutEpoch(epoch *Epoch) error {
	m.epochs[epoch.ID] = epoch.Clone()
	return nil
}

func (m *mockState) AppendEvent(evt *types.Event) {
	if evt != nil {
		m.events = append(m.events, *evt)
	}
}

type mockRootSink struct {
	roots map[string][32]byte
	fail  error
}

func (m *mockRootSink) UpdateRoot(vaultID string, root [32]byte) error {
	if m.fail != nil {
		return m.fail
	}
	if m.roots == nil {
		m.roots = make(map[string][32]byte)
	}
	m.roots[vaultID] = root
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *mockState) {
	t.Helper()
	coordinator, err := NewCoordinator(time.Hour)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	state := newMockState()
	coordinator.SetState(state)
	base := time.Unix(1_700_000_000, 0)
	coordinator.SetClock(func() time.Time { return base })
	return coordinator, state
}

func TestStartEpochSequencing(t *testing.T) {
	coordinator, state := newTestCoordinator(t)

	id, err := coordinator.StartEpoch(nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected epoch 1, got %d", id)
	}
	ep := state.epochs[1]
	if ep.Status != StatusActive {
		t.Fatalf("expected active, got %s", ep.Status)
	}
	if ep.EndTime-ep.StartTime != 3600 {
		t.Fatalf("unexpected window: %d..%d", ep.StartTime, ep.EndTime)
	}

	// A second start while the first is active must fail.
	if _, err := coordinator.StartEpoch(nil); !errors.Is(err, errEpochInProgress) {
		t.Fatalf("expected in-progress rejection, got %v", err)
	}
}

func TestStartEpochBlockedByFailedPredecessor(t *testing.T) {
	coordinator, state := newTestCoordinator(t)
	if _, err := coordinator.StartEpoch(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coordinator.MarkEpochFailed(1, "distribution aborted", nil); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if state.epochs[1].Status != StatusFailed {
		t.Fatalf("expected failed status")
	}
	if _, err := coordinator.StartEpoch(nil); !errors.Is(err, errEpochInProgress) {
		t.Fatalf("failed epoch must block the cadence, got %v", err)
	}
}

func TestAllocateVaultYield(t *testing.T) {
	coordinator, state := newTestCoordinator(t)
	if _, err := coordinator.StartEpoch(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coordinator.AllocateVaultYield("vault-a", big.NewInt(300)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := coordinator.AllocateVaultYield("vault-a", big.NewInt(200)); err != nil {
		t.Fatalf("allocate again: %v", err)
	}
	if err := coordinator.AllocateVaultYield("vault-b", big.NewInt(50)); err != nil {
		t.Fatalf("allocate other vault: %v", err)
	}

	ep := state.epochs[1]
	if ep.TotalYieldAvailable.Int64() != 550 {
		t.Fatalf("expected total 550, got %s", ep.TotalYieldAvailable)
	}
	if got := ep.Allocation("vault-a"); got.Int64() != 500 {
		t.Fatalf("expected vault-a 500, got %s", got)
	}
	if got := ep.Allocation("vault-b"); got.Int64() != 50 {
		t.Fatalf("expected vault-b 50, got %s", got)
	}
	if got := ep.Allocation("vault-c"); got.Sign() != 0 {
		t.Fatalf("expected zero for unknown vault, got %s", got)
	}

	if err := coordinator.AllocateVaultYield("vault-a", big.NewInt(0)); err == nil {
		t.Fatal("expected zero amount rejection")
	}
	if err := coordinator.AllocateVaultYield("", big.NewInt(1)); err == nil {
		t.Fatal("expected empty vault rejection")
	}
}

func TestAllocationRejectedOutsideActive(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	if _, err := coordinator.StartEpoch(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coordinator.BeginProcessing(1, nil); err != nil {
		t.Fatalf("begin processing: %v", err)
	}
	if err := coordinator.AllocateVaultYield("vault-a", big.NewInt(1)); !errors.Is(err, errEpochNotActive) {
		t.Fatalf("expected not-active rejection, got %v", err)
	}
}

func TestEndEpochTwoStepPath(t *testing.T) {
	coordinator, state := newTestCoordinator(t)
	sink := &mockRootSink{}
	coordinator.SetRootSink(sink)

	if _, err := coordinator.StartEpoch(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coordinator.BeginProcessing(1, nil); err != nil {
		t.Fatalf("begin processing: %v", err)
	}

	root := [32]byte{0xAB}
	if err := coordinator.EndEpochWithSubsidies(1, "vault-a", root, big.NewInt(998), nil); err != nil {
		t.Fatalf("end: %v", err)
	}
	ep := state.epochs[1]
	if ep.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", ep.Status)
	}
	if ep.TotalSubsidiesDistributed.Int64() != 998 {
		t.Fatalf("subsidies not recorded: %s", ep.TotalSubsidiesDistributed)
	}
	if sink.roots["vault-a"] != root {
		t.Fatalf("root not pushed to sink")
	}

	// Next epoch may now start.
	if id, err := coordinator.StartEpoch(nil); err != nil || id != 2 {
		t.Fatalf("expected epoch 2, got %d err=%v", id, err)
	}
}

func TestEndEpochFastPathFromActive(t *testing.T) {
	coordinator, state := newTestCoordinator(t)
	if _, err := coordinator.StartEpoch(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coordinator.EndEpochWithSubsidies(1, "vault-a", [32]byte{}, nil, nil); err != nil {
		t.Fatalf("fast path end: %v", err)
	}
	if state.epochs[1].Status != StatusCompleted {
		t.Fatalf("expected completed")
	}
}

func TestEndEpochSinkFailureLeavesEpochOpen(t *testing.T) {
	coordinator, state := newTestCoordinator(t)
	sink := &mockRootSink{fail: errors.New("sink offline")}
	coordinator.SetRootSink(sink)
	if _, err := coordinator.StartEpoch(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coordinator.EndEpochWithSubsidies(1, "vault-a", [32]byte{1}, nil, nil); err == nil {
		t.Fatal("expected sink error to propagate")
	}
	if state.epochs[1].Status != StatusActive {
		t.Fatalf("epoch must stay open after sink failure, got %s", state.epochs[1].Status)
	}

	// Retry succeeds once the sink recovers.
	sink.fail = nil
	if err := coordinator.EndEpochWithSubsidies(1, "vault-a", [32]byte{1}, nil, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestTerminalEpochsRejectTransitions(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	if _, err := coordinator.StartEpoch(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coordinator.EndEpochWithSubsidies(1, "vault-a", [32]byte{}, nil, nil); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := coordinator.BeginProcessing(1, nil); !errors.Is(err, errEpochNotActive) {
		t.Fatalf("expected not-active, got %v", err)
	}
	if err := coordinator.EndEpochWithSubsidies(1, "vault-a", [32]byte{}, nil, nil); !errors.Is(err, errEpochNotOpen) {
		t.Fatalf("expected not-open, got %v", err)
	}
	if err := coordinator.MarkEpochFailed(1, "late", nil); !errors.Is(err, errEpochTerminal) {
		t.Fatalf("expected terminal rejection, got %v", err)
	}
}

func transitionCount(t *testing.T, status string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "nftyield_epoch_transitions_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "status" && label.GetValue() == status {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestLifecycleRecordsTransitions(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)
	activeBefore := transitionCount(t, "active")
	processingBefore := transitionCount(t, "processing")
	completedBefore := transitionCount(t, "completed")
	failedBefore := transitionCount(t, "failed")

	if _, err := coordinator.StartEpoch(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coordinator.BeginProcessing(1, nil); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := coordinator.EndEpochWithSubsidies(1, "vault-a", [32]byte{}, nil, nil); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := coordinator.StartEpoch(nil); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := coordinator.MarkEpochFailed(2, "aborted", nil); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if got := transitionCount(t, "active") - activeBefore; got != 2 {
		t.Fatalf("expected 2 active transitions, got %v", got)
	}
	if got := transitionCount(t, "processing") - processingBefore; got != 1 {
		t.Fatalf("expected 1 processing transition, got %v", got)
	}
	if got := transitionCount(t, "completed") - completedBefore; got != 1 {
		t.Fatalf("expected 1 completed transition, got %v", got)
	}
	if got := transitionCount(t, "failed") - failedBefore; got != 1 {
		t.Fatalf("expected 1 failed transition, got %v", got)
	}
}

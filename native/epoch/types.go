package epoch

import (
	"math/big"
	"sort"
)

// Status tracks the lifecycle position of an epoch.
type Status uint8

const (
	// StatusActive accepts vault yield allocations.
	StatusActive Status = iota + 1
	// StatusProcessing marks an epoch whose distribution is being finalised.
	StatusProcessing
	// StatusCompleted is terminal; a new epoch may start.
	StatusCompleted
	// StatusFailed is terminal and reachable from any non-terminal state.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// VaultAllocation records the yield allocated to a single vault within an
// epoch. Allocations are kept as a sorted slice rather than a map so the
// persisted encoding stays canonical.
type VaultAllocation struct {
	VaultID string
	Amount  *big.Int
}

// Epoch captures one administrative distribution window. Epochs are
// sequential and 1-indexed.
type Epoch struct {
	ID                        uint64
	StartTime                 uint64
	EndTime                   uint64
	TotalYieldAvailable       *big.Int
	TotalSubsidiesDistributed *big.Int
	Status                    Status
	FailureReason             string
	Allocations               []VaultAllocation
}

// Clone produces a deep copy so callers cannot mutate coordinator state.
func (e *Epoch) Clone() *Epoch {
	if e == nil {
		return nil
	}
	clone := &Epoch{
		ID:            e.ID,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		Status:        e.Status,
		FailureReason: e.FailureReason,
	}
	clone.TotalYieldAvailable = copyBigInt(e.TotalYieldAvailable)
	clone.TotalSubsidiesDistributed = copyBigInt(e.TotalSubsidiesDistributed)
	if len(e.Allocations) > 0 {
		clone.Allocations = make([]VaultAllocation, len(e.Allocations))
		for i, alloc := range e.Allocations {
			clone.Allocations[i] = VaultAllocation{VaultID: alloc.VaultID, Amount: copyBigInt(alloc.Amount)}
		}
	}
	return clone
}

// Allocation returns the yield allocated to the vault, zero when absent.
func (e *Epoch) Allocation(vaultID string) *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	for _, alloc := range e.Allocations {
		if alloc.VaultID == vaultID {
			return copyBigInt(alloc.Amount)
		}
	}
	return big.NewInt(0)
}

func (e *Epoch) addAllocation(vaultID string, amount *big.Int) {
	for i, alloc := range e.Allocations {
		if alloc.VaultID == vaultID {
			e.Allocations[i].Amount = new(big.Int).Add(copyBigInt(alloc.Amount), amount)
			return
		}
	}
	e.Allocations = append(e.Allocations, VaultAllocation{VaultID: vaultID, Amount: new(big.Int).Set(amount)})
	sort.Slice(e.Allocations, func(i, j int) bool {
		return e.Allocations[i].VaultID < e.Allocations[j].VaultID
	})
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

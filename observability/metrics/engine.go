package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks the yield engines' operational counters.
type EngineMetrics struct {
	batchesApplied   *prometheus.CounterVec
	batchesRejected  *prometheus.CounterVec
	claimsProcessed  *prometheus.CounterVec
	claimShortfall   prometheus.Counter
	epochTransitions *prometheus.CounterVec
	roundingDust     prometheus.Gauge
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			batchesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftyield_batches_applied_total",
				Help: "Count of signed balance-update batches applied, by item count bucket.",
			}, []string{"size"}),
			batchesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftyield_batches_rejected_total",
				Help: "Count of rejected batches by reason.",
			}, []string{"reason"}),
			claimsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftyield_claims_total",
				Help: "Count of reward claims by outcome.",
			}, []string{"outcome"}),
			claimShortfall: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "nftyield_claim_shortfall_total",
				Help: "Cumulative shortfall carried as deficit across all claims.",
			}),
			epochTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftyield_epoch_transitions_total",
				Help: "Count of epoch state transitions by target status.",
			}, []string{"status"}),
			roundingDust: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "nftyield_rounding_dust",
				Help: "Current balance of the sweepable rounding-dust bucket.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.batchesApplied,
			engineRegistry.batchesRejected,
			engineRegistry.claimsProcessed,
			engineRegistry.claimShortfall,
			engineRegistry.epochTransitions,
			engineRegistry.roundingDust,
		)
	})
	return engineRegistry
}

func (m *EngineMetrics) ObserveBatchApplied(items int) {
	if m == nil {
		return
	}
	m.batchesApplied.WithLabelValues(fmt.Sprintf("%d", items)).Inc()
}

func (m *EngineMetrics) ObserveBatchRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.batchesRejected.WithLabelValues(reason).Inc()
}

func (m *EngineMetrics) ObserveClaim(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.claimsProcessed.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) AddClaimShortfall(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.claimShortfall.Add(amount)
}

func (m *EngineMetrics) ObserveEpochTransition(status string) {
	if m == nil {
		return
	}
	m.epochTransitions.WithLabelValues(status).Inc()
}

func (m *EngineMetrics) SetRoundingDust(amount float64) {
	if m == nil {
		return
	}
	m.roundingDust.Set(amount)
}

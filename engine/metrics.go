package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the controller.
//
// Metrics:
//   - fairiagent_stage_attempts_total{stage} - executor invocations
//   - fairiagent_stage_verdicts_total{stage,decision} - committed transitions
//   - fairiagent_stage_duration_seconds{stage} - executor plus gate time
//   - fairiagent_memory_degraded_total{op} - memory calls that fell back
//   - fairiagent_sessions_total{status} - sessions that reached a terminal status
//   - fairiagent_checkpoint_errors_total - failed checkpoint commits
type Metrics struct {
	StageAttemptsTotal *prometheus.CounterVec
	StageVerdictsTotal *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec

	MemoryDegradedTotal   *prometheus.CounterVec
	SessionsTotal         *prometheus.CounterVec
	CheckpointErrorsTotal prometheus.Counter
}

// NewMetrics creates the controller metrics and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StageAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairiagent_stage_attempts_total",
				Help: "Total number of stage executor invocations",
			},
			[]string{"stage"},
		),
		StageVerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairiagent_stage_verdicts_total",
				Help: "Total number of committed stage transitions by decision",
			},
			[]string{"stage", "decision"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fairiagent_stage_duration_seconds",
				Help:    "Duration of a stage attempt including review",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		MemoryDegradedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairiagent_memory_degraded_total",
				Help: "Total number of memory calls that degraded to an empty result",
			},
			[]string{"op"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairiagent_sessions_total",
				Help: "Total number of sessions that reached a terminal status",
			},
			[]string{"status"},
		),
		CheckpointErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fairiagent_checkpoint_errors_total",
				Help: "Total number of checkpoint commits that failed",
			},
		),
	}
}

func (m *Metrics) recordAttempt(stage string) {
	if m == nil {
		return
	}
	m.StageAttemptsTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) recordVerdict(stage, decision string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageVerdictsTotal.WithLabelValues(stage, decision).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) recordMemoryDegraded(op string) {
	if m == nil {
		return
	}
	m.MemoryDegradedTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) recordSession(status string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) recordCheckpointError() {
	if m == nil {
		return
	}
	m.CheckpointErrorsTotal.Inc()
}

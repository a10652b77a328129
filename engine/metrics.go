package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "ckptberry"
	metricsSubsystem = "consensus"
)

// Metrics holds consensus metrics
type Metrics struct {
	Round            prometheus.Gauge
	Status           prometheus.Gauge
	CheckpointHeight prometheus.Gauge

	Transitions      *prometheus.CounterVec
	ItemsAccepted    *prometheus.CounterVec
	ItemsRejected    *prometheus.CounterVec
	VotesCast        prometheus.Counter
	Committed        prometheus.Counter
	CreationTimeouts prometheus.Counter
	Evidence         prometheus.Counter
}

// NewMetrics creates the consensus metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help,
		})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help,
		})
	}
	counterVec := func(name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help,
		}, []string{label})
	}

	m := &Metrics{
		Round:            gauge("round", "Current creation round."),
		Status:           gauge("status", "Current creation step (1 validator, 2 hash, 3 content, 4 committed)."),
		CheckpointHeight: gauge("checkpoint_height", "Height of the accepted checkpoint."),
		Transitions:      counterVec("transitions_total", "State transitions by kind.", "kind"),
		ItemsAccepted:    counterVec("items_accepted_total", "Received items accepted by type.", "type"),
		ItemsRejected:    counterVec("items_rejected_total", "Received items dropped by type.", "type"),
		VotesCast:        counter("votes_cast_total", "Votes signed by local keys."),
		Committed:        counter("checkpoints_committed_total", "Checkpoints committed by majority."),
		CreationTimeouts: counter("creation_timeouts_total", "Checkpoint attempts abandoned on timeout."),
		Evidence:         counter("evidence_total", "Conflicting votes detected."),
	}
	if reg != nil {
		reg.MustRegister(
			m.Round, m.Status, m.CheckpointHeight,
			m.Transitions, m.ItemsAccepted, m.ItemsRejected,
			m.VotesCast, m.Committed, m.CreationTimeouts, m.Evidence,
		)
	}
	return m
}

// NopMetrics returns metrics that are not exported.
func NopMetrics() *Metrics {
	return NewMetrics(nil)
}

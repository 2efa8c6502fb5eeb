// Package metrics exposes Prometheus collectors for the ledger engine.
//
// Collectors implements ledger.Observer, allocation.Recorder and
// rates.FallbackRecorder so the core packages never import Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/franga/engine/ledger"
)

const namespace = "franga"

// Collectors holds every metric the engine emits.
type Collectors struct {
	EntriesRecorded *prometheus.CounterVec
	EntriesRejected *prometheus.CounterVec
	AutomationRuns  *prometheus.CounterVec
	RateFallbacks   *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass prometheus.NewRegistry()
// to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		EntriesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_recorded_total",
			Help:      "Entries persisted, by origin.",
		}, []string{"origin"}),
		EntriesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_rejected_total",
			Help:      "Candidate entries rejected, by reason.",
		}, []string{"reason"}),
		AutomationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_evaluations_total",
			Help:      "Scheduled allocation evaluations, by rule and outcome.",
		}, []string{"type", "outcome"}),
		RateFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_fallbacks_total",
			Help:      "Exchange rates served from the last known value or the static table.",
		}, []string{"currency", "source"}),
	}
}

func (c *Collectors) EntryRecorded(origin ledger.Origin) {
	c.EntriesRecorded.WithLabelValues(string(origin)).Inc()
}

func (c *Collectors) EntryRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	c.EntriesRejected.WithLabelValues(reason).Inc()
}

func (c *Collectors) AutomationEvaluated(t ledger.AutomationType, outcome string) {
	c.AutomationRuns.WithLabelValues(string(t), outcome).Inc()
}

func (c *Collectors) RateFallback(currency ledger.Currency, stale bool) {
	source := "static"
	if stale {
		source = "last_known"
	}
	c.RateFallbacks.WithLabelValues(string(currency), source).Inc()
}

// Package metrics exposes Prometheus counters for task runs.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/pipeline"
	"github.com/amishk599/idlewatch/internal/retry"
	"github.com/amishk599/idlewatch/internal/rotation"
)

const namespace = "idlewatch"

// Collector records attempt and item events. It satisfies both the
// orchestrator and pipeline observer interfaces.
type Collector struct {
	registry       *prometheus.Registry
	attempts       *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	riskEvents     *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	markedBad      *prometheus.CounterVec
}

var (
	_ retry.Observer    = (*Collector)(nil)
	_ pipeline.Observer = (*Collector)(nil)
)

// NewCollector registers all counters on a fresh registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Pipeline attempts by task and outcome.",
		}, []string{"task", "outcome"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Items decided and persisted.",
		}, []string{"task"}),
		riskEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_events_total",
			Help:      "Risk-control challenges observed.",
		}, []string{"task", "signal"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions by source and recommendation.",
		}, []string{"task", "source", "recommended"}),
		markedBad: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "marked_bad_total",
			Help:      "Accounts or proxies put into cooldown.",
		}, []string{"task", "kind"}),
	}

	for _, col := range []prometheus.Collector{c.attempts, c.itemsProcessed, c.riskEvents, c.decisions, c.markedBad} {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) AttemptFinished(task, outcome string) {
	c.attempts.WithLabelValues(task, outcome).Inc()
}

func (c *Collector) ResourceMarkedBad(task string, kind rotation.Kind) {
	c.markedBad.WithLabelValues(task, string(kind)).Inc()
}

func (c *Collector) ItemProcessed(task string) {
	c.itemsProcessed.WithLabelValues(task).Inc()
}

func (c *Collector) Decided(task string, d model.Decision) {
	c.decisions.WithLabelValues(task, d.Source, strconv.FormatBool(d.IsRecommended)).Inc()
}

func (c *Collector) RiskDetected(task, signal string) {
	c.riskEvents.WithLabelValues(task, signal).Inc()
}

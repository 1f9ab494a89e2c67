// Package metrics exposes prometheus counters for the distribution engine.
// A Collector consumes the engine events and rejected operations.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vocdoni/maci-payout/events"
)

const namespace = "qfnode"

// Collector counts admitted results, deposits, claims and rejections.
type Collector struct {
	results    *prometheus.CounterVec
	deposits   *prometheus.CounterVec
	claims     *prometheus.CounterVec
	withdrawn  *prometheus.CounterVec
	rejections *prometheus.CounterVec
	// classify maps an error to a stable label.
	classify func(error) string
}

// New creates a collector and registers it in reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tally",
			Name:      "results_admitted_total",
			Help:      "Number of tally results admitted, by poll.",
		}, []string{"poll"}),
		deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "funds",
			Name:      "deposits_total",
			Help:      "Number of deposits, by poll.",
		}, []string{"poll"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "funds",
			Name:      "claims_total",
			Help:      "Number of allocations claimed, by poll.",
		}, []string{"poll"}),
		withdrawn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "funds",
			Name:      "extra_withdrawals_total",
			Help:      "Number of extra withdrawals, by poll.",
		}, []string{"poll"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tally",
			Name:      "rejections_total",
			Help:      "Number of rejected operations, by operation and reason.",
		}, []string{"op", "reason"}),
		classify: func(err error) string { return "error" },
	}
	reg.MustRegister(c.results, c.deposits, c.claims, c.withdrawn, c.rejections)
	return c
}

// SetClassifier sets the function naming the reason label of rejections.
func (c *Collector) SetClassifier(fn func(error) string) {
	if c != nil && fn != nil {
		c.classify = fn
	}
}

// Emit implements events.Emitter.
func (c *Collector) Emit(e events.Event) {
	if c == nil {
		return
	}
	poll := strconv.FormatUint(e.PollID, 10)
	switch e.Kind {
	case events.KindResultAdded:
		c.results.WithLabelValues(poll).Inc()
	case events.KindDeposited:
		c.deposits.WithLabelValues(poll).Inc()
	case events.KindClaimed:
		c.claims.WithLabelValues(poll).Inc()
	case events.KindExtraWithdrawn:
		c.withdrawn.WithLabelValues(poll).Inc()
	}
}

// ObserveRejection counts an operation that failed with err.
func (c *Collector) ObserveRejection(op string, err error) {
	if c == nil || err == nil {
		return
	}
	reason := c.classify(err)
	if reason == "" {
		reason = "unknown"
	}
	c.rejections.WithLabelValues(op, reason).Inc()
}

// ReasonOf returns the message of the innermost wrapped error, a stable
// label for sentinel errors.
func ReasonOf(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

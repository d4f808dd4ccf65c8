package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus instruments the planner updates.
type Collector struct {
	Transitions       *prometheus.CounterVec
	GeneratorCalls    *prometheus.CounterVec
	GeneratorLatency  *prometheus.HistogramVec
	EntitlementChecks *prometheus.CounterVec
	PlansCompleted    *prometheus.CounterVec
	Payments          *prometheus.CounterVec
}

// NewCollector creates the instruments and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe",
			Name:      "session_transitions_total",
			Help:      "Planning session state transitions.",
		}, []string{"from", "to"}),
		GeneratorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe",
			Name:      "generator_calls_total",
			Help:      "Plan generator calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		GeneratorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vibe",
			Name:      "generator_latency_seconds",
			Help:      "Plan generator call latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"operation"}),
		EntitlementChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe",
			Name:      "entitlement_checks_total",
			Help:      "Entitlement decisions by reason.",
		}, []string{"reason"}),
		PlansCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe",
			Name:      "plans_completed_total",
			Help:      "Final plans delivered, by the grant that paid for them.",
		}, []string{"grant"}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe",
			Name:      "payments_total",
			Help:      "Payment verifications by tier and outcome.",
		}, []string{"tier", "outcome"}),
	}
	reg.MustRegister(c.Transitions, c.GeneratorCalls, c.GeneratorLatency, c.EntitlementChecks, c.PlansCompleted, c.Payments)
	return c
}

// ObserveTransition counts a state change. Nil collectors are ignored so
// callers need not guard.
func (c *Collector) ObserveTransition(from, to string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) ObserveGeneratorCall(operation string, failed bool, seconds float64) {
	if c == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	c.GeneratorCalls.WithLabelValues(operation, outcome).Inc()
	c.GeneratorLatency.WithLabelValues(operation).Observe(seconds)
}

func (c *Collector) ObserveEntitlement(reason string) {
	if c == nil {
		return
	}
	c.EntitlementChecks.WithLabelValues(reason).Inc()
}

func (c *Collector) ObservePlanCompleted(grant string) {
	if c == nil {
		return
	}
	c.PlansCompleted.WithLabelValues(grant).Inc()
}

func (c *Collector) ObservePayment(tier string, ok bool) {
	if c == nil {
		return
	}
	outcome := "verified"
	if !ok {
		outcome = "rejected"
	}
	c.Payments.WithLabelValues(tier, outcome).Inc()
}

// Package metrics exposes engine counters on a dedicated Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Redemption results.
const (
	RedeemSuccess    = "success"
	RedeemNotFound   = "not_found"
	RedeemWrongOwner = "wrong_owner"
	RedeemBanned     = "banned"
	RedeemProtected  = "protected"
)

// Ban causes.
const (
	CauseSpam       = "spam"
	CauseEscalation = "escalation"
	CauseAdmin      = "admin"
)

// Recorder records engine events. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	redemptions    *prometheus.CounterVec
	failedAttempts prometheus.Counter
	bans           *prometheus.CounterVec
	keysIssued     *prometheus.CounterVec
	gateDecisions  *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including Go runtime collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magicart",
			Name:      "key_redemptions_total",
			Help:      "License key redemption attempts by result.",
		}, []string{"result"}),
		failedAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "magicart",
			Name:      "failed_key_attempts_total",
			Help:      "Failed redemptions counted against an account.",
		}),
		bans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magicart",
			Name:      "bans_total",
			Help:      "Bans applied by scope and cause.",
		}, []string{"scope", "cause"}),
		keysIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magicart",
			Name:      "keys_issued_total",
			Help:      "License keys issued by tier.",
		}, []string{"tier"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magicart",
			Name:      "tool_gate_decisions_total",
			Help:      "Tool gating decisions by decision.",
		}, []string{"decision"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.redemptions,
		r.failedAttempts,
		r.bans,
		r.keysIssued,
		r.gateDecisions,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Redemption(result string) {
	if r == nil {
		return
	}
	r.redemptions.WithLabelValues(result).Inc()
}

func (r *Recorder) FailedAttempt() {
	if r == nil {
		return
	}
	r.failedAttempts.Inc()
}

func (r *Recorder) Ban(scope, cause string) {
	if r == nil {
		return
	}
	r.bans.WithLabelValues(scope, cause).Inc()
}

func (r *Recorder) KeyIssued(tier string) {
	if r == nil {
		return
	}
	r.keysIssued.WithLabelValues(tier).Inc()
}

func (r *Recorder) GateDecision(decision string) {
	if r == nil {
		return
	}
	r.gateDecisions.WithLabelValues(decision).Inc()
}

// Package telemetry exposes sampler progress as Prometheus metrics and
// serves them alongside a health endpoint.
package telemetry

import (
	"github.com/dyluth/exofit/internal/mcmc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exofit"

// StateSource reports the current orchestrator state.
type StateSource interface {
	State() mcmc.State
}

// Metrics holds the sampler metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	generations prometheus.Counter
	proposals   prometheus.Counter
	accepted    prometheus.Counter
	acceptance  prometheus.Gauge
	bestLogProb prometheus.Gauge
	burnin      prometheus.Gauge
}

// NewMetrics creates the sampler metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		factory:  factory,
		generations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "generations_total",
			Help:      "Ensemble generations completed",
		}),
		proposals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "proposals_total",
			Help:      "Stretch-move proposals made",
		}),
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "accepted_total",
			Help:      "Stretch-move proposals accepted",
		}),
		acceptance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "acceptance_fraction",
			Help:      "Cumulative acceptance fraction of the current fit",
		}),
		bestLogProb: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "best_log_prob",
			Help:      "Highest log-posterior seen so far",
		}),
		burnin: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "in_burnin",
			Help:      "1 while the sampler is still burning in",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records the gauges for one generation.
func (m *Metrics) Observe(p mcmc.Progress) {
	m.generations.Inc()
	m.acceptance.Set(p.AcceptanceFraction())
	m.bestLogProb.Set(p.BestLogProb)
	if p.Generation <= p.Burnin {
		m.burnin.Set(1)
	} else {
		m.burnin.Set(0)
	}
}

// ObserveGeneration adds one generation's move counts.
func (m *Metrics) ObserveGeneration(proposed, accepted int) {
	m.proposals.Add(float64(proposed))
	m.accepted.Add(float64(accepted))
}

// TrackEvaluations exposes a monotonically increasing log-probability
// evaluation count read at scrape time.
func (m *Metrics) TrackEvaluations(count func() uint64) {
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "posterior",
		Name:      "evaluations_total",
		Help:      "Log-posterior evaluations",
	}, func() float64 { return float64(count()) })
}

// TrackState exposes one gauge per orchestrator state, 1 for the current one.
func (m *Metrics) TrackState(src StateSource) {
	for _, s := range []mcmc.State{mcmc.StateNotStarted, mcmc.StateWarmStart, mcmc.StateSampling, mcmc.StateDone} {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "fit",
			Name:        "state",
			Help:        "Current fit state",
			ConstLabels: prometheus.Labels{"state": string(s)},
		}, func() float64 {
			if src.State() == s {
				return 1
			}
			return 0
		})
	}
}

// Hook returns a callback for mcmc.WithProgress. The sampler reports
// cumulative move counts; the hook converts them to increments.
func (m *Metrics) Hook() func(mcmc.Progress) {
	var proposed, accepted int
	return func(p mcmc.Progress) {
		m.ObserveGeneration(p.Proposed-proposed, p.Accepted-accepted)
		proposed, accepted = p.Proposed, p.Accepted
		m.Observe(p)
	}
}

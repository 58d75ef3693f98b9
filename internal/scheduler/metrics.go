package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы вызова для метки outcome.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
)

// Metrics — Prometheus-метрики планировщика.
//
// Все методы безопасны для nil-получателя: без метрик Runtime работает так же.
type Metrics struct {
	jobsClaimed     prometheus.Counter
	claimConflicts  prometheus.Counter
	invocations     *prometheus.CounterVec
	leasesRecovered prometheus.Counter
	tickDuration    prometheus.Histogram
	invokeDuration  prometheus.Histogram
}

// NewMetrics создаёт и регистрирует метрики. reg == nil — DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		jobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Jobs leased by this process",
		}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_conflicts_total",
			Help:      "Claims lost to another worker",
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_invocations_total",
			Help:      "Entrypoint invocations by outcome",
		}, []string{"outcome"}),
		leasesRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_recovered_total",
			Help:      "Expired leases returned to the queue",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a scheduler tick",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}),
		invokeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invoke_duration_seconds",
			Help:      "Duration of entrypoint invocations",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		}),
	}

	reg.MustRegister(
		m.jobsClaimed,
		m.claimConflicts,
		m.invocations,
		m.leasesRecovered,
		m.tickDuration,
		m.invokeDuration,
	)
	return m
}

func (m *Metrics) claimed() {
	if m != nil {
		m.jobsClaimed.Inc()
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.claimConflicts.Inc()
	}
}

func (m *Metrics) invoked(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(outcome).Inc()
	m.invokeDuration.Observe(d.Seconds())
}

func (m *Metrics) recovered(n int) {
	if m != nil && n > 0 {
		m.leasesRecovered.Add(float64(n))
	}
}

func (m *Metrics) tick(d time.Duration) {
	if m != nil {
		m.tickDuration.Observe(d.Seconds())
	}
}

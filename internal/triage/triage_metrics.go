package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	StepDuration   *prometheus.HistogramVec
	StepsTotal     *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
	BreakerOpens   *prometheus.CounterVec
	StreamDrops    *prometheus.CounterVec
	StartsTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_runs_total",
			Help: "Total triage runs by final risk level.",
		}, []string{"risk", "fallback"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_triage_run_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"risk"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_triage_step_duration_seconds",
			Help:    "Duration of pipeline steps in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
		}, []string{"step"}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_steps_total",
			Help: "Total pipeline step executions by step and outcome.",
		}, []string{"step", "outcome"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_fallbacks_total",
			Help: "Total deterministic fallback substitutions by step.",
		}, []string{"step"}),
		BreakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_breaker_opens_total",
			Help: "Total circuit breaker open transitions by step.",
		}, []string{"step"}),
		StreamDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_stream_dropped_events_total",
			Help: "Total stream events dropped on slow subscribers by type.",
		}, []string{"type"}),
		StartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_starts_total",
			Help: "Total triage start requests by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StepDuration,
		m.StepsTotal,
		m.FallbacksTotal,
		m.BreakerOpens,
		m.StreamDrops,
		m.StartsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnStep: func(step, outcome string, seconds float64) {
			m.StepsTotal.WithLabelValues(step, outcome).Inc()
			m.StepDuration.WithLabelValues(step).Observe(seconds)
		},
		OnFallback: func(step string) {
			m.FallbacksTotal.WithLabelValues(step).Inc()
		},
		OnRun: func(risk string, fallbackUsed bool, seconds float64) {
			fb := "false"
			if fallbackUsed {
				fb = "true"
			}
			m.RunsTotal.WithLabelValues(risk, fb).Inc()
			m.RunDuration.WithLabelValues(risk).Observe(seconds)
		},
	}
}

// ServiceHooks returns hooks that count start requests by result.
func (m *Metrics) ServiceHooks() ServiceHooks {
	return ServiceHooks{
		OnStart: func(result string) {
			m.StartsTotal.WithLabelValues(result).Inc()
		},
	}
}

// OnBreakerOpen adapts the metric for the breaker registry callback.
func (m *Metrics) OnBreakerOpen(step string) {
	m.BreakerOpens.WithLabelValues(step).Inc()
}

// OnStreamDrop adapts the metric for the stream drop callback.
func (m *Metrics) OnStreamDrop(eventType string) {
	m.StreamDrops.WithLabelValues(eventType).Inc()
}

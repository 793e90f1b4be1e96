package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts generation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	generations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	throttled   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generator_generations_total",
			Help: "Generation requests by platform and outcome.",
		}, []string{"platform", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "generator_generation_seconds",
			Help:    "Wall time of metered generations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"platform"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generator_throttled_total",
			Help: "Requests rejected by the rate limiter or cooldown.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.generations, m.duration, m.throttled)
	}
	return m
}

func (m *Metrics) observeGeneration(platform, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(platform, outcome).Inc()
	if outcome == "success" || outcome == "failed" {
		m.duration.WithLabelValues(platform).Observe(took.Seconds())
	}
}

func (m *Metrics) countThrottled(reason string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(reason).Inc()
}

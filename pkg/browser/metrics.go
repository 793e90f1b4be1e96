package browser

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports slot pool gauges. A nil *Metrics records nothing.
type Metrics struct {
	active   prometheus.Gauge
	waiting  prometheus.Gauge
	wait     prometheus.Histogram
	outcomes *prometheus.CounterVec
}

// NewMetrics registers the pool collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_slots_active",
			Help: "Browser slots currently held.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_slots_waiting",
			Help: "Extraction requests queued for a browser slot.",
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_slot_wait_seconds",
			Help:    "Time spent waiting for a browser slot.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_extractions_total",
			Help: "Browser extractions by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.active, m.waiting, m.wait, m.outcomes)
	}
	return m
}

func (m *Metrics) setSlots(active, waiting int) {
	if m == nil {
		return
	}
	m.active.Set(float64(active))
	m.waiting.Set(float64(waiting))
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.wait.Observe(d.Seconds())
}

func (m *Metrics) countOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

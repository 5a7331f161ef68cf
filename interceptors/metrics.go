package interceptors

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gokit/connkit"
)

// outcome labels.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// Metrics holds the prometheus collectors updated by Measure.
type Metrics struct {
	Active   prometheus.Gauge
	Handled  *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics creates the collectors under namespace and registers them
// with reg. A nil reg leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently being handled",
		}),
		Handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_handled_total",
			Help:      "Connections handled by outcome",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Time from accepting a connection to the end of its handling",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Active, m.Handled, m.Duration)
	}
	return m
}

// Measure records connection counts and handling time into m.
func Measure[I, O any](m *Metrics) connkit.Interceptor[I, O, I, O] {
	return func(next connkit.Handler[I, O]) connkit.Handler[I, O] {
		return connkit.HandlerFunc[I, O](func(c connkit.Connection[I, O]) *connkit.Future {
			start := time.Now()
			m.Active.Inc()

			future := next.Handle(c)
			future.Watch(func(err error) {
				m.Active.Dec()
				m.Duration.Observe(time.Since(start).Seconds())

				if err != nil {
					m.Handled.WithLabelValues(outcomeFailed).Inc()
					return
				}
				m.Handled.WithLabelValues(outcomeOK).Inc()
			})
			return future
		})
	}
}

// Package metrics holds the Prometheus collectors for the view route and the
// counter store.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iliyamo/page-tracker/internal/repository"
)

type Metrics struct {
	Views        prometheus.Counter
	StoreErrors  *prometheus.CounterVec
	StoreLatency *prometheus.HistogramVec
}

func New(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		Views: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "page_tracker_views_total",
			Help: "Views successfully counted by this process",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "page_tracker_store_errors_total",
			Help: "Counter store failures by kind",
		}, []string{"kind"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "page_tracker_store_call_duration_seconds",
			Help:    "Duration of counter store round trips",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
	}
	r.MustRegister(m.Views, m.StoreErrors, m.StoreLatency)
	return m
}

// ObserveStoreCall matches repository.CounterOptions.Observe.
func (m *Metrics) ObserveStoreCall(op string, took time.Duration, err error) {
	m.StoreLatency.WithLabelValues(op).Observe(took.Seconds())
	if err != nil {
		m.StoreErrors.WithLabelValues(Kind(err)).Inc()
	}
}

// Kind is the label value used for an error returned by a counter store.
func Kind(err error) string {
	switch {
	case errors.Is(err, repository.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, repository.ErrStoreProtocol):
		return "protocol"
	case errors.Is(err, repository.ErrInvalidKey):
		return "invalid_key"
	}
	return "other"
}

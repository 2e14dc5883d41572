package logbridge

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts driver log lines per adapter.
type Metrics struct {
	Records *prometheus.CounterVec
	Dropped *prometheus.CounterVec
}

// NewMetrics creates the bridge's counters without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wgnt_driver_log_records_total",
				Help: "Driver log lines handed to a handler.",
			},
			[]string{"adapter"},
		),
		Dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wgnt_driver_log_dropped_total",
				Help: "Driver log lines dropped because the adapter's queue was full.",
			},
			[]string{"adapter"},
		),
	}
}

// Register adds the counters to r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Records, m.Dropped} {
		if err := r.Register(c); err != nil {
			return fmt.Errorf("register log bridge metrics: %w", err)
		}
	}
	return nil
}

func (m *Metrics) delivered(adapter string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(adapter).Inc()
}

func (m *Metrics) dropped(adapter string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(adapter).Inc()
}

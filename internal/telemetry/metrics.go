package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

const namespace = "serverpulse_agent"

// Metrics holds the agent's own Prometheus metrics.
// All recording methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal         *prometheus.CounterVec
	LinesReadTotal      *prometheus.CounterVec
	PollErrorsTotal     *prometheus.CounterVec
	SinkFailuresTotal   *prometheus.CounterVec
	CycleDuration       *prometheus.HistogramVec
	AlertsTotal         *prometheus.CounterVec
	DispatchQueueLength prometheus.Gauge
	ServiceUp           *prometheus.GaugeVec
}

// New creates the metric set on a private registry
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Events produced by log classification",
			},
			[]string{"monitor", "type", "cause", "severity"},
		),
		LinesReadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_read_total",
				Help:      "Complete lines read from tailed files",
			},
			[]string{"monitor"},
		),
		PollErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_errors_total",
				Help:      "Per-source failures while polling a file",
			},
			[]string{"monitor"},
		),
		SinkFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_failures_total",
				Help:      "Event deliveries that failed or timed out",
			},
			[]string{"monitor"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of one monitor poll cycle",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"monitor"},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alerts sent to the server by type and result",
			},
			[]string{"type", "result"},
		),
		DispatchQueueLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_queue_length",
				Help:      "Events waiting in the alert dispatcher",
			},
		),
		ServiceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_up",
				Help:      "1 if the monitored systemd service is active",
			},
			[]string{"service"},
		),
	}

	cs := []prometheus.Collector{
		m.EventsTotal,
		m.LinesReadTotal,
		m.PollErrorsTotal,
		m.SinkFailuresTotal,
		m.CycleDuration,
		m.AlertsTotal,
		m.DispatchQueueLength,
		m.ServiceUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveEvent counts one classified event
func (m *Metrics) ObserveEvent(monitor string, ev *domain.Event) {
	if m == nil || ev == nil {
		return
	}
	m.EventsTotal.WithLabelValues(monitor, ev.Type, string(ev.Cause), ev.Severity.String()).Inc()
}

// ObserveLines counts lines read in one poll
func (m *Metrics) ObserveLines(monitor string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.LinesReadTotal.WithLabelValues(monitor).Add(float64(n))
}

// ObservePollError counts a per-source failure
func (m *Metrics) ObservePollError(monitor string) {
	if m == nil {
		return
	}
	m.PollErrorsTotal.WithLabelValues(monitor).Inc()
}

// ObserveSinkFailure counts a failed delivery
func (m *Metrics) ObserveSinkFailure(monitor string) {
	if m == nil {
		return
	}
	m.SinkFailuresTotal.WithLabelValues(monitor).Inc()
}

// ObserveCycle records how long one poll cycle took
func (m *Metrics) ObserveCycle(monitor string, d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(monitor).Observe(d.Seconds())
}

// ObserveAlert counts an alert delivery attempt
func (m *Metrics) ObserveAlert(alertType string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.AlertsTotal.WithLabelValues(alertType, result).Inc()
}

// SetQueueLength publishes the dispatcher backlog
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.DispatchQueueLength.Set(float64(n))
}

// SetServiceStatus publishes whether a service is active
func (m *Metrics) SetServiceStatus(st domain.ServiceStatus) {
	if m == nil {
		return
	}
	v := 0.0
	if st.Status == domain.ServiceActive {
		v = 1
	}
	m.ServiceUp.WithLabelValues(st.Name).Set(v)
}

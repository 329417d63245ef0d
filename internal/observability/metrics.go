package observability

import (
	"strconv"
	"time"

	"github.com/danmuck/execctl/internal/command"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for one agent. Collectors are registered on
// the registerer handed to NewMetrics, never on a package-level default.
type Metrics struct {
	reconciles        *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

var _ command.Observer = (*Metrics)(nil)

// NewMetrics creates and registers the collectors. A nil registerer yields
// working but unexported collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "execctl",
				Name:      "reconcile_total",
				Help:      "Reconciliation passes by resource kind, mode and resulting state.",
			},
			[]string{"kind", "mode", "state"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "execctl",
				Name:      "reconcile_duration_seconds",
				Help:      "Reconciliation pass duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "mode"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "execctl",
				Name:      "command_total",
				Help:      "Command invocations by role and outcome.",
			},
			[]string{"role", "outcome"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "execctl",
				Name:      "command_duration_seconds",
				Help:      "Command invocation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"role"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "execctl",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"node", "method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "execctl",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node", "method", "path", "status"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.reconciles, m.reconcileDuration,
		m.commands, m.commandDuration,
		m.httpRequests, m.httpDuration,
	}
}

// ObserveReconcile records one reconciliation pass.
func (m *Metrics) ObserveReconcile(kind, mode, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(kind, mode, state).Inc()
	m.reconcileDuration.WithLabelValues(kind, mode).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCommand(role command.Role, failure command.FailureKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if failure != command.FailureNone {
		outcome = string(failure)
	}
	m.commands.WithLabelValues(string(role), outcome).Inc()
	m.commandDuration.WithLabelValues(string(role)).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

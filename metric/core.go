package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not service-specific)
type Metrics struct {
	// Server lifecycle metrics
	ServerState        prometheus.Gauge
	StartsTotal        prometheus.Counter
	RestartsTotal      prometheus.Counter
	BindFailuresTotal  prometheus.Counter
	RebuildDuration    prometheus.Histogram
	RegisteredServices prometheus.Gauge
	RegisteredOwners   prometheus.Gauge

	// Health metrics
	HealthStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "grpchost",
				Subsystem: "server",
				Name:      "state",
				Help:      "Server state (0=stopped, 1=running, 2=stopping, 3=shutdown)",
			},
		),

		StartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "grpchost",
				Subsystem: "server",
				Name:      "starts_total",
				Help:      "Total number of successful listener starts",
			},
		),

		RestartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "grpchost",
				Subsystem: "server",
				Name:      "restarts_total",
				Help:      "Total number of registry-driven restart cycles",
			},
		),

		BindFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "grpchost",
				Subsystem: "server",
				Name:      "bind_failures_total",
				Help:      "Total number of failed listener bind attempts",
			},
		),

		RebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "grpchost",
				Subsystem: "server",
				Name:      "rebuild_duration_seconds",
				Help:      "Duration of stop-rebuild-start cycles in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		RegisteredServices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "grpchost",
				Subsystem: "registry",
				Name:      "services",
				Help:      "Number of currently registered service handles",
			},
		),

		RegisteredOwners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "grpchost",
				Subsystem: "registry",
				Name:      "owners",
				Help:      "Number of owners with registered services",
			},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "grpchost",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordServerState records the current server state
func (c *Metrics) RecordServerState(state int) {
	c.ServerState.Set(float64(state))
}

// RecordStart records a successful listener start
func (c *Metrics) RecordStart() {
	c.StartsTotal.Inc()
}

// RecordRestart records a completed registry-driven restart cycle
func (c *Metrics) RecordRestart() {
	c.RestartsTotal.Inc()
}

// RecordBindFailure records a failed bind attempt
func (c *Metrics) RecordBindFailure() {
	c.BindFailuresTotal.Inc()
}

// RecordRebuildDuration records the duration of a rebuild cycle
func (c *Metrics) RecordRebuildDuration(duration time.Duration) {
	c.RebuildDuration.Observe(duration.Seconds())
}

// RecordRegistrySize records the current registry size
func (c *Metrics) RecordRegistrySize(owners, services int) {
	c.RegisteredOwners.Set(float64(owners))
	c.RegisteredServices.Set(float64(services))
}

// RecordHealthStatus records health check results
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthStatus.WithLabelValues(component).Set(value)
}

package server

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"

	"github.com/c360/grpchost/metric"
)

// Default tuning constants
const (
	// DefaultDebounceWindow is the settle delay between the last registry
	// mutation and the restart it triggers
	DefaultDebounceWindow = 2 * time.Second
	// DefaultStopTimeout bounds graceful stop before a hard stop
	DefaultStopTimeout = 10 * time.Second
	// DefaultBridgeWorkers is the size of the blocking-call worker pool
	DefaultBridgeWorkers = 4
	// DefaultBridgeQueueSize is the bridge task queue capacity
	DefaultBridgeQueueSize = 16
)

// Option represents a configuration option for the manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics attaches platform metrics
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithMetricsRegistry lets internal components such as the blocking-call
// pool register their own metrics
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		m.metricsRegistry = registry
	}
}

// WithDebounceWindow overrides the restart settle delay
func WithDebounceWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.debounceWindow = d
		}
	}
}

// WithStopTimeout overrides the graceful stop bound
func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.stopTimeout = d
		}
	}
}

// WithBridgeSize overrides the blocking-call pool dimensions
func WithBridgeSize(workers, queueSize int) Option {
	return func(m *Manager) {
		if workers > 0 {
			m.bridgeWorkers = workers
		}
		if queueSize > 0 {
			m.bridgeQueueSize = queueSize
		}
	}
}

// WithServerOptions sets a hook queried at each listener build for extra
// grpc.ServerOption values. The hook runs on every rebuild, so dynamic
// settings such as throttling limits take effect at the next restart.
func WithServerOptions(hook func() []grpc.ServerOption) Option {
	return func(m *Manager) {
		m.serverOptions = hook
	}
}

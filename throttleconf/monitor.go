package throttleconf

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/c360/grpchost/errors"
	"github.com/c360/grpchost/health"
	"github.com/c360/grpchost/pkg/retry"
)

// DefaultRefreshInterval is the poll interval when none is configured
const DefaultRefreshInterval = 30 * time.Second

// Monitor periodically refreshes throttling limits from a Store and serves
// the latest snapshot to concurrent readers. A missing document is not an
// error: the monitor keeps the defaults until one appears.
type Monitor struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	limits      Limits
	revision    uint64
	lastErr     error
	lastRefresh time.Time
}

// MonitorOption configures the monitor
type MonitorOption func(*Monitor)

// WithRefreshInterval overrides the poll interval
func WithRefreshInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor creates a monitor over the given store
func NewMonitor(store Store, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:    store,
		interval: DefaultRefreshInterval,
		limits:   DefaultLimits(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default().With("component", "throttleconf")
	}
	return m
}

// Limits returns the latest limits snapshot
func (m *Monitor) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// ServerOptions returns listener options for the latest limits. Suitable as
// a server.WithServerOptions hook: it is queried at each listener build.
func (m *Monitor) ServerOptions() []grpc.ServerOption {
	return m.Limits().ServerOptions()
}

// Refresh reads the store once and updates the snapshot if the document
// changed. A missing key leaves the current snapshot in place.
func (m *Monitor) Refresh(ctx context.Context) error {
	value, revision, err := m.store.Get(ctx)
	if err != nil {
		if goerrors.Is(err, errors.ErrKeyNotFound) {
			// No document yet, the defaults stay in effect
			m.recordRefresh(nil)
			return nil
		}
		m.recordRefresh(err)
		return err
	}
	m.recordRefresh(nil)

	m.mu.RLock()
	current := m.revision
	m.mu.RUnlock()
	if revision == current {
		return nil
	}

	limits, err := parseLimits(value)
	if err != nil {
		// A malformed document keeps the last good limits
		m.logger.Warn("ignoring malformed limits document",
			"revision", revision, "error", err)
		return nil
	}

	m.mu.Lock()
	m.limits = limits
	m.revision = revision
	m.mu.Unlock()

	m.logger.Info("throttling limits updated",
		"revision", revision,
		"max_concurrent_streams", limits.MaxConcurrentStreams,
		"max_recv_msg_bytes", limits.MaxRecvMsgBytes,
		"max_send_msg_bytes", limits.MaxSendMsgBytes)
	return nil
}

func (m *Monitor) recordRefresh(err error) {
	m.mu.Lock()
	m.lastErr = err
	if err == nil {
		m.lastRefresh = time.Now()
	}
	m.mu.Unlock()
}

// Health reports the poller's status. A failing store degrades the limits
// feed; the listener keeps serving with the last good snapshot either way.
func (m *Monitor) Health() health.Status {
	m.mu.RLock()
	lastErr := m.lastErr
	lastRefresh := m.lastRefresh
	revision := m.revision
	m.mu.RUnlock()

	metrics := &health.Metrics{LastActivity: lastRefresh}
	if lastErr != nil {
		return health.NewDegraded("throttleconf",
			fmt.Sprintf("limits refresh failing: %v", lastErr)).WithMetrics(metrics)
	}
	return health.NewHealthy("throttleconf",
		fmt.Sprintf("revision=%d", revision)).WithMetrics(metrics)
}

// Run polls the store until ctx is done. It only returns early on a fatal
// error. Transient read failures are retried with backoff and then logged.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.refreshWithRetry(ctx); err != nil {
		if errors.IsFatal(err) {
			return err
		}
		m.logger.Warn("initial limits refresh failed", "error", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.refreshWithRetry(ctx); err != nil {
				if errors.IsFatal(err) {
					return err
				}
				m.logger.Warn("limits refresh failed", "error", err)
			}
		}
	}
}

func (m *Monitor) refreshWithRetry(ctx context.Context) error {
	return retry.Do(ctx, retry.Quick(), func() error {
		err := m.Refresh(ctx)
		if err != nil && errors.IsFatal(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
}

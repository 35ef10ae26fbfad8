// Package server manages a single gRPC listener whose hosted service set is
// mutated at runtime by independent subsystems. Registry changes are debounced
// into a single stop-rebuild-start cycle, and all blocking listener calls run
// on a dedicated worker pool so callers are never stalled by socket
// operations.
package server

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	grpccreds "google.golang.org/grpc/credentials"

	"github.com/c360/grpchost/credentials"
	"github.com/c360/grpchost/errors"
	"github.com/c360/grpchost/health"
	"github.com/c360/grpchost/metric"
	"github.com/c360/grpchost/pkg/bridge"
)

// closedChan is returned for completions that are already satisfied
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Manager owns the lifecycle of one native listener and the registry of
// services it hosts. An empty address puts the manager in client-only mode:
// credentials remain available but no listener is ever bound.
//
// Lifecycle operations are serialized on opMu and may block for the duration
// of a bind or stop. Registry mutations only take mu and return immediately,
// so registration is never stalled behind an in-flight rebuild.
type Manager struct {
	// Immutable after construction
	address  string
	provider credentials.Provider
	logger   *slog.Logger
	metrics  *metric.Metrics

	// Tuning
	debounceWindow  time.Duration
	stopTimeout     time.Duration
	bridgeWorkers   int
	bridgeQueueSize int
	serverOptions   func() []grpc.ServerOption
	metricsRegistry *metric.MetricsRegistry

	bridge *bridge.Bridge

	// opMu serializes lifecycle operations: run, stop, shutdown and the
	// registry-driven restart cycle. Held for the full duration of the
	// blocking native calls.
	opMu sync.Mutex

	// mu guards everything below. Held only for short field access, never
	// across a blocking call.
	mu          sync.Mutex
	state       State
	wantRunning bool
	numStarts   int
	srv         *grpc.Server
	lis         net.Listener
	registry    *registry

	// Debounce and restart coordination
	debounce        *time.Timer
	accumWaiters    []chan struct{} // deregistrations since the last timer fire
	pendingSnapshot []Service       // frozen at timer fire
	pendingWaiters  []chan struct{} // waiters covered by pendingSnapshot
	restartCh       chan struct{}

	// Notification hooks
	runningTrig   *trigger
	nextStartTrig *trigger
	stopTrig      *trigger

	done chan struct{}
}

// NewManager creates a manager bound to the given address. The address is
// fixed for the manager's lifetime. Passing an empty address creates a
// client-only manager with no local listener.
func NewManager(provider credentials.Provider, address string, opts ...Option) (*Manager, error) {
	if provider == nil {
		return nil, errors.WrapFatal(errors.ErrNoCredentials, "server", "NewManager", "validate provider")
	}

	m := &Manager{
		address:         address,
		provider:        provider,
		debounceWindow:  DefaultDebounceWindow,
		stopTimeout:     DefaultStopTimeout,
		bridgeWorkers:   DefaultBridgeWorkers,
		bridgeQueueSize: DefaultBridgeQueueSize,
		registry:        newRegistry(),
		restartCh:       make(chan struct{}, 1),
		runningTrig:     newTrigger(),
		nextStartTrig:   newTrigger(),
		stopTrig:        newTrigger(),
		done:            make(chan struct{}),
	}

	// Apply options
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default().With("component", "server")
	}

	var bridgeOpts []bridge.Option
	if m.metricsRegistry != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithMetricsRegistry(m.metricsRegistry, "grpchost_bridge"))
	}
	m.bridge = bridge.New(m.bridgeWorkers, m.bridgeQueueSize, bridgeOpts...)
	if err := m.bridge.Start(context.Background()); err != nil {
		return nil, errors.WrapFatal(err, "server", "NewManager", "start bridge")
	}

	go m.restartLoop()

	return m, nil
}

// Run starts the listener. Idempotent: if already running it returns nil
// without rebinding or incrementing the start counter. A bind failure leaves
// the manager stopped and may be retried.
//
// The operation continues even if ctx is done before it completes. The
// context only abandons the wait, never the bind itself.
func (m *Manager) Run(ctx context.Context) error {
	return m.do(ctx, func() error {
		m.mu.Lock()
		switch {
		case m.state == StateShutdown:
			m.mu.Unlock()
			return errors.ErrAlreadyShutdown
		case m.address == "":
			m.mu.Unlock()
			return errors.WrapInvalid(errors.ErrClientOnly, "server", "Run", "start listener")
		case m.state == StateRunning:
			m.mu.Unlock()
			return nil
		}
		// This snapshot subsumes every mutation made so far, including any
		// that armed the debounce timer while stopped. Absorb the pending
		// restart state so the start we are about to perform is not
		// followed by a redundant stop-start cycle over an identical set.
		snap := m.registry.snapshot()
		if m.debounce != nil {
			m.debounce.Stop()
		}
		waiters := append(m.accumWaiters, m.pendingWaiters...)
		m.accumWaiters, m.pendingWaiters, m.pendingSnapshot = nil, nil, nil
		select {
		case <-m.restartCh:
		default:
		}
		m.mu.Unlock()

		// Absorbed deregistrations complete with this start attempt, the
		// same way a restart cycle completes them whether or not it binds.
		defer resolve(waiters)

		return m.startListener(snap)
	})
}

// StopServer stops the listener and releases its port. Idempotent when
// already stopped. The manager may later be restarted with Run or by a
// registry change.
func (m *Manager) StopServer(ctx context.Context) error {
	return m.do(ctx, func() error {
		m.mu.Lock()
		if m.state == StateShutdown {
			m.mu.Unlock()
			return errors.ErrAlreadyShutdown
		}
		m.wantRunning = false
		m.mu.Unlock()

		m.stopListener()
		return nil
	})
}

// Shutdown stops the listener and moves the manager to its terminal state.
// All subsequent lifecycle operations fail with ErrAlreadyShutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.do(ctx, func() error {
		m.mu.Lock()
		if m.state == StateShutdown {
			m.mu.Unlock()
			return errors.ErrAlreadyShutdown
		}
		if m.debounce != nil {
			m.debounce.Stop()
		}
		m.wantRunning = false
		m.mu.Unlock()

		m.stopListener()

		m.mu.Lock()
		m.state = StateShutdown
		waiters := append(m.accumWaiters, m.pendingWaiters...)
		m.accumWaiters, m.pendingWaiters, m.pendingSnapshot = nil, nil, nil
		m.mu.Unlock()

		// Pending deregistrations can no longer produce a restart
		resolve(waiters)

		close(m.done)
		if err := m.bridge.Stop(m.stopTimeout); err != nil {
			m.logger.Warn("bridge did not stop cleanly", "error", err)
		}

		if m.metrics != nil {
			m.metrics.RecordServerState(int(StateShutdown))
		}
		m.logger.Info("server shut down", "address", m.address, "starts", m.NumStarts())
		return nil
	})
}

// Close is a last-resort blocking teardown for managers that were never shut
// down explicitly. Normal teardown must call Shutdown and await it.
func (m *Manager) Close() error {
	err := m.Shutdown(context.Background())
	if goerrors.Is(err, errors.ErrAlreadyShutdown) {
		return nil
	}
	return err
}

// RegisterService registers a handle under the default owner and schedules a
// debounced restart.
func (m *Manager) RegisterService(handle Service) {
	m.RegisterRoleServices(defaultOwner, []Service{handle})
}

// RegisterRoleServices appends handles to the owner's bucket and schedules a
// debounced restart. Registering again for the same owner appends rather
// than replaces.
func (m *Manager) RegisterRoleServices(owner uuid.UUID, handles []Service) {
	if len(handles) == 0 {
		return
	}

	m.mu.Lock()
	m.registry.add(owner, handles)
	owners, services := m.registry.counts()
	m.scheduleRestartLocked()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordRegistrySize(owners, services)
	}
	m.logger.Debug("services registered",
		"owner", owner, "added", len(handles), "total", services)
}

// DeregisterRoleServices removes the owner's entire bucket and schedules a
// debounced restart. The returned channel is closed once the restart
// resulting from this deregistration has completed, not merely when the
// registry mutation is applied. Deregistering an unknown owner is a no-op
// and the returned channel is already closed.
func (m *Manager) DeregisterRoleServices(owner uuid.UUID) <-chan struct{} {
	m.mu.Lock()

	if !m.registry.remove(owner) {
		m.mu.Unlock()
		return closedChan
	}
	owners, services := m.registry.counts()

	// No restart can result in client-only mode or after shutdown. The
	// mutation alone is the whole effect.
	if m.address == "" || m.state == StateShutdown {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordRegistrySize(owners, services)
		}
		return closedChan
	}

	done := make(chan struct{})
	m.accumWaiters = append(m.accumWaiters, done)
	m.scheduleRestartLocked()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordRegistrySize(owners, services)
	}
	m.logger.Debug("services deregistered", "owner", owner, "remaining", services)
	return done
}

// OnRunning returns a channel closed when the manager is running. If it is
// already running the channel is closed immediately.
func (m *Manager) OnRunning() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning {
		return closedChan
	}
	return m.runningTrig.C()
}

// OnNextStart returns a channel closed at the next successful listener
// start. Re-armed after each firing so repeated restarts stay observable.
func (m *Manager) OnNextStart() <-chan struct{} {
	return m.nextStartTrig.C()
}

// OnStop returns a channel closed when the listener next finishes stopping.
// Re-armed after each firing.
func (m *Manager) OnStop() <-chan struct{} {
	return m.stopTrig.C()
}

// IsTLSEnabled reports whether the credential provider supplies TLS
func (m *Manager) IsTLSEnabled() bool {
	return m.provider.IsTLSEnabled()
}

// ClientCredentials returns transport credentials for outbound connections
func (m *Manager) ClientCredentials() (grpccreds.TransportCredentials, error) {
	return m.provider.ClientCredentials()
}

// HasStarted reports whether the listener is currently running
func (m *Manager) HasStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRunning
}

// NumStarts returns the number of successful listener starts. It increases
// exactly once per completed start, never on failed attempts.
func (m *Manager) NumStarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numStarts
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Address returns the configured listen address. Empty in client-only mode.
func (m *Manager) Address() string {
	return m.address
}

// IsClientOnly reports whether the manager has no local listener
func (m *Manager) IsClientOnly() bool {
	return m.address == ""
}

// Health returns the manager's health status
func (m *Manager) Health() health.Status {
	m.mu.Lock()
	state := m.state
	starts := m.numStarts
	owners, services := m.registry.counts()
	m.mu.Unlock()

	metrics := &health.Metrics{Restarts: starts}
	msg := fmt.Sprintf("state=%s owners=%d services=%d", state, owners, services)

	var status health.Status
	switch state {
	case StateRunning:
		status = health.NewHealthy("server", msg)
	case StateStopping:
		status = health.NewDegraded("server", msg)
	case StateStopped:
		if m.IsClientOnly() {
			status = health.NewHealthy("server", "client-only, no local listener")
		} else {
			status = health.NewDegraded("server", msg)
		}
	default:
		status = health.NewUnhealthy("server", msg)
	}
	return status.WithMetrics(metrics)
}

// do runs op serialized on opMu. The caller's context abandons the wait but
// never the operation: op always runs to completion and updates state.
func (m *Manager) do(ctx context.Context, op func() error) error {
	done := make(chan error, 1)
	go func() {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		done <- op()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scheduleRestartLocked arms or resets the debounce timer. Caller holds mu.
// Every registry mutation lands here, so bursts coalesce into one restart
// per quiescent period.
func (m *Manager) scheduleRestartLocked() {
	if m.address == "" || m.state == StateShutdown {
		return
	}
	if m.debounce == nil {
		m.debounce = time.AfterFunc(m.debounceWindow, m.debounceFired)
		return
	}
	m.debounce.Reset(m.debounceWindow)
}

// debounceFired runs when the settle window elapses with no further
// mutations. It freezes the registry snapshot for the coming rebuild. Late
// mutations re-arm the timer and are covered by a later cycle, never by
// mutating an in-flight snapshot.
func (m *Manager) debounceFired() {
	m.mu.Lock()
	if m.state == StateShutdown {
		waiters := m.accumWaiters
		m.accumWaiters = nil
		m.mu.Unlock()
		resolve(waiters)
		return
	}
	m.pendingSnapshot = m.registry.snapshot()
	m.pendingWaiters = append(m.pendingWaiters, m.accumWaiters...)
	m.accumWaiters = nil
	m.mu.Unlock()

	select {
	case m.restartCh <- struct{}{}:
	default:
		// A cycle is already queued. It will pick up the merged pending
		// snapshot and waiters.
	}
}

// restartLoop drives registry-triggered restart cycles until shutdown
func (m *Manager) restartLoop() {
	for {
		select {
		case <-m.done:
			return
		case <-m.restartCh:
			m.runRestartCycle()
		}
	}
}

// runRestartCycle performs one stop-rebuild-start pass using the snapshot
// frozen at debounce fire. Waiters from deregistrations covered by the
// snapshot are resolved when the cycle completes, whether or not the rebuild
// succeeded.
func (m *Manager) runRestartCycle() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	snap := m.pendingSnapshot
	waiters := m.pendingWaiters
	m.pendingSnapshot, m.pendingWaiters = nil, nil
	state := m.state
	want := m.wantRunning
	m.mu.Unlock()

	defer resolve(waiters)

	if state == StateShutdown || !want {
		return
	}

	start := time.Now()
	m.logger.Info("registry changed, restarting listener",
		"address", m.address, "services", len(snap))

	m.stopListener()

	if err := m.startListener(snap); err != nil {
		// Stay stopped. The next registry change or an explicit Run
		// retries the bind.
		m.logger.Error("listener rebuild failed", "error", err)
		return
	}

	if m.metrics != nil {
		m.metrics.RecordRestart()
		m.metrics.RecordRebuildDuration(time.Since(start))
	}
}

// startListener binds the address and brings up a fresh native listener
// hosting the given snapshot. Caller holds opMu.
func (m *Manager) startListener(snap []Service) error {
	creds, err := m.provider.ServerCredentials()
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrBindFailed, err),
			"server", "startListener", "obtain server credentials")
	}

	// The bind runs on the bridge so a contended socket never stalls
	// other lifecycle work beyond this serialized operation.
	var lis net.Listener
	bindErr := m.bridge.Run(context.Background(), func() error {
		l, err := net.Listen("tcp", m.address)
		if err != nil {
			return err
		}
		lis = l
		return nil
	})
	if bindErr != nil {
		if m.metrics != nil {
			m.metrics.RecordBindFailure()
		}
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrBindFailed, bindErr),
			"server", "startListener", "bind "+m.address)
	}

	opts := []grpc.ServerOption{grpc.Creds(creds)}
	if m.serverOptions != nil {
		opts = append(opts, m.serverOptions()...)
	}

	srv := grpc.NewServer(opts...)
	for _, handle := range snap {
		handle.RegisterWith(srv)
	}

	go func() {
		if err := srv.Serve(lis); err != nil && !goerrors.Is(err, grpc.ErrServerStopped) {
			m.logger.Error("listener serve ended", "address", m.address, "error", err)
		}
	}()

	m.mu.Lock()
	m.srv = srv
	m.lis = lis
	m.state = StateRunning
	m.wantRunning = true
	m.numStarts++
	starts := m.numStarts
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordStart()
		m.metrics.RecordServerState(int(StateRunning))
	}

	m.nextStartTrig.Fire()
	m.runningTrig.Fire()

	m.logger.Info("listener started",
		"address", m.address, "services", len(snap), "starts", starts)
	return nil
}

// stopListener gracefully stops the current listener and waits for the port
// to be released. No-op if nothing is running. Caller holds opMu, so stop
// always fully completes before any subsequent start begins.
func (m *Manager) stopListener() {
	m.mu.Lock()
	srv := m.srv
	if srv == nil || m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordServerState(int(StateStopping))
	}

	stopErr := m.bridge.Run(context.Background(), func() error {
		// Escalate to a hard stop if graceful drain exceeds the bound
		hard := time.AfterFunc(m.stopTimeout, srv.Stop)
		defer hard.Stop()
		srv.GracefulStop()
		return nil
	})
	if stopErr != nil {
		// Bridge unavailable. Stop inline rather than leak the port.
		m.logger.Warn("bridge rejected stop, stopping inline", "error", stopErr)
		srv.Stop()
	}

	m.mu.Lock()
	m.srv = nil
	m.lis = nil
	m.state = StateStopped
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordServerState(int(StateStopped))
	}

	m.stopTrig.Fire()
	m.logger.Info("listener stopped", "address", m.address)
}

// resolve closes completion channels
func resolve(waiters []chan struct{}) {
	for _, w := range waiters {
		close(w)
	}
}

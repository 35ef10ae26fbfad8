package server

import (
	"context"
	goerrors "errors"
	"sync"

	"github.com/c360/grpchost/credentials"
	"github.com/c360/grpchost/errors"
)

// The process-wide instance. Independent managers can still be constructed
// directly with NewManager for testing. This slot is a convenience wrapper
// over one designated instance.
var (
	globalMu sync.Mutex
	global   *Manager
)

// Init creates the process-wide manager. Called once during process
// bring-up. An empty address creates a client-only instance.
func Init(provider credentials.Provider, address string, opts ...Option) (*Manager, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		return nil, errors.WrapFatal(errors.ErrInitialized, "server", "Init", "create global instance")
	}

	m, err := NewManager(provider, address, opts...)
	if err != nil {
		return nil, err
	}
	global = m
	return m, nil
}

// Instance returns the process-wide manager. Calling it before Init is a
// programming error and panics rather than returning nil.
func Instance() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		panic(errors.ErrNotInitialized)
	}
	return global
}

// Initialized reports whether the process-wide instance exists
func Initialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global != nil
}

// Teardown shuts down and clears the process-wide manager. Safe to call when
// no instance exists.
func Teardown(ctx context.Context) error {
	globalMu.Lock()
	m := global
	global = nil
	globalMu.Unlock()

	if m == nil {
		return nil
	}
	err := m.Shutdown(ctx)
	if err != nil && !goerrors.Is(err, errors.ErrAlreadyShutdown) {
		return err
	}
	return nil
}

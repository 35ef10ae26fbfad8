package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/grpchost/credentials"
	"github.com/c360/grpchost/errors"
)

func TestGlobalInitAndInstance(t *testing.T) {
	t.Cleanup(func() { _ = Teardown(context.Background()) })

	m, err := Init(credentials.NewInsecureProvider(), freeAddr(t),
		WithDebounceWindow(testDebounce))
	require.NoError(t, err)
	assert.True(t, Initialized())
	assert.Same(t, m, Instance())

	// Second initialization is a programming error
	_, err = Init(credentials.NewInsecureProvider(), freeAddr(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInitialized)
}

func TestInstancePanicsBeforeInit(t *testing.T) {
	// Clear any instance left by other tests so this holds under -run
	// filters and reordering
	require.NoError(t, Teardown(context.Background()))
	require.False(t, Initialized())
	assert.PanicsWithValue(t, errors.ErrNotInitialized, func() {
		Instance()
	})
}

func TestTeardown(t *testing.T) {
	m, err := Init(credentials.NewInsecureProvider(), freeAddr(t),
		WithDebounceWindow(testDebounce))
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	require.NoError(t, Teardown(context.Background()))
	assert.False(t, Initialized())
	assert.Equal(t, StateShutdown, m.State())

	// Teardown with no instance is a no-op
	require.NoError(t, Teardown(context.Background()))
}

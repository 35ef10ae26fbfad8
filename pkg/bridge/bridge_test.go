package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360/grpchost/errors"
	"github.com/c360/grpchost/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBridge(t *testing.T, workers, queueSize int, opts ...Option) *Bridge {
	t.Helper()
	b := New(workers, queueSize, opts...)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = b.Stop(time.Second)
	})
	return b
}

func TestSubmitDeliversResult(t *testing.T) {
	b := startBridge(t, 2, 8)

	done, err := b.Submit(func() error { return nil })
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task did not complete")
	}
}

func TestSubmitPropagatesTaskError(t *testing.T) {
	b := startBridge(t, 1, 4)

	want := fmt.Errorf("bind refused")
	done, err := b.Submit(func() error { return want })
	require.NoError(t, err)

	assert.ErrorIs(t, <-done, want)
}

func TestSubmitBeforeStart(t *testing.T) {
	b := New(1, 4)
	_, err := b.Submit(func() error { return nil })
	assert.ErrorIs(t, err, errors.ErrBridgeNotStarted)
}

func TestSubmitAfterStop(t *testing.T) {
	b := New(1, 4)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Stop(time.Second))

	_, err := b.Submit(func() error { return nil })
	assert.ErrorIs(t, err, errors.ErrBridgeStopped)
}

func TestSubmitQueueFull(t *testing.T) {
	b := startBridge(t, 1, 1)

	release := make(chan struct{})
	defer close(release)

	// Occupy the single worker
	blocked, err := b.Submit(func() error { <-release; return nil })
	require.NoError(t, err)

	// Fill the queue slot. The worker may not have dequeued the first task
	// yet, so retry until the slot is taken.
	var queued <-chan error
	require.Eventually(t, func() bool {
		queued, err = b.Submit(func() error { return nil })
		return err == nil
	}, time.Second, 5*time.Millisecond)

	_, err = b.Submit(func() error { return nil })
	assert.ErrorIs(t, err, errors.ErrBridgeQueueFull)

	release <- struct{}{}
	<-blocked
	<-queued
}

func TestRunWaitsForCompletion(t *testing.T) {
	b := startBridge(t, 2, 8)

	var ran atomic.Bool
	err := b.Run(context.Background(), func() error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestRunAbandonedTaskKeepsRunning(t *testing.T) {
	b := startBridge(t, 1, 4)

	started := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	err := b.Run(ctx, func() error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	// The task outlives the abandoned caller
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("abandoned task did not finish")
	}
}

func TestPanicRecovery(t *testing.T) {
	b := startBridge(t, 1, 4)

	done, err := b.Submit(func() error { panic("boom") })
	require.NoError(t, err)

	taskErr := <-done
	require.Error(t, taskErr)
	assert.Contains(t, taskErr.Error(), "panic: boom")
	assert.True(t, errors.IsFatal(taskErr))

	// Worker survives the panic
	done, err = b.Submit(func() error { return nil })
	require.NoError(t, err)
	assert.NoError(t, <-done)
}

func TestStartTwice(t *testing.T) {
	b := startBridge(t, 1, 4)
	assert.ErrorIs(t, b.Start(context.Background()), errors.ErrBridgeStarted)
}

func TestStopDrainsQueue(t *testing.T) {
	b := New(1, 8)
	require.NoError(t, b.Start(context.Background()))

	var count atomic.Int64
	var dones []<-chan error
	for i := 0; i < 5; i++ {
		done, err := b.Submit(func() error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)
		dones = append(dones, done)
	}

	require.NoError(t, b.Stop(time.Second))
	for _, done := range dones {
		<-done
	}
	assert.Equal(t, int64(5), count.Load())
}

func TestStopTimeout(t *testing.T) {
	b := New(1, 4)
	require.NoError(t, b.Start(context.Background()))

	release := make(chan struct{})
	_, err := b.Submit(func() error { <-release; return nil })
	require.NoError(t, err)

	err = b.Stop(20 * time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrStopTimeout)
	close(release)
}

func TestConcurrentSubmit(t *testing.T) {
	b := startBridge(t, 4, 128)

	var wg sync.WaitGroup
	var count atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Run(context.Background(), func() error {
				count.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), count.Load())
	stats := b.Stats()
	assert.Equal(t, int64(50), stats.Submitted)
	assert.Equal(t, int64(50), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestMetricsRegistration(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	b := startBridge(t, 1, 4, WithMetricsRegistry(registry, "test_bridge"))

	require.NoError(t, b.Run(context.Background(), func() error { return nil }))

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
}

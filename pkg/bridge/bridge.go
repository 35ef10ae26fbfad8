// Package bridge provides a worker pool for running blocking calls off the
// caller's goroutine. Callers submit a task and receive a completion channel
// that delivers the task's result exactly once.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/grpchost/errors"
	"github.com/c360/grpchost/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Task is a unit of blocking work
type Task func() error

// item pairs a task with its completion channel
type item struct {
	task Task
	done chan error
}

// Bridge runs blocking tasks on a fixed pool of workers
type Bridge struct {
	// Configuration
	workers   int
	queueSize int

	// Runtime state
	workChan chan item
	metrics  *Metrics
	wg       *sync.WaitGroup

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	completed int64
	failed    int64
	rejected  int64

	// Metrics configuration
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for bridge monitoring
type Metrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	completed  prometheus.Counter
	failed     prometheus.Counter
	rejected   prometheus.Counter
	taskTime   *prometheus.HistogramVec
}

// Option represents a configuration option for the bridge
type Option func(*Bridge)

// WithMetricsRegistry configures the bridge to register metrics with the framework's registry
func WithMetricsRegistry(registry *metric.MetricsRegistry, prefix string) Option {
	return func(b *Bridge) {
		b.metricsRegistry = registry
		b.metricsPrefix = prefix
	}
}

// New creates a bridge with the given worker and queue sizes
func New(workers, queueSize int, opts ...Option) *Bridge {
	if workers <= 0 {
		workers = 4 // Default worker count
	}
	if queueSize <= 0 {
		queueSize = 16 // Default queue size
	}

	b := &Bridge{
		workers:   workers,
		queueSize: queueSize,
		workChan:  make(chan item, queueSize),
	}

	// Apply options
	for _, opt := range opts {
		opt(b)
	}

	if b.metricsRegistry != nil && b.metricsPrefix != "" {
		b.initializeMetrics()
	}

	return b
}

// initializeMetrics creates and registers metrics with the framework's registry
func (b *Bridge) initializeMetrics() {
	prefix := b.metricsPrefix

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_queue_depth",
		Help: "Current bridge queue depth",
	})
	submitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_submitted_total",
		Help: "Total tasks submitted",
	})
	completed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_completed_total",
		Help: "Total tasks completed",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_failed_total",
		Help: "Total tasks that returned an error",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_rejected_total",
		Help: "Total tasks rejected due to full queue",
	})
	taskTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_task_duration_seconds",
		Help:    "Time spent running tasks",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0},
	}, []string{"status"})

	serviceName := "bridge"
	b.metricsRegistry.RegisterGauge(serviceName, prefix+"_queue_depth", queueDepth)
	b.metricsRegistry.RegisterCounter(serviceName, prefix+"_submitted_total", submitted)
	b.metricsRegistry.RegisterCounter(serviceName, prefix+"_completed_total", completed)
	b.metricsRegistry.RegisterCounter(serviceName, prefix+"_failed_total", failed)
	b.metricsRegistry.RegisterCounter(serviceName, prefix+"_rejected_total", rejected)
	b.metricsRegistry.RegisterHistogramVec(serviceName, prefix+"_task_duration_seconds", taskTime)

	b.metrics = &Metrics{
		queueDepth: queueDepth,
		submitted:  submitted,
		completed:  completed,
		failed:     failed,
		rejected:   rejected,
		taskTime:   taskTime,
	}
}

// Submit queues a task for execution. The returned channel receives the
// task's result exactly once. Returns an error if the bridge is not running
// or the queue is full.
func (b *Bridge) Submit(task Task) (<-chan error, error) {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.started {
		return nil, errors.ErrBridgeNotStarted
	}
	if b.stopped {
		return nil, errors.ErrBridgeStopped
	}

	done := make(chan error, 1)

	// Try to submit the task (non-blocking)
	select {
	case b.workChan <- item{task: task, done: done}:
		atomic.AddInt64(&b.submitted, 1)
		if b.metrics != nil {
			b.metrics.submitted.Inc()
			b.metrics.queueDepth.Set(float64(len(b.workChan)))
		}
		return done, nil
	default:
		atomic.AddInt64(&b.rejected, 1)
		if b.metrics != nil {
			b.metrics.rejected.Inc()
		}
		return nil, errors.ErrBridgeQueueFull
	}
}

// Run submits a task and waits for its completion. If ctx is done before the
// task finishes, Run returns the context error but the task keeps running on
// its worker to completion.
func (b *Bridge) Run(ctx context.Context, task Task) error {
	done, err := b.Submit(task)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the bridge workers
func (b *Bridge) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.started {
		return errors.ErrBridgeStarted
	}

	b.wg = &sync.WaitGroup{}

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}

	b.started = true
	return nil
}

// Stop drains the queue and stops the workers. Tasks still queued are run
// before workers exit. Returns an error if workers do not finish within the
// timeout.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.started || b.stopped {
		return nil
	}

	// Close work channel to signal no more work
	close(b.workChan)

	done := make(chan struct{})
	go func() {
		if b.wg != nil {
			b.wg.Wait()
		}
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// The queue is closed either way, so no further submissions are
	// accepted after this point.
	b.stopped = true

	select {
	case <-done:
		return nil
	case <-timer.C:
		// Workers may be stuck in a blocking call
		return errors.ErrStopTimeout
	}
}

// Stats returns current bridge statistics
func (b *Bridge) Stats() Stats {
	return Stats{
		Workers:    b.workers,
		QueueSize:  b.queueSize,
		QueueDepth: len(b.workChan),
		Submitted:  atomic.LoadInt64(&b.submitted),
		Completed:  atomic.LoadInt64(&b.completed),
		Failed:     atomic.LoadInt64(&b.failed),
		Rejected:   atomic.LoadInt64(&b.rejected),
	}
}

// Stats represents bridge statistics
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
}

// worker runs tasks from the queue until the queue is closed. Context
// cancellation stops the worker from picking up new tasks but never
// interrupts a task in flight.
func (b *Bridge) worker(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-b.workChan:
			if !ok {
				return
			}
			b.runTask(it)
		}
	}
}

// runTask executes one task, recovering panics into errors
func (b *Bridge) runTask(it item) {
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.WrapFatal(
					fmt.Errorf("panic: %v", r),
					"bridge", "runTask", "task execution")
			}
		}()
		return it.task()
	}()

	duration := time.Since(start)

	atomic.AddInt64(&b.completed, 1)
	if err != nil {
		atomic.AddInt64(&b.failed, 1)
	}

	if b.metrics != nil {
		b.metrics.completed.Inc()
		status := "success"
		if err != nil {
			b.metrics.failed.Inc()
			status = "error"
		}
		b.metrics.taskTime.WithLabelValues(status).Observe(duration.Seconds())
		b.metrics.queueDepth.Set(float64(len(b.workChan)))
	}

	it.done <- err
}

package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/grpchost/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.CoreMetrics())
	require.NotNil(t, registry.PrometheusRegistry())
}

func TestCoreMetricsRecording(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordStart()
	core.RecordStart()
	core.RecordRestart()
	core.RecordBindFailure()
	core.RecordServerState(1)
	core.RecordRegistrySize(2, 5)
	core.RecordRebuildDuration(50 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(core.StartsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.RestartsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.BindFailuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ServerState))
	assert.Equal(t, 2.0, testutil.ToFloat64(core.RegisteredOwners))
	assert.Equal(t, 5.0, testutil.ToFloat64(core.RegisteredServices))
}

func TestRecordHealthStatus(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordHealthStatus("server", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.HealthStatus.WithLabelValues("server")))

	core.RecordHealthStatus("server", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(core.HealthStatus.WithLabelValues("server")))
}

func TestGatherExposesCoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordStart()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	var starts *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "grpchost_server_starts_total" {
			starts = mf
			break
		}
	}
	require.NotNil(t, starts, "core start counter must be exposed")
	assert.Equal(t, dto.MetricType_COUNTER, starts.GetType())
	require.Len(t, starts.GetMetric(), 1)
	assert.Equal(t, 1.0, starts.GetMetric()[0].GetCounter().GetValue())
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_tasks_total",
		Help: "test counter",
	})

	err := registry.RegisterCounter("bridge", "bridge_tasks_total", counter)
	require.NoError(t, err)

	counter.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}

func TestRegisterDuplicateRejected(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dup_total",
		Help: "test counter",
	})

	require.NoError(t, registry.RegisterCounter("bridge", "dup_total", counter))

	err := registry.RegisterCounter("bridge", "dup_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "duplicate registration should classify invalid")
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "test gauge",
	})
	require.NoError(t, registry.RegisterGauge("bridge", "queue_depth", gauge))

	assert.True(t, registry.Unregister("bridge", "queue_depth"))
	assert.False(t, registry.Unregister("bridge", "queue_depth"))

	// Re-registration after unregister should succeed
	require.NoError(t, registry.RegisterGauge("bridge", "queue_depth", gauge))
}

package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a function to collect metrics.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the data point carrying key=value.
func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum type for %s", m.Name)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordPipeline(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordPipeline(ctx, "order.placed", 20*time.Millisecond, nil, false)
	m.RecordPipeline(ctx, "order.placed", 5*time.Millisecond, errors.New("boom"), false)
	m.RecordPipeline(ctx, "order.placed", time.Millisecond, nil, true)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(3), sumFor(t, findMetric(rm, "eventflow.pipeline.processed"), "event", "order.placed"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "eventflow.pipeline.errors"), "event", "order.placed"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "eventflow.pipeline.short_circuits"), "event", "order.placed"))

	latency := findMetric(rm, "eventflow.pipeline.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(3), hist.DataPoints[0].Count)
}

func TestRecordBatchAndWrite(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordBatch(ctx, "orders", 64, time.Second, nil)
	m.RecordBatch(ctx, "orders", 0, time.Second, errors.New("read failed"))
	m.RecordWrite(ctx, "sql", 5)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumFor(t, findMetric(rm, "eventflow.consumer.batches"), "consumer", "orders"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "eventflow.consumer.errors"), "consumer", "orders"))
	assert.Equal(t, int64(5), sumFor(t, findMetric(rm, "eventflow.transport.writes"), "transport", "sql"))

	size := findMetric(rm, "eventflow.consumer.batch_size")
	require.NotNil(t, size)
	hist, ok := size.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, int64(64), hist.DataPoints[0].Sum)
}

package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	require.NoError(t, metrics.Track("audit:prune").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("audit:prune").End(boom), boom)
	metrics.AddItems("audit:prune", 3)
	metrics.AddItems("audit:prune", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("audit:prune", statusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("audit:prune", statusFailure)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.items.WithLabelValues("audit:prune")))
	assert.Positive(t, testutil.ToFloat64(metrics.lastSuccess.WithLabelValues("audit:prune")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))
}

func TestFailureLeavesLastSuccessUnset(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	_ = metrics.Track("authz:warmup").End(errors.New("boom"))
	assert.Zero(t, testutil.ToFloat64(metrics.lastSuccess.WithLabelValues("authz:warmup")))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("authz:warmup").End(boom), boom)
	metrics.AddItems("authz:warmup", 2)
}

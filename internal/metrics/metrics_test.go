package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDocument("completed", 3)
	m.RecordDocument("failed", 0)
	m.RecordWarning("unresolved_ref")
	m.RecordQA(true)
	m.RecordQA(false)
	m.RecordQA(false)
	m.SetIndexedChunks(42)
	m.ObserveHTTP("GET", "/api/health", "200", 5*time.Millisecond)
	m.ObserveStage("chunking", time.Second)
	m.RecordTask("document:process", "completed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsProcessedTotal.WithLabelValues("completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ChunksCreatedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QARequestsTotal.WithLabelValues("miss")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.IndexedChunks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/health", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDocument("completed", 1)
		m.ObserveSearch(time.Millisecond)
		m.RecordQA(true)
		m.SetIndexedChunks(1)
	})
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("affect_test", prometheus.NewRegistry(), zap.NewNop())
}

func TestCollector_RecordExecution(t *testing.T) {
	c := newTestCollector(t)

	c.RecordExecution("ffmpeg", "video", true, 2*time.Second)
	c.RecordExecution("ffmpeg", "video", true, time.Second)
	c.RecordExecution("ffmpeg", "video", false, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.executionsTotal.WithLabelValues("ffmpeg", "video", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executionsTotal.WithLabelValues("ffmpeg", "video", "failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.executionDuration))
}

func TestCollector_Counters(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCompile(true)
	c.RecordCompile(false)
	c.RecordOperation("ffmpeg", "resize")
	c.RecordProbe("ffmpeg", true)
	c.RecordBatchItem("parallel", false)
	c.RecordBatch("parallel", time.Minute)
	c.RecordHTTPRequest("POST", "/api/v1/compile", 200, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.compilesTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationsApplied.WithLabelValues("ffmpeg", "resize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metadataProbes.WithLabelValues("ffmpeg", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchItemsTotal.WithLabelValues("parallel", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/compile", "200")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordCompile(true)
		c.RecordExecution("x", "video", true, time.Second)
		c.RecordOperation("x", "resize")
		c.RecordProbe("x", false)
		c.RecordBatchItem("sequential", true)
		c.RecordBatch("sequential", time.Second)
		c.RecordHTTPRequest("GET", "/", 404, time.Millisecond)
	})
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { NewCollector("dup", reg, nil) })
	assert.Panics(t, func() { NewCollector("dup", reg, nil) })
}

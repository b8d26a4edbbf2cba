// Package metrics exposes Prometheus instrumentation for compilation,
// execution and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every metric the service records. A nil *Collector is
// valid and records nothing.
type Collector struct {
	compilesTotal *prometheus.CounterVec

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	operationsApplied *prometheus.CounterVec
	metadataProbes    *prometheus.CounterVec

	batchItemsTotal *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the metrics on reg under namespace. A nil reg
// uses the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.compilesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Total number of program compilations",
		},
		[]string{"status"},
	)

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of pipeline executions",
		},
		[]string{"backend", "media_type", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"backend", "media_type"},
	)

	c.operationsApplied = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_applied_total",
			Help:      "Total number of operations applied to backend commands",
		},
		[]string{"backend", "operation"},
	)

	c.metadataProbes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_probes_total",
			Help:      "Total number of metadata probes",
		},
		[]string{"backend", "status"},
	)

	c.batchItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Total number of batch items processed",
		},
		[]string{"mode", "status"},
	)

	c.batchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Batch duration in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"mode"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordCompile records one compilation
func (c *Collector) RecordCompile(ok bool) {
	if c == nil {
		return
	}
	c.compilesTotal.WithLabelValues(status(ok)).Inc()
}

// RecordExecution records one finished pipeline execution
func (c *Collector) RecordExecution(backend, mediaType string, ok bool, d time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(backend, mediaType, status(ok)).Inc()
	c.executionDuration.WithLabelValues(backend, mediaType).Observe(d.Seconds())
}

// RecordOperation records one applied operation
func (c *Collector) RecordOperation(backend, operation string) {
	if c == nil {
		return
	}
	c.operationsApplied.WithLabelValues(backend, operation).Inc()
}

// RecordProbe records one metadata probe
func (c *Collector) RecordProbe(backend string, ok bool) {
	if c == nil {
		return
	}
	c.metadataProbes.WithLabelValues(backend, status(ok)).Inc()
}

// RecordBatchItem records one finished batch item
func (c *Collector) RecordBatchItem(mode string, ok bool) {
	if c == nil {
		return
	}
	c.batchItemsTotal.WithLabelValues(mode, status(ok)).Inc()
}

// RecordBatch records a whole batch
func (c *Collector) RecordBatch(mode string, d time.Duration) {
	if c == nil {
		return
	}
	c.batchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordHTTPRequest records one HTTP request
func (c *Collector) RecordHTTPRequest(method, path string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())

	c.logger.Debug("http request recorded",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", code),
		zap.Duration("duration", d),
	)
}

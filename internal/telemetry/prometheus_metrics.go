// Package telemetry exposes run-level metrics over Prometheus: capture
// worker pool occupancy, per-job outcomes, queue depth, and asset store
// activity. Scraping is optional — a run can serve it over fasthttp when
// given a metrics address.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides metrics collection for a mirror run.
type PrometheusMetrics struct {
	// Capture worker pool
	poolSize      prometheus.Gauge
	poolAvailable prometheus.Gauge

	// Captures
	capturesTotal   *prometheus.CounterVec
	captureDuration prometheus.Histogram

	// Job queue (orchestrator gate)
	queueDepth      prometheus.Gauge
	queueRejections prometheus.Counter

	// Assets
	assetsTotal     prometheus.Counter
	assetBytesTotal prometheus.Counter

	// Errors
	errorsTotal *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector.
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with a custom registry.
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.poolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "size",
		Help:      "Total number of capture workers in the pool",
	})

	pm.poolAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "available",
		Help:      "Number of idle capture workers",
	})

	pm.capturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "total",
		Help:      "Total number of page captures",
	}, []string{"status"}) // status: ok, okRaw, error, timeout

	pm.captureDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "duration_seconds",
		Help:      "Time spent capturing a page",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	pm.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of jobs waiting for a capture worker",
	})

	pm.queueRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "rejections_total",
		Help:      "Total number of jobs rejected due to a full queue",
	})

	pm.assetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assets",
		Name:      "total",
		Help:      "Total number of distinct assets written or inlined",
	})

	pm.assetBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assets",
		Name:      "bytes_total",
		Help:      "Total bytes of asset payload stored",
	})

	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "errors",
		Name:      "total",
		Help:      "Total errors by type",
	}, []string{"type"}) // type: nav, rawOnly, raw, pageTimeout, rewrite, other

	registerer.MustRegister(
		pm.poolSize,
		pm.poolAvailable,
		pm.capturesTotal,
		pm.captureDuration,
		pm.queueDepth,
		pm.queueRejections,
		pm.assetsTotal,
		pm.assetBytesTotal,
		pm.errorsTotal,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("prometheus metrics initialized")
	return pm
}

func (pm *PrometheusMetrics) UpdatePoolSize(size float64) {
	pm.poolSize.Set(size)
}

func (pm *PrometheusMetrics) UpdatePoolAvailable(available float64) {
	pm.poolAvailable.Set(available)
}

func (pm *PrometheusMetrics) RecordCapture(status string) {
	pm.capturesTotal.WithLabelValues(status).Inc()
}

func (pm *PrometheusMetrics) RecordCaptureDuration(seconds float64) {
	pm.captureDuration.Observe(seconds)
}

func (pm *PrometheusMetrics) UpdateQueueDepth(depth float64) {
	pm.queueDepth.Set(depth)
}

func (pm *PrometheusMetrics) RecordQueueRejection() {
	pm.queueRejections.Inc()
}

func (pm *PrometheusMetrics) RecordAsset(bytes float64) {
	pm.assetsTotal.Inc()
	pm.assetBytesTotal.Add(bytes)
}

func (pm *PrometheusMetrics) RecordError(errorType string) {
	pm.errorsTotal.WithLabelValues(errorType).Inc()
}

// ServeHTTP serves Prometheus metrics via HTTP.
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}

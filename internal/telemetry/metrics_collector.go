package telemetry

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Collector centralizes all metrics recording for a mirror run.
type Collector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewCollector creates a new Collector instance.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return &Collector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

func (mc *Collector) UpdatePoolSize(size int) {
	mc.prometheus.UpdatePoolSize(float64(size))
}

func (mc *Collector) UpdatePoolAvailable(available int) {
	mc.prometheus.UpdatePoolAvailable(float64(available))
}

func (mc *Collector) RecordCaptureOK() {
	mc.prometheus.RecordCapture("ok")
}

func (mc *Collector) RecordCaptureOKRaw() {
	mc.prometheus.RecordCapture("okRaw")
}

func (mc *Collector) RecordCaptureError() {
	mc.prometheus.RecordCapture("error")
}

func (mc *Collector) RecordCaptureTimeout() {
	mc.prometheus.RecordCapture("timeout")
}

func (mc *Collector) RecordCaptureDuration(seconds float64) {
	mc.prometheus.RecordCaptureDuration(seconds)
}

func (mc *Collector) UpdateQueueDepth(depth int) {
	mc.prometheus.UpdateQueueDepth(float64(depth))
}

func (mc *Collector) RecordQueueRejection() {
	mc.prometheus.RecordQueueRejection()
	mc.logger.Debug("recorded queue rejection")
}

func (mc *Collector) RecordAsset(bytes int) {
	mc.prometheus.RecordAsset(float64(bytes))
}

func (mc *Collector) RecordNavError() {
	mc.prometheus.RecordError("nav")
}

func (mc *Collector) RecordRawOnlyError() {
	mc.prometheus.RecordError("rawOnly")
}

func (mc *Collector) RecordRawError() {
	mc.prometheus.RecordError("raw")
}

func (mc *Collector) RecordPageTimeoutError() {
	mc.prometheus.RecordError("pageTimeout")
}

func (mc *Collector) RecordRewriteError() {
	mc.prometheus.RecordError("rewrite")
}

// ServeHTTP serves Prometheus metrics via HTTP.
func (mc *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}

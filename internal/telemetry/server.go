package telemetry

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// StartServer starts a standalone fasthttp listener that serves the
// collector's Prometheus metrics at path. Returns nil, nil if disabled.
func StartServer(enabled bool, listen, path string, collector *Collector, logger *zap.Logger) (*fasthttp.Server, error) {
	if !enabled {
		logger.Info("metrics server disabled")
		return nil, nil
	}

	handler := func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != path {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("not found")
			return
		}
		collector.ServeHTTP(ctx)
	}

	server := &fasthttp.Server{
		Handler:      handler,
		Name:         "mirror-metrics",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("listen", listen), zap.String("path", path))
		if err := server.ListenAndServe(listen); err != nil {
			errCh <- err
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	select {
	case err := <-errCh:
		return nil, err
	case <-time.After(100 * time.Millisecond):
	}

	return server, nil
}

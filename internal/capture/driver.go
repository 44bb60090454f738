// Package capture implements the per-profile capture state machine against
// a polymorphic browser driver. The driver interface is the reuse seam for
// additional engines (Firefox, WebKit) without touching the state machine.
package capture

import "context"

// ResponseInfo describes one intercepted network response, handed to the
// response hook so it can decide whether to read and store the body.
type ResponseInfo struct {
	URL         string
	ContentType string
	StatusCode  int
}

// RequestInfo describes one outgoing request, handed to the request hook
// before it reaches the network.
type RequestInfo struct {
	URL          string
	ResourceType string
}

// Driver is the capability set a capture engine needs from a browser
// automation backend. Chromium, Firefox, and WebKit backends implement it
// identically from the engine's point of view.
type Driver interface {
	// Navigate loads url and waits for the configured lifecycle event, up
	// to timeout. It returns the main document's HTTP status if observed.
	Navigate(ctx context.Context, url string, waitUntil string, timeout int64) (status int, finalURL string, err error)

	// Evaluate runs a JS expression/program in the page and unmarshals its
	// JSON-serializable result into out (nil to discard the result).
	Evaluate(ctx context.Context, script string, out interface{}) error

	// Content returns the current serialized document.
	Content(ctx context.Context) (string, error)

	// OnRequest registers a hook invoked for every outgoing request. The
	// hook returns true to abort the request.
	OnRequest(hook func(RequestInfo) bool)

	// OnResponse registers a hook invoked for every response whose body is
	// eligible for asset capture; bodyFn lazily fetches the response body.
	OnResponse(hook func(info ResponseInfo, bodyFn func() ([]byte, error)))

	// Close releases the browser context/tab associated with this capture.
	Close() error
}

package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/archivore/mirror/internal/capture"
)

// Driver adapts one tab of a Pool Instance to the capture.Driver interface.
type Driver struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu           sync.Mutex
	requestHook  func(capture.RequestInfo) bool
	responseHook func(capture.ResponseInfo, func() ([]byte, error))
	listening    bool
}

// NewDriver opens a new tab on instance and wires up CDP event listening.
// Navigate/Evaluate/Content calls on the returned Driver run against that
// tab until Close.
func NewDriver(instance *Instance, navTimeout time.Duration) (*Driver, error) {
	tabCtx, tabCancel := instance.NewTabContext()

	d := &Driver{
		ctx:    tabCtx,
		cancel: tabCancel,
		logger: instance.logger,
	}

	if err := chromedp.Run(tabCtx,
		network.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{
			{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
			{URLPattern: "*", RequestStage: fetch.RequestStageResponse},
		}),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
	); err != nil {
		tabCancel()
		return nil, fmt.Errorf("preparing capture tab: %w", err)
	}

	d.listen()
	return d, nil
}

func (d *Driver) listen() {
	d.mu.Lock()
	if d.listening {
		d.mu.Unlock()
		return
	}
	d.listening = true
	d.mu.Unlock()

	chromedp.ListenTarget(d.ctx, func(event interface{}) {
		switch ev := event.(type) {
		case *fetch.EventRequestPaused:
			go d.handlePaused(ev)
		}
	})
}

func (d *Driver) handlePaused(ev *fetch.EventRequestPaused) {
	cmdCtx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
	defer cancel()

	d.mu.Lock()
	reqHook := d.requestHook
	respHook := d.responseHook
	d.mu.Unlock()

	if ev.ResponseStatusCode == 0 {
		// Request stage: give the caller a chance to abort it.
		if reqHook != nil && reqHook(capture.RequestInfo{URL: ev.Request.URL, ResourceType: string(ev.ResourceType)}) {
			fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(cmdCtx)
			return
		}
		fetch.ContinueRequest(ev.RequestID).Do(cmdCtx)
		return
	}

	// Response stage: offer the body lazily, then let the response through.
	if respHook != nil {
		contentType := ""
		for _, h := range ev.ResponseHeaders {
			if equalsFold(h.Name, "content-type") {
				contentType = h.Value
			}
		}
		requestID := ev.RequestID
		bodyFn := func() ([]byte, error) {
			bodyCtx, bodyCancel := context.WithTimeout(d.ctx, 5*time.Second)
			defer bodyCancel()
			body, base64Encoded, err := fetch.GetResponseBody(requestID).Do(bodyCtx)
			if err != nil {
				return nil, err
			}
			if base64Encoded {
				return body, nil
			}
			return body, nil
		}
		respHook(capture.ResponseInfo{
			URL:         ev.Request.URL,
			ContentType: contentType,
			StatusCode:  ev.ResponseStatusCode,
		}, bodyFn)
	}

	fetch.ContinueResponse(ev.RequestID).Do(cmdCtx)
}

func equalsFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// OnRequest registers the request hook.
func (d *Driver) OnRequest(hook func(capture.RequestInfo) bool) {
	d.mu.Lock()
	d.requestHook = hook
	d.mu.Unlock()
}

// OnResponse registers the response hook.
func (d *Driver) OnResponse(hook func(capture.ResponseInfo, func() ([]byte, error))) {
	d.mu.Lock()
	d.responseHook = hook
	d.mu.Unlock()
}

// Navigate loads url and waits for the named lifecycle event.
func (d *Driver) Navigate(ctx context.Context, url string, waitUntil string, timeoutMs int64) (int, string, error) {
	var status int
	var statusMu sync.Mutex

	listenerCtx, cancelListener := context.WithCancel(d.ctx)
	defer cancelListener()

	chromedp.ListenTarget(listenerCtx, func(event interface{}) {
		if ev, ok := event.(*network.EventResponseReceived); ok {
			statusMu.Lock()
			if status == 0 {
				status = int(ev.Response.Status)
			}
			statusMu.Unlock()
		}
	})

	navCtx, navCancel := context.WithTimeout(d.ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer navCancel()

	frameID, loaderID, _, _, err := page.Navigate(url).Do(navCtx)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrNavigateFailed, err)
	}

	if err := waitForLifecycleEvent(navCtx, waitUntil, string(frameID), string(loaderID)); err != nil {
		statusMu.Lock()
		s := status
		statusMu.Unlock()
		var finalURL string
		chromedp.Run(d.ctx, chromedp.Location(&finalURL))
		return s, finalURL, err
	}

	var finalURL string
	if err := chromedp.Run(d.ctx, chromedp.Location(&finalURL)); err != nil {
		finalURL = url
	}

	statusMu.Lock()
	s := status
	statusMu.Unlock()
	return s, finalURL, nil
}

func waitForLifecycleEvent(ctx context.Context, eventName, frameID, loaderID string) error {
	ch := make(chan struct{})
	listenerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			if string(e.FrameID) == frameID && string(e.LoaderID) == loaderID && string(e.Name) == eventName {
				cancel()
				close(ch)
			}
		}
	})

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return errWaitTimeoutOrCancel(ctx)
	}
}

func errWaitTimeoutOrCancel(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrWaitTimeout
	}
	return nil
}

// Evaluate runs a JS program in the page.
func (d *Driver) Evaluate(ctx context.Context, script string, out interface{}) error {
	if out == nil {
		var discard json.RawMessage
		return chromedp.Run(d.ctx, chromedp.Evaluate(script, &discard))
	}
	return chromedp.Run(d.ctx, chromedp.Evaluate(script, out))
}

// Content returns the current outer HTML of the document.
func (d *Driver) Content(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(d.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractHTML, err)
	}
	return html, nil
}

// Close releases the tab.
func (d *Driver) Close() error {
	d.cancel()
	return nil
}

// Package rawfetch implements the raw-fallback fetch: a plain HTTPS GET
// through the same proxy used by the browser, issued when browser
// navigation fails or is disabled outright.
package rawfetch

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// HardTimeout is the fixed per-fetch budget: raw-fallback HTTP has its
// own 20s hard timeout independent of the page's budget.
const HardTimeout = 20 * time.Second

// Result is the outcome of a raw fetch.
type Result struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

// Fetch requests url with a browser-like UA, optionally through a proxy
// client, and returns the raw body. It does not follow redirects (FinalURL
// is always target) and always respects HardTimeout.
func Fetch(target string, proxyClient *fasthttp.Client) (Result, error) {
	client := proxyClient
	if client == nil {
		client = &fasthttp.Client{
			ReadTimeout:  HardTimeout,
			WriteTimeout: HardTimeout,
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	if err := client.DoTimeout(req, resp, HardTimeout); err != nil {
		return Result{}, fmt.Errorf("raw fetch %s: %w", target, err)
	}

	body := resp.Body()
	out := make([]byte, len(body))
	copy(out, body)

	return Result{
		StatusCode: resp.StatusCode(),
		Body:       out,
		FinalURL:   target,
	}, nil
}

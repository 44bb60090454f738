package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/archivore/mirror/internal/assets"
	"github.com/archivore/mirror/internal/capture/consent"
	"github.com/archivore/mirror/internal/capture/rawfetch"
	"github.com/archivore/mirror/internal/rewrite"
	"github.com/archivore/mirror/pkg/types"
)

// EngineConfig is the per-run tuning knobs that apply to every capture.
type EngineConfig struct {
	WaitUntil         string
	NavTimeoutMs      int64
	PageTimeoutMs     int64
	WaitExtra         time.Duration
	QuietMillis       time.Duration
	MaxCaptureMs      time.Duration
	ScrollPasses      int
	ScrollDelay       time.Duration
	AssetMaxBytes     int64
	InlineSmallAssets int64
	BlockTrackers     bool
	RewriteHTMLAssets bool
	RewriteInternal   bool
	OfflineFallback   bool
	OfflineStripQuery bool
	ConsentCfg        consent.Config
}

// quietPollInterval is the polling cadence for the quiescence wait loop.
const quietPollInterval = 250 * time.Millisecond

// assetContentTypePrefixes are content types treated as "asset-like" for
// response capture regardless of URL extension.
var assetContentTypePrefixes = []string{
	"text/css", "application/javascript", "text/javascript", "image/", "font/", "application/font",
}

var assetExtensions = map[string]bool{
	".css": true, ".js": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".svg": true, ".ico": true, ".woff": true, ".woff2": true, ".ttf": true,
}

// PageResolver is implemented by the caller (the orchestrator) to decide
// same-site link rewriting and cross-origin mirroring policy per URL.
type PageResolver interface {
	IsSameSite(absURL string) bool
	MirrorCrossOrigin() bool
	PreserveAssetPaths() bool
	// ResolvePageHref decides the rewritten href for a same-site document
	// link, or ok=false to leave the anchor untouched.
	ResolvePageHref(absURL string) (href string, ok bool)
}

// Request is captureProfile's input: one (URL, profile) capture job.
type Request struct {
	PageNum       int
	URL           string
	OutRoot       string
	Rel           string
	Profile       types.DeviceProfile
	AssetIndex    *assets.Store
	Driver        Driver
	Resolver      PageResolver
	Config        EngineConfig
	IsBlocked      func(requestURL string) bool
	ExtractProduct func(htmlDoc, pageURL string) (sku string, ok bool)
	ProxyClient    *fasthttp.Client
}

type quiescenceTracker struct {
	inFlight     int
	lastActivity time.Time
}

// CaptureProfile runs the per-profile capture state machine:
// Start → Launch(done by caller) → ContextReady → Navigating → Consent →
// Humanize → Scroll → Wait → Serialize → Rewrite → Write → Close. There is
// no separate wait for the body selector and no click/remove step for
// configured selectors. Navigation and serialization failures fall through
// to raw fallback, then close; a write failure records an error status and
// closes. The function never returns an error — every outcome is a record.
func CaptureProfile(ctx context.Context, req Request) types.CaptureRecord {
	start := time.Now()
	rec := types.CaptureRecord{
		URL:        req.URL,
		RelPath:    req.Rel,
		Profile:    req.Profile.Name,
		CapturedAt: start.UTC(),
	}

	pageCtx := ctx
	var cancel context.CancelFunc
	if req.Config.PageTimeoutMs > 0 {
		pageCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Config.PageTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	tracker := &quiescenceTracker{lastActivity: time.Now()}
	installHooks(req, tracker)

	navStatus, finalURL, navErr := navigate(pageCtx, req)
	rec.MainStatus = navStatus
	rec.FinalURL = finalURL

	if navErr != nil {
		return rawFallback(req, rec, start, navErr)
	}

	if _, err := consent.Resolve(pageCtx, req.Driver, req.Config.ConsentCfg); err != nil {
		rec.Reasons = append(rec.Reasons, types.ReasonPopupErr+": "+err.Error())
	}

	humanize(pageCtx, req.Driver)
	scrollPasses(pageCtx, req.Driver, req.Config)

	if waitErr := waitForQuiescence(pageCtx, tracker, req.Config); waitErr != nil {
		rec.Reasons = append(rec.Reasons, types.ErrorKindPageTimeout)
	}

	htmlDoc, err := req.Driver.Content(pageCtx)
	if err != nil {
		rec.Reasons = append(rec.Reasons, types.ReasonNoBody+": "+err.Error())
		return rawFallback(req, rec, start, err)
	}

	var productSKU string
	if req.ExtractProduct != nil {
		if sku, ok := req.ExtractProduct(htmlDoc, finalURLOr(req.URL, finalURL)); ok {
			productSKU = sku
			rec.ProductSKU = sku
		}
	}

	rewritten, rewriteErr := rewriteHTML(req, htmlDoc, finalURLOr(req.URL, finalURL), productSKU)
	if rewriteErr != nil {
		rec.Reasons = append(rec.Reasons, types.ReasonRewriteErr+": "+rewriteErr.Error())
		rewritten = htmlDoc
	}

	if err := writeCapture(req, rec, rewritten); err != nil {
		rec.Reasons = append(rec.Reasons, types.ReasonHTMLSaveErr+": "+err.Error())
		rec.Status = "error:write " + err.Error()
		rec.DurationMs = time.Since(start).Milliseconds()
		_ = req.Driver.Close()
		return rec
	}

	if err := writeStubRedirect(req); err != nil {
		rec.Reasons = append(rec.Reasons, types.ReasonHTMLSaveErr+": "+err.Error())
	}

	rec.Status = types.StatusOK
	rec.LocalPath = filepath.ToSlash(filepath.Join(req.Rel, req.Profile.Name))
	rec.Assets = req.AssetIndex.Len()
	rec.DurationMs = time.Since(start).Milliseconds()

	_ = req.Driver.Close()
	return rec
}

func finalURLOr(original, final string) string {
	if final != "" {
		return final
	}
	return original
}

func installHooks(req Request, tracker *quiescenceTracker) {
	req.Driver.OnRequest(func(info RequestInfo) bool {
		if req.Config.BlockTrackers && req.IsBlocked != nil && req.IsBlocked(info.URL) {
			return true
		}
		tracker.inFlight++
		return false
	})

	req.Driver.OnResponse(func(info ResponseInfo, bodyFn func() ([]byte, error)) {
		tracker.inFlight--
		if tracker.inFlight < 0 {
			tracker.inFlight = 0
		}
		tracker.lastActivity = time.Now()

		if !isAssetLike(info.URL, info.ContentType) {
			return
		}
		sameSite := req.Resolver == nil || req.Resolver.IsSameSite(info.URL)
		if !sameSite && (req.Resolver == nil || !req.Resolver.MirrorCrossOrigin()) {
			return
		}
		if _, already := req.AssetIndex.Lookup(info.URL); already {
			return
		}

		body, err := bodyFn()
		if err != nil || body == nil {
			return
		}

		preserve := req.Resolver != nil && req.Resolver.PreserveAssetPaths()
		mirror := req.Resolver != nil && req.Resolver.MirrorCrossOrigin()
		decision, err := assets.DecideAssetPath(info.URL, sameSite, preserve, mirror, info.ContentType)
		if err != nil {
			return
		}
		_, _, _ = req.AssetIndex.Store(info.URL, body, info.ContentType, decision)
	})
}

func isAssetLike(rawURL, contentType string) bool {
	for _, prefix := range assetContentTypePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return assetExtensions[strings.ToLower(filepath.Ext(u.Path))]
}

func navigate(ctx context.Context, req Request) (int, string, error) {
	waitUntil := req.Config.WaitUntil
	if waitUntil == "" {
		waitUntil = "load"
	}
	timeoutMs := req.Config.NavTimeoutMs
	if timeoutMs == 0 {
		timeoutMs = 30000
	}
	status, finalURL, err := req.Driver.Navigate(ctx, req.URL, waitUntil, timeoutMs)
	if err != nil {
		return status, finalURL, fmt.Errorf("%s: %w", types.ErrorKindNav, err)
	}
	if req.Config.WaitExtra > 0 {
		time.Sleep(req.Config.WaitExtra)
	}
	return status, finalURL, nil
}

// humanize runs a small, bounded sequence of synthetic input events.
// Failures are swallowed: this step never gates success.
func humanize(ctx context.Context, driver Driver) {
	_ = driver.Evaluate(ctx, humanizeScript, nil)
}

const humanizeScript = `(function(){
  try {
    var x = Math.random() * window.innerWidth;
    var y = Math.random() * window.innerHeight;
    window.dispatchEvent(new MouseEvent('mousemove', {clientX: x, clientY: y, bubbles: true}));
    window.dispatchEvent(new WheelEvent('wheel', {deltaY: 120, bubbles: true}));
  } catch (e) {}
  return true;
})()`

func scrollPasses(ctx context.Context, driver Driver, cfg EngineConfig) {
	passes := cfg.ScrollPasses
	if passes <= 0 {
		return
	}
	delay := cfg.ScrollDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	for i := 0; i < passes; i++ {
		_ = driver.Evaluate(ctx, `window.scrollBy(0, document.body ? document.body.scrollHeight : 0); true`, nil)
		time.Sleep(delay)
	}
}

// waitForQuiescence blocks until the in-flight count is zero and the last
// observed network activity is older than QuietMillis, or MaxCaptureMs
// elapses, whichever comes first.
func waitForQuiescence(ctx context.Context, tracker *quiescenceTracker, cfg EngineConfig) error {
	quiet := cfg.QuietMillis
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}
	deadline := cfg.MaxCaptureMs
	if deadline <= 0 {
		deadline = 20 * time.Second
	}

	timeoutAt := time.Now().Add(deadline)
	ticker := time.NewTicker(quietPollInterval)
	defer ticker.Stop()

	for {
		if tracker.inFlight <= 0 && time.Since(tracker.lastActivity) >= quiet {
			return nil
		}
		if time.Now().After(timeoutAt) {
			return fmt.Errorf("%s", types.ErrorKindPageTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func rewriteHTML(req Request, htmlDoc, pageURL, productSKU string) (string, error) {
	if req.Resolver == nil {
		return htmlDoc, nil
	}

	resolver := &pageResolverAdapter{req: req}
	result, err := rewrite.Rewrite(htmlDoc, resolver, rewrite.Options{
		PageURL:           pageURL,
		RewriteHTMLAssets: req.Config.RewriteHTMLAssets,
		RewriteInternal:   req.Config.RewriteInternal,
		Mobile:            req.Profile.IsMobile,
		ProductSKU:        productSKU,
	})
	if err != nil {
		return "", err
	}

	if req.Config.OfflineFallback {
		fallback := rewrite.BuildFallbackMap(req.AssetIndex.Snapshot(), req.Config.OfflineStripQuery)
		shimmed, err := rewrite.InjectShim(result.HTML, fallback)
		if err == nil {
			return shimmed, nil
		}
	}
	return result.HTML, nil
}

// pageResolverAdapter bridges capture.Request's asset index and
// PageResolver into rewrite.PageResolver.
type pageResolverAdapter struct {
	req Request
}

func (a *pageResolverAdapter) ResolveAsset(absURL string) (types.AssetRecord, bool) {
	return a.req.AssetIndex.Lookup(absURL)
}

func (a *pageResolverAdapter) ResolvePage(absURL string) (string, bool) {
	return a.req.Resolver.ResolvePageHref(absURL)
}

func writeCapture(req Request, rec types.CaptureRecord, htmlDoc string) error {
	dir := filepath.Join(req.OutRoot, filepath.FromSlash(req.Rel), req.Profile.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating capture dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(htmlDoc), 0o644); err != nil {
		return fmt.Errorf("writing index.html: %w", err)
	}

	meta := struct {
		types.CaptureRecord
		ProductRefs []string `json:"productRefs,omitempty"`
	}{CaptureRecord: rec}
	if rec.ProductSKU != "" {
		meta.ProductRefs = []string{rec.ProductSKU}
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index.json: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "index.json"), metaJSON, 0o644)
}

// writeStubRedirect writes <runDir>/<rel>/index.html pointing at this
// profile's subdirectory. Desktop always overwrites; other profiles only
// write when no stub exists yet.
func writeStubRedirect(req Request) error {
	stubPath := filepath.Join(req.OutRoot, filepath.FromSlash(req.Rel), "index.html")

	if req.Profile.Name != "desktop" {
		if _, err := os.Stat(stubPath); err == nil {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(stubPath), 0o755); err != nil {
		return fmt.Errorf("creating rel dir: %w", err)
	}

	target := req.Profile.Name + "/"
	body := buildRedirectHTML(target)
	return os.WriteFile(stubPath, []byte(body), 0o644)
}

func buildRedirectHTML(target string) string {
	return `<!DOCTYPE html><html><head><meta charset="utf-8">` +
		`<meta http-equiv="refresh" content="0; url=` + target + `">` +
		`<script>location.replace(` + jsStringLiteral(target) + ` + location.search + location.hash);</script>` +
		`</head><body></body></html>`
}

func jsStringLiteral(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// rawFallback fetches the URL through plain HTTPS and saves the body as
// index.html when one does not already exist. It never downgrades an
// existing error status to ok.
func rawFallback(req Request, rec types.CaptureRecord, start time.Time, cause error) types.CaptureRecord {
	rec.Reasons = append(rec.Reasons, cause.Error())

	result, err := rawfetch.Fetch(req.URL, req.ProxyClient)
	if err != nil {
		rec.Status = "error:" + types.ErrorKindRaw + " " + err.Error()
		rec.DurationMs = time.Since(start).Milliseconds()
		_ = req.Driver.Close()
		return rec
	}

	dir := filepath.Join(req.OutRoot, filepath.FromSlash(req.Rel), req.Profile.Name)
	indexPath := filepath.Join(dir, "index.html")

	if _, statErr := os.Stat(indexPath); statErr != nil {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			rec.Status = "error:" + types.ErrorKindRaw + " " + mkErr.Error()
			rec.DurationMs = time.Since(start).Milliseconds()
			_ = req.Driver.Close()
			return rec
		}
		if writeErr := os.WriteFile(indexPath, result.Body, 0o644); writeErr != nil {
			rec.Status = "error:" + types.ErrorKindRaw + " " + writeErr.Error()
			rec.DurationMs = time.Since(start).Milliseconds()
			_ = req.Driver.Close()
			return rec
		}
	}

	rec.RawUsed = true
	rec.MainStatus = result.StatusCode
	rec.FinalURL = result.FinalURL
	rec.LocalPath = filepath.ToSlash(filepath.Join(req.Rel, req.Profile.Name))
	rec.Status = types.StatusOKRaw
	rec.DurationMs = time.Since(start).Milliseconds()

	_ = writeStubRedirect(req)
	_ = req.Driver.Close()
	return rec
}

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archivore/mirror/internal/assets"
	"github.com/archivore/mirror/internal/capture"
	"github.com/archivore/mirror/internal/capture/chrome"
	"github.com/archivore/mirror/internal/capture/consent"
	"github.com/archivore/mirror/internal/catalog"
	"github.com/archivore/mirror/internal/config"
	"github.com/archivore/mirror/internal/discovery"
	"github.com/archivore/mirror/internal/discovery/samesite"
	"github.com/archivore/mirror/internal/telemetry"
	"github.com/archivore/mirror/internal/urlutil"
	"github.com/archivore/mirror/pkg/types"
)

// Options bundles everything one run needs beyond the static configuration:
// where to write, the run's own id, and its seed URLs.
type Options struct {
	RunID       string
	OutDir      string
	Seeds       []string
	PrimarySeed string
	Config      config.Config
}

// Run drives one archival run end to end: optional discovery, the
// worker-pool capture phase, and finalization. One Run is single-use.
type Run struct {
	opts    Options
	logger  *zap.Logger
	gate    *JobGate
	metrics *telemetry.Collector

	classifier *samesite.Classifier
	resolver   *runResolver
	blocklist  *chrome.Blocklist
	proxies    *ProxyRotator
	pool       *chrome.Pool

	profiles []types.DeviceProfile

	mu         sync.Mutex
	stopped    bool
	nextIndex  int
	urls       []string
	journal    *Journal
	manifestMu sync.Mutex
	manifest   []types.CaptureRecord

	skuRegistry *catalog.SKURegistry
	cat         *catalog.Catalog
	paymentMap  *catalog.PaymentMap
}

// New builds a Run ready to execute, wiring the same-site classifier,
// resolver, blocklist, proxy rotator, and the shared browser pool.
func New(gate *JobGate, metrics *telemetry.Collector, logger *zap.Logger, opts Options) (*Run, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	classifier, err := samesite.New(opts.Seeds, samesite.Mode(opts.Config.Scope.SameSiteMode), opts.Config.Scope.InternalHostsRegex)
	if err != nil {
		return nil, fmt.Errorf("building same-site classifier: %w", err)
	}

	blocklist := chrome.NewBlocklist(nil)

	poolCfg := chrome.NewConfigFromRunConfig(
		opts.Config.Engine.Concurrency,
		"about:blank",
		10*time.Second,
		100,
		60*time.Minute,
		30*time.Second,
		opts.Config.Engine.DisableHTTP2,
	)
	pool, err := chrome.NewPool(poolCfg, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("starting browser pool: %w", err)
	}

	skuPath := filepath.Join(opts.OutDir, "catalog", "sku-map.json")
	skuRegistry, err := catalog.LoadSKURegistry(skuPath)
	if err != nil {
		return nil, fmt.Errorf("loading sku map: %w", err)
	}

	catPath := filepath.Join(opts.OutDir, "catalog", "catalog.json")
	cat, err := catalog.LoadCatalog(catPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	paymentMap, err := catalog.LoadPaymentMap(
		filepath.Join(opts.OutDir, "_payment-map.json"),
		opts.Config.Catalog.PaymentProvider,
		opts.Config.Catalog.PaymentTarget,
	)
	if err != nil {
		return nil, fmt.Errorf("loading payment map: %w", err)
	}

	return &Run{
		opts:    opts,
		logger:  logger,
		gate:    gate,
		metrics: metrics,

		classifier: classifier,
		resolver: &runResolver{
			classifier:         classifier,
			mirrorCrossOrigin:  opts.Config.Scope.MirrorCrossOrigin,
			preserveAssetPaths: opts.Config.Scope.PreserveAssetPaths,
			includeQueryInPath: opts.Config.Rewrite.IncludePageQueryInPath,
		},
		blocklist: blocklist,
		proxies:   NewProxyRotator(opts.Config.Proxies),
		pool:      pool,

		profiles: resolveProfiles(opts.Config.Scope.Profiles),

		skuRegistry: skuRegistry,
		cat:         cat,
		paymentMap:  paymentMap,
	}, nil
}

func resolveProfiles(csv string) []types.DeviceProfile {
	defaults := types.DefaultDeviceProfiles()
	if csv == "" {
		return []types.DeviceProfile{defaults["desktop"], defaults["mobile"]}
	}

	out := make([]types.DeviceProfile, 0, 2)
	for _, name := range strings.Split(csv, ",") {
		name = strings.TrimSpace(name)
		if p, ok := defaults[name]; ok {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []types.DeviceProfile{defaults["desktop"]}
	}
	return out
}

// Execute runs the full run: discovery (if enabled), the capture phase,
// and finalization. It always returns a Manifest, even when stopped
// midway, and always releases the job gate on return.
func (r *Run) Execute(ctx context.Context, stopCh <-chan struct{}) (types.Manifest, error) {
	if err := r.gate.Acquire(); err != nil {
		return types.Manifest{}, err
	}
	defer r.gate.Release()
	defer r.pool.Shutdown()

	if err := os.MkdirAll(r.opts.OutDir, 0o755); err != nil {
		return types.Manifest{}, fmt.Errorf("creating run dir: %w", err)
	}

	urls, err := r.resolveURLs(ctx, stopCh)
	if err != nil {
		return types.Manifest{}, err
	}
	r.urls = discovery.OrderByPrimarySeed(urls, r.opts.PrimarySeed)

	if err := os.WriteFile(filepath.Join(r.opts.OutDir, "seeds.txt"), []byte(strings.Join(r.urls, "\n")+"\n"), 0o644); err != nil {
		return types.Manifest{}, fmt.Errorf("writing seeds.txt: %w", err)
	}

	journal, err := OpenJournal(filepath.Join(r.opts.OutDir, "manifest.partial.jsonl"))
	if err != nil {
		return types.Manifest{}, err
	}
	r.journal = journal

	r.runWorkerPool(ctx, stopCh)

	if err := r.journal.Close(); err != nil {
		r.logger.Warn("closing journal", zap.Error(err))
	}

	return r.finalize()
}

// DiscoverOnly runs the discovery crawler (forcing it on regardless of the
// configured Discovery.Discover flag), persists the crawl graph and
// seeds.txt, and returns without capturing any page. It acquires and
// releases the job gate the same way Execute does.
func (r *Run) DiscoverOnly(ctx context.Context, stopCh <-chan struct{}) ([]string, error) {
	if err := r.gate.Acquire(); err != nil {
		return nil, err
	}
	defer r.gate.Release()
	defer r.pool.Shutdown()

	if err := os.MkdirAll(r.opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}

	r.opts.Config.Discovery.Discover = true
	urls, err := r.resolveURLs(ctx, stopCh)
	if err != nil {
		return nil, err
	}
	ordered := discovery.OrderByPrimarySeed(urls, r.opts.PrimarySeed)

	if err := os.WriteFile(filepath.Join(r.opts.OutDir, "seeds.txt"), []byte(strings.Join(ordered, "\n")+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("writing seeds.txt: %w", err)
	}

	return ordered, nil
}

// resolveURLs returns the capture target list: either the discovery
// crawler's BFS output, or the raw seed list when discovery is disabled.
func (r *Run) resolveURLs(ctx context.Context, stopCh <-chan struct{}) ([]string, error) {
	if !r.opts.Config.Discovery.Discover {
		return r.opts.Seeds, nil
	}

	driver, err := newPooledDriver(r.pool, "discovery", r.opts.Config.Engine.NavTimeout.ToDuration())
	if err != nil {
		return nil, fmt.Errorf("starting discovery driver: %w", err)
	}
	defer driver.Close()

	crawler, err := discovery.New(discovery.Config{
		Seeds:      r.opts.Seeds,
		MaxPages:   r.opts.Config.Discovery.MaxPages,
		MaxDepth:   r.opts.Config.Discovery.MaxDepth,
		AllowRegex: r.opts.Config.Discovery.AllowRegex,
		DenyRegex:  r.opts.Config.Discovery.DenyRegex,
		WaitUntil:  r.opts.Config.Engine.WaitUntil,
		NavTimeout: r.opts.Config.Engine.NavTimeout.ToDuration(),
		Classifier: r.classifier,
		ConsentCfg: consentConfigFromRunConfig(r.opts.Config.Consent),
		Logger:     r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building crawler: %w", err)
	}

	result, err := crawler.Run(ctx, driver, stopCh)
	if err != nil {
		return nil, fmt.Errorf("running discovery: %w", err)
	}

	if err := discovery.Persist(filepath.Join(r.opts.OutDir, "_crawl"), result); err != nil {
		r.logger.Warn("persisting discovery graph", zap.Error(err))
	}

	if len(result.Discovered) == 0 {
		return nil, fmt.Errorf("discovery produced no seeds")
	}
	return result.Discovered, nil
}

func consentConfigFromRunConfig(cfg config.ConsentConfig) consent.Config {
	return consent.Config{
		ExtraSelectors:       cfg.ExtraSelectors,
		ForceRemoveSelectors: cfg.ForceRemoveSelectors,
		ButtonTexts:          cfg.ButtonTexts,
		RetryAttempts:        cfg.RetryAttempts,
		RetryIntervalMs:      cfg.RetryInterval.ToDuration().Milliseconds(),
		MutationWindowMs:     cfg.MutationWindow.ToDuration().Milliseconds(),
	}
}

// runWorkerPool fans CONCURRENCY cooperative workers over r.urls, each
// capturing every configured profile for the URLs it claims.
func (r *Run) runWorkerPool(ctx context.Context, stopCh <-chan struct{}) {
	concurrency := r.concurrency()

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.workerLoop(ctx, workerID, stopCh)
		}(w)
	}
	wg.Wait()
}

func (r *Run) concurrency() int {
	raw := r.opts.Config.Engine.Concurrency
	if raw == "" || raw == "auto" {
		return r.pool.PoolSize()
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return r.pool.PoolSize()
	}
	return n
}

func (r *Run) workerLoop(ctx context.Context, workerID int, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			r.mu.Lock()
			r.stopped = true
			r.mu.Unlock()
			return
		default:
		}

		idx, url, ok := r.nextURL()
		if !ok {
			return
		}

		jobID := fmt.Sprintf("w%d-%d-%s", workerID, idx, uuid.New().String()[:8])
		store := assets.NewStore(r.opts.OutDir, r.opts.Config.Engine.AssetMaxBytes, r.opts.Config.Engine.InlineSmallAssets, r.logger)

		for _, profile := range r.profiles {
			rec := r.captureOne(ctx, jobID, url, idx, profile, store)
			r.recordResult(rec)
		}
	}
}

func (r *Run) nextURL() (int, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextIndex >= len(r.urls) {
		return 0, "", false
	}
	idx := r.nextIndex
	r.nextIndex++
	return idx, r.urls[idx], true
}

func (r *Run) captureOne(ctx context.Context, jobID, pageURL string, idx int, profile types.DeviceProfile, store *assets.Store) types.CaptureRecord {
	driver, err := newPooledDriver(r.pool, jobID, r.opts.Config.Engine.NavTimeout.ToDuration())
	if err != nil {
		return types.CaptureRecord{
			URL: pageURL, Profile: profile.Name,
			Status:     "error:" + types.ErrorKindNav + " " + err.Error(),
			CapturedAt: time.Now().UTC(),
		}
	}

	rel := urlutil.PathKey(pageURL, r.opts.Config.Rewrite.IncludePageQueryInPath)

	req := capture.Request{
		PageNum:    idx,
		URL:        pageURL,
		OutRoot:    r.opts.OutDir,
		Rel:        rel,
		Profile:    profile,
		AssetIndex: store,
		Driver:     driver,
		Resolver:   r.resolver,
		Config: capture.EngineConfig{
			WaitUntil:         r.opts.Config.Engine.WaitUntil,
			NavTimeoutMs:      r.opts.Config.Engine.NavTimeout.ToDuration().Milliseconds(),
			PageTimeoutMs:     r.opts.Config.Engine.PageTimeout.ToDuration().Milliseconds(),
			WaitExtra:         r.opts.Config.Engine.WaitExtra.ToDuration(),
			QuietMillis:       r.opts.Config.Engine.QuietMillis.ToDuration(),
			MaxCaptureMs:      r.opts.Config.Engine.MaxCaptureMs.ToDuration(),
			ScrollPasses:      r.opts.Config.Engine.ScrollPasses,
			ScrollDelay:       r.opts.Config.Engine.ScrollDelay.ToDuration(),
			AssetMaxBytes:     r.opts.Config.Engine.AssetMaxBytes,
			InlineSmallAssets: r.opts.Config.Engine.InlineSmallAssets,
			BlockTrackers:     true,
			RewriteHTMLAssets: r.opts.Config.Rewrite.RewriteHTMLAssets,
			RewriteInternal:   r.opts.Config.Rewrite.RewriteInternal,
			OfflineFallback:   r.opts.Config.Rewrite.OfflineFallback,
			OfflineStripQuery: r.opts.Config.Rewrite.OfflineMapStripQuery,
			ConsentCfg:        consentConfigFromRunConfig(r.opts.Config.Consent),
		},
		IsBlocked:      r.blocklist.IsBlocked,
		ExtractProduct: r.extractProduct,
		ProxyClient:    r.proxies.Next(),
	}

	return capture.CaptureProfile(ctx, req)
}

// extractProduct runs catalog extraction against a captured page and, when
// a product with at least one image is found, assigns/reuses its SKU and
// upserts the catalog and payment-map entries. Products without images are
// excluded from the catalog even when a name and price are present.
func (r *Run) extractProduct(htmlDoc, pageURL string) (string, bool) {
	if !r.opts.Config.Catalog.EnableCatalog {
		return "", false
	}

	extracted, ok := catalog.Extract(htmlDoc, pageURL)
	if !ok || len(extracted.Images) == 0 {
		return "", false
	}

	key, err := catalog.ProductKey(pageURL)
	if err != nil {
		return "", false
	}

	sku := r.skuRegistry.AssignSKU(key)
	rel := urlutil.PathKey(pageURL, r.opts.Config.Rewrite.IncludePageQueryInPath)

	r.cat.Upsert(types.CatalogEntry{
		SKU:         sku,
		Name:        extracted.Name,
		Description: extracted.Description,
		Price:       extracted.Price,
		Images:      extracted.Images,
		Source:      types.CatalogSource{URL: pageURL, RelPath: rel},
	})

	if r.opts.Config.Catalog.GeneratePaymentMapFromCatalog {
		legacyID, _ := catalog.LegacyProductID(pageURL)
		r.paymentMap.Record(sku, legacyID, r.opts.Config.Catalog.PaymentPlaceholder)
	}

	return sku, true
}

func (r *Run) recordResult(rec types.CaptureRecord) {
	if err := r.journal.Append(rec); err != nil {
		r.logger.Warn("appending journal record", zap.String("url", rec.URL), zap.Error(err))
	}

	r.manifestMu.Lock()
	r.manifest = append(r.manifest, rec)
	r.manifestMu.Unlock()

	if r.metrics == nil {
		return
	}
	switch {
	case rec.Status == types.StatusOK:
		r.metrics.RecordCaptureOK()
	case rec.Status == types.StatusOKRaw:
		r.metrics.RecordCaptureOKRaw()
	default:
		r.metrics.RecordCaptureError()
	}
}

// RequestStop records that the run was stopped (reported as the manifest's
// Stopped flag) and drops the _crawl/STOP sentinel file. It does not close
// stopCh: workers and the discovery crawler exit early only once the caller
// closes that channel.
func (r *Run) RequestStop() error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	sentinelDir := filepath.Join(r.opts.OutDir, "_crawl")
	if err := os.MkdirAll(sentinelDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sentinelDir, "STOP"), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}

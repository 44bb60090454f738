package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/archivore/mirror/internal/capture"
	"github.com/archivore/mirror/internal/capture/consent"
	"github.com/archivore/mirror/internal/discovery/samesite"
	"github.com/archivore/mirror/internal/urlutil"
	"github.com/archivore/mirror/pkg/types"
)

// queueItem is one frontier entry: a URL and its BFS depth.
type queueItem struct {
	url   string
	depth int
}

// Config controls one discovery run.
type Config struct {
	Seeds       []string
	MaxPages    int
	MaxDepth    int
	AllowRegex  string
	DenyRegex   string
	WaitUntil   string
	NavTimeout  time.Duration
	Classifier  *samesite.Classifier
	ConsentCfg  consent.Config
	Logger      *zap.Logger
}

// Result is the BFS output: the ordered discovered list plus the full
// graph persisted to disk.
type Result struct {
	Discovered []string
	Graph      types.DiscoveryGraph
}

// Crawler drives a single browser driver through the BFS, one page at a
// time (the discovery phase never fans out across multiple tabs).
type Crawler struct {
	cfg        Config
	allowRegex *regexp.Regexp
	denyRegex  *regexp.Regexp
}

// New validates cfg's regexes and returns a ready Crawler.
func New(cfg Config) (*Crawler, error) {
	c := &Crawler{cfg: cfg}
	if cfg.AllowRegex != "" {
		re, err := regexp.Compile(cfg.AllowRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid allow regex: %w", err)
		}
		c.allowRegex = re
	}
	if cfg.DenyRegex != "" {
		re, err := regexp.Compile(cfg.DenyRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid deny regex: %w", err)
		}
		c.denyRegex = re
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
		c.cfg.Logger = cfg.Logger
	}
	return c, nil
}

// Run executes the BFS against driver, stopping when stopCh is closed.
func (c *Crawler) Run(ctx context.Context, driver capture.Driver, stopCh <-chan struct{}) (Result, error) {
	graph := types.DiscoveryGraph{
		Nodes: make(map[string]types.GraphNode),
		Tree:  make(map[string]string),
		Config: types.DiscoveryGraphConfig{
			MaxPages:   c.cfg.MaxPages,
			MaxDepth:   c.cfg.MaxDepth,
			AllowRegex: c.cfg.AllowRegex,
			DenyRegex:  c.cfg.DenyRegex,
		},
	}

	seen := make(map[string]bool)
	var discovered []string
	var queue []queueItem

	for _, seed := range c.cfg.Seeds {
		if seen[seed] {
			continue
		}
		seen[seed] = true
		queue = append(queue, queueItem{url: seed, depth: 0})
		graph.Nodes[seed] = types.GraphNode{Depth: 0}
	}
	if len(c.cfg.Seeds) > 0 {
		graph.Start = c.cfg.Seeds[0]
	}

	for len(queue) > 0 && len(discovered)+len(queue) < c.cfg.MaxPages {
		select {
		case <-stopCh:
			return c.finish(discovered, graph)
		default:
		}

		current := queue[0]
		queue = queue[1:]

		anchors, status, navErr := c.visit(ctx, driver, current.url)
		if navErr != nil {
			c.cfg.Logger.Warn("discovery navigation failed", zap.String("url", current.url), zap.Error(navErr))
			continue
		}

		base, err := url.Parse(current.url)
		if err != nil {
			continue
		}

		if c.passesAllow(current.url) {
			discovered = append(discovered, current.url)
		}

		_ = status

		for _, anchor := range anchors {
			abs, ok := ResolveAndStrip(base, anchor.Href)
			if !ok {
				continue
			}
			if c.cfg.Classifier != nil && !c.cfg.Classifier.IsSameSite(abs) {
				continue
			}
			if c.denyRegex != nil && c.denyRegex.MatchString(abs) {
				continue
			}
			if absURL, err := url.Parse(abs); err == nil {
				if err := urlutil.ValidateHostNotPrivateIP(absURL.Hostname()); err != nil {
					c.cfg.Logger.Warn("skipping link to private address", zap.String("url", abs))
					continue
				}
			}

			graph.Edges = append(graph.Edges, types.GraphEdge{From: current.url, To: abs, Text: anchor.Text})

			if seen[abs] {
				continue
			}
			seen[abs] = true

			if _, exists := graph.Tree[abs]; !exists {
				graph.Tree[abs] = current.url
			}

			if current.depth < c.cfg.MaxDepth {
				graph.Nodes[abs] = types.GraphNode{Depth: current.depth + 1}
				queue = append(queue, queueItem{url: abs, depth: current.depth + 1})
			}

			if len(discovered)+len(queue) >= c.cfg.MaxPages {
				break
			}
		}
	}

	return c.finish(discovered, graph)
}

func (c *Crawler) finish(discovered []string, graph types.DiscoveryGraph) (Result, error) {
	graph.Counts = types.DiscoveryGraphCounts{Nodes: len(graph.Nodes), Edges: len(graph.Edges)}
	return Result{Discovered: discovered, Graph: graph}, nil
}

func (c *Crawler) passesAllow(u string) bool {
	if c.allowRegex == nil {
		return true
	}
	return c.allowRegex.MatchString(u)
}

// visit navigates to pageURL, retrying once with "commit" on failure, runs
// the consent resolver, and extracts its anchors.
func (c *Crawler) visit(ctx context.Context, driver capture.Driver, pageURL string) ([]Anchor, int, error) {
	waitUntil := c.cfg.WaitUntil
	if waitUntil == "" {
		waitUntil = "load"
	}
	navTimeoutMs := c.cfg.NavTimeout.Milliseconds()
	if navTimeoutMs == 0 {
		navTimeoutMs = 30000
	}

	status, _, err := driver.Navigate(ctx, pageURL, waitUntil, navTimeoutMs)
	if err != nil {
		status, _, err = driver.Navigate(ctx, pageURL, "commit", navTimeoutMs)
		if err != nil {
			return nil, 0, err
		}
	}

	if _, resolveErr := consent.Resolve(ctx, driver, c.cfg.ConsentCfg); resolveErr != nil {
		c.cfg.Logger.Debug("discovery consent resolve failed", zap.String("url", pageURL), zap.Error(resolveErr))
	}

	htmlDoc, err := driver.Content(ctx)
	if err != nil {
		return nil, status, err
	}

	return ExtractAnchors(htmlDoc), status, nil
}

// Persist writes urls.txt and graph.json under crawlDir.
func Persist(crawlDir string, result Result) error {
	if err := os.MkdirAll(crawlDir, 0o755); err != nil {
		return fmt.Errorf("creating crawl dir: %w", err)
	}

	urls := make([]string, len(result.Discovered))
	copy(urls, result.Discovered)

	var urlsContent string
	for _, u := range urls {
		urlsContent += u + "\n"
	}
	if err := os.WriteFile(filepath.Join(crawlDir, "urls.txt"), []byte(urlsContent), 0o644); err != nil {
		return fmt.Errorf("writing urls.txt: %w", err)
	}

	graphJSON, err := json.MarshalIndent(result.Graph, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling graph: %w", err)
	}
	if err := os.WriteFile(filepath.Join(crawlDir, "graph.json"), graphJSON, 0o644); err != nil {
		return fmt.Errorf("writing graph.json: %w", err)
	}
	return nil
}

// OrderByPrimarySeed moves primarySeed to the front of urls, preserving
// the stable BFS order of the rest.
func OrderByPrimarySeed(urls []string, primarySeed string) []string {
	if primarySeed == "" {
		return urls
	}
	out := make([]string, 0, len(urls))
	found := false
	for _, u := range urls {
		if u == primarySeed {
			found = true
			continue
		}
		out = append(out, u)
	}
	if !found {
		return urls
	}
	return append([]string{primarySeed}, out...)
}

// SortDocLike orders a set of URLs by (depth, url) for graph-driven
// capture ordering, using graph for depth lookups.
func SortDocLike(urls []string, graph types.DiscoveryGraph) []string {
	out := make([]string, len(urls))
	copy(out, urls)
	sort.Slice(out, func(i, j int) bool {
		di, dj := graph.Nodes[out[i]].Depth, graph.Nodes[out[j]].Depth
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}

// Package types holds the data model shared across the mirror archiver:
// device profiles, asset records, capture records, the manifest, the
// discovery graph, and the product catalog.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Duration wraps time.Duration with extended YAML/JSON parsing support for
// days and weeks, on top of the standard ns/us/ms/s/m/h suffixes.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for extended duration formats.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler for Duration.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var ns int64
	if err := json.Unmarshal(data, &ns); err == nil {
		*d = Duration(ns)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or number, got %s", string(data))
	}

	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON implements json.Marshaler for Duration.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ToDuration converts types.Duration to time.Duration.
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer for Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// parseExtendedDuration parses duration strings with extended suffixes: d
// (days), w (weeks). Examples: "30d", "2w", "1.5d".
func parseExtendedDuration(s string) (time.Duration, error) {
	re := regexp.MustCompile(`^(-?)(\d+(?:\.\d+)?)(d|w)$`)
	matches := re.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid format, expected format like '30d' or '2w'")
	}

	sign := matches[1]
	valueStr := matches[2]
	suffix := matches[3]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %w", err)
	}
	if sign == "-" {
		value = -value
	}

	switch suffix {
	case "d":
		return time.Duration(value * float64(24*time.Hour)), nil
	case "w":
		return time.Duration(value * float64(7*24*time.Hour)), nil
	default:
		return 0, fmt.Errorf("unsupported suffix %q", suffix)
	}
}

// Viewport is a width/height pair in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// DeviceProfile is a named rendering configuration: a viewport, user agent,
// and mobile/touch emulation flags.
type DeviceProfile struct {
	Name              string   `yaml:"-" json:"name"`
	Viewport          Viewport `yaml:"viewport" json:"viewport"`
	UserAgent         string   `yaml:"user_agent" json:"user_agent"`
	DeviceScaleFactor float64  `yaml:"device_scale_factor" json:"device_scale_factor"`
	IsMobile          bool     `yaml:"is_mobile" json:"is_mobile"`
	HasTouch          bool     `yaml:"has_touch" json:"has_touch"`
}

// DefaultDeviceProfiles returns the built-in desktop/mobile profile set used
// when a run configuration does not override `profiles`.
func DefaultDeviceProfiles() map[string]DeviceProfile {
	return map[string]DeviceProfile{
		"desktop": {
			Name:              "desktop",
			Viewport:          Viewport{Width: 1366, Height: 900},
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			DeviceScaleFactor: 1.0,
			IsMobile:          false,
			HasTouch:          false,
		},
		"mobile": {
			Name:              "mobile",
			Viewport:          Viewport{Width: 390, Height: 844},
			UserAgent:         "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
			DeviceScaleFactor: 3.0,
			IsMobile:          true,
			HasTouch:          true,
		},
	}
}

// AssetRecord is the value stored in a page's asset index: the disk
// location and rewrite target for one observed absolute asset URL.
type AssetRecord struct {
	AbsoluteURL   string `json:"absoluteURL"`
	LocalPath     string `json:"localPath"`
	RewriteTo     string `json:"rewriteTo"`
	InlineDataURI string `json:"inlineDataURI,omitempty"`
	ContentType   string `json:"contentType"`
	Size          int    `json:"size"`
}

// Capture status values.
const (
	StatusOK    = "ok"
	StatusOKRaw = "okRaw"
)

// Error kind prefixes recorded in CaptureRecord.Status.
const (
	ErrorKindNav         = "nav"
	ErrorKindRawOnly     = "rawOnly"
	ErrorKindRaw         = "raw"
	ErrorKindPageTimeout = "pageTimeout"
)

// Non-fatal reason prefixes accumulated in CaptureRecord.Reasons.
const (
	ReasonNoBody        = "noBody"
	ReasonRewriteErr     = "rewriteErr"
	ReasonAssetRewriteErr = "assetRewriteErr"
	ReasonHTMLSaveErr    = "htmlSaveErr"
	ReasonPopupErr       = "popupErr"
	ReasonRequestFail    = "REQ_FAIL"
)

// CaptureRecord is one row per (URL, profile): the outcome of capturing a
// single page under a single device profile.
type CaptureRecord struct {
	URL         string    `json:"url"`
	FinalURL    string    `json:"finalURL"`
	RelPath     string    `json:"relPath"`
	LocalPath   string    `json:"localPath"`
	Profile     string    `json:"profile"`
	Status      string    `json:"status"`
	MainStatus  int       `json:"mainStatus"`
	Assets      int       `json:"assets"`
	RawUsed     bool      `json:"rawUsed"`
	Reasons     []string  `json:"reasons,omitempty"`
	DurationMs  int64     `json:"durationMs"`
	CapturedAt  time.Time `json:"capturedAt"`
	ProductSKU  string    `json:"productSku,omitempty"`
}

// IsSuccess reports whether the record's status is "ok" or "okRaw".
func (r *CaptureRecord) IsSuccess() bool {
	return r.Status == StatusOK || r.Status == StatusOKRaw
}

// Key returns the manifest sort/dedup key "url:profile".
func (r *CaptureRecord) Key() string {
	return r.URL + ":" + r.Profile
}

// Manifest is the finalized, sorted array of capture records.
type Manifest struct {
	Records []CaptureRecord `json:"records"`
	Stats   RunStats        `json:"stats"`
	Stopped bool            `json:"stopped"`
}

// RunStats summarizes a finished or stopped run.
type RunStats struct {
	Pages    int `json:"pages"`
	Failures int `json:"failures"`
	Assets   int `json:"assets"`
}

// GraphNode is one discovered URL's BFS depth.
type GraphNode struct {
	Depth int `json:"depth"`
}

// GraphEdge is one observed anchor from one page to another.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// DiscoveryGraph is the link graph produced by the discovery crawler.
type DiscoveryGraph struct {
	Start  string                `json:"start"`
	Nodes  map[string]GraphNode  `json:"nodes"`
	Edges  []GraphEdge           `json:"edges"`
	Tree   map[string]string     `json:"tree"`
	Config DiscoveryGraphConfig  `json:"config"`
	Counts DiscoveryGraphCounts  `json:"counts"`
}

// DiscoveryGraphConfig records the configuration the graph was built under.
type DiscoveryGraphConfig struct {
	MaxPages    int    `json:"maxPages"`
	MaxDepth    int    `json:"maxDepth"`
	AllowRegex  string `json:"allowRegex,omitempty"`
	DenyRegex   string `json:"denyRegex,omitempty"`
	SameSiteMode string `json:"sameSiteMode"`
}

// DiscoveryGraphCounts summarizes a graph's size.
type DiscoveryGraphCounts struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// Price is a monetary amount with an ISO 4217 currency code.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// CatalogSource records where a catalog entry was extracted from.
type CatalogSource struct {
	URL     string `json:"url"`
	RelPath string `json:"relPath"`
}

// CatalogEntry is one product extracted from a captured page.
type CatalogEntry struct {
	SKU         string        `json:"sku"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Price       Price         `json:"price"`
	Images      []string      `json:"images"`
	Source      CatalogSource `json:"source"`
}

// SKUMap persists the monotonic SKU counter and the product-key → SKU
// mapping so SKUs stay stable across re-runs.
type SKUMap struct {
	Next  int               `json:"next"`
	ByKey map[string]string `json:"byKey"`
}

// PaymentMap is the placeholder payment mapping, merged (never overwritten)
// across runs.
type PaymentMap struct {
	Provider string            `json:"provider"`
	Target   string            `json:"target"`
	Map      map[string]string `json:"map"`
	BySku    map[string]string `json:"bySku"`
}

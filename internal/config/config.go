// Package config loads and validates the run configuration surface: a
// single YAML file decoded strictly, with defaults applied the way
// RSConfigManager.applyDefaults does.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/archivore/mirror/internal/logging"
	"github.com/archivore/mirror/internal/yamlutil"
	"github.com/archivore/mirror/pkg/types"
)

// Config is the root run configuration.
type Config struct {
	Engine    EngineConfig      `yaml:"engine"`
	Scope     ScopeConfig       `yaml:"scope"`
	Rewrite   RewriteConfig     `yaml:"rewrite"`
	Consent   ConsentConfig     `yaml:"consent"`
	Proxies   ProxiesConfig     `yaml:"proxies"`
	Discovery DiscoveryConfig   `yaml:"discovery"`
	Catalog   CatalogConfig     `yaml:"catalog"`
	Log       logging.LogConfig `yaml:"log"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Server    ServerConfig      `yaml:"server"`
}

// MetricsConfig controls the standalone Prometheus metrics listener.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// ServerConfig names this run for logging and metric labels.
type ServerConfig struct {
	ID string `yaml:"id"`
}

// EngineConfig controls the browser engine and capture timing.
type EngineConfig struct {
	Engine            string         `yaml:"engine"`
	Headless          bool           `yaml:"headless"`
	Concurrency       string         `yaml:"concurrency"`
	NavTimeout        types.Duration `yaml:"navTimeout"`
	PageTimeout       types.Duration `yaml:"pageTimeout"`
	WaitUntil         string         `yaml:"waitUntil"`
	WaitExtra         types.Duration `yaml:"waitExtra"`
	QuietMillis       types.Duration `yaml:"quietMillis"`
	MaxCaptureMs      types.Duration `yaml:"maxCaptureMs"`
	ScrollPasses      int            `yaml:"scrollPasses"`
	ScrollDelay       types.Duration `yaml:"scrollDelay"`
	AssetMaxBytes     int64          `yaml:"assetMaxBytes"`
	InlineSmallAssets int64          `yaml:"inlineSmallAssets"`
	DisableHTTP2      bool           `yaml:"disableHttp2"`
}

// ScopeConfig controls same-site membership and mirroring policy.
type ScopeConfig struct {
	Profiles           string `yaml:"profiles"`
	SameSiteMode       string `yaml:"sameSiteMode"`
	InternalHostsRegex string `yaml:"internalHostsRegex"`
	IncludeCrossOrigin bool   `yaml:"includeCrossOrigin"`
	MirrorSubdomains   bool   `yaml:"mirrorSubdomains"`
	MirrorCrossOrigin  bool   `yaml:"mirrorCrossOrigin"`
	PreserveAssetPaths bool   `yaml:"preserveAssetPaths"`
}

// RewriteConfig controls HTML rewriting and the offline shim.
type RewriteConfig struct {
	RewriteInternal       bool   `yaml:"rewriteInternal"`
	InternalRewriteRegex  string `yaml:"internalRewriteRegex"`
	RewriteHTMLAssets     bool   `yaml:"rewriteHtmlAssets"`
	FlattenRootIndex      bool   `yaml:"flattenRootIndex"`
	IncludePageQueryInPath bool  `yaml:"includePageQueryInPath"`
	OfflineFallback       bool   `yaml:"offlineFallback"`
	OfflineMapStripQuery  bool   `yaml:"offlineMapStripQuery"`
}

// ConsentConfig controls the consent/popup resolver.
type ConsentConfig struct {
	ButtonTexts          []string       `yaml:"consentButtonTexts"`
	ExtraSelectors       []string       `yaml:"consentExtraSelectors"`
	ForceRemoveSelectors []string       `yaml:"consentForceRemoveSelectors"`
	RetryAttempts        int            `yaml:"consentRetryAttempts"`
	RetryInterval        types.Duration `yaml:"consentRetryInterval"`
	MutationWindow       types.Duration `yaml:"consentMutationWindow"`
	IframeScan           bool           `yaml:"consentIframeScan"`
	PopupExtraSelectors  []string       `yaml:"popupExtraSelectors"`
	PopupForceRemove     []string       `yaml:"popupForceRemoveSelectors"`
}

// ProxyEntry is one proxy in the rotation list.
type ProxyEntry struct {
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ProxiesConfig controls proxy selection and session rotation.
type ProxiesConfig struct {
	ProxiesFile    string `yaml:"proxiesFile"`
	Proxies        []ProxyEntry `yaml:"-"`
	StableSession  bool   `yaml:"stableSession"`
	RotateEvery    int    `yaml:"rotateEvery"`
	RotateSession  bool   `yaml:"rotateSession"`
}

// DiscoveryConfig controls the BFS discovery crawler.
type DiscoveryConfig struct {
	Discover          bool   `yaml:"discover"`
	UseDiscoveryGraph bool   `yaml:"useDiscoveryGraph"`
	MaxPages          int    `yaml:"discoverMaxPages"`
	MaxDepth          int    `yaml:"discoverMaxDepth"`
	AllowRegex        string `yaml:"discoverAllowRegex"`
	DenyRegex         string `yaml:"discoverDenyRegex"`
	GraphDocLikeOnly  bool   `yaml:"graphDocLikeOnly"`
}

// CatalogConfig controls product extraction and the payment map.
type CatalogConfig struct {
	EnableCatalog                 bool   `yaml:"enableCatalog"`
	GeneratePaymentMapFromCatalog bool   `yaml:"generatePaymentMapFromCatalog"`
	PaymentPlaceholder            string `yaml:"paymentPlaceholder"`
	PaymentProvider                string `yaml:"paymentProvider"`
	PaymentTarget                  string `yaml:"paymentTarget"`
}

const (
	defaultNavTimeout   = 30_000_000_000  // 30s, in ns
	defaultPageTimeout  = 60_000_000_000  // 60s
	defaultQuietMillis  = 1_500_000_000   // 1.5s
	defaultMaxCaptureMs = 45_000_000_000  // 45s
	defaultScrollDelay  = 250_000_000     // 250ms

	defaultScrollPasses   = 3
	defaultAssetMaxBytes  = 25 * 1024 * 1024
	defaultInlineSmall    = 8 * 1024

	defaultConsentRetryAttempts = 3
	defaultConsentRetryInterval = 500_000_000 // 500ms
	defaultConsentMutationWindow = 2_000_000_000

	defaultDiscoverMaxPages = 200
	defaultDiscoverMaxDepth = 3
)

// Manager loads and holds the run configuration, mirroring
// RSConfigManager's responsibilities (load, default, validate).
type Manager struct {
	config     *Config
	configPath string
}

// NewManager loads configuration from configPath, applying defaults and
// validating it.
func NewManager(configPath string) (*Manager, error) {
	m := &Manager{configPath: configPath}
	if err := m.LoadConfig(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadConfig reads and strictly decodes the YAML file at m.configPath.
func (m *Manager) LoadConfig() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Proxies.ProxiesFile != "" {
		entries, err := loadProxiesFile(cfg.Proxies.ProxiesFile)
		if err != nil {
			return fmt.Errorf("failed to load proxies file: %w", err)
		}
		cfg.Proxies.Proxies = entries
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.config = &cfg
	return nil
}

// loadProxiesFile reads a JSON array of {server,username,password} entries.
func loadProxiesFile(path string) ([]ProxyEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []ProxyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return entries, nil
}

// GetConfig returns the loaded configuration.
func (m *Manager) GetConfig() *Config {
	return m.config
}

func (cfg *Config) applyDefaults() {
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = logging.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = logging.LogFormatText
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = logging.LogLevelInfo
	}

	if cfg.Engine.Engine == "" {
		cfg.Engine.Engine = "chromium"
	}
	if cfg.Engine.Concurrency == "" {
		cfg.Engine.Concurrency = "auto"
	}
	if cfg.Engine.WaitUntil == "" {
		cfg.Engine.WaitUntil = "networkidle"
	}
	if cfg.Engine.NavTimeout == 0 {
		cfg.Engine.NavTimeout = types.Duration(defaultNavTimeout)
	}
	if cfg.Engine.PageTimeout == 0 {
		cfg.Engine.PageTimeout = types.Duration(defaultPageTimeout)
	}
	if cfg.Engine.QuietMillis == 0 {
		cfg.Engine.QuietMillis = types.Duration(defaultQuietMillis)
	}
	if cfg.Engine.MaxCaptureMs == 0 {
		cfg.Engine.MaxCaptureMs = types.Duration(defaultMaxCaptureMs)
	}
	if cfg.Engine.ScrollPasses == 0 {
		cfg.Engine.ScrollPasses = defaultScrollPasses
	}
	if cfg.Engine.ScrollDelay == 0 {
		cfg.Engine.ScrollDelay = types.Duration(defaultScrollDelay)
	}
	if cfg.Engine.AssetMaxBytes == 0 {
		cfg.Engine.AssetMaxBytes = defaultAssetMaxBytes
	}
	if cfg.Engine.InlineSmallAssets == 0 {
		cfg.Engine.InlineSmallAssets = defaultInlineSmall
	}

	if cfg.Scope.Profiles == "" {
		cfg.Scope.Profiles = "desktop,mobile"
	}
	if cfg.Scope.SameSiteMode == "" {
		cfg.Scope.SameSiteMode = "subdomains"
	}

	if cfg.Consent.RetryAttempts == 0 {
		cfg.Consent.RetryAttempts = defaultConsentRetryAttempts
	}
	if cfg.Consent.RetryInterval == 0 {
		cfg.Consent.RetryInterval = types.Duration(defaultConsentRetryInterval)
	}
	if cfg.Consent.MutationWindow == 0 {
		cfg.Consent.MutationWindow = types.Duration(defaultConsentMutationWindow)
	}

	if cfg.Discovery.MaxPages == 0 {
		cfg.Discovery.MaxPages = defaultDiscoverMaxPages
	}
	if cfg.Discovery.MaxDepth == 0 {
		cfg.Discovery.MaxDepth = defaultDiscoverMaxDepth
	}

	if cfg.Catalog.PaymentProvider == "" {
		cfg.Catalog.PaymentProvider = "manual"
	}
	if cfg.Catalog.PaymentPlaceholder == "" {
		cfg.Catalog.PaymentPlaceholder = "PENDING"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "mirror"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9110"
	}

	if cfg.Server.ID == "" {
		cfg.Server.ID = "mirror"
	}
}

// Validate checks configuration validity, mirroring RSConfig.Validate's
// field-by-field style.
func (cfg *Config) Validate() error {
	switch cfg.Engine.Engine {
	case "chromium", "firefox", "webkit":
	default:
		return fmt.Errorf("engine.engine must be chromium, firefox, or webkit, got %q", cfg.Engine.Engine)
	}

	if cfg.Engine.Concurrency != "auto" {
		n, err := strconv.Atoi(cfg.Engine.Concurrency)
		if err != nil || n <= 0 {
			return fmt.Errorf("engine.concurrency must be 'auto' or a positive integer")
		}
	}

	if cfg.Engine.NavTimeout <= 0 {
		return fmt.Errorf("engine.navTimeout must be positive")
	}
	if cfg.Engine.PageTimeout <= 0 {
		return fmt.Errorf("engine.pageTimeout must be positive")
	}
	if cfg.Engine.AssetMaxBytes <= 0 {
		return fmt.Errorf("engine.assetMaxBytes must be positive")
	}

	switch cfg.Scope.SameSiteMode {
	case "exact", "subdomains", "etld":
	default:
		return fmt.Errorf("scope.sameSiteMode must be exact, subdomains, or etld, got %q", cfg.Scope.SameSiteMode)
	}

	validLogLevels := map[string]bool{
		logging.LogLevelDebug: true,
		logging.LogLevelInfo:  true,
		logging.LogLevelWarn:  true,
		logging.LogLevelError: true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path must be specified when file logging is enabled")
	}

	if cfg.Discovery.MaxPages <= 0 {
		return fmt.Errorf("discovery.discoverMaxPages must be positive")
	}
	if cfg.Discovery.MaxDepth <= 0 {
		return fmt.Errorf("discovery.discoverMaxDepth must be positive")
	}

	return nil
}

// GetConfigPath resolves and validates a config file path exists.
func GetConfigPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}

	return absPath, nil
}

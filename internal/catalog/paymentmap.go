package catalog

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/archivore/mirror/pkg/types"
)

// productIDParam, addToCartParam and routeParamValue describe the two known
// legacy query-string shapes for a page's legacy product id:
// route=product/product&product_id=... and add-to-cart=....
var (
	productIDParam  = "product_id"
	addToCartParam  = "add-to-cart"
	routeParamValue = regexp.MustCompile(`^product/product$`)
)

// PaymentMap merges legacy-product-id and SKU placeholder mappings into a
// single file, never overwriting entries from a prior run.
type PaymentMap struct {
	mu   sync.Mutex
	path string
	data types.PaymentMap
}

// LoadPaymentMap reads an existing _payment-map.json, merging provider and
// target defaults if the file does not yet exist.
func LoadPaymentMap(path, provider, target string) (*PaymentMap, error) {
	pm := &PaymentMap{
		path: path,
		data: types.PaymentMap{
			Provider: provider,
			Target:   target,
			Map:      make(map[string]string),
			BySku:    make(map[string]string),
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return pm, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading payment map %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &pm.data); err != nil {
		return nil, fmt.Errorf("parsing payment map %s: %w", path, err)
	}
	if pm.data.Map == nil {
		pm.data.Map = make(map[string]string)
	}
	if pm.data.BySku == nil {
		pm.data.BySku = make(map[string]string)
	}
	return pm, nil
}

// LegacyProductID extracts the legacy product id from pageURL's query
// string, if present.
func LegacyProductID(pageURL string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	q := u.Query()

	if route := q.Get("route"); routeParamValue.MatchString(route) {
		if id := q.Get(productIDParam); id != "" {
			return id, true
		}
	}
	if id := q.Get(addToCartParam); id != "" {
		return id, true
	}
	return "", false
}

// Record upserts the placeholder payment target for a SKU and, when
// present, its legacy product id. Existing entries are left untouched.
func (pm *PaymentMap) Record(sku, legacyID, placeholder string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, ok := pm.data.BySku[sku]; !ok {
		pm.data.BySku[sku] = placeholder
	}
	if legacyID != "" {
		if _, ok := pm.data.Map[legacyID]; !ok {
			pm.data.Map[legacyID] = placeholder
		}
	}
}

// Save writes the merged payment map.
func (pm *PaymentMap) Save() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(pm.path), 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	raw, err := json.MarshalIndent(pm.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling payment map: %w", err)
	}
	return os.WriteFile(pm.path, raw, 0o644)
}

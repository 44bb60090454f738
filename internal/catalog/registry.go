package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/archivore/mirror/pkg/types"
)

// SKURegistry assigns stable, monotonically increasing SKUs to product
// keys, persisted across runs in sku-map.json.
type SKURegistry struct {
	mu   sync.Mutex
	path string
	data types.SKUMap
}

// LoadSKURegistry reads an existing sku-map.json, or starts a fresh
// registry (next=1) if the file does not exist.
func LoadSKURegistry(path string) (*SKURegistry, error) {
	reg := &SKURegistry{
		path: path,
		data: types.SKUMap{Next: 1, ByKey: make(map[string]string)},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sku map %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &reg.data); err != nil {
		return nil, fmt.Errorf("parsing sku map %s: %w", path, err)
	}
	if reg.data.ByKey == nil {
		reg.data.ByKey = make(map[string]string)
	}
	if reg.data.Next < 1 {
		reg.data.Next = 1
	}
	return reg, nil
}

// AssignSKU returns key's existing SKU, or mints the next "SKU-######" and
// records it.
func (r *SKURegistry) AssignSKU(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sku, ok := r.data.ByKey[key]; ok {
		return sku
	}

	sku := fmt.Sprintf("SKU-%06d", r.data.Next)
	r.data.Next++
	r.data.ByKey[key] = sku
	return sku
}

// Save writes the registry to its backing file.
func (r *SKURegistry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating catalog dir: %w", err)
	}
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sku map: %w", err)
	}
	return os.WriteFile(r.path, raw, 0o644)
}

// Catalog is the process-wide, mutex-guarded product catalog.
type Catalog struct {
	mu      sync.Mutex
	path    string
	bySKU   map[string]types.CatalogEntry
}

// LoadCatalog reads an existing catalog.json, or starts empty.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: path, bySKU: make(map[string]types.CatalogEntry)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var entries []types.CatalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	for _, e := range entries {
		c.bySKU[e.SKU] = e
	}
	return c, nil
}

// Upsert inserts or replaces the entry for entry.SKU.
func (c *Catalog) Upsert(entry types.CatalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySKU[entry.SKU] = entry
}

// Save writes the catalog to its backing file, sorted by SKU.
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]types.CatalogEntry, 0, len(c.bySKU))
	for _, e := range c.bySKU {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SKU < entries[j].SKU })

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating catalog dir: %w", err)
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling catalog: %w", err)
	}
	return os.WriteFile(c.path, raw, 0o644)
}

// Len reports the number of distinct products in the catalog.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bySKU)
}

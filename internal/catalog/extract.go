// Package catalog extracts product data from captured pages, assigns
// stable SKUs, and maintains the product catalog and payment map.
package catalog

import (
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/archivore/mirror/pkg/types"
)

// priceLikePattern matches price-shaped substrings such as "$19.99" or
// "19,99 €" for the heuristic fallback extractor.
var priceLikePattern = regexp.MustCompile(`[$€£]\s?\d+[.,]\d{2}|\d+[.,]\d{2}\s?[$€£]`)

// Extracted is one product found on a page, before SKU assignment.
type Extracted struct {
	Name        string
	Description string
	Price       types.Price
	Images      []string
}

// jsonLD mirrors the subset of schema.org/Product fields the extractor
// understands; other fields are ignored.
type jsonLD struct {
	Type        interface{}     `json:"@type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Image       interface{}     `json:"image"`
	Offers      json.RawMessage `json:"offers"`
	Graph       []jsonLD        `json:"@graph"`
}

type jsonLDOffer struct {
	Price         interface{} `json:"price"`
	PriceCurrency string      `json:"priceCurrency"`
}

// Extract looks for a schema.org Product in htmlDoc's JSON-LD blocks
// (including inside @graph arrays), falling back to heuristic selectors
// when none is found. Returns ok=false when no product data exists.
func Extract(htmlDoc, pageURL string) (Extracted, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlDoc))
	if err != nil {
		return Extracted{}, false
	}

	if product, ok := extractJSONLD(doc); ok {
		return product, true
	}
	return extractHeuristic(doc)
}

func extractJSONLD(doc *goquery.Document) (Extracted, bool) {
	var found Extracted
	ok := false

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var node jsonLD
		if err := json.Unmarshal([]byte(s.Text()), &node); err != nil {
			return true
		}
		if product, matched := productFromLD(node); matched {
			found = product
			ok = true
			return false
		}
		return true
	})

	return found, ok
}

func productFromLD(node jsonLD) (Extracted, bool) {
	if isProductType(node.Type) {
		return Extracted{
			Name:        node.Name,
			Description: node.Description,
			Price:       priceFromOffers(node.Offers),
			Images:      imagesFromField(node.Image),
		}, true
	}
	for _, child := range node.Graph {
		if product, ok := productFromLD(child); ok {
			return product, true
		}
	}
	return Extracted{}, false
}

func isProductType(t interface{}) bool {
	switch v := t.(type) {
	case string:
		return strings.EqualFold(v, "Product")
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, "Product") {
				return true
			}
		}
	}
	return false
}

func imagesFromField(field interface{}) []string {
	switch v := field.(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func priceFromOffers(raw json.RawMessage) types.Price {
	if len(raw) == 0 {
		return types.Price{}
	}

	var single jsonLDOffer
	if err := json.Unmarshal(raw, &single); err == nil && single.Price != nil {
		return types.Price{Amount: toFloat(single.Price), Currency: single.PriceCurrency}
	}

	var list []jsonLDOffer
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return types.Price{Amount: toFloat(list[0].Price), Currency: list[0].PriceCurrency}
	}
	return types.Price{}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	default:
		return 0
	}
}

// extractHeuristic falls back to h1/meta selectors when no JSON-LD product
// is present, as a heuristic fallback.
func extractHeuristic(doc *goquery.Document) (Extracted, bool) {
	name := strings.TrimSpace(doc.Find("h1").First().Text())
	if name == "" {
		name, _ = doc.Find(`meta[property="og:title"]`).First().Attr("content")
	}

	currency, _ := doc.Find(`meta[itemprop="priceCurrency"]`).First().Attr("content")

	priceText := doc.Find("body").First().Text()
	amount := 0.0
	if m := priceLikePattern.FindString(priceText); m != "" {
		amount = parsePriceText(m)
	}

	var images []string
	if ogImage, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && ogImage != "" {
		images = append(images, ogImage)
	}

	if name == "" && amount == 0 && len(images) == 0 {
		return Extracted{}, false
	}

	return Extracted{
		Name:   name,
		Price:  types.Price{Amount: amount, Currency: currency},
		Images: images,
	}, true
}

func parsePriceText(match string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' || r == ',' {
			return r
		}
		return -1
	}, match)
	cleaned = strings.Replace(cleaned, ",", ".", 1)
	f, _ := strconv.ParseFloat(cleaned, 64)
	return f
}

// ProductKey computes the stable dedup key for a page: its trailing-/
// stripped pathname, plus a sorted query suffix when query params are
// present.
func ProductKey(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	key := strings.TrimSuffix(u.Path, "/")

	if u.RawQuery == "" {
		return key, nil
	}

	values := u.Query()
	pairs := make([]string, 0, len(values))
	for k, vs := range values {
		for _, v := range vs {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)
	return key + "::" + strings.Join(pairs, "&"), nil
}

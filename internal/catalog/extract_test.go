package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_JSONLDProduct(t *testing.T) {
	htmlDoc := `<html><head>
<script type="application/ld+json">
{"@type":"Product","name":"Trail Shoe","description":"Light trail runner",
 "image":["https://example.com/shoe.jpg"],
 "offers":{"price":89.99,"priceCurrency":"USD"}}
</script>
</head><body></body></html>`

	product, ok := Extract(htmlDoc, "https://example.com/catalog/shoes")
	require.True(t, ok)
	assert.Equal(t, "Trail Shoe", product.Name)
	assert.Equal(t, 89.99, product.Price.Amount)
	assert.Equal(t, "USD", product.Price.Currency)
	assert.Equal(t, []string{"https://example.com/shoe.jpg"}, product.Images)
}

func TestExtract_JSONLDProductInsideGraph(t *testing.T) {
	htmlDoc := `<html><head>
<script type="application/ld+json">
{"@graph":[{"@type":"WebPage"},{"@type":"Product","name":"Jacket","offers":{"price":"120.00","priceCurrency":"EUR"}}]}
</script>
</head><body></body></html>`

	product, ok := Extract(htmlDoc, "https://example.com/catalog/jacket")
	require.True(t, ok)
	assert.Equal(t, "Jacket", product.Name)
	assert.Equal(t, 120.0, product.Price.Amount)
}

func TestExtract_HeuristicFallback(t *testing.T) {
	htmlDoc := `<html><head><meta property="og:title" content="Sun Hat"></head>
<body><h1>Sun Hat</h1><p>Only $24.99 today</p></body></html>`

	product, ok := Extract(htmlDoc, "https://example.com/catalog/hat")
	require.True(t, ok)
	assert.Equal(t, "Sun Hat", product.Name)
	assert.Equal(t, 24.99, product.Price.Amount)
}

func TestExtract_NoProductData(t *testing.T) {
	htmlDoc := `<html><head><title>About us</title></head><body><p>No products here.</p></body></html>`

	_, ok := Extract(htmlDoc, "https://example.com/about")
	assert.False(t, ok)
}

func TestProductKey_StripsTrailingSlash(t *testing.T) {
	key, err := ProductKey("https://example.com/catalog/shoes/")
	require.NoError(t, err)
	assert.Equal(t, "/catalog/shoes", key)
}

func TestProductKey_IncludesSortedQuery(t *testing.T) {
	key, err := ProductKey("https://example.com/catalog/shoes?color=red&size=10")
	require.NoError(t, err)
	assert.Equal(t, "/catalog/shoes::color=red&size=10", key)
}

func TestLegacyProductID_FromRoute(t *testing.T) {
	id, ok := LegacyProductID("https://example.com/index.php?route=product/product&product_id=42")
	require.True(t, ok)
	assert.Equal(t, "42", id)
}

func TestLegacyProductID_FromAddToCart(t *testing.T) {
	id, ok := LegacyProductID("https://example.com/cart?add-to-cart=77")
	require.True(t, ok)
	assert.Equal(t, "77", id)
}

func TestLegacyProductID_Absent(t *testing.T) {
	_, ok := LegacyProductID("https://example.com/catalog/shoes")
	assert.False(t, ok)
}

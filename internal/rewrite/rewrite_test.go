package rewrite

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivore/mirror/pkg/types"
)

type fakeResolver struct {
	assets map[string]types.AssetRecord
	pages  map[string]string
}

func (f fakeResolver) ResolveAsset(absURL string) (types.AssetRecord, bool) {
	rec, ok := f.assets[absURL]
	return rec, ok
}

func (f fakeResolver) ResolvePage(absURL string) (string, bool) {
	href, ok := f.pages[absURL]
	return href, ok
}

func TestRewrite_RewritesImageSrc(t *testing.T) {
	resolver := fakeResolver{
		assets: map[string]types.AssetRecord{
			"https://example.com/img/a.png": {RewriteTo: "assets/abc123.png"},
		},
	}
	htmlSrc := `<html><head></head><body><img src="/img/a.png"></body></html>`

	result, err := Rewrite(htmlSrc, resolver, Options{PageURL: "https://example.com/page", RewriteHTMLAssets: true})
	require.NoError(t, err)
	assert.Contains(t, result.HTML, `src="assets/abc123.png"`)
	assert.Equal(t, 1, result.AssetsRewritten)
}

func TestRewrite_RewritesSrcsetTokens(t *testing.T) {
	resolver := fakeResolver{
		assets: map[string]types.AssetRecord{
			"https://example.com/img/a-1x.png": {RewriteTo: "assets/one.png"},
			"https://example.com/img/a-2x.png": {RewriteTo: "assets/two.png"},
		},
	}
	htmlSrc := `<html><body><img srcset="/img/a-1x.png 1x, /img/a-2x.png 2x"></body></html>`

	result, err := Rewrite(htmlSrc, resolver, Options{PageURL: "https://example.com/page", RewriteHTMLAssets: true})
	require.NoError(t, err)
	assert.Contains(t, result.HTML, "assets/one.png 1x")
	assert.Contains(t, result.HTML, "assets/two.png 2x")
}

func TestRewrite_RewritesSameSiteLink(t *testing.T) {
	resolver := fakeResolver{
		pages: map[string]string{
			"https://example.com/catalog/shoes": "/catalog/shoes/",
		},
	}
	htmlSrc := `<html><body><a href="/catalog/shoes">Shoes</a></body></html>`

	result, err := Rewrite(htmlSrc, resolver, Options{PageURL: "https://example.com/", RewriteInternal: true})
	require.NoError(t, err)
	assert.Contains(t, result.HTML, `href="/catalog/shoes/"`)
	assert.Equal(t, 1, result.LinksRewritten)
}

func TestRewrite_PrependsMobileViewportMeta(t *testing.T) {
	htmlSrc := `<html><head><title>t</title></head><body></body></html>`

	result, err := Rewrite(htmlSrc, fakeResolver{}, Options{PageURL: "https://example.com/", Mobile: true})
	require.NoError(t, err)
	assert.Contains(t, result.HTML, `name="viewport"`)
}

func TestRewrite_SkipsExistingViewportMeta(t *testing.T) {
	htmlSrc := `<html><head><meta name="viewport" content="width=320"></head><body></body></html>`

	result, err := Rewrite(htmlSrc, fakeResolver{}, Options{PageURL: "https://example.com/", Mobile: true})
	require.NoError(t, err)
	assert.Equal(t, 1, countOccurrences(result.HTML, "name=\"viewport\""))
}

func TestRewrite_PrependsSKUMeta(t *testing.T) {
	htmlSrc := `<html><head></head><body></body></html>`

	result, err := Rewrite(htmlSrc, fakeResolver{}, Options{PageURL: "https://example.com/", ProductSKU: "SKU-000001"})
	require.NoError(t, err)
	assert.Contains(t, result.HTML, `content="SKU-000001"`)
}

func TestLooksLikeDocument(t *testing.T) {
	assert.True(t, LooksLikeDocument(mustParseURL(t, "https://example.com/catalog/shoes")))
	assert.True(t, LooksLikeDocument(mustParseURL(t, "https://example.com/catalog?page=2")))
	assert.False(t, LooksLikeDocument(mustParseURL(t, "https://example.com/img/a.png")))
}

func TestBuildFallbackMap_StripsQuery(t *testing.T) {
	index := map[string]types.AssetRecord{
		"https://example.com/a.png?v=2": {RewriteTo: "assets/a.png"},
	}
	m := BuildFallbackMap(index, true)
	assert.Equal(t, "assets/a.png", m["https://example.com/a.png?v=2"])
	assert.Equal(t, "assets/a.png", m["https://example.com/a.png"])
}

func TestInjectShim_IsInsertedBeforeClosingBody(t *testing.T) {
	htmlDoc := "<html><body><p>hi</p></body></html>"
	out, err := InjectShim(htmlDoc, map[string]string{"https://a/b": "assets/b"})
	require.NoError(t, err)
	assert.Contains(t, out, "__OFFLINE_FALLBACK__")
	assert.True(t, indexOf(out, "<p>hi</p>") < indexOf(out, "__OFFLINE_FALLBACK__"))
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

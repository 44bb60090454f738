package samesite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifier_Exact(t *testing.T) {
	c, err := New([]string{"https://shop.example.com/"}, ModeExact, "")
	require.NoError(t, err)

	assert.True(t, c.IsSameSite("https://shop.example.com/cart"))
	assert.False(t, c.IsSameSite("http://shop.example.com/cart"), "different scheme is a different origin")
	assert.False(t, c.IsSameSite("https://www.shop.example.com/cart"))
}

func TestClassifier_Subdomains(t *testing.T) {
	c, err := New([]string{"https://shop.example.com/"}, ModeSubdomains, "")
	require.NoError(t, err)

	assert.True(t, c.IsSameSite("https://shop.example.com/cart"))
	assert.True(t, c.IsSameSite("https://www.shop.example.com/cart"))
	assert.False(t, c.IsSameSite("https://other.com/"))
}

func TestClassifier_Subdomains_IsSupersetOfExact(t *testing.T) {
	seeds := []string{"https://shop.example.com/"}
	exact, err := New(seeds, ModeExact, "")
	require.NoError(t, err)
	subs, err := New(seeds, ModeSubdomains, "")
	require.NoError(t, err)

	urls := []string{
		"https://shop.example.com/a",
		"https://www.shop.example.com/a",
		"https://other.com/a",
	}
	for _, u := range urls {
		if exact.IsSameSite(u) {
			assert.True(t, subs.IsSameSite(u), "subdomains mode must accept everything exact accepts: %s", u)
		}
	}
}

func TestClassifier_ETLD(t *testing.T) {
	c, err := New([]string{"https://shop.example.co.uk/"}, ModeETLD, "")
	require.NoError(t, err)

	assert.True(t, c.IsSameSite("https://shop.example.co.uk/p"))
	assert.True(t, c.IsSameSite("https://www.example.co.uk/p"), "shares apex example.co.uk")
	assert.False(t, c.IsSameSite("https://example.com/p"))
}

func TestClassifier_ExtraRegex(t *testing.T) {
	c, err := New([]string{"https://shop.example.com/"}, ModeExact, `cdn-\d+\.example\.net`)
	require.NoError(t, err)

	assert.True(t, c.IsSameSite("https://cdn-01.example.net/image.jpg"))
	assert.False(t, c.IsSameSite("https://cdn.example.net/image.jpg"))
}

func TestClassifier_ReflexiveOnSeeds(t *testing.T) {
	seeds := []string{"https://a.test/", "https://b.test/x"}
	for _, mode := range []Mode{ModeExact, ModeSubdomains, ModeETLD} {
		c, err := New(seeds, mode, "")
		require.NoError(t, err)
		for _, s := range seeds {
			assert.True(t, c.IsSameSite(s), "mode %s must be reflexive on its own seed %s", mode, s)
		}
	}
}

func TestClassifier_FailsClosedOnParseError(t *testing.T) {
	c, err := New([]string{"https://shop.example.com/"}, ModeSubdomains, "")
	require.NoError(t, err)

	assert.False(t, c.IsSameSite("://not a url"))
	assert.False(t, c.IsSameSite(""))
}

func TestClassifier_InvalidExtraRegex(t *testing.T) {
	_, err := New([]string{"https://shop.example.com/"}, ModeExact, "(unterminated")
	assert.Error(t, err)
}

// Package discovery implements the frontier-style BFS crawler that builds
// the link graph consent-resolved pages are captured from.
package discovery

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// anchorHrefPattern is the regex fallback used when DOM parsing of a
// page's HTML fails.
var anchorHrefPattern = regexp.MustCompile(`(?is)<a\b[^>]*\bhref\s*=\s*["']([^"']*)["'][^>]*>(.*?)</a>`)

var tagStripPattern = regexp.MustCompile(`(?is)<[^>]+>`)

// Anchor is one extracted (href, visible text) pair, still relative to the
// page it was found on.
type Anchor struct {
	Href string
	Text string
}

// ExtractAnchors parses htmlDoc's DOM for a[href] pairs. If DOM parsing
// fails outright, it falls back to a best-effort regex pass.
func ExtractAnchors(htmlDoc string) []Anchor {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlDoc))
	if err != nil {
		return extractAnchorsRegex(htmlDoc)
	}

	var anchors []Anchor
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		anchors = append(anchors, Anchor{Href: href, Text: strings.TrimSpace(s.Text())})
	})
	if len(anchors) == 0 {
		return extractAnchorsRegex(htmlDoc)
	}
	return anchors
}

func extractAnchorsRegex(htmlDoc string) []Anchor {
	matches := anchorHrefPattern.FindAllStringSubmatch(htmlDoc, -1)
	anchors := make([]Anchor, 0, len(matches))
	for _, m := range matches {
		text := strings.TrimSpace(tagStripPattern.ReplaceAllString(m[2], ""))
		anchors = append(anchors, Anchor{Href: m[1], Text: text})
	}
	return anchors
}

// ResolveAndStrip resolves href against base and strips any fragment,
// returning ok=false when href is not a resolvable http(s) link.
func ResolveAndStrip(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "tel:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

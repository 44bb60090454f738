// Package rewrite implements the HTML rewriter and offline shim: DOM-based
// (not regex) rewriting of asset attributes and same-site links, followed
// by injection of an inline script that lets captured pages run offline.
package rewrite

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/archivore/mirror/pkg/types"
)

// attrTargets lists, per tag, the attributes that may carry an asset or
// document URL worth rewriting.
var attrTargets = map[string][]string{
	"link":   {"href"},
	"script": {"src"},
	"img":    {"src", "data-src", "srcset"},
	"source": {"src", "srcset"},
	"iframe": {"src"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"a":      {"href"},
}

// PageResolver decides how to rewrite one absolute URL discovered in the
// page: into an asset's rewriteTo, a sibling page's relative path, or left
// untouched.
type PageResolver interface {
	// ResolveAsset looks up an already-captured asset by absolute URL.
	ResolveAsset(absURL string) (rec types.AssetRecord, ok bool)
	// ResolvePage decides the rewritten href for a same-site document-like
	// link; ok is false when the link should be left alone.
	ResolvePage(absURL string) (href string, ok bool)
}

// Options controls which rewrite passes run.
type Options struct {
	PageURL            string
	RewriteHTMLAssets  bool
	RewriteInternal    bool
	Mobile             bool
	ProductSKU         string
	OfflineFallback    bool
	OfflineStripQuery  bool
}

// Result is the rewritten document plus bookkeeping the caller records.
type Result struct {
	HTML          string
	AssetsRewritten int
	LinksRewritten  int
	Errors          []string
}

// Rewrite parses htmlSrc, rewrites asset and link attributes against
// resolver, optionally injects a mobile viewport meta tag and a
// `x-archived-sku` meta tag, and serializes the result back to HTML.
func Rewrite(htmlSrc string, resolver PageResolver, opts Options) (Result, error) {
	doc, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return Result{}, fmt.Errorf("parsing document: %w", err)
	}

	base, err := url.Parse(opts.PageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parsing page URL: %w", err)
	}

	res := &Result{}
	head := findElement(doc, "head")

	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		tag := strings.ToLower(n.Data)

		if opts.RewriteHTMLAssets {
			rewriteAssetAttrs(n, tag, base, resolver, res)
		}
		if opts.RewriteInternal && tag == "a" {
			rewriteAnchor(n, base, resolver, res)
		}
	})

	if opts.Mobile && head != nil && findElementInParent(head, "meta", "name", "viewport") == nil {
		prependViewportMeta(head)
	}

	if opts.ProductSKU != "" && head != nil {
		prependSKUMeta(head, opts.ProductSKU)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return Result{}, fmt.Errorf("serializing document: %w", err)
	}
	res.HTML = buf.String()
	return *res, nil
}

func rewriteAssetAttrs(n *html.Node, tag string, base *url.URL, resolver PageResolver, res *Result) {
	attrs, ok := attrTargets[tag]
	if !ok {
		return
	}
	for _, attrName := range attrs {
		if attrName == "href" && tag == "link" {
			rel := getAttr(n, "rel")
			if !isStylesheetOrIcon(rel) {
				continue
			}
		}
		idx := findAttrIndex(n, attrName)
		if idx == -1 {
			continue
		}
		if attrName == "srcset" {
			rewritten, changed := rewriteSrcset(n.Attr[idx].Val, base, resolver)
			if changed {
				n.Attr[idx].Val = rewritten
				res.AssetsRewritten++
			}
			continue
		}
		abs, err := resolveAbsolute(base, n.Attr[idx].Val)
		if err != nil {
			continue
		}
		if rec, ok := resolver.ResolveAsset(abs); ok {
			n.Attr[idx].Val = assetTarget(rec)
			res.AssetsRewritten++
		}
	}
}

func assetTarget(rec types.AssetRecord) string {
	if rec.InlineDataURI != "" {
		return rec.InlineDataURI
	}
	return rec.RewriteTo
}

func rewriteSrcset(value string, base *url.URL, resolver PageResolver) (string, bool) {
	tokens := strings.Split(value, ",")
	changed := false
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		parts := strings.Fields(tok)
		if len(parts) == 0 {
			continue
		}
		abs, err := resolveAbsolute(base, parts[0])
		if err != nil {
			continue
		}
		rec, ok := resolver.ResolveAsset(abs)
		if !ok {
			continue
		}
		parts[0] = assetTarget(rec)
		tokens[i] = strings.Join(parts, " ")
		changed = true
	}
	if !changed {
		return value, false
	}
	return strings.Join(tokens, ", "), true
}

func rewriteAnchor(n *html.Node, base *url.URL, resolver PageResolver, res *Result) {
	idx := findAttrIndex(n, "href")
	if idx == -1 {
		return
	}
	raw := n.Attr[idx].Val
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "javascript:") {
		return
	}
	abs, err := resolveAbsolute(base, raw)
	if err != nil {
		return
	}
	href, ok := resolver.ResolvePage(abs)
	if !ok {
		return
	}
	n.Attr[idx].Val = href
	res.LinksRewritten++
}

func resolveAbsolute(base *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return "", fmt.Errorf("not a resolvable URL")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func isStylesheetOrIcon(rel string) bool {
	rel = strings.ToLower(rel)
	return strings.Contains(rel, "stylesheet") || strings.Contains(rel, "icon") || rel == "preload" || rel == "manifest"
}

func prependViewportMeta(head *html.Node) {
	meta := &html.Node{
		Type: html.ElementNode,
		Data: "meta",
		Attr: []html.Attribute{
			{Key: "name", Val: "viewport"},
			{Key: "content", Val: "width=device-width, initial-scale=1"},
		},
	}
	if head.FirstChild != nil {
		head.InsertBefore(meta, head.FirstChild)
	} else {
		head.AppendChild(meta)
	}
}

func prependSKUMeta(head *html.Node, sku string) {
	meta := &html.Node{
		Type: html.ElementNode,
		Data: "meta",
		Attr: []html.Attribute{
			{Key: "name", Val: "x-archived-sku"},
			{Key: "content", Val: sku},
		},
	}
	if head.FirstChild != nil {
		head.InsertBefore(meta, head.FirstChild)
	} else {
		head.AppendChild(meta)
	}
}

// PageRel computes the page-relative path used when rewriting a same-site
// document link: "/" + rel + "/" + fragment.
func PageRel(rel, fragment string) string {
	out := "/" + strings.Trim(rel, "/") + "/"
	if fragment != "" {
		out += strings.TrimPrefix(fragment, "/")
	}
	return out
}

// LooksLikeDocument reports whether u's path has no file extension, or
// carries a query string — the heuristic used to decide whether an anchor
// points at a document-like page rather than a downloadable resource.
func LooksLikeDocument(u *url.URL) bool {
	if u.RawQuery != "" {
		return true
	}
	ext := path.Ext(u.Path)
	return ext == ""
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findElementInParent(parent *html.Node, tag, attrName, attrVal string) *html.Node {
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && strings.EqualFold(c.Data, tag) && strings.EqualFold(getAttr(c, attrName), attrVal) {
			return c
		}
		if found := findElementInParent(c, tag, attrName, attrVal); found != nil {
			return found
		}
	}
	return nil
}

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func findAttrIndex(n *html.Node, name string) int {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return i
		}
	}
	return -1
}

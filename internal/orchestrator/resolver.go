package orchestrator

import (
	"net/url"

	"github.com/archivore/mirror/internal/discovery/samesite"
	"github.com/archivore/mirror/internal/rewrite"
	"github.com/archivore/mirror/internal/urlutil"
)

// runResolver implements capture.PageResolver for one run (capture adapts it
// to rewrite.PageResolver): it decides same-site membership, the
// cross-origin mirroring policy, and the relative href a same-site
// document link rewrites to (the page's stub redirect path).
type runResolver struct {
	classifier         *samesite.Classifier
	mirrorCrossOrigin  bool
	preserveAssetPaths bool
	includeQueryInPath bool
}

func (r *runResolver) IsSameSite(absURL string) bool {
	return r.classifier.IsSameSite(absURL)
}

func (r *runResolver) MirrorCrossOrigin() bool  { return r.mirrorCrossOrigin }
func (r *runResolver) PreserveAssetPaths() bool { return r.preserveAssetPaths }

// ResolvePageHref implements capture.PageResolver; capture's adapter forwards
// rewrite's ResolvePage calls to it. It resolves a same-site, document-like link to its
// rel-level stub redirect path. Non-document links (images, downloads) and
// cross-site links are left untouched.
func (r *runResolver) ResolvePageHref(absURL string) (string, bool) {
	if !r.classifier.IsSameSite(absURL) {
		return "", false
	}

	u, err := url.Parse(absURL)
	if err != nil || !rewrite.LooksLikeDocument(u) {
		return "", false
	}

	rel := urlutil.PathKey(absURL, r.includeQueryInPath)
	return rewrite.PageRel(rel, ""), true
}

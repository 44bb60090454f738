// Package assets implements the per-page asset store and index: a
// content-addressed/path-preserving file store with an in-memory map from
// observed absolute asset URL to its local path and rewrite target.
package assets

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/archivore/mirror/pkg/types"
)

// extensionsByContentType is a small guess table used when a URL carries
// no file extension.
var extensionsByContentType = map[string]string{
	"text/css":               ".css",
	"application/javascript": ".js",
	"text/javascript":        ".js",
	"image/png":              ".png",
	"image/jpeg":             ".jpg",
	"image/gif":              ".gif",
	"image/webp":             ".webp",
	"image/svg+xml":          ".svg",
	"image/x-icon":           ".ico",
	"font/woff2":             ".woff2",
	"font/woff":              ".woff",
	"font/ttf":               ".ttf",
	"application/json":       ".json",
	"text/html":              ".html",
}

// Store is the per-capture-group asset index: shared between the profiles
// of a single URL, discarded after. Not safe to share across URLs.
type Store struct {
	mu        sync.Mutex
	outRoot   string
	index     map[string]types.AssetRecord
	maxBytes  int64
	inlineMax int64
	logger    *zap.Logger
}

// NewStore creates an empty asset store rooted at outRoot.
func NewStore(outRoot string, maxBytes, inlineMax int64, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		outRoot:   outRoot,
		index:     make(map[string]types.AssetRecord),
		maxBytes:  maxBytes,
		inlineMax: inlineMax,
		logger:    logger,
	}
}

// Decision is the path/rewrite-target pair decideAssetPath produces.
type Decision struct {
	LocalPath string
	RewriteTo string
}

// DecideAssetPath decides, given an absolute asset URL and the mirroring
// policy in effect, where the asset lives on disk and what the rewritten
// HTML should point to.
func DecideAssetPath(absURL string, sameSite bool, preserveAssetPaths, mirrorCrossOrigin bool, contentType string) (Decision, error) {
	u, err := url.Parse(absURL)
	if err != nil {
		return Decision{}, fmt.Errorf("invalid asset url %q: %w", absURL, err)
	}

	ext := guessExtension(u.Path, contentType)

	switch {
	case preserveAssetPaths && sameSite:
		local := strings.TrimPrefix(u.Path, "/")
		if local == "" {
			local = "index"
		}
		local = ensureExtension(local, ext)
		return Decision{LocalPath: local, RewriteTo: "/" + local}, nil

	case mirrorCrossOrigin && !sameSite:
		host := strings.ToLower(u.Hostname())
		local := path.Join("_ext", host, strings.TrimPrefix(u.Path, "/"))
		local = ensureExtension(local, ext)
		return Decision{LocalPath: local, RewriteTo: "/" + local}, nil

	default:
		sum := sha1.Sum([]byte(absURL))
		local := path.Join("assets", hex.EncodeToString(sum[:])[:16]+ext)
		return Decision{LocalPath: local, RewriteTo: local}, nil
	}
}

func guessExtension(urlPath, contentType string) string {
	if ext := filepath.Ext(urlPath); ext != "" && len(ext) <= 6 {
		return ext
	}
	base := contentType
	if idx := strings.Index(base, ";"); idx != -1 {
		base = base[:idx]
	}
	if ext, ok := extensionsByContentType[strings.TrimSpace(base)]; ok {
		return ext
	}
	return ".bin"
}

func ensureExtension(localPath, ext string) string {
	if filepath.Ext(localPath) != "" {
		return localPath
	}
	return localPath + ext
}

// Store records bytes observed at absURL, writing to disk, inlining as a
// data URI, or dropping the asset according to the store's byte caps.
// Subsequent observations of the same URL are no-ops (first writer wins).
func (s *Store) Store(absURL string, bytes []byte, contentType string, decision Decision) (types.AssetRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.index[absURL]; ok {
		return rec, false, nil
	}

	size := len(bytes)
	if int64(size) > s.maxBytes {
		s.logger.Debug("dropping oversized asset", zap.String("url", absURL), zap.Int("size", size))
		return types.AssetRecord{}, false, nil
	}

	rec := types.AssetRecord{
		AbsoluteURL: absURL,
		LocalPath:   decision.LocalPath,
		RewriteTo:   decision.RewriteTo,
		ContentType: contentType,
		Size:        size,
	}

	if int64(size) <= s.inlineMax && strings.HasPrefix(contentType, "image/") {
		rec.InlineDataURI = "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(bytes)
		s.index[absURL] = rec
		return rec, true, nil
	}

	fullPath := filepath.Join(s.outRoot, filepath.FromSlash(decision.LocalPath))
	if _, err := os.Stat(fullPath); err == nil {
		// Dedup: file already exists on disk, skip the write but still index it.
		s.index[absURL] = rec
		return rec, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return types.AssetRecord{}, false, fmt.Errorf("creating asset dir: %w", err)
	}
	if err := os.WriteFile(fullPath, bytes, 0o644); err != nil {
		return types.AssetRecord{}, false, fmt.Errorf("writing asset %s: %w", fullPath, err)
	}

	s.index[absURL] = rec
	return rec, true, nil
}

// Lookup returns the record for an already-observed URL, if any.
func (s *Store) Lookup(absURL string) (types.AssetRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.index[absURL]
	return rec, ok
}

// Len returns the number of distinct assets recorded.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Snapshot returns a copy of the index, keyed by the absolute URL as
// observed — used to build the offline shim's fallback map.
func (s *Store) Snapshot() map[string]types.AssetRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.AssetRecord, len(s.index))
	for k, v := range s.index {
		out[k] = v
	}
	return out
}

package urlutil

import (
	"net/url"
	"sort"
	"strings"
)

// PathKey derives the run-relative directory key for a URL: the path with
// trailing slashes stripped (empty path becomes "index"), optionally
// suffixed with a sorted "k_v__k_v" query slug when includeQuery is set.
// Keys are stable across equivalent URLs and safe as filesystem paths.
func PathKey(rawURL string, includeQuery bool) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "index"
	}

	p := strings.Trim(u.Path, "/")
	if p == "" {
		p = "index"
	}

	if includeQuery && u.RawQuery != "" {
		if slug := querySlug(u.Query()); slug != "" {
			p += "__" + slug
		}
	}

	return p
}

func querySlug(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, k+"_"+v)
		}
	}
	return strings.Join(parts, "__")
}

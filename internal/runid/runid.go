// Package runid derives the run directory identifier: host + date + a
// random suffix, sanitized into a safe path segment.
package runid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// MaxHostSlugLength bounds the sanitized host portion so a run ID never
	// produces an unreasonably long directory name.
	MaxHostSlugLength = 40
	// SuffixLength is the length of the random alphanumeric suffix.
	SuffixLength = 6
)

var (
	sanitizeRegex           = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// New derives a run ID from host: "{sanitized-host}-{YYYYMMDD}-{random6}".
// now is passed in explicitly (rather than taken from time.Now) so callers
// control the stamp.
func New(host string, now time.Time) string {
	slug := sanitizeHost(host)
	if slug == "" {
		slug = "run"
	}

	date := now.UTC().Format("20060102")
	return fmt.Sprintf("%s-%s-%s", slug, date, randomSuffix())
}

// NewULID returns a lexicographically sortable run identifier, useful when
// run directories must sort by creation order regardless of host name.
func NewULID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return now.UTC().Format("20060102T150405") + "-" + randomSuffix()
	}
	return strings.ToLower(id.String())
}

func sanitizeHost(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		host = host[:idx]
	}
	sanitized := sanitizeRegex.ReplaceAllString(host, "-")
	sanitized = consecutiveHyphensRegex.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")
	sanitized = strings.ToLower(sanitized)

	if len(sanitized) > MaxHostSlugLength {
		sanitized = sanitized[:MaxHostSlugLength]
	}
	return sanitized
}

func randomSuffix() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, SuffixLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			// crypto/rand failure is effectively unreachable; fall back to a
			// fixed, clearly-non-random marker rather than panicking.
			out[i] = alphabet[i%len(alphabet)]
			continue
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}

// Package samesite decides whether a URL belongs to the set of sites
// reachable from a list of seed URLs.
package samesite

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/archivore/mirror/internal/urlutil"
)

// Mode selects how same-site membership is decided.
type Mode string

const (
	ModeExact       Mode = "exact"
	ModeSubdomains  Mode = "subdomains"
	ModeETLD        Mode = "etld"
)

// multiLabelTLDs is a small built-in set of effective TLDs that need two
// trailing labels instead of one when computing a registrable domain.
var multiLabelTLDs = map[string]bool{
	"co.uk": true, "org.uk": true, "ac.uk": true, "gov.uk": true,
	"com.au": true, "net.au": true, "org.au": true,
	"co.jp": true, "ne.jp": true, "or.jp": true,
	"co.nz": true, "co.za": true, "co.in": true,
	"com.br": true, "com.mx": true, "com.cn": true,
	"co.kr": true, "com.sg": true, "com.hk": true,
}

// Classifier decides same-site membership for a fixed set of seeds.
type Classifier struct {
	mode       Mode
	origins    map[string]bool
	hosts      map[string]bool
	apexes     map[string]bool
	extraRegex *regexp.Regexp
}

// New builds a Classifier from seed URLs, a mode, and an optional extra
// host-matching regex (empty string disables it).
func New(seeds []string, mode Mode, extraHostRegex string) (*Classifier, error) {
	c := &Classifier{
		mode:    mode,
		origins: make(map[string]bool),
		hosts:   make(map[string]bool),
		apexes:  make(map[string]bool),
	}

	if extraHostRegex != "" {
		re, err := regexp.Compile(extraHostRegex)
		if err != nil {
			return nil, err
		}
		c.extraRegex = re
	}

	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(urlutil.ExtractHostname(u.Host))
		c.origins[strings.ToLower(u.Scheme)+"://"+strings.ToLower(u.Host)] = true
		c.hosts[host] = true
		c.apexes[apexDomain(host)] = true
	}

	return c, nil
}

// IsSameSite reports whether rawURL belongs to the seeded site(s) under
// the classifier's mode. Fails closed (false) on parse errors.
func (c *Classifier) IsSameSite(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	host := strings.ToLower(urlutil.ExtractHostname(u.Host))

	if c.extraRegex != nil && c.extraRegex.MatchString(host) {
		return true
	}

	switch c.mode {
	case ModeExact:
		origin := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
		return c.origins[origin]
	case ModeETLD:
		return c.apexes[apexDomain(host)]
	case ModeSubdomains:
		fallthrough
	default:
		for seedHost := range c.hosts {
			if host == seedHost || strings.HasSuffix(host, "."+seedHost) {
				return true
			}
		}
		return false
	}
}

// apexDomain computes the registrable (effective TLD+1) domain for a
// hostname, using the multi-label TLD set for the handful of suffixes
// that need two trailing labels.
func apexDomain(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}

	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if len(labels) >= 3 && multiLabelTLDs[lastTwo] {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

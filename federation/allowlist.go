package federation

import (
	"net/url"
	"strings"
)

// Allowlist restricts which endpoints a fetcher may contact, per spec
// §4.7: "Per-tier endpoint allowlists support exact match, port wildcard
// (https://host:*), subdomain wildcard (https://*.domain.com), and
// combined wildcards. Unlisted peers are silently skipped."
type Allowlist struct {
	entries []allowEntry
}

type allowEntry struct {
	scheme       string
	hostPattern  string // may start with "*." for subdomain wildcard
	portWildcard bool
	port         string // empty means "use scheme default"
}

// NewAllowlist returns an empty allowlist (nothing is allowed until
// entries are added - spec's "unlisted peers are silently skipped"
// applies to the empty set too).
func NewAllowlist() *Allowlist {
	return &Allowlist{}
}

// Add parses one allowlist pattern, such as "https://*.example.com",
// "https://cache01.example.com:*", or "http://leaf-7:8080", and adds it.
func (a *Allowlist) Add(pattern string) error {
	// url.Parse rejects a non-numeric port, so a trailing ":*" port
	// wildcard is stripped before parsing.
	portWildcard := strings.HasSuffix(pattern, ":*")
	u, err := url.Parse(strings.TrimSuffix(pattern, ":*"))
	if err != nil {
		return err
	}
	host := u.Hostname()
	e := allowEntry{scheme: u.Scheme, hostPattern: strings.ToLower(host)}
	if portWildcard {
		e.portWildcard = true
	} else {
		e.port = u.Port()
	}
	a.entries = append(a.entries, e)
	return nil
}

// defaultPort returns the implied port for scheme when none is given:
// HTTPS -> 443, HTTP -> 80, per spec §4.7.
func defaultPort(scheme string) string {
	if strings.EqualFold(scheme, "https") {
		return "443"
	}
	return "80"
}

// Allows reports whether endpoint matches any entry in the allowlist.
func (a *Allowlist) Allows(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = defaultPort(u.Scheme)
	}
	for _, e := range a.entries {
		if !strings.EqualFold(e.scheme, u.Scheme) {
			continue
		}
		if !hostMatches(e.hostPattern, host) {
			continue
		}
		if e.portWildcard {
			return true
		}
		wantPort := e.port
		if wantPort == "" {
			wantPort = defaultPort(e.scheme)
		}
		if wantPort == port {
			return true
		}
	}
	return false
}

// hostMatches compares a possibly-wildcarded pattern ("*.example.com")
// against a concrete lowercase host.
func hostMatches(pattern, host string) bool {
	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}
	suffix := pattern[1:] // ".example.com"
	return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
}

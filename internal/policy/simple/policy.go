// Package simple contains a host-allowlist fetch policy.
package simple

import (
	"net/url"
	"strings"
)

// Policy restricts fetches to a set of allowed hosts. An empty set
// allows everything.
type Policy struct {
	hosts map[string]struct{}
}

// New creates a Policy from raw URLs or bare hostnames. Unparseable
// entries are ignored.
func New(allowed ...string) *Policy {
	hosts := make(map[string]struct{}, len(allowed))
	for _, entry := range allowed {
		if h := hostname(entry); h != "" {
			hosts[h] = struct{}{}
		}
	}
	return &Policy{hosts: hosts}
}

// AllowFetch reports whether the URL's host is in the allowlist.
func (p *Policy) AllowFetch(rawURL string) bool {
	if len(p.hosts) == 0 {
		return true
	}
	_, ok := p.hosts[hostname(rawURL)]
	return ok
}

func hostname(entry string) string {
	s := strings.TrimSpace(entry)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

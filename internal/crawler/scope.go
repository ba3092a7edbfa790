package crawler

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Scope decides which discovered URLs belong to the crawl. By default the
// subdomain, hostname and TLD of the start URL must all match.
type Scope struct {
	ProtocolMustMatch bool
	OtherSubdomains   bool
	OtherHostnames    bool
	OtherTLDs         bool

	base     *url.URL
	baseHost hostParts
}

// hostParts splits www.example.co.uk into www, example and co.uk.
type hostParts struct {
	subdomain string
	hostname  string
	tld       string
}

func splitHost(host string) hostParts {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if net.ParseIP(host) != nil {
		return hostParts{hostname: host}
	}

	registered, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// localhost and other single-label names
		return hostParts{hostname: host}
	}

	suffix, _ := publicsuffix.PublicSuffix(host)
	return hostParts{
		subdomain: strings.TrimSuffix(strings.TrimSuffix(host, registered), "."),
		hostname:  strings.TrimSuffix(registered, "."+suffix),
		tld:       suffix,
	}
}

// NewScope creates a Scope anchored at base.
func NewScope(base *url.URL, protocolMustMatch, otherSubdomains, otherHostnames, otherTLDs bool) *Scope {
	return &Scope{
		ProtocolMustMatch: protocolMustMatch,
		OtherSubdomains:   otherSubdomains,
		OtherHostnames:    otherHostnames,
		OtherTLDs:         otherTLDs,
		base:              base,
		baseHost:          splitHost(base.Hostname()),
	}
}

// Contains reports whether u may be crawled.
func (s *Scope) Contains(u *url.URL) bool {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if s.ProtocolMustMatch && u.Scheme != s.base.Scheme {
		return false
	}

	target := splitHost(u.Hostname())
	if !s.OtherSubdomains && target.subdomain != s.baseHost.subdomain {
		return false
	}
	if !s.OtherHostnames && target.hostname != s.baseHost.hostname {
		return false
	}
	if !s.OtherTLDs && target.tld != s.baseHost.tld {
		return false
	}
	return true
}

package crawler

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrInvalidURL is returned when a URL cannot be mapped to a server.
var ErrInvalidURL = errors.New("invalid url")

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// DomainKey derives the canonical scheme://host:port key for rawURL. The
// port is always present, filled from the scheme default when omitted.
func DomainKey(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	defaultPort, ok := defaultPorts[scheme]
	if !ok {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawURL)
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return scheme + "://" + net.JoinHostPort(host, port), nil
}

// RobotsURL returns the robots.txt location for a domain key.
func RobotsURL(domainKey string) string {
	return strings.TrimSuffix(domainKey, "/") + "/robots.txt"
}

// PaidLevelDomain returns the registrable domain of host (example.co.uk for
// www.shop.example.co.uk). IP literals and hosts without a known suffix are
// returned lower-cased as-is.
func PaidLevelDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	pld, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return pld
}

// SiteLabel reduces a URL or domain key to its paid-level domain, or
// "unknown" when it cannot be parsed. It keeps metric label cardinality low.
func SiteLabel(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return PaidLevelDomain(u.Hostname())
}

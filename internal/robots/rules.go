// Package robots turns robots.txt content, or the HTTP status returned when
// fetching it, into a reusable RuleSet.
//
// Rules are matched first-match in file order, not longest-prefix: a path is
// governed by the first rule whose prefix it starts with.
package robots

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

// DefaultCrawlDelay applies when robots.txt does not name one.
const DefaultCrawlDelay = 30 * time.Second

type rule struct {
	prefix string
	allow  bool
}

// RuleSet is the parsed outcome for one server. It is immutable once built
// and safe for concurrent use.
type RuleSet struct {
	rules         []rule
	crawlDelay    time.Duration
	explicitDelay bool
	deferVisits   bool
}

func allOrNone(allow bool, crawlDelay time.Duration) *RuleSet {
	return &RuleSet{
		rules:      []rule{{prefix: "/", allow: allow}},
		crawlDelay: crawlDelay,
	}
}

// CrawlDelay is the minimum spacing between requests to the server.
func (r *RuleSet) CrawlDelay() time.Duration { return r.crawlDelay }

// HasExplicitCrawlDelay reports whether robots.txt set the crawl delay.
func (r *RuleSet) HasExplicitCrawlDelay() bool { return r.explicitDelay }

// DeferVisits reports that the server is temporarily unusable.
func (r *RuleSet) DeferVisits() bool { return r.deferVisits }

// AllowAll reports whether every path is allowed without walking the rules.
func (r *RuleSet) AllowAll() bool {
	switch len(r.rules) {
	case 0:
		return true
	case 1:
		return r.rules[0].allow
	default:
		return false
	}
}

// AllowNone reports whether the set is the single ("/", disallow) rule.
func (r *RuleSet) AllowNone() bool {
	return len(r.rules) == 1 && !r.rules[0].allow && r.rules[0].prefix == "/"
}

// Len returns the number of rules.
func (r *RuleSet) Len() int { return len(r.rules) }

// IsAllowed reports whether rawURL may be fetched. /robots.txt is always
// allowed. Malformed URLs return an error wrapping crawler.ErrInvalidURL.
func (r *RuleSet) IsAllowed(rawURL string) (bool, error) {
	path, err := urlPath(rawURL)
	if err != nil {
		return false, err
	}
	if strings.EqualFold(path, "/robots.txt") {
		return true, nil
	}
	if r.AllowAll() {
		return true, nil
	}
	if r.AllowNone() {
		return false, nil
	}
	path = strings.ToLower(path)
	for _, rl := range r.rules {
		if strings.HasPrefix(path, rl.prefix) {
			return rl.allow, nil
		}
	}
	return true, nil
}

func urlPath(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", crawler.ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", crawler.ErrInvalidURL, rawURL)
	}
	// u.Path is already percent-decoded.
	if u.Path == "" {
		return "/", nil
	}
	return u.Path, nil
}

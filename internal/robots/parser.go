package robots

import (
	"errors"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	userAgentField  = "user-agent:"
	disallowField   = "disallow:"
	allowField      = "allow:"
	crawlDelayField = "crawl-delay:"
)

// maxCrawlDelaySeconds is the longest crawl delay a time.Duration holds.
const maxCrawlDelaySeconds = math.MaxInt64 / int64(time.Second)

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// Parser builds RuleSets for one robot name. The zero value is usable.
type Parser struct {
	// DefaultCrawlDelay is used when robots.txt names none. Zero means
	// DefaultCrawlDelay.
	DefaultCrawlDelay time.Duration
	Logger            *zap.Logger
}

// Parse parses raw robots.txt content for agentName with default settings.
func Parse(agentName string, content []byte) *RuleSet {
	return Parser{}.Parse(agentName, content)
}

func (p Parser) defaultDelay() time.Duration {
	if p.DefaultCrawlDelay > 0 {
		return p.DefaultCrawlDelay
	}
	return DefaultCrawlDelay
}

func (p Parser) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Parse parses raw robots.txt content. Only the section for agentName (or,
// failing a real-name match, the first wildcard section) is kept. Parsing
// never fails; unusable lines are skipped.
func (p Parser) Parse(agentName string, content []byte) *RuleSet {
	delay := p.defaultDelay()
	if len(content) == 0 {
		return allOrNone(true, delay)
	}
	b := &sectionBuilder{
		target:     strings.ToLower(agentName),
		crawlDelay: delay,
		log:        p.logger(),
	}
	for _, line := range splitLines(string(content)) {
		if !b.feed(normalizeLine(line)) {
			break
		}
	}
	return b.build()
}

func splitLines(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		switch r {
		case '\n', '\r', '\u0085', '\u2028', '\u2029':
			return true
		}
		return false
	})
}

func normalizeLine(line string) string {
	line = htmlTag.ReplaceAllString(line, "")
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.ToLower(strings.TrimSpace(line))
}

// sectionBuilder holds the per-parse state. A fresh one is used for every
// Parse call.
type sectionBuilder struct {
	target string
	log    *zap.Logger

	rules         []rule
	crawlDelay    time.Duration
	explicitDelay bool

	// preambleDelay is a crawl-delay seen before any user-agent line.
	preambleDelay    time.Duration
	hasPreambleDelay bool
	sawAgent         bool

	matchedRealName     bool
	matchedWildcard     bool
	addingRules         bool
	finishedAgentFields bool
}

// feed consumes one normalized line and reports whether parsing continues.
func (b *sectionBuilder) feed(line string) bool {
	switch {
	case line == "":
	case strings.HasPrefix(line, userAgentField):
		return b.userAgent(strings.TrimSpace(line[len(userAgentField):]))
	case strings.HasPrefix(line, disallowField):
		b.pathRule(strings.TrimSpace(line[len(disallowField):]), false)
	case strings.HasPrefix(line, allowField):
		b.pathRule(strings.TrimSpace(line[len(allowField):]), true)
	case strings.HasPrefix(line, crawlDelayField):
		b.delay(strings.TrimSpace(line[len(crawlDelayField):]))
	case strings.Contains(line, ":"):
		b.finishedAgentFields = true
	}
	return true
}

func (b *sectionBuilder) userAgent(value string) bool {
	b.sawAgent = true
	if b.matchedRealName {
		// Once a real name matched, the next agent line after its rules
		// ends our section.
		return !b.finishedAgentFields
	}
	if b.finishedAgentFields {
		b.finishedAgentFields = false
		b.addingRules = false
	}
	for _, name := range strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	}) {
		if strings.Contains(b.target, name) {
			b.matchedRealName = true
			b.addingRules = true
			// Drop anything collected under a wildcard section.
			b.rules = nil
			return true
		}
		if name == "*" && !b.matchedWildcard {
			b.matchedWildcard = true
			b.addingRules = true
		}
	}
	return true
}

func (b *sectionBuilder) pathRule(path string, allow bool) {
	b.finishedAgentFields = true
	if !b.addingRules {
		return
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	} else {
		b.log.Debug("robots: keeping undecodable path", zap.String("path", path), zap.Error(err))
	}
	if path == "" {
		// An empty Allow/Disallow opens the whole site.
		b.rules = b.rules[:0]
		return
	}
	b.rules = append(b.rules, rule{prefix: path, allow: allow})
}

func (b *sectionBuilder) delay(value string) {
	b.finishedAgentFields = true
	if !b.addingRules && b.sawAgent {
		return
	}
	if value == "" {
		return
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if errors.Is(err, strconv.ErrRange) && seconds > 0 {
		err = nil
	}
	if err != nil || seconds < 0 {
		b.log.Debug("robots: ignoring crawl-delay", zap.String("value", value), zap.Error(err))
		return
	}
	if seconds > maxCrawlDelaySeconds {
		b.log.Debug("robots: clamping crawl-delay", zap.String("value", value))
		seconds = maxCrawlDelaySeconds
	}
	d := time.Duration(seconds) * time.Second
	if !b.sawAgent {
		b.preambleDelay = d
		b.hasPreambleDelay = true
		return
	}
	b.crawlDelay = d
	b.explicitDelay = true
}

func (b *sectionBuilder) build() *RuleSet {
	rs := &RuleSet{
		rules:         append([]rule(nil), b.rules...),
		crawlDelay:    b.crawlDelay,
		explicitDelay: b.explicitDelay,
	}
	if !b.explicitDelay && b.hasPreambleDelay {
		rs.crawlDelay = b.preambleDelay
		rs.explicitDelay = true
	}
	return rs
}

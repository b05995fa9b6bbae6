// Package gate acquires robots.txt once per server and classifies every URL
// as allowed (and scored), blocked, errored or deferred.
package gate

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/politefetch/internal/clock/system"
	"github.com/JakeFAU/politefetch/internal/crawler"
	"github.com/JakeFAU/politefetch/internal/metrics"
	"github.com/JakeFAU/politefetch/internal/robots"
)

// Robots rule origins reported to crawler.Metrics.
const (
	RobotsParsed      = "parsed"
	RobotsHTTPStatus  = "http_status"
	RobotsRedirect    = "redirect"
	RobotsUnreachable = "unreachable"
)

// redirectLimitStatus stands in for a redirect chain that never settled.
const redirectLimitStatus = http.StatusMultipleChoices

// Result is the outcome of classification. Domains hold only allowed URLs
// under normal keys; Terminal holds everything else with its key assigned.
type Result struct {
	Domains  []crawler.DomainGroup
	Terminal []crawler.URLRecord
}

// Gate classifies URL groups against their server's robots rules.
type Gate struct {
	fetcher crawler.Fetcher
	parser  robots.Parser
	scorer  crawler.Scorer
	metrics crawler.Metrics
	clock   crawler.Clock
	logger  *zap.Logger
}

// New builds a Gate. A nil scorer scores every URL crawler.DefaultScore.
func New(
	fetcher crawler.Fetcher,
	parser robots.Parser,
	scorer crawler.Scorer,
	m crawler.Metrics,
	logger *zap.Logger,
) *Gate {
	if m == nil {
		m = metrics.Nop{}
	}
	if scorer == nil {
		scorer = crawler.ScoreFunc(func(crawler.URLRecord) float64 { return crawler.DefaultScore })
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if parser.Logger == nil {
		parser.Logger = logger
	}
	return &Gate{
		fetcher: fetcher,
		parser:  parser,
		scorer:  scorer,
		metrics: m,
		clock:   system.New(),
		logger:  logger.Named("gate"),
	}
}

// WithClock sets the clock used to stamp robots.txt requests.
func (g *Gate) WithClock(c crawler.Clock) *Gate {
	if c != nil {
		g.clock = c
	}
	return g
}

type domainResult struct {
	group    crawler.DomainGroup
	terminal []crawler.URLRecord
}

// Classify resolves robots rules for each normal group, at most
// fetcher.MaxConnections() at a time, and classifies every record. Output
// order follows group order. Failures are absorbed into dispositions, so
// Classify itself never fails.
func (g *Gate) Classify(ctx context.Context, groups []crawler.URLGroup) Result {
	results := make([]domainResult, len(groups))

	var eg errgroup.Group
	eg.SetLimit(max(1, g.fetcher.MaxConnections()))
	for i, group := range groups {
		if !group.Key.IsTerminal() && group.Key.Domain() != "" {
			eg.Go(func() error {
				results[i] = g.classifyDomain(ctx, group)
				return nil
			})
			continue
		}
		results[i] = passThrough(group)
	}
	_ = eg.Wait()

	var out Result
	for _, r := range results {
		if len(r.group.URLs) > 0 {
			out.Domains = append(out.Domains, r.group)
		}
		out.Terminal = append(out.Terminal, r.terminal...)
	}
	return out
}

// ClassifyRecords groups records by domain and classifies them.
func (g *Gate) ClassifyRecords(ctx context.Context, records []crawler.URLRecord) Result {
	return g.Classify(ctx, GroupByDomain(records))
}

// passThrough handles terminal and unassigned groups without touching the
// network.
func passThrough(group crawler.URLGroup) domainResult {
	key := group.Key
	if key.IsZero() {
		key = crawler.Errored
	}
	out := domainResult{terminal: make([]crawler.URLRecord, 0, len(group.Records))}
	for _, rec := range group.Records {
		rec.GroupKey = key
		out.terminal = append(out.terminal, rec)
	}
	return out
}

func (g *Gate) classifyDomain(ctx context.Context, group crawler.URLGroup) domainResult {
	domain := group.Key.Domain()
	rules := g.acquire(ctx, domain)
	// Stamped after the fetch so robots.txt retries count too.
	fetchedAt := g.clock.Now()
	g.metrics.DomainProcessed()

	out := domainResult{group: crawler.DomainGroup{
		Key:             group.Key,
		CrawlDelay:      rules.CrawlDelay(),
		RobotsFetchedAt: fetchedAt,
	}}
	for _, rec := range group.Records {
		key, ok := g.classifyURL(rules, group.Key, rec)
		if !ok {
			rec.GroupKey = key
			out.terminal = append(out.terminal, rec)
			continue
		}
		rec.GroupKey = group.Key
		out.group.URLs = append(out.group.URLs, crawler.ScoredURL{
			URLRecord: rec,
			Score:     g.scorer.Score(rec),
		})
	}
	g.logger.Debug("domain classified",
		zap.String("domain", domain),
		zap.Int("allowed", len(out.group.URLs)),
		zap.Int("resolved", len(out.terminal)),
		zap.Bool("deferred", rules.DeferVisits()),
		zap.Duration("crawl_delay", rules.CrawlDelay()),
	)
	return out
}

// classifyURL returns the terminal key for rec, or ok=true when rec may be
// fetched under domainKey.
func (g *Gate) classifyURL(rules *robots.RuleSet, domainKey crawler.GroupingKey, rec crawler.URLRecord) (crawler.GroupingKey, bool) {
	if rec.GroupKey.IsTerminal() {
		return rec.GroupKey, false
	}
	if d, err := crawler.DomainKey(rec.URL); err != nil || d != domainKey.Domain() {
		return crawler.Errored, false
	}
	if rules.DeferVisits() {
		return crawler.Deferred, false
	}
	allowed, err := rules.IsAllowed(rec.URL)
	if err != nil {
		return crawler.Errored, false
	}
	if !allowed {
		return crawler.Blocked, false
	}
	return crawler.GroupingKey{}, true
}

// acquire fetches and interprets robots.txt for domain.
func (g *Gate) acquire(ctx context.Context, domain string) *robots.RuleSet {
	robotsURL := crawler.RobotsURL(domain)
	outcome := g.fetcher.Fetch(ctx, robotsURL)

	var (
		status int
		kind   string
	)
	switch o := outcome.(type) {
	case *crawler.Fetched:
		if o.HTTPStatus == 0 || (o.HTTPStatus >= 200 && o.HTTPStatus < 300) {
			g.metrics.RobotsResolved(RobotsParsed)
			return g.parser.Parse(g.fetcher.UserAgent(), o.Body)
		}
		status, kind = o.HTTPStatus, RobotsHTTPStatus
	case *crawler.Failed:
		switch {
		case o.Kind == crawler.KindRedirect:
			status, kind = redirectLimitStatus, RobotsRedirect
		case o.HTTPStatus != 0:
			status, kind = o.HTTPStatus, RobotsHTTPStatus
		default:
			status, kind = http.StatusServiceUnavailable, RobotsUnreachable
		}
		g.logger.Debug("robots fetch failed",
			zap.String("url", robotsURL),
			zap.String("kind", string(o.Kind)),
			zap.Int("http_status", o.HTTPStatus),
			zap.String("detail", o.Detail),
		)
	default:
		status, kind = http.StatusServiceUnavailable, RobotsUnreachable
	}
	// A 2xx from a failure path (e.g. a rejected mime type) cannot be
	// synthesized into rules; treat the server as temporarily unusable.
	if status >= 200 && status < 300 {
		status, kind = http.StatusServiceUnavailable, RobotsUnreachable
	}
	rules, err := g.parser.FromStatusCode(status)
	if err != nil {
		g.logger.Warn("robots status synthesis failed", zap.String("url", robotsURL), zap.Error(err))
		rules, _ = g.parser.FromStatusCode(http.StatusServiceUnavailable)
	}
	g.metrics.RobotsResolved(kind)
	return rules
}

// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"mime"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

const (
	defaultTimeout        = 15 * time.Second
	defaultMaxConnections = 32
	defaultMaxBodyBytes   = 10 * 1024 * 1024
	defaultUserAgent      = "politefetch/1.0"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	MaxConnections int
	Timeout        time.Duration
	MaxBodyBytes   int
	// ValidMimeTypes limits which content types are downloaded. Empty accepts
	// everything. robots.txt requests are never filtered.
	ValidMimeTypes []string
}

// Fetcher implements crawler.Fetcher using a fresh Colly collector per request.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Zero config values fall back to defaults.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := newHTTPTransport(cfg.MaxConnections)
	return &Fetcher{
		cfg:       cfg,
		transport: &robotsRetryTransport{base: base, logger: logger},
		logger:    logger,
	}
}

// UserAgent reports the agent string sent with every request.
func (f *Fetcher) UserAgent() string { return f.cfg.UserAgent }

// MaxConnections reports how many requests may be in flight at once.
func (f *Fetcher) MaxConnections() int { return f.cfg.MaxConnections }

// Fetch executes a single HTTP GET. It never returns nil.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) crawler.FetchOutcome {
	state := &fetchState{
		url:       rawURL,
		start:     time.Now(),
		checkMime: len(f.cfg.ValidMimeTypes) > 0 && !isRobotsTxtURL(rawURL),
		valid:     f.cfg.ValidMimeTypes,
	}
	collector := f.buildCollector(ctx, state)
	outcome := f.runCollector(ctx, collector, rawURL, state)
	if failed, ok := outcome.(*crawler.Failed); ok {
		f.logger.Debug("fetch failed",
			zap.String("url", rawURL),
			zap.String("kind", string(failed.Kind)),
			zap.Int("http_status", failed.HTTPStatus),
			zap.String("detail", failed.Detail),
		)
	}
	return outcome
}

// fetchState collects what the collector callbacks observe for one request.
type fetchState struct {
	url       string
	start     time.Time
	checkMime bool
	valid     []string

	hostAddress string
	outcome     crawler.FetchOutcome
	err         error
}

func (f *Fetcher) buildCollector(ctx context.Context, state *fetchState) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
		colly.UserAgent(f.cfg.UserAgent),
		colly.StdlibContext(ctx),
	)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(&addressTransport{base: f.transport, state: state})
	configureCollectorHooks(collector, state)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnResponseHeaders(func(r *colly.Response) {
		if !state.checkMime || !isSuccess(r.StatusCode) {
			return
		}
		mimeType := mimeTypeOf(r.Headers)
		if slices.Contains(state.valid, mimeType) {
			return
		}
		state.outcome = &crawler.Failed{
			Kind:       crawler.KindInvalidMimeType,
			Detail:     "content type " + quoteOrEmpty(mimeType) + " is not accepted",
			HTTPStatus: r.StatusCode,
		}
		r.Request.Abort()
	})

	hooks.OnResponse(func(r *colly.Response) {
		if !isSuccess(r.StatusCode) {
			state.outcome = &crawler.Failed{
				Kind:       crawler.KindHTTPStatus,
				Detail:     http.StatusText(r.StatusCode),
				HTTPStatus: r.StatusCode,
			}
			return
		}
		finalURL := state.url
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		state.outcome = &crawler.Fetched{
			URL:           finalURL,
			Headers:       headers,
			Body:          append([]byte(nil), r.Body...),
			HostAddress:   state.hostAddress,
			HTTPStatus:    r.StatusCode,
			MimeType:      mimeTypeOf(r.Headers),
			FetchDuration: time.Since(state.start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, state *fetchState) crawler.FetchOutcome {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return classifyError(ctx.Err())
	case err := <-done:
		// A mime rejection aborts the transfer after the headers, which
		// colly reports as an error.
		if state.outcome != nil {
			return state.outcome
		}
		if err == nil {
			err = state.err
		}
		if err == nil {
			return &crawler.Failed{Kind: crawler.KindInvalidResponse, Detail: "no response received"}
		}
		if ctx.Err() != nil {
			return classifyError(ctx.Err())
		}
		return classifyError(err)
	}
}

// classifyError maps transport errors onto exception kinds.
func classifyError(err error) *crawler.Failed {
	detail := err.Error()
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.Canceled):
		return &crawler.Failed{Kind: crawler.KindInterrupted, Detail: detail}
	case errors.Is(err, context.DeadlineExceeded):
		return &crawler.Failed{Kind: crawler.KindTimeout, Detail: detail}
	case errors.Is(err, colly.ErrMissingURL):
		return &crawler.Failed{Kind: crawler.KindInvalidURL, Detail: detail}
	case strings.Contains(detail, "redirect"):
		return &crawler.Failed{Kind: crawler.KindRedirect, Detail: detail}
	case errors.As(err, &urlErr) && urlErr.Op == "parse":
		return &crawler.Failed{Kind: crawler.KindInvalidURL, Detail: detail}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &crawler.Failed{Kind: crawler.KindTimeout, Detail: detail}
	}
	if strings.Contains(detail, "unsupported protocol scheme") || strings.Contains(detail, "no Host in request URL") {
		return &crawler.Failed{Kind: crawler.KindInvalidURL, Detail: detail}
	}
	return &crawler.Failed{Kind: crawler.KindConnection, Detail: detail}
}

// addressTransport records the remote address of the connection that served
// the request.
type addressTransport struct {
	base  http.RoundTripper
	state *fetchState
}

func (t *addressTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn == nil {
				return
			}
			if tcp, ok := info.Conn.RemoteAddr().(*net.TCPAddr); ok {
				t.state.hostAddress = tcp.IP.String()
				return
			}
			t.state.hostAddress = info.Conn.RemoteAddr().String()
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	return t.base.RoundTrip(req) //nolint:wrapcheck // errors are classified by the caller
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func mimeTypeOf(headers *http.Header) string {
	if headers == nil {
		return ""
	}
	raw := headers.Get("Content-Type")
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(raw, ";")[0]))
	}
	return mediaType
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return "(none)"
	}
	return `"` + s + `"`
}

func newHTTPTransport(maxConnections int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          maxConnections * 2,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
}

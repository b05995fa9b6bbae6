package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var agent atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>hello</html>"))
	})
	mux.HandleFunc("/doc.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private"))
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &agent
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv, agent := newTestServer(t)
	f := New(Config{UserAgent: "test-agent/1.0"}, nil)

	outcome := f.Fetch(context.Background(), srv.URL+"/page")
	fetched, ok := outcome.(*crawler.Fetched)
	require.True(t, ok, "expected Fetched, got %#v", outcome)
	require.Equal(t, http.StatusOK, fetched.HTTPStatus)
	require.Equal(t, "text/html", fetched.MimeType)
	require.Equal(t, "<html>hello</html>", string(fetched.Body))
	require.Equal(t, "127.0.0.1", fetched.HostAddress)
	require.Equal(t, srv.URL+"/page", fetched.URL)
	require.Equal(t, "test-agent/1.0", agent.Load())
	require.Positive(t, fetched.FetchDuration)
}

func TestFetchHTTPErrorStatus(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{}, nil)

	outcome := f.Fetch(context.Background(), srv.URL+"/missing")
	failed, ok := outcome.(*crawler.Failed)
	require.True(t, ok, "expected Failed, got %#v", outcome)
	require.Equal(t, crawler.KindHTTPStatus, failed.Kind)
	require.Equal(t, http.StatusNotFound, failed.HTTPStatus)
	require.Equal(t, crawler.StatusErrorHTTPNotFound, failed.Status())
}

func TestFetchRejectsUnacceptedMimeType(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{ValidMimeTypes: []string{"text/html"}}, nil)

	outcome := f.Fetch(context.Background(), srv.URL+"/doc.pdf")
	failed, ok := outcome.(*crawler.Failed)
	require.True(t, ok, "expected Failed, got %#v", outcome)
	require.Equal(t, crawler.KindInvalidMimeType, failed.Kind)
	require.Equal(t, crawler.StatusAbortedInvalidMimeType, failed.Status())

	outcome = f.Fetch(context.Background(), srv.URL+"/page")
	_, ok = outcome.(*crawler.Fetched)
	require.True(t, ok, "expected html to pass the filter, got %#v", outcome)
}

func TestFetchRobotsTxtBypassesMimeFilter(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{ValidMimeTypes: []string{"text/html"}}, nil)

	outcome := f.Fetch(context.Background(), srv.URL+"/robots.txt")
	fetched, ok := outcome.(*crawler.Fetched)
	require.True(t, ok, "expected Fetched, got %#v", outcome)
	require.Equal(t, "text/plain", fetched.MimeType)
}

func TestFetchRedirectLoop(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{}, nil)

	outcome := f.Fetch(context.Background(), srv.URL+"/loop")
	failed, ok := outcome.(*crawler.Failed)
	require.True(t, ok, "expected Failed, got %#v", outcome)
	require.Equal(t, crawler.StatusErrorTooManyRedirects, failed.Status())
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{Timeout: 50 * time.Millisecond}, nil)

	outcome := f.Fetch(context.Background(), srv.URL+"/slow")
	failed, ok := outcome.(*crawler.Failed)
	require.True(t, ok, "expected Failed, got %#v", outcome)
	require.Equal(t, crawler.KindTimeout, failed.Kind)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := f.Fetch(ctx, srv.URL+"/page")
	failed, ok := outcome.(*crawler.Failed)
	require.True(t, ok, "expected Failed, got %#v", outcome)
	require.Equal(t, crawler.KindInterrupted, failed.Kind)
}

func TestFetcherDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	require.Equal(t, defaultUserAgent, f.UserAgent())
	require.Equal(t, defaultMaxConnections, f.MaxConnections())

	f = New(Config{UserAgent: "bot", MaxConnections: 4}, nil)
	require.Equal(t, "bot", f.UserAgent())
	require.Equal(t, 4, f.MaxConnections())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	state := &fetchState{
		url:       "https://example.com/page",
		start:     time.Now(),
		checkMime: true,
		valid:     []string{"text/html"},
	}
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, state)
	require.NotNil(t, hooks.onResponseHeaders)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponseHeaders(&colly.Response{
		StatusCode: http.StatusOK,
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/page")},
	})
	require.Nil(t, state.outcome)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}, "X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	fetched, ok := state.outcome.(*crawler.Fetched)
	require.True(t, ok)
	require.Equal(t, "https://example.com/final", fetched.URL)
	require.Equal(t, "ok", fetched.Headers.Get("X-Resp"))
	require.Equal(t, "body", string(fetched.Body))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusServiceUnavailable,
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/page")},
	})
	failed, ok := state.outcome.(*crawler.Failed)
	require.True(t, ok)
	require.Equal(t, http.StatusServiceUnavailable, failed.HTTPStatus)
	require.Equal(t, crawler.StatusErrorHTTPServer, failed.Status())

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, state.err, "boom")
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want crawler.ExceptionKind
	}{
		{"canceled", context.Canceled, crawler.KindInterrupted},
		{"deadline", context.DeadlineExceeded, crawler.KindTimeout},
		{"missing url", colly.ErrMissingURL, crawler.KindInvalidURL},
		{"parse", &url.Error{Op: "parse", URL: "::", Err: errors.New("missing protocol scheme")}, crawler.KindInvalidURL},
		{"scheme", errors.New(`Get "ftp://x": unsupported protocol scheme "ftp"`), crawler.KindInvalidURL},
		{"redirect", errors.New(`Not following redirect to "https://a"`), crawler.KindRedirect},
		{"refused", errors.New("dial tcp: connection refused"), crawler.KindConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, classifyError(tt.err).Kind)
		})
	}
}

func TestMimeTypeOf(t *testing.T) {
	t.Parallel()

	require.Empty(t, mimeTypeOf(nil))
	require.Empty(t, mimeTypeOf(&http.Header{}))
	require.Equal(t, "text/html", mimeTypeOf(&http.Header{"Content-Type": {"Text/HTML; charset=UTF-8"}}))
	require.Equal(t, "text/plain", mimeTypeOf(&http.Header{"Content-Type": {"text/plain;;bad="}}))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onResponseHeaders colly.ResponseHeadersCallback
	onResponse        colly.ResponseCallback
	onError           colly.ErrorCallback
}

func (s *stubHooks) OnResponseHeaders(cb colly.ResponseHeadersCallback) {
	s.onResponseHeaders = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

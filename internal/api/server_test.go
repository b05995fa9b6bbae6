package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/crawler"
	"github.com/JakeFAU/politefetch/internal/metrics"
	"github.com/JakeFAU/politefetch/internal/pipeline"
	"github.com/JakeFAU/politefetch/internal/reconcile"
	"github.com/JakeFAU/politefetch/internal/storage/memory"
)

func TestServer_SubmitRun_Succeeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runID: "run-42"}
	server := newTestServer(t, runner, nil)

	body := []byte(`{"urls":["https://example.com/a"],"records":[{"url":"https://example.com/b","last_status":"FETCHED"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "run-42", resp.RunID)
	require.Len(t, resp.Statuses, 2)
	require.Equal(t, 2, resp.Counts[crawler.StatusFetched])
	require.Empty(t, resp.SinkError)

	got := runner.lastRecords()
	require.Equal(t, "https://example.com/a", got[0].URL)
	require.Equal(t, crawler.StatusFetched, got[1].LastStatus)
}

func TestServer_SubmitRun_ReportsSinkError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runID: "run-sink", err: errors.New("database unavailable")}
	server := newTestServer(t, runner, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(`{"urls":["https://example.com"]}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "database unavailable")
}

func TestServer_SubmitRun_RunnerFailure(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeRunner{err: errors.New("no run id")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(`{"urls":["https://example.com"]}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_SubmitRun_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"unknown field", `{"seeds":["https://example.com"]}`, "invalid JSON"},
		{"empty", `{"urls":[]}`, "urls or records required"},
		{"blank url", `{"urls":[" "]}`, "empty entries"},
		{"record without url", `{"records":[{"metadata":{"a":1}}]}`, "must carry a url"},
		{"bad last status", `{"records":[{"url":"https://example.com","last_status":"MAYBE"}]}`, "unknown last_status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(t, &fakeRunner{runID: "unused"}, nil)
			req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestServer_SubmitRun_AppliesRunTimeout(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runID: "run-slow", block: true}
	server, err := NewServer(Options{Runner: runner, RunTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(`{"urls":["https://example.com"]}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.ErrorIs(t, runner.ctxErr(), context.DeadlineExceeded)
}

func TestServer_ListStatuses(t *testing.T) {
	t.Parallel()

	store := memory.NewStatusStore()
	require.NoError(t, store.WriteStatuses(context.Background(), "run-1", []crawler.StatusRecord{
		{URL: "https://example.com/a", Status: crawler.StatusFetched},
		{URL: "https://example.com/b", Status: crawler.StatusRobotsExcluded},
		{URL: "https://example.com/c", Status: crawler.StatusFetched},
	}))
	server := newTestServer(t, &fakeRunner{}, store)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-1/statuses?status=fetched&limit=1&offset=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		RunID    string                 `json:"run_id"`
		Total    int                    `json:"total"`
		Statuses []crawler.StatusRecord `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "run-1", resp.RunID)
	require.Equal(t, 2, resp.Total)
	require.Len(t, resp.Statuses, 1)
	require.Equal(t, "https://example.com/c", resp.Statuses[0].URL)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-1/statuses?offset=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"statuses":[]`)
}

func TestServer_ListStatuses_Errors(t *testing.T) {
	t.Parallel()

	store := memory.NewStatusStore()
	require.NoError(t, store.WriteStatuses(context.Background(), "run-1", []crawler.StatusRecord{
		{URL: "https://example.com/a", Status: crawler.StatusFetched},
	}))

	tests := []struct {
		name   string
		reader StatusReader
		path   string
		want   int
	}{
		{"no reader", nil, "/v1/runs/run-1/statuses", http.StatusServiceUnavailable},
		{"unknown run", store, "/v1/runs/missing/statuses", http.StatusNotFound},
		{"bad limit", store, "/v1/runs/run-1/statuses?limit=0", http.StatusBadRequest},
		{"bad offset", store, "/v1/runs/run-1/statuses?offset=-1", http.StatusBadRequest},
		{"bad status", store, "/v1/runs/run-1/statuses?status=nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(t, &fakeRunner{}, tt.reader)
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_MetricsAndProbes(t *testing.T) {
	t.Parallel()

	recorder, err := metrics.NewRecorder()
	require.NoError(t, err)
	server, err := NewServer(Options{
		Runner:     &fakeRunner{},
		Metrics:    recorder.Handler(),
		Instrument: recorder.Middleware,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "politefetch_")
}

func TestNewServerRequiresRunner(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Options{})
	require.ErrorContains(t, err, "runner")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeRunner{}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

type fakeRunner struct {
	runID string
	err   error
	block bool

	mu      sync.Mutex
	records []crawler.URLRecord
	ctxDone error
}

func (f *fakeRunner) Run(ctx context.Context, records []crawler.URLRecord) (pipeline.RunReport, error) {
	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		f.mu.Lock()
		f.ctxDone = ctx.Err()
		f.mu.Unlock()
	}
	statuses := make([]crawler.StatusRecord, 0, len(records))
	for _, r := range records {
		statuses = append(statuses, crawler.StatusRecord{URL: r.URL, Status: crawler.StatusFetched})
	}
	out := reconcile.Output{Statuses: statuses}
	return pipeline.RunReport{
		RunID:  f.runID,
		Counts: out.Counts(),
		Output: out,
	}, f.err
}

func (f *fakeRunner) lastRecords() []crawler.URLRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records
}

func (f *fakeRunner) ctxErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxDone
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(t *testing.T, runner Runner, reader StatusReader) *Server {
	t.Helper()
	server, err := NewServer(Options{Runner: runner, Statuses: reader, Logger: zap.NewNop()})
	require.NoError(t, err)
	return server
}

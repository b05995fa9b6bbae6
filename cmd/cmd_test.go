package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/api"
	"github.com/JakeFAU/politefetch/internal/crawler"
	"github.com/JakeFAU/politefetch/internal/pipeline"
	"github.com/JakeFAU/politefetch/internal/reconcile"
)

type stubRunner struct {
	got []crawler.URLRecord
	err error
}

func (s *stubRunner) Run(_ context.Context, records []crawler.URLRecord) (pipeline.RunReport, error) {
	s.got = records
	out := reconcile.Output{}
	for _, r := range records {
		out.Statuses = append(out.Statuses, crawler.StatusRecord{URL: r.URL, Status: crawler.StatusFetched})
	}
	now := time.Unix(100, 0)
	return pipeline.RunReport{RunID: "run-cli", StartedAt: now, FinishedAt: now, Counts: out.Counts(), Output: out}, s.err
}

type stubApp struct {
	runner *stubRunner
	closed bool
	served bool
}

func (a *stubApp) Close(context.Context) error   { a.closed = true; return nil }
func (a *stubApp) Logger() *zap.Logger           { return zap.NewNop() }
func (a *stubApp) Runner() api.Runner            { return a.runner }
func (a *stubApp) Run(ctx context.Context) error { a.served = true; return nil }

func withStubApp(t *testing.T, app *stubApp) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = prev })
}

func TestReadRecords(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"# seeds",
		"https://example.com/a",
		"",
		`{"url":"https://example.com/b","last_status":"FETCHED","metadata":{"shop":"x"}}`,
		"  https://example.com/c  ",
	}, "\n")
	records, err := readRecords(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "https://example.com/a", records[0].URL)
	require.Equal(t, crawler.StatusFetched, records[1].LastStatus)
	require.Equal(t, "x", records[1].Metadata["shop"])
	require.Equal(t, "https://example.com/c", records[2].URL)
}

func TestReadRecordsErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad json":    `{"url":`,
		"missing url": `{"metadata":{}}`,
		"bad status":  `{"url":"https://example.com","last_status":"SOMETIMES"}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := readRecords(strings.NewReader(input))
			require.ErrorContains(t, err, "input line 1")
		})
	}
}

func TestRunCommandWritesStatuses(t *testing.T) {
	app := &stubApp{runner: &stubRunner{}}
	withStubApp(t, app)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader("https://example.com/a\nhttps://example.com/b\n"))
	root.SetOut(&out)
	root.SetArgs([]string{"run"})
	require.NoError(t, root.Execute())

	require.Len(t, app.runner.got, 2)
	require.True(t, app.closed)

	scanner := bufio.NewScanner(&out)
	var got []crawler.StatusRecord
	for scanner.Scan() {
		var rec crawler.StatusRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		got = append(got, rec)
	}
	require.Len(t, got, 2)
	require.Equal(t, "https://example.com/b", got[1].URL)
	require.Equal(t, crawler.StatusFetched, got[1].Status)
}

func TestRunCommandSurfacesPersistFailure(t *testing.T) {
	app := &stubApp{runner: &stubRunner{err: errors.New("database unavailable")}}
	withStubApp(t, app)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader("https://example.com/a\n"))
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run"})
	err := root.Execute()
	require.ErrorContains(t, err, "database unavailable")
	require.Contains(t, out.String(), "https://example.com/a")
}

func TestServeCommandRunsApp(t *testing.T) {
	app := &stubApp{runner: &stubRunner{}}
	withStubApp(t, app)

	root := newRootCmd()
	root.SetArgs([]string{"serve"})
	require.NoError(t, root.Execute())
	require.True(t, app.served)
	require.True(t, app.closed)
}

func TestResolveAppWithoutApp(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.ErrorContains(t, err, "not initialized")
}

package crawler

import (
	"context"
	"time"
)

// Fetcher is the network collaborator. Fetch never returns nil; transport
// problems come back as *Failed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchOutcome
	// UserAgent is sent on every request and matched against robots.txt
	// agent sections.
	UserAgent() string
	// MaxConnections bounds concurrent requests issued through this fetcher.
	MaxConnections() int
}

// Scorer assigns a priority to an allowed URL. Higher is more eligible.
type Scorer interface {
	Score(record URLRecord) float64
}

// ScoreFunc adapts a plain function to Scorer.
type ScoreFunc func(URLRecord) float64

// Score calls f.
func (f ScoreFunc) Score(record URLRecord) float64 { return f(record) }

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Metrics receives per-run observability events.
type Metrics interface {
	DomainProcessed()
	RobotsResolved(kind string)
	FetchAttempted(site string)
	FetchFinished(site string, status URLStatus, bytes int, duration time.Duration)
	PolitenessWait(d time.Duration)
	StatusRecorded(status URLStatus)
}

// StatusSink persists reconciled status records.
type StatusSink interface {
	WriteStatuses(ctx context.Context, runID string, records []StatusRecord) error
}

// ContentSink persists fetched content and returns where it landed.
type ContentSink interface {
	PutContent(ctx context.Context, runID string, content FetchedContent) (string, error)
}

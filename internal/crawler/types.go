package crawler

import (
	"net/http"
	"time"
)

// DefaultScore is assigned to URLs that have never been fetched.
const DefaultScore = 1.0

// URLRecord is one candidate URL flowing through a run. Metadata is carried
// through unmodified.
type URLRecord struct {
	URL         string         `json:"url"`
	LastFetched time.Time      `json:"last_fetched,omitzero"`
	LastUpdated time.Time      `json:"last_updated,omitzero"`
	LastStatus  URLStatus      `json:"last_status,omitempty"`
	GroupKey    GroupingKey    `json:"group_key,omitzero"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ScoredURL is a URLRecord that passed the robots gate.
type ScoredURL struct {
	URLRecord
	Score float64 `json:"score"`
}

// URLGroup is every input record sharing one grouping key.
type URLGroup struct {
	Key     GroupingKey
	Records []URLRecord
}

// DomainGroup is the allowed, scored portion of one server's URLs together
// with the crawl delay its robots rules asked for.
type DomainGroup struct {
	Key        GroupingKey
	URLs       []ScoredURL
	CrawlDelay time.Duration
	// RobotsFetchedAt is when the robots.txt fetch for this server finished.
	// Zero when no request was made.
	RobotsFetchedAt time.Time
}

// FetchBatch is an ordered, time-stamped set of URLs destined for one server.
type FetchBatch struct {
	Key             GroupingKey
	Bucket          int
	URLs            []ScoredURL
	TargetFetchTime time.Time
	// Interval is the minimum spacing between requests to Key's server.
	Interval time.Duration
}

// FetchResult pairs a scheduled URL with the outcome of fetching it.
type FetchResult struct {
	Record     ScoredURL
	Outcome    FetchOutcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// StatusRecord is the final, immutable fate of one input URL.
type StatusRecord struct {
	URL         string         `json:"url"`
	Status      URLStatus      `json:"status"`
	Headers     http.Header    `json:"headers,omitempty"`
	Exception   *Failed        `json:"exception,omitempty"`
	StatusTime  time.Time      `json:"status_time"`
	HostAddress string         `json:"host_address,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// FetchedContent is a successfully fetched page, exposed separately from the
// status stream.
type FetchedContent struct {
	Record  URLRecord
	Fetched *Fetched
}

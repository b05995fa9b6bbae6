// Package reconcile merges fetch results and pre-fetch dispositions into
// exactly one status record per input URL.
package reconcile

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/crawler"
	"github.com/JakeFAU/politefetch/internal/metrics"
)

// Output is the reconciled view of a run.
type Output struct {
	// Statuses has one record per input, in input order.
	Statuses []crawler.StatusRecord
	// Content holds only successfully fetched pages.
	Content []crawler.FetchedContent
}

// ByStatus partitions Statuses by final status.
func (o Output) ByStatus() map[crawler.URLStatus][]crawler.StatusRecord {
	out := make(map[crawler.URLStatus][]crawler.StatusRecord)
	for _, s := range o.Statuses {
		out[s.Status] = append(out[s.Status], s)
	}
	return out
}

// Counts returns the number of records per status.
func (o Output) Counts() map[crawler.URLStatus]int {
	out := make(map[crawler.URLStatus]int)
	for _, s := range o.Statuses {
		out[s.Status]++
	}
	return out
}

// Reconciler joins inputs with their resolutions.
type Reconciler struct {
	clock   crawler.Clock
	metrics crawler.Metrics
	logger  *zap.Logger
}

// New builds a Reconciler.
func New(clock crawler.Clock, m crawler.Metrics, logger *zap.Logger) *Reconciler {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{clock: clock, metrics: m, logger: logger.Named("reconcile")}
}

// resolution is either a terminal record or a fetch result.
type resolution struct {
	terminal *crawler.URLRecord
	result   *crawler.FetchResult
}

// Reconcile outer-joins inputs with terminal dispositions and fetch results
// by URL. Each input occurrence consumes one resolution, so duplicated URLs
// are accounted for individually. Inputs left without a resolution become
// UNFETCHED; resolutions left without an input are dropped.
func (r *Reconciler) Reconcile(
	inputs []crawler.URLRecord,
	terminal []crawler.URLRecord,
	results []crawler.FetchResult,
) Output {
	pending := make(map[string][]resolution, len(terminal)+len(results))
	for i := range terminal {
		pending[terminal[i].URL] = append(pending[terminal[i].URL], resolution{terminal: &terminal[i]})
	}
	for i := range results {
		u := results[i].Record.URL
		pending[u] = append(pending[u], resolution{result: &results[i]})
	}

	now := r.clock.Now()
	out := Output{Statuses: make([]crawler.StatusRecord, 0, len(inputs))}
	for _, in := range inputs {
		queue := pending[in.URL]
		if len(queue) == 0 {
			r.logger.Warn("no outcome recorded for url", zap.String("url", in.URL))
			out.Statuses = append(out.Statuses, r.record(crawler.StatusRecord{
				URL:        in.URL,
				Status:     crawler.StatusUnfetched,
				Exception:  &crawler.Failed{Kind: crawler.KindInterrupted, Detail: "no outcome recorded"},
				StatusTime: now,
				Metadata:   in.Metadata,
			}))
			continue
		}
		res := queue[0]
		pending[in.URL] = queue[1:]

		if res.terminal != nil {
			out.Statuses = append(out.Statuses, r.record(crawler.StatusRecord{
				URL:        in.URL,
				Status:     res.terminal.GroupKey.Status(),
				StatusTime: now,
				Metadata:   in.Metadata,
			}))
			continue
		}

		status := crawler.StatusRecord{
			URL:        in.URL,
			StatusTime: res.result.FinishedAt,
			Metadata:   in.Metadata,
		}
		switch o := res.result.Outcome.(type) {
		case *crawler.Fetched:
			status.Status = crawler.StatusFetched
			status.Headers = o.Headers
			status.HostAddress = o.HostAddress
			out.Content = append(out.Content, crawler.FetchedContent{Record: in, Fetched: o})
		case *crawler.Failed:
			status.Status = o.Status()
			status.Exception = o
		default:
			status.Status = crawler.StatusUnfetched
			status.Exception = &crawler.Failed{Kind: crawler.KindInvalidResponse, Detail: "missing fetch outcome"}
		}
		if status.StatusTime.IsZero() {
			status.StatusTime = now
		}
		out.Statuses = append(out.Statuses, r.record(status))
	}

	for u, rest := range pending {
		if len(rest) > 0 {
			r.logger.Warn("dropping outcomes with no matching input", zap.String("url", u), zap.Int("count", len(rest)))
		}
	}
	return out
}

func (r *Reconciler) record(s crawler.StatusRecord) crawler.StatusRecord {
	r.metrics.StatusRecorded(s.Status)
	return s
}

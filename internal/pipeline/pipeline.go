// Package pipeline runs one crawl pass: group by server, gate on robots.txt,
// schedule polite batches, execute them, reconcile every input URL to a final
// status and hand the results to the configured sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/crawler"
	"github.com/JakeFAU/politefetch/internal/executor"
	"github.com/JakeFAU/politefetch/internal/gate"
	"github.com/JakeFAU/politefetch/internal/metrics"
	"github.com/JakeFAU/politefetch/internal/reconcile"
	"github.com/JakeFAU/politefetch/internal/robots"
	"github.com/JakeFAU/politefetch/internal/schedule"
)

// Config tunes a Pipeline.
type Config struct {
	Schedule schedule.Policy
	Executor executor.Config
	// CrawlDuration, when positive, sets the executor's crawl end time to
	// run start plus this duration.
	CrawlDuration time.Duration
}

// Deps are the collaborators a Pipeline needs. Fetcher, Clock and IDs are
// required; the rest have defaults.
type Deps struct {
	Fetcher     crawler.Fetcher
	Clock       crawler.Clock
	IDs         crawler.IDGenerator
	Scorer      crawler.Scorer
	Robots      robots.Parser
	Metrics     crawler.Metrics
	StatusSink  crawler.StatusSink
	ContentSink crawler.ContentSink
	Logger      *zap.Logger
}

// RunReport summarizes a finished run.
type RunReport struct {
	RunID      string                    `json:"run_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Counts     map[crawler.URLStatus]int `json:"counts"`
	// ContentURIs maps fetched URLs to where their bodies were stored.
	ContentURIs map[string]string `json:"content_uris,omitempty"`
	Output      reconcile.Output  `json:"-"`
}

// Pipeline wires the gate, scheduler, executor and reconciler together.
type Pipeline struct {
	deps    Deps
	cfg     Config
	gate    *gate.Gate
	builder *schedule.Builder
	logger  *zap.Logger
}

// New validates deps and builds a Pipeline.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.CrawlDuration < 0 {
		return nil, fmt.Errorf("crawl duration must be >= 0, got %s", cfg.CrawlDuration)
	}
	return &Pipeline{
		deps:    deps,
		cfg:     cfg,
		gate:    gate.New(deps.Fetcher, deps.Robots, deps.Scorer, deps.Metrics, deps.Logger).WithClock(deps.Clock),
		builder: schedule.NewBuilder(cfg.Schedule),
		logger:  deps.Logger.Named("pipeline"),
	}, nil
}

// Run processes records and returns one status per input record, in input
// order. The report is always complete; a non-nil error means one of the
// sinks failed to persist part of it.
func (p *Pipeline) Run(ctx context.Context, records []crawler.URLRecord) (RunReport, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return RunReport{}, fmt.Errorf("generate run id: %w", err)
	}
	start := p.deps.Clock.Now()
	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.Int("urls", len(records)))

	classified := p.gate.ClassifyRecords(ctx, records)
	batches := p.builder.BuildAll(classified.Domains, start)
	logger.Debug("run scheduled",
		zap.Int("domains", len(classified.Domains)),
		zap.Int("terminal", len(classified.Terminal)),
		zap.Int("batches", len(batches)),
	)

	results := p.executor(start).Execute(ctx, batches)
	output := reconcile.New(p.deps.Clock, p.deps.Metrics, p.deps.Logger).
		Reconcile(records, classified.Terminal, results)

	report := RunReport{
		RunID:     runID,
		StartedAt: start,
		Counts:    output.Counts(),
		Output:    output,
	}
	// Sinks see the run to completion even when ctx was canceled mid-crawl.
	sinkCtx := context.WithoutCancel(ctx)
	var errs []error
	if p.deps.StatusSink != nil {
		if err := p.deps.StatusSink.WriteStatuses(sinkCtx, runID, output.Statuses); err != nil {
			errs = append(errs, fmt.Errorf("write statuses: %w", err))
		}
	}
	if p.deps.ContentSink != nil && len(output.Content) > 0 {
		report.ContentURIs = make(map[string]string, len(output.Content))
		for _, content := range output.Content {
			uri, err := p.deps.ContentSink.PutContent(sinkCtx, runID, content)
			if err != nil {
				errs = append(errs, fmt.Errorf("write content: %w", err))
				continue
			}
			report.ContentURIs[content.Record.URL] = uri
		}
	}
	report.FinishedAt = p.deps.Clock.Now()

	logger.Info("run finished",
		zap.Int("statuses", len(output.Statuses)),
		zap.Int("fetched", report.Counts[crawler.StatusFetched]),
		zap.Duration("elapsed", report.FinishedAt.Sub(start)),
		zap.Int("sink_errors", len(errs)),
	)
	return report, errors.Join(errs...)
}

func (p *Pipeline) executor(start time.Time) *executor.Executor {
	cfg := p.cfg.Executor
	if p.cfg.CrawlDuration > 0 && cfg.CrawlEndTime.IsZero() {
		cfg.CrawlEndTime = start.Add(p.cfg.CrawlDuration)
	}
	return executor.New(p.deps.Fetcher, p.deps.Clock, cfg, p.deps.Metrics, p.deps.Logger)
}

// Package executor runs fetch batches against the network with a bounded
// number of in-flight requests while keeping each server's requests
// sequential and spaced by its interval.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/politefetch/internal/crawler"
	"github.com/JakeFAU/politefetch/internal/metrics"
	"github.com/JakeFAU/politefetch/internal/policy/ratelimit"
	"github.com/JakeFAU/politefetch/internal/queue/memory"
)

// DefaultShutdownGrace is how long in-flight fetches may run after the run
// context is canceled.
const DefaultShutdownGrace = 5 * time.Second

// Config tunes an Executor.
type Config struct {
	// MaxThreads bounds in-flight fetches across all servers. Zero uses the
	// fetcher's MaxConnections.
	MaxThreads int
	// RequestTimeout bounds a single fetch. Zero leaves it to the fetcher.
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration
	// CrawlEndTime, when set, turns every fetch that would start after it
	// into a SKIPPED_TIME_LIMIT outcome.
	CrawlEndTime time.Time
}

// Executor consumes fetch batches.
type Executor struct {
	fetcher crawler.Fetcher
	clock   crawler.Clock
	limiter *ratelimit.Limiter
	metrics crawler.Metrics
	logger  *zap.Logger
	cfg     Config
}

// New builds an Executor.
func New(fetcher crawler.Fetcher, clock crawler.Clock, cfg Config, m crawler.Metrics, logger *zap.Logger) *Executor {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = max(1, fetcher.MaxConnections())
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		fetcher: fetcher,
		clock:   clock,
		limiter: ratelimit.New(),
		metrics: m,
		logger:  logger.Named("executor"),
		cfg:     cfg,
	}
}

type run struct {
	*Executor
	ctx      context.Context
	fetchCtx context.Context
	sem      *semaphore.Weighted
	results  []crawler.FetchResult
	offsets  []int
}

// Execute fetches every URL in batches and returns exactly one FetchResult
// per scheduled URL, in batch order. It returns once all work is done or,
// after ctx is canceled, once in-flight fetches finish or the shutdown grace
// period expires. Remaining URLs are reported as interrupted.
func (e *Executor) Execute(ctx context.Context, batches []crawler.FetchBatch) []crawler.FetchResult {
	r := &run{
		Executor: e,
		ctx:      ctx,
		sem:      semaphore.NewWeighted(int64(e.cfg.MaxThreads)),
		offsets:  make([]int, len(batches)),
	}
	total := 0
	for i, b := range batches {
		r.offsets[i] = total
		total += len(b.URLs)
	}
	r.results = make([]crawler.FetchResult, total)

	fetchCtx, cancelFetches := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFetches()
	var graceTimer *time.Timer
	var graceMu sync.Mutex
	stop := context.AfterFunc(ctx, func() {
		graceMu.Lock()
		defer graceMu.Unlock()
		graceTimer = time.AfterFunc(e.cfg.ShutdownGrace, cancelFetches)
	})
	defer func() {
		stop()
		graceMu.Lock()
		defer graceMu.Unlock()
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()
	r.fetchCtx = fetchCtx

	lanes := make(map[int][]int)
	for i, b := range batches {
		lanes[b.Bucket] = append(lanes[b.Bucket], i)
	}
	var eg errgroup.Group
	for bucket, idx := range lanes {
		eg.Go(func() error {
			r.runLane(bucket, batches, idx)
			return nil
		})
	}
	_ = eg.Wait()
	return r.results
}

// runLane releases one bucket's batches in target-time order. Batches for
// the same server are handed to a single server worker so its requests stay
// sequential.
func (r *run) runLane(bucket int, batches []crawler.FetchBatch, idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		return batches[idx[a]].TargetFetchTime.Before(batches[idx[b]].TargetFetchTime)
	})
	q := memory.NewQueue(len(idx))
	pos := make(map[string][]int, len(idx))
	perServer := make(map[string]int)
	for _, i := range idx {
		b := batches[i]
		key := b.Key.String()
		perServer[key]++
		pos[key] = append(pos[key], i)
		_ = q.Enqueue(context.Background(), b)
	}
	q.Close()

	workers := make(map[string]chan int)
	var wg sync.WaitGroup
	dispatch := func(key string, i int) {
		ch, ok := workers[key]
		if !ok {
			ch = make(chan int, perServer[key])
			workers[key] = ch
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer r.limiter.Forget(key)
				for bi := range ch {
					r.runBatch(bi, batches[bi])
				}
			}()
		}
		ch <- i
	}

	for {
		b, err := q.Dequeue(r.ctx)
		if err != nil {
			break
		}
		key := b.Key.String()
		i := pos[key][0]
		pos[key] = pos[key][1:]
		if r.pastEnd(b.TargetFetchTime) {
			r.finish(i, b, 0, timeLimit("batch scheduled after crawl end time"))
			continue
		}
		if wait := b.TargetFetchTime.Sub(r.clock.Now()); wait > 0 {
			if err := r.clock.Sleep(r.ctx, wait); err != nil {
				r.finish(i, b, 0, interrupted("shutdown before target fetch time"))
				break
			}
		}
		dispatch(key, i)
	}

	// Anything still queued was never released.
	for _, b := range q.Drain() {
		key := b.Key.String()
		i := pos[key][0]
		pos[key] = pos[key][1:]
		r.finish(i, b, 0, interrupted("shutdown before target fetch time"))
	}
	for _, ch := range workers {
		close(ch)
	}
	wg.Wait()
	r.logger.Debug("lane finished", zap.Int("bucket", bucket), zap.Int("batches", len(idx)))
}

// runBatch fetches a batch's URLs in order.
func (r *run) runBatch(bi int, b crawler.FetchBatch) {
	if b.Key.IsTerminal() {
		r.logger.Error("terminal batch reached executor", zap.String("key", b.Key.String()))
		r.finish(bi, b, 0, &crawler.Failed{Kind: crawler.KindInvalidURL, Detail: "not fetchable: " + b.Key.String()})
		return
	}
	if r.pastEnd(b.TargetFetchTime) {
		r.finish(bi, b, 0, timeLimit("batch scheduled after crawl end time"))
		return
	}
	site := crawler.SiteLabel(b.Key.Domain())
	for ui := range b.URLs {
		if r.ctx.Err() != nil {
			r.finish(bi, b, ui, interrupted("shutdown before fetch"))
			return
		}
		// Sit out the crawl delay without holding a fetch slot.
		delay := r.limiter.Delay(b.Key.String(), b.Interval)
		if r.pastEnd(r.clock.Now().Add(delay)) {
			r.finish(bi, b, ui, timeLimit("crawl end time reached before next request slot"))
			return
		}
		if err := r.clock.Sleep(r.ctx, delay); err != nil {
			r.finish(bi, b, ui, interrupted("shutdown while waiting for crawl delay"))
			return
		}
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.finish(bi, b, ui, interrupted("shutdown while waiting for a fetch slot"))
			return
		}
		if failure := r.claimSlot(b, delay); failure != nil {
			r.sem.Release(1)
			r.finish(bi, b, ui, failure)
			return
		}
		r.results[r.offsets[bi]+ui] = r.fetchOne(site, b.URLs[ui])
		r.sem.Release(1)
	}
}

// claimSlot consumes the server's next request slot while a fetch slot is
// held, so spacing is measured to the actual request start even when
// acquiring the fetch slot took a while.
func (r *run) claimSlot(b crawler.FetchBatch, slept time.Duration) *crawler.Failed {
	waited, err := r.limiter.WaitBefore(r.ctx, b.Key.String(), b.Interval, r.cfg.CrawlEndTime)
	if errors.Is(err, ratelimit.ErrPastDeadline) {
		return timeLimit("crawl end time reached before next request slot")
	}
	if err != nil {
		return interrupted("shutdown while waiting for crawl delay")
	}
	r.metrics.PolitenessWait(slept + waited)
	if r.pastEnd(r.clock.Now()) {
		return timeLimit("crawl end time reached")
	}
	return nil
}

func (r *run) fetchOne(site string, u crawler.ScoredURL) crawler.FetchResult {
	ctx := r.fetchCtx
	if r.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
	}
	r.metrics.FetchAttempted(site)
	started := r.clock.Now()
	outcome := r.fetcher.Fetch(ctx, u.URL)
	finished := r.clock.Now()

	if outcome == nil {
		outcome = &crawler.Failed{Kind: crawler.KindInvalidResponse, Detail: "fetcher returned no outcome"}
	}
	if f, ok := outcome.(*crawler.Failed); ok && ctx.Err() != nil && f.Kind != crawler.KindTimeout {
		outcome = contextFailure(r.fetchCtx, ctx.Err(), f)
	}

	status, size := crawler.StatusFetched, 0
	switch o := outcome.(type) {
	case *crawler.Fetched:
		size = len(o.Body)
	case *crawler.Failed:
		status = o.Status()
		r.logger.Debug("fetch failed", zap.String("url", u.URL), zap.Error(o))
	}
	r.metrics.FetchFinished(site, status, size, finished.Sub(started))
	return crawler.FetchResult{Record: u, Outcome: outcome, StartedAt: started, FinishedAt: finished}
}

// contextFailure reclassifies a failure caused by our own context: the
// shutdown grace expiring is an interruption, a request deadline a timeout.
func contextFailure(fetchCtx context.Context, err error, orig *crawler.Failed) *crawler.Failed {
	if fetchCtx.Err() != nil {
		return interrupted(fmt.Sprintf("shutdown grace expired: %s", orig.Detail))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &crawler.Failed{Kind: crawler.KindTimeout, Detail: orig.Detail}
	}
	return orig
}

func (r *run) pastEnd(t time.Time) bool {
	return !r.cfg.CrawlEndTime.IsZero() && t.After(r.cfg.CrawlEndTime)
}

// finish records failure for batch bi's URLs from index from onward.
func (r *run) finish(bi int, b crawler.FetchBatch, from int, failure *crawler.Failed) {
	now := r.clock.Now()
	for ui := from; ui < len(b.URLs); ui++ {
		r.results[r.offsets[bi]+ui] = crawler.FetchResult{
			Record:     b.URLs[ui],
			Outcome:    failure,
			StartedAt:  now,
			FinishedAt: now,
		}
	}
}

func interrupted(detail string) *crawler.Failed {
	return &crawler.Failed{Kind: crawler.KindInterrupted, Detail: detail}
}

func timeLimit(detail string) *crawler.Failed {
	return &crawler.Failed{Kind: crawler.KindTimeLimit, Detail: detail}
}

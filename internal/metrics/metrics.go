// Package metrics exposes Prometheus collectors for politefetch runs.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

// Recorder implements crawler.Metrics on a dedicated Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	domainsProcessed prometheus.Counter
	robotsRules      *prometheus.CounterVec
	fetchesAttempted *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	fetchBytes       *prometheus.CounterVec
	statuses         *prometheus.CounterVec
	politenessWait   prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ crawler.Metrics = (*Recorder)(nil)

// NewRecorder builds a Recorder with its own registry. Go runtime and
// process collectors are included so /metrics is useful on its own.
func NewRecorder() (*Recorder, error) {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		domainsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "politefetch_domains_processed_total",
			Help: "Distinct domains whose robots rules were resolved.",
		}),
		robotsRules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "politefetch_robots_rules_total",
			Help: "Robots rule sets resolved, labeled by how they were obtained.",
		}, []string{"kind"}),
		fetchesAttempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "politefetch_fetches_attempted_total",
			Help: "Fetches issued, labeled by paid-level domain.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "politefetch_fetch_duration_seconds",
			Help:    "Fetch duration labeled by site and resulting status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site", "status"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "politefetch_fetch_bytes_total",
			Help: "Body bytes downloaded per site.",
		}, []string{"site"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "politefetch_statuses_total",
			Help: "Reconciled status records by final status.",
		}, []string{"status"}),
		politenessWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "politefetch_politeness_wait_seconds",
			Help:    "Time spent waiting on crawl-delay spacing before a fetch.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "politefetch_http_requests_total",
			Help: "API requests labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "politefetch_http_request_duration_seconds",
			Help:    "API request latency labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
		}, []string{"method", "route"}),
	}
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.domainsProcessed,
		r.robotsRules,
		r.fetchesAttempted,
		r.fetchDuration,
		r.fetchBytes,
		r.statuses,
		r.politenessWait,
		r.httpRequests,
		r.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// Registry exposes the underlying registry (for tests and custom exporters).
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// DomainProcessed counts one domain whose robots rules were resolved.
func (r *Recorder) DomainProcessed() { r.domainsProcessed.Inc() }

// RobotsResolved counts a rule set by origin (parsed, status, deferred...).
func (r *Recorder) RobotsResolved(kind string) { r.robotsRules.WithLabelValues(kind).Inc() }

// FetchAttempted counts a fetch issued against site.
func (r *Recorder) FetchAttempted(site string) { r.fetchesAttempted.WithLabelValues(site).Inc() }

// FetchFinished records the duration and size of a completed fetch.
func (r *Recorder) FetchFinished(site string, status crawler.URLStatus, bytes int, d time.Duration) {
	r.fetchDuration.WithLabelValues(site, string(status)).Observe(d.Seconds())
	if bytes > 0 {
		r.fetchBytes.WithLabelValues(site).Add(float64(bytes))
	}
}

// PolitenessWait records time spent waiting for a server's spacing.
func (r *Recorder) PolitenessWait(d time.Duration) { r.politenessWait.Observe(d.Seconds()) }

// StatusRecorded counts one reconciled status.
func (r *Recorder) StatusRecorded(status crawler.URLStatus) {
	r.statuses.WithLabelValues(string(status)).Inc()
}

// Middleware records request counts and latencies for chi routes.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := req.URL.Path
		if rctx := chi.RouteContext(req.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		r.httpRequests.WithLabelValues(req.Method, strconv.Itoa(code)).Inc()
		r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Nop discards every event.
type Nop struct{}

var _ crawler.Metrics = Nop{}

func (Nop) DomainProcessed()                                            {}
func (Nop) RobotsResolved(string)                                       {}
func (Nop) FetchAttempted(string)                                       {}
func (Nop) FetchFinished(string, crawler.URLStatus, int, time.Duration) {}
func (Nop) PolitenessWait(time.Duration)                                {}
func (Nop) StatusRecorded(crawler.URLStatus)                            {}

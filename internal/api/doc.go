// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to run a crawl pass synchronously.
//   - GET /v1/runs/{run_id}/statuses to page through a finished run.
package api

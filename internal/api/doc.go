// Package api hosts the operator HTTP server that runs alongside a crawl.
// Notable routes:
//   - GET /healthz and /readyz for liveness and dependency probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for live run counters and queue depth.
package api

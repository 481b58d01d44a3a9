// Package api hosts the optional ops HTTP server that runs next to a harvest or
// compaction run. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for a JSON snapshot of the current run.
package api

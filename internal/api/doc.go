// Package api hosts the operator HTTP surface served alongside the
// supervisor. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the checkpoint, backlog, totals and recent audit entries.
package api

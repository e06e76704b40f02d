// Package api hosts the HTTP server, middleware, and REST handlers that play
// the part of the view layer. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST/GET/DELETE /v1/analyses for the calling client's current profile,
//     with GET accepting ?wait=<duration> to long-poll for the next change.
//   - POST /v1/analyses/retry to restart a failed or timed out analysis.
//   - POST /v1/results for pipelines that deliver feedback rows directly.
//
// Clients are told apart by the X-Client-ID header.
package api

// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and GET /v1/jobs/{run_id} for run submission and status.
//   - /v1/restaurants for the serving projection: list, get, delete, refresh.
//   - POST /v1/admin/backfill to replay gold artifacts.
package api

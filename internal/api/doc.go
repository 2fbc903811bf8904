// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/sites and /api/sites/{site}/fields for the site catalog.
//   - POST /api/jobs and the /api/jobs/{job_id} subtree for the job
//     lifecycle: status, results, cancel, delete.
//   - POST /api/captcha/validate to resume a CAPTCHA-paused job.
//
// Every /api/jobs and /api/captcha route is scoped to the user identified by
// the X-User-ID header the auth gateway injects.
package api

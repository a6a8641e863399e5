// Package api hosts the status server for a crawl in progress. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for the live run snapshot.
//   - GET /runs and /runs/{run_id} for run history, when a RunRepository is
//     configured.
package api

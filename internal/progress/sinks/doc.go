// Package sinks implements progress consumers: structured logging,
// Prometheus collectors, the run history repository and the end-of-run
// snapshot export.
package sinks

// Package sinks implements progress consumers: structured logging,
// Prometheus collectors, and an in-memory tally used for run summaries.
package sinks

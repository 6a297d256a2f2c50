// Package monitoring provides Prometheus metrics for the snapshot engine
// and HTTP surface, plus a small JSON snapshot for the stats endpoint.
package monitoring

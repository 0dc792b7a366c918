// Package monitoring provides Prometheus metrics for the detection
// engine, plus a JSON snapshot for the stats API. All recording methods
// are nil-safe so tests can run monitors without a collector.
package monitoring

// Package server exposes the detection engine over a local HTTP API.
//
// The extension's background worker is the primary caller:
//   - POST /events/:monitor   analyze one event, get the decision back
//   - POST /tabs/events       feed tab-lifecycle observations
//   - PATCH /monitors/:monitor/{settings,thresholds}  runtime tuning
//   - GET /threats, /stats, /monitors/...             inspection
//   - GET /export/audit       gzip NDJSON dump of stored threats
//   - GET /stream             live threat feed over WebSocket
//   - GET /metrics            Prometheus metrics
//
// The server never makes detection decisions itself; it routes events to
// monitors and their threats to the reporting fanout and the correlation
// aggregator.
package server

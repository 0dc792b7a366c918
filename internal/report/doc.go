// Package report delivers finalized threat events to their consumers: the
// structured log, an optional external webhook collector, and live
// WebSocket subscribers.
//
// Delivery is strictly fire-and-forget. A sink that fails, stalls, or
// panics is isolated by the fanout; the detection path that produced the
// threat has already returned its decision and is never affected.
package report

// Package engine defines the shared vocabulary of the detection engine:
// inbound events, threat events, decisions, the severity ladder, and the
// bounded ring buffer every stateful component uses for history.
//
// Types here are plain data. ThreatEvents are immutable once created:
// they are appended to histories and forwarded to sinks, never mutated.
package engine

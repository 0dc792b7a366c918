package engine

import (
	"time"

	"github.com/google/uuid"
)

// Event is the inbound observation handed to a monitor by a collaborator
// (content script, webRequest hook, storage listener). All monitors accept
// a plain key-value record; typed accessors tolerate missing or mistyped
// fields by returning the zero value.
type Event map[string]interface{}

// String extracts a string field, or "" if absent or mistyped.
func (e Event) String(key string) string {
	v, _ := e[key].(string)
	return v
}

// Int extracts an integer field. JSON decoding produces float64, so both
// are accepted.
func (e Event) Int(key string) int {
	switch v := e[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Int64 extracts a 64-bit integer field.
func (e Event) Int64(key string) int64 {
	switch v := e[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Bool extracts a boolean field, or false if absent or mistyped.
func (e Event) Bool(key string) bool {
	v, _ := e[key].(bool)
	return v
}

// ThreatEvent is one detected suspicious signal. Immutable once created.
type ThreatEvent struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Severity      Severity          `json:"severity"`
	Score         float64           `json:"score"`
	Description   string            `json:"description"`
	Context       map[string]string `json:"context,omitempty"`
	SourceMonitor string            `json:"source_monitor"`
	SubjectKey    string            `json:"subject_key"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewThreat builds a ThreatEvent with a fresh ID and timestamp. Score is
// clamped to [0,100].
func NewThreat(threatType string, severity Severity, score float64, description string) ThreatEvent {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return ThreatEvent{
		ID:          uuid.NewString(),
		Type:        threatType,
		Severity:    severity,
		Score:       score,
		Description: description,
		Timestamp:   time.Now(),
	}
}

// WithContext returns a copy of the threat carrying an extra context entry.
func (t ThreatEvent) WithContext(key, value string) ThreatEvent {
	ctx := make(map[string]string, len(t.Context)+1)
	for k, v := range t.Context {
		ctx[k] = v
	}
	ctx[key] = value
	t.Context = ctx
	return t
}

// Decision is the only value returned across a monitor boundary. Downstream
// code never inspects monitor state.
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Reason    string        `json:"reason,omitempty"`
	Sanitized string        `json:"sanitized,omitempty"`
	Threats   []ThreatEvent `json:"threats,omitempty"`
}

// Allow is the zero-threat decision returned for clean or unanalyzable input.
func Allow() Decision {
	return Decision{Allowed: true}
}

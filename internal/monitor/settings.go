package monitor

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/ratelimit"
)

// UpdateSettings shallow-merges a partial settings record. Unknown keys
// are ignored; a value of the wrong type leaves the last-known-good value
// in place. No schema validation beyond type-correctness.
func (m *Monitor) UpdateSettings(partial map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, raw := range partial {
		switch key {
		case "enabled":
			if v, ok := raw.(bool); ok {
				m.settings.Enabled = v
			}
		case "block":
			if v, ok := raw.(bool); ok {
				m.settings.Block = v
			}
		case "sanitize":
			if v, ok := raw.(bool); ok {
				m.settings.Sanitize = v
			}
		case "allowlist":
			if globs, ok := toStringSlice(raw); ok {
				m.settings.Allowlist = globs
			}
		}
	}
}

// UpdateThresholds shallow-merges a partial thresholds record. Changing
// the rate tuning rebuilds the limiter; the old window's counts restart,
// which is acceptable for a heuristic defense.
func (m *Monitor) UpdateThresholds(partial map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rateChanged := false
	for key, raw := range partial {
		switch key {
		case "block_at":
			if v, ok := raw.(string); ok {
				if sev, err := engine.ParseSeverity(v); err == nil {
					m.thresholds.BlockAt = sev
				}
			}
		case "score_medium":
			if v, ok := toFloat(raw); ok {
				m.thresholds.ScoreMedium = v
			}
		case "score_high":
			if v, ok := toFloat(raw); ok {
				m.thresholds.ScoreHigh = v
			}
		case "score_critical":
			if v, ok := toFloat(raw); ok {
				m.thresholds.ScoreCritical = v
			}
		case "rate_threshold":
			if v, ok := toFloat(raw); ok && v > 0 {
				m.thresholds.RateThreshold = int(v)
				rateChanged = true
			}
		case "rate_window_ms":
			if v, ok := toFloat(raw); ok && v > 0 {
				m.thresholds.RateWindow = time.Duration(v) * time.Millisecond
				rateChanged = true
			}
		}
	}

	if rateChanged {
		m.limiter = ratelimit.New(ratelimit.Config{
			Window:    m.thresholds.RateWindow,
			Threshold: m.thresholds.RateThreshold,
		})
	}
}

// Settings returns a copy of the current settings.
func (m *Monitor) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.settings
	out.Allowlist = append([]string(nil), m.settings.Allowlist...)
	return out
}

// Thresholds returns a copy of the current thresholds.
func (m *Monitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// Stats returns a copy of the per-monitor counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stats
	out.ByType = make(map[string]int64, len(m.stats.ByType))
	for k, v := range m.stats.ByType {
		out.ByType[k] = v
	}
	return out
}

// ScoreStats summarizes the recent score distribution.
type ScoreStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Max    float64 `json:"max"`
}

// ScoreStats computes summary statistics over the bounded score window.
func (m *Monitor) ScoreStats() ScoreStats {
	m.mu.Lock()
	scores := m.scores.Snapshot()
	m.mu.Unlock()

	if len(scores) == 0 {
		return ScoreStats{}
	}
	out := ScoreStats{
		Count: len(scores),
		Mean:  stat.Mean(scores, nil),
	}
	if len(scores) > 1 {
		out.StdDev = stat.StdDev(scores, nil)
	}
	for _, s := range scores {
		if s > out.Max {
			out.Max = s
		}
	}
	return out
}

// History returns the analyzed-entry buffer, oldest first.
func (m *Monitor) History() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Snapshot()
}

// Suspicious returns the flagged-entry buffer, oldest first.
func (m *Monitor) Suspicious() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspicious.Snapshot()
}

func toStringSlice(raw interface{}) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

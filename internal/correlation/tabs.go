package correlation

import (
	"fmt"
	"sync"
	"time"

	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/ratelimit"
)

// TabEvent is one tab-lifecycle observation from the extension's tab
// orchestration layer.
type TabEvent struct {
	Action   string // "created", "closed", "redirect"
	TabID    int
	OpenerID int
	Domain   string
	Flagged  bool // tab previously carried a flagged threat
	At       time.Time
}

// TabWatcherConfig tunes the tab-lifecycle rules.
type TabWatcherConfig struct {
	CreationThreshold int           // tabs created globally per window
	SpawnThreshold    int           // tabs spawned by one opener per window
	RedirectThreshold int           // cross-origin redirects per tab per window
	Window            time.Duration
	FastCloseWithin   time.Duration // closure this soon after a flag is suspicious
}

// DefaultTabWatcherConfig returns the standard tuning.
func DefaultTabWatcherConfig() TabWatcherConfig {
	return TabWatcherConfig{
		CreationThreshold: 20,
		SpawnThreshold:    8,
		RedirectThreshold: 6,
		Window:            time.Minute,
		FastCloseWithin:   2 * time.Second,
	}
}

// TabWatcher applies structural rate rules to tab events: burst creation,
// excessive same-opener spawning, rapid cross-origin redirect chains, and
// suspiciously fast closure of flagged tabs. It reuses the same
// sliding-window primitive the monitors use.
type TabWatcher struct {
	cfg       TabWatcherConfig
	creations *ratelimit.Limiter
	spawns    *ratelimit.Limiter
	redirects *ratelimit.Limiter

	mu      sync.Mutex
	flagged map[int]time.Time // tab id -> time it was flagged
}

// NewTabWatcher creates a watcher. Zero config fields take defaults.
func NewTabWatcher(cfg TabWatcherConfig) *TabWatcher {
	def := DefaultTabWatcherConfig()
	if cfg.CreationThreshold <= 0 {
		cfg.CreationThreshold = def.CreationThreshold
	}
	if cfg.SpawnThreshold <= 0 {
		cfg.SpawnThreshold = def.SpawnThreshold
	}
	if cfg.RedirectThreshold <= 0 {
		cfg.RedirectThreshold = def.RedirectThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.FastCloseWithin <= 0 {
		cfg.FastCloseWithin = def.FastCloseWithin
	}
	return &TabWatcher{
		cfg:       cfg,
		creations: ratelimit.New(ratelimit.Config{Window: cfg.Window, Threshold: cfg.CreationThreshold}),
		spawns:    ratelimit.New(ratelimit.Config{Window: cfg.Window, Threshold: cfg.SpawnThreshold}),
		redirects: ratelimit.New(ratelimit.Config{Window: cfg.Window, Threshold: cfg.RedirectThreshold}),
		flagged:   make(map[int]time.Time),
	}
}

// MarkFlagged records that a tab carried a flagged threat, so its closure
// speed can be judged later.
func (w *TabWatcher) MarkFlagged(tabID int, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flagged[tabID] = at

	// The flagged set is bounded by eviction of stale entries.
	if len(w.flagged) > 1024 {
		cutoff := at.Add(-10 * time.Minute)
		for id, t := range w.flagged {
			if t.Before(cutoff) {
				delete(w.flagged, id)
			}
		}
	}
}

// Observe applies the tab rules to one event and returns any threats they
// produce.
func (w *TabWatcher) Observe(ev TabEvent) []engine.ThreatEvent {
	now := ev.At
	if now.IsZero() {
		now = time.Now()
	}

	var threats []engine.ThreatEvent
	switch ev.Action {
	case "created":
		if st := w.creations.Allow("global", now); !st.Allowed {
			threats = append(threats, tabThreat(
				"TAB_CREATION_BURST", engine.SeverityHigh, 60,
				fmt.Sprintf("%d tabs created within the window", st.Count),
				ev,
			))
		}
		if ev.OpenerID > 0 {
			openerKey := fmt.Sprintf("opener:%d", ev.OpenerID)
			if st := w.spawns.Allow(openerKey, now); !st.Allowed {
				threats = append(threats, tabThreat(
					"EXCESSIVE_TAB_SPAWNING", engine.SeverityHigh, 55,
					fmt.Sprintf("tab %d spawned %d tabs within the window", ev.OpenerID, st.Count),
					ev,
				))
			}
		}
	case "redirect":
		tabKey := fmt.Sprintf("tab:%d", ev.TabID)
		if st := w.redirects.Allow(tabKey, now); !st.Allowed {
			threats = append(threats, tabThreat(
				"REDIRECT_CHAIN", engine.SeverityMedium, 45,
				fmt.Sprintf("tab %d crossed origins %d times within the window", ev.TabID, st.Count),
				ev,
			))
		}
	case "closed":
		w.mu.Lock()
		flaggedAt, wasFlagged := w.flagged[ev.TabID]
		delete(w.flagged, ev.TabID)
		w.mu.Unlock()

		if wasFlagged && now.Sub(flaggedAt) <= w.cfg.FastCloseWithin {
			threats = append(threats, tabThreat(
				"FAST_CLOSE_AFTER_FLAG", engine.SeverityMedium, 40,
				fmt.Sprintf("tab %d closed %.1fs after being flagged", ev.TabID, now.Sub(flaggedAt).Seconds()),
				ev,
			))
		}
	}
	return threats
}

func tabThreat(threatType string, sev engine.Severity, score float64, desc string, ev TabEvent) engine.ThreatEvent {
	t := engine.NewThreat(threatType, sev, score, desc)
	t.SourceMonitor = "tabs"
	t.SubjectKey = ev.Domain
	if t.SubjectKey == "" {
		t.SubjectKey = fmt.Sprintf("tab:%d", ev.TabID)
	}
	t.Context = map[string]string{"tab_id": fmt.Sprintf("%d", ev.TabID)}
	return t
}

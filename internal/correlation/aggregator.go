package correlation

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/monitoring"
)

// CrossSurfaceThreatType names the synthetic threat the aggregator emits.
const CrossSurfaceThreatType = "CROSS_SURFACE_ATTACK_PATTERN"

// Config tunes escalation. Defaults: the same threat type from 3 distinct
// subjects, 5 times total, inside 60 seconds.
type Config struct {
	Window  time.Duration
	MinKeys int
	MinHits int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{Window: time.Minute, MinKeys: 3, MinHits: 5}
}

// bucket tracks one threat type's recent subjects. Timestamps are pruned
// on every read, never by a timer, so a bucket can never hold a stale
// escalation.
type bucket struct {
	keys  map[string]time.Time
	times []time.Time
}

// Aggregator watches the threat streams of all monitors and promotes
// independent low-severity events into one high-confidence composite
// threat when the same signal recurs across subjects. It is purely
// reactive: it never mutates monitor state and never blocks an in-flight
// decision.
type Aggregator struct {
	cfg     Config
	metrics *monitoring.Metrics

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates an aggregator. Zero config fields take defaults.
func New(cfg Config, metrics *monitoring.Metrics) *Aggregator {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinKeys <= 0 {
		cfg.MinKeys = def.MinKeys
	}
	if cfg.MinHits <= 0 {
		cfg.MinHits = def.MinHits
	}
	return &Aggregator{
		cfg:     cfg,
		metrics: metrics,
		buckets: make(map[string]*bucket),
	}
}

// Observe feeds one threat into the correlation window and returns a
// synthesized composite threat when the escalation rule fires, nil
// otherwise. The composite is informational and surfaced after the fact;
// the decision that carried the input threat is already made.
func (a *Aggregator) Observe(t engine.ThreatEvent) *engine.ThreatEvent {
	// Composite threats do not re-correlate with themselves.
	if t.Type == CrossSurfaceThreatType {
		return nil
	}

	now := t.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	key := NormalizeKey(t.SubjectKey)

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[t.Type]
	if !ok {
		b = &bucket{keys: make(map[string]time.Time)}
		a.buckets[t.Type] = b
	}

	b.prune(now, a.cfg.Window)
	b.keys[key] = now
	b.times = append(b.times, now)

	if len(b.keys) < a.cfg.MinKeys || len(b.times) < a.cfg.MinHits {
		return nil
	}

	keys := make([]string, 0, len(b.keys))
	for k := range b.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// One escalation per window: start the bucket over so the next
	// composite requires fresh evidence.
	delete(a.buckets, t.Type)

	composite := engine.NewThreat(
		CrossSurfaceThreatType,
		engine.SeverityCritical,
		95,
		fmt.Sprintf("%s observed across %d subjects within the correlation window", t.Type, len(keys)),
	)
	composite.SourceMonitor = "correlation"
	composite.SubjectKey = strings.Join(keys, ",")
	composite.Context = map[string]string{
		"trigger_type":  t.Type,
		"affected_keys": strings.Join(keys, ","),
	}

	a.metrics.RecordEscalation()
	return &composite
}

// Buckets returns the number of live correlation buckets.
func (a *Aggregator) Buckets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

func (b *bucket) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)

	i := 0
	for ; i < len(b.times); i++ {
		if !b.times[i].Before(cutoff) {
			break
		}
	}
	b.times = b.times[i:]

	for k, last := range b.keys {
		if last.Before(cutoff) {
			delete(b.keys, k)
		}
	}
}

// NormalizeKey folds a subject key to its registrable domain (eTLD+1) so
// sub.a.evil.com and b.evil.com correlate as one actor. Non-domain keys
// (tab ids, database names, IPs) pass through unchanged.
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "unknown"
	}
	if strings.Contains(key, ":") || net.ParseIP(key) != nil || !strings.Contains(key, ".") {
		return key
	}
	if etld, err := publicsuffix.EffectiveTLDPlusOne(key); err == nil {
		return etld
	}
	return key
}

package monitor

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/browserwarden/warden/internal/content"
	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/logging"
	"github.com/browserwarden/warden/internal/monitoring"
	"github.com/browserwarden/warden/internal/patterns"
	"github.com/browserwarden/warden/internal/ratelimit"
)

// Finding is a structural-check hit, produced by a concern's Structural
// function. The monitor turns findings into ThreatEvents.
type Finding struct {
	Type        string
	Severity    engine.Severity
	Score       float64
	Description string
	Context     map[string]string
}

// ScanTarget is one piece of text a concern wants scanned, with the
// pattern categories and context flags to scan it under.
type ScanTarget struct {
	Text       string
	Context    patterns.Context
	Categories []patterns.Category
}

// Concern is what distinguishes one monitor from another: its name, the
// pattern categories it consults, and its structural checks. Everything
// else (severity combination, rate limiting, decisioning, recording,
// reporting) is the shared pipeline in Analyze.
type Concern struct {
	Name       string
	Categories []patterns.Category

	// Structural runs checks not expressible as text patterns (private IP
	// classification, file extension policy, header inspection). Optional.
	Structural func(ev engine.Event) []Finding

	// Targets selects the text surfaces to scan. When nil, the default
	// harvests the event's url, text, value, and body fields, and expands
	// an html field into visible/hidden/comment surfaces.
	Targets func(ev engine.Event) []ScanTarget

	// Key derives the event's natural rate-limit and subject key. When
	// nil, the default prefers domain, then tab id, then the event type.
	Key func(ev engine.Event) string

	// Sanitizable marks concerns whose flagged events carry markup worth
	// sanitizing for the caller.
	Sanitizable bool
}

// Settings are the per-monitor switches. Zero value is a disabled monitor;
// use DefaultSettings for a live one.
type Settings struct {
	Enabled   bool     `json:"enabled"`
	Block     bool     `json:"block"`
	Sanitize  bool     `json:"sanitize"`
	Allowlist []string `json:"allowlist"`
}

// DefaultSettings enables analysis and blocking. The log-don't-break bias
// lives in Thresholds.BlockAt, not here.
func DefaultSettings() Settings {
	return Settings{Enabled: true, Block: true, Sanitize: true}
}

// Thresholds tune scoring and rate limiting per monitor.
type Thresholds struct {
	// BlockAt is the minimum overall severity that blocks. Default is
	// CRITICAL: lower-severity findings are logged, never break the page.
	BlockAt engine.Severity `json:"block_at"`

	// Score cutoffs mapping a pattern score to a severity.
	ScoreMedium   float64 `json:"score_medium"`
	ScoreHigh     float64 `json:"score_high"`
	ScoreCritical float64 `json:"score_critical"`

	// Sliding-window rate limit for the event's natural key.
	RateThreshold int           `json:"rate_threshold"`
	RateWindow    time.Duration `json:"rate_window"`
}

// DefaultThresholds returns the standard tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BlockAt:       engine.SeverityCritical,
		ScoreMedium:   25,
		ScoreHigh:     50,
		ScoreCritical: 75,
		RateThreshold: 30,
		RateWindow:    time.Minute,
	}
}

// Entry is one analyzed event in the history buffer. Payloads are
// truncated; the buffer bounds memory, not disk.
type Entry struct {
	Time        time.Time       `json:"time"`
	EventType   string          `json:"event_type"`
	Key         string          `json:"key"`
	Excerpt     string          `json:"excerpt,omitempty"`
	Score       float64         `json:"score"`
	Severity    engine.Severity `json:"severity"`
	ThreatTypes []string        `json:"threat_types,omitempty"`
	Blocked     bool            `json:"blocked"`
}

// Stats are the per-monitor counters.
type Stats struct {
	Analyzed    int64            `json:"analyzed"`
	Skipped     int64            `json:"skipped"`
	Flagged     int64            `json:"flagged"`
	Blocked     int64            `json:"blocked"`
	RateLimited int64            `json:"rate_limited"`
	ByType      map[string]int64 `json:"by_type"`
}

const (
	defaultHistorySize    = 500
	defaultSuspiciousSize = 200
	excerptLen            = 160
)

// Options wires a monitor's collaborators.
type Options struct {
	Library    *patterns.Library
	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
	Report     func(engine.ThreatEvent)
	Settings   *Settings
	Thresholds *Thresholds

	HistorySize    int
	SuspiciousSize int
}

// Monitor is the generic per-concern detector. One instance per concern;
// all mutable state is owned exclusively by the instance and guarded by
// its lock, so analyze pipelines never interleave mid-sequence.
type Monitor struct {
	concern   Concern
	lib       *patterns.Library
	sanitizer *content.Sanitizer
	log       *logging.Logger
	metrics   *monitoring.Metrics
	report    func(engine.ThreatEvent)

	mu         sync.Mutex
	settings   Settings
	thresholds Thresholds
	limiter    *ratelimit.Limiter
	history    *engine.Ring[Entry]
	suspicious *engine.Ring[Entry]
	scores     *engine.Ring[float64]
	stats      Stats
}

// New creates a monitor for a concern.
func New(concern Concern, opts Options) *Monitor {
	settings := DefaultSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	thresholds := DefaultThresholds()
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}
	historySize := opts.HistorySize
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	suspiciousSize := opts.SuspiciousSize
	if suspiciousSize <= 0 {
		suspiciousSize = defaultSuspiciousSize
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}

	return &Monitor{
		concern:    concern,
		lib:        opts.Library,
		sanitizer:  content.NewSanitizer(),
		log:        log.Named(concern.Name),
		metrics:    opts.Metrics,
		report:     opts.Report,
		settings:   settings,
		thresholds: thresholds,
		limiter: ratelimit.New(ratelimit.Config{
			Window:    thresholds.RateWindow,
			Threshold: thresholds.RateThreshold,
		}),
		history:    engine.NewRing[Entry](historySize),
		suspicious: engine.NewRing[Entry](suspiciousSize),
		scores:     engine.NewRing[float64](historySize),
	}
}

// Name returns the concern name.
func (m *Monitor) Name() string {
	return m.concern.Name
}

// Analyze runs the detect→score→decide→record→report pipeline for one
// event. It never returns an error and never panics: malformed input
// degrades to an allow decision.
func (m *Monitor) Analyze(ev engine.Event) (dec engine.Decision) {
	defer func() {
		// Nothing in the detection path may raise; a panic here is a bug,
		// but it must not take the caller down with it. Degrade to allow.
		if r := recover(); r != nil {
			m.log.Error("analyze panic recovered", panicField(r))
			dec = engine.Allow()
		}
	}()

	start := time.Now()

	m.mu.Lock()
	settings := m.settings
	thresholds := m.thresholds
	m.mu.Unlock()

	// Disabled monitor: terminal allow with zero side effects.
	if !settings.Enabled {
		return engine.Allow()
	}

	key := m.keyFor(ev)

	if m.allowlisted(settings, key) {
		m.mu.Lock()
		m.stats.Skipped++
		m.mu.Unlock()
		return engine.Allow()
	}

	m.metrics.RecordEvent(m.concern.Name)

	// Pattern scans and structural checks are pure; run them outside the
	// lock.
	threats := m.collectThreats(ev, thresholds)

	// Rate check and recording must stay atomic with respect to other
	// events for this monitor: no suspension between check and append.
	m.mu.Lock()
	status := m.limiter.Allow(key, start)
	if !status.Allowed {
		m.stats.RateLimited++
		threats = append(threats, rateThreat(m.concern.Name, key, status.Count, thresholds.RateThreshold))
	}
	m.mu.Unlock()

	if !status.Allowed {
		m.metrics.RecordRateLimit(m.concern.Name)
	}

	for i := range threats {
		threats[i].SourceMonitor = m.concern.Name
		threats[i].SubjectKey = key
	}

	overall := engine.MaxSeverity(threats)
	dec = engine.Decision{Allowed: true, Threats: threats}

	if len(threats) > 0 && settings.Block && overall >= thresholds.BlockAt {
		dec.Allowed = false
		dec.Reason = blockReason(threats, overall)
	}

	if len(threats) > 0 && settings.Sanitize && m.concern.Sanitizable {
		if markup := ev.String("html"); markup != "" {
			dec.Sanitized = m.sanitizer.Sanitize(markup)
		}
	}

	m.record(ev, key, threats, overall, !dec.Allowed, start)
	m.reportThreats(threats)

	m.metrics.RecordDecision(m.concern.Name, outcome(dec), time.Since(start))
	return dec
}

func (m *Monitor) collectThreats(ev engine.Event, thresholds Thresholds) []engine.ThreatEvent {
	var threats []engine.ThreatEvent

	if m.concern.Structural != nil {
		for _, f := range m.concern.Structural(ev) {
			t := engine.NewThreat(f.Type, f.Severity, f.Score, f.Description)
			t.Context = f.Context
			threats = append(threats, t)
		}
	}

	if m.lib != nil {
		for _, target := range m.targetsFor(ev) {
			res := m.lib.ScanCategories(target.Text, target.Context, target.Categories)
			if len(res.Matches) == 0 {
				continue
			}
			t := engine.NewThreat(
				patternThreatType(m.concern.Name),
				severityForScore(res.Score, thresholds),
				res.Score,
				fmt.Sprintf("%d pattern rule(s) matched", len(res.Matches)),
			)
			t.Context = patternContext(res, target)
			threats = append(threats, t)
		}
	}

	return threats
}

// targetsFor harvests the scannable surfaces of an event.
func (m *Monitor) targetsFor(ev engine.Event) []ScanTarget {
	if m.concern.Targets != nil {
		return m.concern.Targets(ev)
	}

	agent := ev.Bool("agent_active")
	base := patterns.Context{AgentActive: agent}
	var targets []ScanTarget

	for _, field := range []string{"url", "text", "value", "body"} {
		if v := ev.String(field); v != "" {
			targets = append(targets, ScanTarget{Text: v, Context: base, Categories: m.concern.Categories})
		}
	}

	if markup := ev.String("html"); markup != "" {
		ex, err := content.Extract(markup)
		if err != nil {
			// Unparseable markup still gets scanned raw.
			targets = append(targets, ScanTarget{Text: markup, Context: base, Categories: m.concern.Categories})
			return targets
		}
		if ex.Text != "" {
			targets = append(targets, ScanTarget{Text: ex.Text, Context: base, Categories: m.concern.Categories})
		}
		for _, hidden := range ex.Hidden {
			targets = append(targets, ScanTarget{
				Text:       hidden,
				Context:    patterns.Context{InHiddenElement: true, AgentActive: agent},
				Categories: m.concern.Categories,
			})
		}
		for _, comment := range ex.Comments {
			targets = append(targets, ScanTarget{
				Text:       comment,
				Context:    patterns.Context{InComment: true, AgentActive: agent},
				Categories: m.concern.Categories,
			})
		}
	}

	return targets
}

func (m *Monitor) keyFor(ev engine.Event) string {
	if m.concern.Key != nil {
		if k := m.concern.Key(ev); k != "" {
			return k
		}
	}
	if d := DomainOf(ev); d != "" {
		return d
	}
	if tab := ev.Int("tab_id"); tab > 0 {
		return fmt.Sprintf("tab:%d", tab)
	}
	if t := ev.String("type"); t != "" {
		return t
	}
	return "unknown"
}

func (m *Monitor) allowlisted(settings Settings, key string) bool {
	for _, glob := range settings.Allowlist {
		if ok, err := doublestar.Match(glob, key); err == nil && ok {
			return true
		}
	}
	return false
}

func (m *Monitor) record(ev engine.Event, key string, threats []engine.ThreatEvent, overall engine.Severity, blocked bool, now time.Time) {
	entry := Entry{
		Time:      now,
		EventType: ev.String("type"),
		Key:       key,
		Excerpt:   excerpt(ev),
		Severity:  overall,
		Blocked:   blocked,
	}
	for _, t := range threats {
		entry.ThreatTypes = append(entry.ThreatTypes, t.Type)
		if t.Score > entry.Score {
			entry.Score = t.Score
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Analyzed++
	m.history.Push(entry)
	m.scores.Push(entry.Score)

	if len(threats) > 0 {
		m.stats.Flagged++
		m.suspicious.Push(entry)
		if m.stats.ByType == nil {
			m.stats.ByType = make(map[string]int64)
		}
		for _, t := range threats {
			m.stats.ByType[t.Type]++
		}
	}
	if blocked {
		m.stats.Blocked++
	}
}

// reportThreats invokes the report callback per threat. Callback failures
// (panics, closed channels behind the callback) are recorded and
// swallowed: reporting must never block or fail the triggering operation.
func (m *Monitor) reportThreats(threats []engine.ThreatEvent) {
	if m.report == nil {
		return
	}
	for _, t := range threats {
		m.metrics.RecordThreat(t.Type, t.Severity.String())
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Warn("threat report callback failed", panicField(r))
				}
			}()
			m.report(t)
		}()
	}
}

func excerpt(ev engine.Event) string {
	for _, field := range []string{"text", "value", "body", "url", "html"} {
		if v := ev.String(field); v != "" {
			if len(v) > excerptLen {
				return v[:excerptLen]
			}
			return v
		}
	}
	return ""
}

func severityForScore(score float64, t Thresholds) engine.Severity {
	switch {
	case score >= t.ScoreCritical:
		return engine.SeverityCritical
	case score >= t.ScoreHigh:
		return engine.SeverityHigh
	case score >= t.ScoreMedium:
		return engine.SeverityMedium
	default:
		return engine.SeverityLow
	}
}

func patternThreatType(concern string) string {
	return strings.ToUpper(concern) + "_PATTERN_MATCH"
}

func patternContext(res patterns.Result, target ScanTarget) map[string]string {
	ctx := map[string]string{
		"raw_score": fmt.Sprintf("%.1f", res.RawScore),
	}
	cats := make([]string, len(res.Categories))
	for i, c := range res.Categories {
		cats[i] = string(c)
	}
	ctx["categories"] = strings.Join(cats, ",")
	if len(res.Matches) > 0 {
		ctx["first_rule"] = res.Matches[0].RuleID
	}
	if target.Context.InHiddenElement {
		ctx["surface"] = "hidden"
	} else if target.Context.InComment {
		ctx["surface"] = "comment"
	}
	return ctx
}

func rateThreat(concern, key string, count, threshold int) engine.ThreatEvent {
	t := engine.NewThreat(
		"RATE_LIMIT_EXCEEDED",
		engine.SeverityMedium,
		40,
		fmt.Sprintf("%s events for %s exceeded %d per window", concern, key, threshold),
	)
	t.Context = map[string]string{"count": fmt.Sprintf("%d", count)}
	return t
}

func blockReason(threats []engine.ThreatEvent, overall engine.Severity) string {
	for _, t := range threats {
		if t.Severity == overall {
			return fmt.Sprintf("%s: %s", t.Type, t.Description)
		}
	}
	return "threat detected"
}

func outcome(d engine.Decision) string {
	switch {
	case !d.Allowed:
		return "blocked"
	case d.Sanitized != "":
		return "sanitized"
	default:
		return "allowed"
	}
}

// DomainOf extracts the event's domain, from the domain field or the URL
// host.
func DomainOf(ev engine.Event) string {
	if d := ev.String("domain"); d != "" {
		return strings.ToLower(d)
	}
	if raw := ev.String("url"); raw != "" {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	return ""
}

func panicField(r interface{}) zap.Field {
	return zap.Any("panic", r)
}

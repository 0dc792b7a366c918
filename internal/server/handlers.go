package server

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/browserwarden/warden/internal/correlation"
	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/logging"
	"github.com/browserwarden/warden/internal/patterns"
)

type handlers struct {
	deps   Deps
	logger *logging.Logger
	start  time.Time
}

func newHandlers(deps Deps, logger *logging.Logger) *handlers {
	return &handlers{deps: deps, logger: logger, start: time.Now()}
}

// Root handles the service banner.
func (h *handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "warden",
		"version": "1.0.0",
	})
}

// Health handles the liveness check.
func (h *handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.start).Seconds()),
		"monitors":       len(h.deps.Monitors),
		"rules":          h.deps.Library.RuleCount(),
		"stored_threats": h.deps.Store.Len(),
	})
}

// AnalyzeEvent runs one event through the named monitor and returns its
// decision. Threats flow to the reporting sinks and the correlation
// aggregator as a side effect.
func (h *handlers) AnalyzeEvent(c *gin.Context) {
	mon, ok := h.deps.Monitors[c.Param("monitor")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown monitor"})
		return
	}

	var ev engine.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
		return
	}

	// The monitor already delivered these threats to the sinks through
	// its report hook; here they only feed correlation.
	dec := mon.Analyze(ev)
	h.correlate(dec.Threats)

	// Any threat flags the tab, not just a blocking one: under the
	// log-don't-block default most flagged tabs are still allowed, and
	// their closure speed matters to the tab watcher all the same.
	if len(dec.Threats) > 0 && h.deps.Tabs != nil {
		if tabID := ev.Int("tab_id"); tabID > 0 {
			h.deps.Tabs.MarkFlagged(tabID, time.Now())
		}
	}

	c.JSON(http.StatusOK, dec)
}

type tabEventRequest struct {
	Action   string `json:"action" binding:"required"`
	TabID    int    `json:"tab_id"`
	OpenerID int    `json:"opener_id"`
	Domain   string `json:"domain"`
}

// TabEvent feeds one tab-lifecycle observation to the tab watcher.
func (h *handlers) TabEvent(c *gin.Context) {
	if h.deps.Tabs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab watching disabled"})
		return
	}

	var req tabEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tab event"})
		return
	}

	// Tab threats bypass the monitors, so the server delivers them to
	// the sinks itself before correlating.
	threats := h.deps.Tabs.Observe(correlation.TabEvent{
		Action:   req.Action,
		TabID:    req.TabID,
		OpenerID: req.OpenerID,
		Domain:   req.Domain,
		At:       time.Now(),
	})
	if h.deps.Fanout != nil {
		for _, t := range threats {
			h.deps.Fanout.Report(t)
		}
	}
	h.correlate(threats)

	c.JSON(http.StatusOK, gin.H{"threats": threats})
}

// correlate lets the aggregator promote recurring threats; a resulting
// composite goes out through the sinks.
func (h *handlers) correlate(threats []engine.ThreatEvent) {
	if h.deps.Aggregator == nil {
		return
	}
	for _, t := range threats {
		composite := h.deps.Aggregator.Observe(t)
		if composite == nil {
			continue
		}
		h.logger.Warn("cross-surface escalation",
			zap.String("trigger", t.Type),
			zap.String("subjects", composite.SubjectKey))
		if h.deps.Fanout != nil {
			h.deps.Fanout.Report(*composite)
		}
	}
}

// ListMonitors returns every monitor with its settings and counters.
func (h *handlers) ListMonitors(c *gin.Context) {
	names := make([]string, 0, len(h.deps.Monitors))
	for name := range h.deps.Monitors {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		mon := h.deps.Monitors[name]
		out = append(out, gin.H{
			"name":     name,
			"settings": mon.Settings(),
			"stats":    mon.Stats(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"monitors": out})
}

// MonitorStats returns one monitor's counters, score distribution, and
// current tuning.
func (h *handlers) MonitorStats(c *gin.Context) {
	mon, ok := h.deps.Monitors[c.Param("monitor")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown monitor"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":      mon.Stats(),
		"scores":     mon.ScoreStats(),
		"settings":   mon.Settings(),
		"thresholds": mon.Thresholds(),
	})
}

// MonitorHistory returns a monitor's recent entries; ?suspicious=true
// narrows to flagged ones.
func (h *handlers) MonitorHistory(c *gin.Context) {
	mon, ok := h.deps.Monitors[c.Param("monitor")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown monitor"})
		return
	}
	if c.Query("suspicious") == "true" {
		c.JSON(http.StatusOK, gin.H{"entries": mon.Suspicious()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": mon.History()})
}

// UpdateSettings merges a partial settings document into the monitor.
func (h *handlers) UpdateSettings(c *gin.Context) {
	mon, ok := h.deps.Monitors[c.Param("monitor")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown monitor"})
		return
	}
	var partial map[string]interface{}
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings payload"})
		return
	}
	mon.UpdateSettings(partial)
	c.JSON(http.StatusOK, gin.H{"settings": mon.Settings()})
}

// UpdateThresholds merges a partial thresholds document into the monitor.
func (h *handlers) UpdateThresholds(c *gin.Context) {
	mon, ok := h.deps.Monitors[c.Param("monitor")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown monitor"})
		return
	}
	var partial map[string]interface{}
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thresholds payload"})
		return
	}
	mon.UpdateThresholds(partial)
	c.JSON(http.StatusOK, gin.H{"thresholds": mon.Thresholds()})
}

// ListThreats returns recent threats, newest first, filterable by
// minimum severity.
func (h *handlers) ListThreats(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	minSeverity := engine.SeverityLow
	if raw := c.Query("severity"); raw != "" {
		sev, err := engine.ParseSeverity(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity"})
			return
		}
		minSeverity = sev
	}
	threats := h.deps.Store.Recent(limit, minSeverity)
	c.JSON(http.StatusOK, gin.H{"threats": threats, "count": len(threats)})
}

// Stats returns engine-wide counters.
func (h *handlers) Stats(c *gin.Context) {
	perMonitor := make(map[string]interface{}, len(h.deps.Monitors))
	for name, mon := range h.deps.Monitors {
		perMonitor[name] = mon.Stats()
	}

	out := gin.H{
		"monitors":       perMonitor,
		"rules":          h.deps.Library.RuleCount(),
		"stored_threats": h.deps.Store.Len(),
		"uptime_seconds": int(time.Since(h.start).Seconds()),
	}
	if h.deps.Metrics != nil {
		out["totals"] = h.deps.Metrics.GetSnapshot()
	}
	if h.deps.Aggregator != nil {
		out["correlation_buckets"] = h.deps.Aggregator.Buckets()
	}
	if h.deps.Hub != nil {
		out["stream_clients"] = h.deps.Hub.Clients()
	}
	c.JSON(http.StatusOK, out)
}

// ReloadRules re-reads the rule pack directory and, when configured, the
// remote feed. Built-in rules always survive a reload.
func (h *handlers) ReloadRules(c *gin.Context) {
	if h.deps.Config == nil {
		c.JSON(http.StatusOK, gin.H{"rules": h.deps.Library.RuleCount()})
		return
	}

	if dir := h.deps.Config.Rules.Dir; dir != "" {
		if err := patterns.LoadDir(h.deps.Library, dir, h.deps.Logger); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if url := h.deps.Config.Rules.RemoteURL; url != "" {
		if err := patterns.FetchRemote(c.Request.Context(), h.deps.Library, url, h.deps.Logger); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"rules": h.deps.Library.RuleCount()})
}

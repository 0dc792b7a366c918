package server

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserwarden/warden/internal/config"
	"github.com/browserwarden/warden/internal/correlation"
	"github.com/browserwarden/warden/internal/logging"
	"github.com/browserwarden/warden/internal/monitor"
	"github.com/browserwarden/warden/internal/patterns"
	"github.com/browserwarden/warden/internal/report"
)

func testServer(t *testing.T) (*Server, *report.Store) {
	t.Helper()

	logger := logging.NewNop()
	library := patterns.NewLibrary(64)
	store := report.NewStore(0)
	fanout := report.NewFanout(logger, store)

	opts := monitor.Options{
		Library: library,
		Logger:  logger,
		Report:  fanout.Report,
	}
	monitors := map[string]*monitor.Monitor{}
	for _, build := range []func(monitor.Options) *monitor.Monitor{
		monitor.NewXSS, monitor.NewSQLi, monitor.NewStorage,
	} {
		m := build(opts)
		monitors[m.Name()] = m
	}

	cfg := config.Default()
	cfg.RateLimit.Enabled = false

	srv := New(Deps{
		Config:     cfg,
		Logger:     logger,
		Library:    library,
		Monitors:   monitors,
		Aggregator: correlation.New(correlation.Config{}, nil),
		Tabs:       correlation.NewTabWatcher(correlation.DefaultTabWatcherConfig()),
		Fanout:     fanout,
		Store:      store,
	})
	return srv, store
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(3), body["monitors"])
}

func TestAnalyzeUnknownMonitor(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodPost, "/events/nope", map[string]interface{}{"url": "https://x.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyzeBenignEvent(t *testing.T) {
	srv, store := testServer(t)

	w := doJSON(t, srv, http.MethodPost, "/events/xss", map[string]interface{}{
		"url": "https://example.com/page",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var dec map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.Equal(t, true, dec["allowed"])
	assert.Zero(t, store.Len())
}

func TestAnalyzeMaliciousEventBlocksAndStores(t *testing.T) {
	srv, store := testServer(t)

	w := doJSON(t, srv, http.MethodPost, "/events/xss", map[string]interface{}{
		"url": "javascript:alert(document.cookie)",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var dec map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.Equal(t, false, dec["allowed"])
	assert.NotEmpty(t, dec["reason"])

	// The monitor's report hook delivered the threat to the store.
	assert.GreaterOrEqual(t, store.Len(), 1)
}

func TestAnalyzeInvalidBody(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/events/xss", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestThreatsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	doJSON(t, srv, http.MethodPost, "/events/xss", map[string]interface{}{
		"url": "javascript:alert(1)",
	})

	w := doJSON(t, srv, http.MethodGet, "/threats?severity=critical", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Threats []map[string]interface{} `json:"threats"`
		Count   int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.GreaterOrEqual(t, body.Count, 1)
	assert.Equal(t, "EXECUTABLE_URL_SCHEME", body.Threats[0]["type"])

	w = doJSON(t, srv, http.MethodGet, "/threats?severity=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateSettingsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodPatch, "/monitors/xss/settings", map[string]interface{}{
		"block": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Settings monitor.Settings `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Settings.Block)
	assert.True(t, body.Settings.Enabled)

	// With blocking off, the same malicious event is allowed through.
	w = doJSON(t, srv, http.MethodPost, "/events/xss", map[string]interface{}{
		"url": "javascript:alert(1)",
	})
	var dec map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.Equal(t, true, dec["allowed"])
}

func TestUpdateThresholdsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodPatch, "/monitors/xss/thresholds", map[string]interface{}{
		"block_at": "HIGH",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/events/xss", map[string]interface{}{
		"url": "data:text/html,<h1>x</h1>",
	})
	var dec map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.Equal(t, false, dec["allowed"], "HIGH now meets the lowered block bar")
}

func TestListMonitors(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodGet, "/monitors", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Monitors []map[string]interface{} `json:"monitors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Monitors, 3)
	// Sorted by name.
	assert.Equal(t, "sqli", body.Monitors[0]["name"])
	assert.Equal(t, "storage", body.Monitors[1]["name"])
	assert.Equal(t, "xss", body.Monitors[2]["name"])
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	doJSON(t, srv, http.MethodPost, "/events/xss", map[string]interface{}{"url": "https://a.com/"})

	w := doJSON(t, srv, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "monitors")
	assert.Contains(t, body, "rules")
	assert.Contains(t, body, "correlation_buckets")
}

func TestTabEventsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 25; i++ {
		last = doJSON(t, srv, http.MethodPost, "/tabs/events", map[string]interface{}{
			"action": "created",
			"tab_id": i + 1,
		})
		require.Equal(t, http.StatusOK, last.Code)
	}

	var body struct {
		Threats []map[string]interface{} `json:"threats"`
	}
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	require.NotEmpty(t, body.Threats)
	assert.Equal(t, "TAB_CREATION_BURST", body.Threats[0]["type"])
}

func TestFlaggedTabFastClose(t *testing.T) {
	srv, _ := testServer(t)

	// A HIGH finding is logged but not blocked by default; the tab still
	// counts as flagged, so closing it right away is suspicious.
	w := doJSON(t, srv, http.MethodPost, "/events/xss", map[string]interface{}{
		"url":    "data:text/html,<h1>x</h1>",
		"tab_id": 7,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var dec map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	require.Equal(t, true, dec["allowed"])

	w = doJSON(t, srv, http.MethodPost, "/tabs/events", map[string]interface{}{
		"action": "closed",
		"tab_id": 7,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Threats []map[string]interface{} `json:"threats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Threats)
	assert.Equal(t, "FAST_CLOSE_AFTER_FLAG", body.Threats[0]["type"])
}

func TestRuleReloadKeepsCountsStable(t *testing.T) {
	dir := t.TempDir()
	pack := `
category: obfuscation
rules:
  - id: reload-marker
    pattern: 'RELOADMARK-\d+'
    score: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pack.yaml"), []byte(pack), 0o644))

	srv, _ := testServer(t)
	srv.deps.Config.Rules.Dir = dir

	var counts [2]float64
	for i := range counts {
		w := doJSON(t, srv, http.MethodPost, "/rules/reload", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		counts[i] = body["rules"].(float64)
	}
	assert.Equal(t, counts[0], counts[1], "reloading must not stack duplicate rules")
}

func TestTabEventsMissingAction(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, http.MethodPost, "/tabs/events", map[string]interface{}{"tab_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditExport(t *testing.T) {
	srv, _ := testServer(t)

	doJSON(t, srv, http.MethodPost, "/events/xss", map[string]interface{}{
		"url": "javascript:alert(1)",
	})

	w := doJSON(t, srv, http.MethodGet, "/export/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.NotEmpty(t, lines)
	var threat map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &threat))
	assert.Equal(t, "EXECUTABLE_URL_SCHEME", threat["type"])
}

func TestCrossSurfaceEscalationThroughAPI(t *testing.T) {
	srv, store := testServer(t)

	// Same signal from three registrable domains, five hits: the
	// aggregator promotes a composite CRITICAL threat.
	for _, domain := range []string{"a-evil.com", "b-evil.com", "c-evil.com", "a-evil.com", "b-evil.com"} {
		w := doJSON(t, srv, http.MethodPost, "/events/storage", map[string]interface{}{
			"domain": domain,
			"key":    "__proto__",
			"value":  "x",
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	found := false
	for _, t2 := range store.Snapshot() {
		if t2.Type == correlation.CrossSurfaceThreatType {
			found = true
			assert.Contains(t, t2.Context["affected_keys"], "a-evil.com")
		}
	}
	assert.True(t, found, "composite threat reached the sinks")
}

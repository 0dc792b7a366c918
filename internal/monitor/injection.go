package monitor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/patterns"
)

// NewXSS builds the cross-site-scripting monitor. Pattern scanning covers
// script payloads; the structural checks catch delivery vectors that are
// properties of the URL rather than its text.
func NewXSS(opts Options) *Monitor {
	return New(Concern{
		Name:        "xss",
		Categories:  []patterns.Category{patterns.CategoryXSS, patterns.CategoryObfuscation},
		Sanitizable: true,
		Structural:  xssStructural,
	}, opts)
}

func xssStructural(ev engine.Event) []Finding {
	var findings []Finding
	raw := ev.String("url")
	if raw == "" {
		return nil
	}
	lower := strings.ToLower(raw)

	switch {
	case strings.HasPrefix(lower, "javascript:"):
		findings = append(findings, Finding{
			Type:        "EXECUTABLE_URL_SCHEME",
			Severity:    engine.SeverityCritical,
			Score:       80,
			Description: "javascript: navigation target",
		})
	case strings.HasPrefix(lower, "data:text/html"):
		findings = append(findings, Finding{
			Type:        "EXECUTABLE_URL_SCHEME",
			Severity:    engine.SeverityHigh,
			Score:       60,
			Description: "data:text/html navigation target",
		})
	case strings.HasPrefix(lower, "vbscript:"):
		findings = append(findings, Finding{
			Type:        "EXECUTABLE_URL_SCHEME",
			Severity:    engine.SeverityHigh,
			Score:       60,
			Description: "vbscript: navigation target",
		})
	}

	// Double percent-encoding is a filter-evasion vector, not a payload.
	if strings.Contains(lower, "%253c") || strings.Contains(lower, "%2527") {
		findings = append(findings, Finding{
			Type:        "DOUBLE_ENCODED_URL",
			Severity:    engine.SeverityMedium,
			Score:       35,
			Description: "double percent-encoded markup characters in URL",
		})
	}
	return findings
}

// NewSQLi builds the SQL-injection monitor. The pattern pack matches
// injection grammar; the structural checks look at query-parameter shape.
func NewSQLi(opts Options) *Monitor {
	return New(Concern{
		Name:       "sqli",
		Categories: []patterns.Category{patterns.CategorySQLInjection},
		Structural: sqliStructural,
	}, opts)
}

func sqliStructural(ev engine.Event) []Finding {
	raw := ev.String("url")
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}

	var findings []Finding
	for param, values := range u.Query() {
		for _, v := range values {
			quotes := strings.Count(v, "'") + strings.Count(v, `"`) +
				strings.Count(strings.ToLower(v), "%27")
			if quotes >= 2 {
				findings = append(findings, Finding{
					Type:        "QUOTE_HEAVY_PARAMETER",
					Severity:    engine.SeverityMedium,
					Score:       35,
					Description: fmt.Sprintf("parameter %q carries %d quote characters", param, quotes),
					Context:     map[string]string{"param": param},
				})
			}
			if strings.Contains(v, ";") && containsSQLKeyword(v) {
				findings = append(findings, Finding{
					Type:        "STACKED_QUERY_PARAMETER",
					Severity:    engine.SeverityHigh,
					Score:       55,
					Description: fmt.Sprintf("parameter %q resembles a stacked SQL statement", param),
					Context:     map[string]string{"param": param},
				})
			}
		}
	}
	return findings
}

var sqlKeywords = []string{"select", "insert", "update", "delete", "drop", "alter", "exec"}

func containsSQLKeyword(v string) bool {
	lower := strings.ToLower(v)
	for _, kw := range sqlKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

package monitor

import (
	"fmt"
	"strings"

	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/patterns"
)

// NewFingerprinting builds the fingerprinting monitor. Individual probe
// APIs are legitimate; sweeping several distinct surfaces in one page
// load is the signal.
func NewFingerprinting(opts Options) *Monitor {
	return New(Concern{
		Name:       "fingerprinting",
		Categories: []patterns.Category{patterns.CategoryFingerprinting},
		Structural: fingerprintStructural,
	}, opts)
}

var fingerprintSurfaces = map[string]bool{
	"canvas": true, "webgl": true, "audio": true,
	"fonts": true, "plugins": true, "devices": true,
}

func fingerprintStructural(ev engine.Event) []Finding {
	apis, ok := ev["apis"].([]interface{})
	if !ok {
		return nil
	}

	distinct := make(map[string]bool)
	for _, raw := range apis {
		if name, ok := raw.(string); ok && fingerprintSurfaces[strings.ToLower(name)] {
			distinct[strings.ToLower(name)] = true
		}
	}
	if len(distinct) < 3 {
		return nil
	}

	names := make([]string, 0, len(distinct))
	for name := range distinct {
		names = append(names, name)
	}
	return []Finding{{
		Type:        "FINGERPRINT_SURFACE_SWEEP",
		Severity:    engine.SeverityHigh,
		Score:       60,
		Description: fmt.Sprintf("%d distinct fingerprinting surfaces probed", len(distinct)),
		Context:     map[string]string{"surfaces": strings.Join(names, ",")},
	}}
}

// NewSession builds the session-hijacking monitor: token exposure and
// third-party cookie access.
func NewSession(opts Options) *Monitor {
	return New(Concern{
		Name:       "session",
		Categories: []patterns.Category{patterns.CategorySessionTheft},
		Structural: sessionStructural,
	}, opts)
}

func sessionStructural(ev engine.Event) []Finding {
	var findings []Finding
	domain := DomainOf(ev)

	if scriptOrigin := strings.ToLower(ev.String("script_origin")); scriptOrigin != "" &&
		domain != "" && scriptOrigin != domain && !strings.HasSuffix(scriptOrigin, "."+domain) {
		if ev.String("type") == "cookie_access" {
			findings = append(findings, Finding{
				Type:        "THIRD_PARTY_COOKIE_ACCESS",
				Severity:    engine.SeverityMedium,
				Score:       40,
				Description: fmt.Sprintf("script from %s reads cookies on %s", scriptOrigin, domain),
				Context:     map[string]string{"script_origin": scriptOrigin},
			})
		}
	}

	if ev.Bool("auth_header_cross_origin") {
		findings = append(findings, Finding{
			Type:        "CROSS_ORIGIN_AUTH_HEADER",
			Severity:    engine.SeverityHigh,
			Score:       60,
			Description: "Authorization header attached to a cross-origin request",
		})
	}

	if ev.Bool("cookie_overwrite") && ev.Bool("session_cookie") {
		findings = append(findings, Finding{
			Type:        "SESSION_FIXATION_ATTEMPT",
			Severity:    engine.SeverityHigh,
			Score:       65,
			Description: "script overwrote an existing session cookie",
		})
	}
	return findings
}

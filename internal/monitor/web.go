package monitor

import (
	"fmt"
	"net"
	"strings"

	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/patterns"
)

// NewCSRF builds the cross-site-request-forgery monitor. CSRF is a
// structural concern: it is about where a state-changing request came
// from, not what text it carries.
func NewCSRF(opts Options) *Monitor {
	return New(Concern{
		Name:       "csrf",
		Categories: []patterns.Category{patterns.CategorySessionTheft},
		Structural: csrfStructural,
	}, opts)
}

var stateChangingMethods = map[string]bool{
	"POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

func csrfStructural(ev engine.Event) []Finding {
	method := strings.ToUpper(ev.String("method"))
	if !stateChangingMethods[method] {
		return nil
	}

	target := DomainOf(ev)
	origin := strings.ToLower(ev.String("origin"))
	var findings []Finding

	if origin == "" {
		findings = append(findings, Finding{
			Type:        "MISSING_ORIGIN_STATE_CHANGE",
			Severity:    engine.SeverityMedium,
			Score:       35,
			Description: fmt.Sprintf("%s request without an Origin header", method),
		})
		return findings
	}

	if target != "" && origin != target && !strings.HasSuffix(origin, "."+target) {
		sev := engine.SeverityHigh
		score := 55.0
		if ev.Bool("has_credentials") {
			sev = engine.SeverityCritical
			score = 80
		}
		findings = append(findings, Finding{
			Type:        "CROSS_ORIGIN_STATE_CHANGE",
			Severity:    sev,
			Score:       score,
			Description: fmt.Sprintf("%s to %s originated from %s", method, target, origin),
			Context:     map[string]string{"origin": origin, "target": target},
		})
	}
	return findings
}

// NewDNSRebinding builds the DNS-rebinding monitor. The entire concern is
// structural IP classification; no text patterns apply.
func NewDNSRebinding(opts Options) *Monitor {
	return New(Concern{
		Name:       "dns_rebinding",
		Structural: rebindStructural,
	}, opts)
}

func rebindStructural(ev engine.Event) []Finding {
	var findings []Finding
	domain := DomainOf(ev)

	if ip := net.ParseIP(ev.String("resolved_ip")); ip != nil {
		if f, ok := classifyResolvedIP(domain, ip); ok {
			findings = append(findings, f)
		}
		// A public name flipping to a private address is the rebind itself.
		if prev := net.ParseIP(ev.String("previous_ip")); prev != nil &&
			isPublicIP(prev) && !isPublicIP(ip) {
			findings = append(findings, Finding{
				Type:        "DNS_REBIND_TRANSITION",
				Severity:    engine.SeverityCritical,
				Score:       90,
				Description: fmt.Sprintf("%s moved from public %s to internal %s", domain, prev, ip),
				Context:     map[string]string{"previous_ip": prev.String(), "resolved_ip": ip.String()},
			})
		}
	}

	if domain == "localhost" || strings.HasSuffix(domain, ".localhost") || strings.HasSuffix(domain, ".local") {
		findings = append(findings, Finding{
			Type:        "LOOPBACK_HOSTNAME",
			Severity:    engine.SeverityMedium,
			Score:       40,
			Description: fmt.Sprintf("navigation to loopback-style hostname %s", domain),
		})
	}
	return findings
}

var metadataIP = net.ParseIP("169.254.169.254")

func classifyResolvedIP(domain string, ip net.IP) (Finding, bool) {
	switch {
	case ip.Equal(metadataIP):
		return Finding{
			Type:        "CLOUD_METADATA_TARGET",
			Severity:    engine.SeverityCritical,
			Score:       95,
			Description: fmt.Sprintf("%s resolves to the cloud metadata endpoint", domain),
			Context:     map[string]string{"resolved_ip": ip.String()},
		}, true
	case ip.IsLoopback(), ip.IsUnspecified():
		return Finding{
			Type:        "PRIVATE_ADDRESS_TARGET",
			Severity:    engine.SeverityHigh,
			Score:       65,
			Description: fmt.Sprintf("%s resolves to loopback %s", domain, ip),
			Context:     map[string]string{"resolved_ip": ip.String()},
		}, true
	case ip.IsPrivate(), ip.IsLinkLocalUnicast():
		return Finding{
			Type:        "PRIVATE_ADDRESS_TARGET",
			Severity:    engine.SeverityHigh,
			Score:       60,
			Description: fmt.Sprintf("%s resolves to private %s", domain, ip),
			Context:     map[string]string{"resolved_ip": ip.String()},
		}, true
	}
	return Finding{}, false
}

func isPublicIP(ip net.IP) bool {
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() &&
		!ip.IsUnspecified() && !ip.Equal(metadataIP)
}

// NewClickjacking builds the clickjacking monitor: framing without frame
// protection, invisible overlays, deep nesting.
func NewClickjacking(opts Options) *Monitor {
	return New(Concern{
		Name:       "clickjacking",
		Structural: clickjackStructural,
	}, opts)
}

func clickjackStructural(ev engine.Event) []Finding {
	var findings []Finding

	if ev.Bool("framed") && ev.Bool("missing_frame_protection") {
		findings = append(findings, Finding{
			Type:        "UNPROTECTED_FRAMED_PAGE",
			Severity:    engine.SeverityMedium,
			Score:       40,
			Description: "page framed without X-Frame-Options or frame-ancestors",
		})
	}

	if opacity, ok := floatField(ev, "overlay_opacity"); ok && opacity < 0.1 && ev.Bool("overlay_interactive") {
		findings = append(findings, Finding{
			Type:        "INVISIBLE_OVERLAY",
			Severity:    engine.SeverityHigh,
			Score:       65,
			Description: fmt.Sprintf("interactive overlay at opacity %.2f", opacity),
		})
	}

	if depth := ev.Int("frame_depth"); depth > 3 {
		findings = append(findings, Finding{
			Type:        "DEEP_FRAME_NESTING",
			Severity:    engine.SeverityMedium,
			Score:       30,
			Description: fmt.Sprintf("frame nesting depth %d", depth),
		})
	}
	return findings
}

func floatField(ev engine.Event, key string) (float64, bool) {
	switch v := ev[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

package patterns

import "regexp"

// Category weights reflect exploit severity, not match frequency: an
// exfiltration hit on its own is worse than an obfuscation hit.
var builtinWeights = map[Category]float64{
	CategoryInstructionHijack: 1.0,
	CategorySocialEngineering: 0.8,
	CategoryDataExfiltration:  1.2,
	CategoryObfuscation:       0.5,
	CategoryXSS:               1.1,
	CategorySQLInjection:      1.1,
	CategoryFingerprinting:    0.7,
	CategorySessionTheft:      1.2,
}

type ruleSpec struct {
	id      string
	pattern string
	score   float64
	desc    string
}

var builtinSpecs = map[Category][]ruleSpec{
	CategoryInstructionHijack: {
		{"hijack-ignore-previous", `(?i)ignore\s+(?:all\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts|directives|rules)`, 30, "instruction override attempt"},
		{"hijack-disregard", `(?i)disregard\s+(?:your|all|any|the)\s+(?:instructions|guidelines|training|rules)`, 30, "instruction override attempt"},
		{"hijack-new-instructions", `(?i)(?:new|updated|real)\s+instructions?\s*[:=]`, 20, "instruction replacement attempt"},
		{"hijack-system-prompt", `(?i)(?:system|hidden|secret)\s+prompt`, 20, "system prompt reference"},
		{"hijack-role-reset", `(?i)you\s+are\s+(?:now|no\s+longer)\s+(?:a|an|the)\b`, 15, "role reassignment attempt"},
		{"hijack-forget", `(?i)forget\s+(?:everything|all|your)\s`, 15, "context reset attempt"},
		{"hijack-do-anything", `(?i)\b(?:DAN|do\s+anything\s+now)\b.{0,40}(?:mode|jailbreak)`, 25, "jailbreak persona invocation"},
		{"hijack-agent-directive", `(?i)\b(?:ai|assistant|agent|model)\b.{0,30}\bmust\s+(?:now\s+)?(?:obey|comply|execute|run)`, 25, "direct agent coercion"},
	},
	CategorySocialEngineering: {
		{"soceng-urgency", `(?i)(?:urgent|immediately|right\s+now).{0,40}(?:verify|confirm|update)\s+(?:your|the)\s+(?:account|identity|payment)`, 15, "urgency pressure"},
		{"soceng-suspended", `(?i)(?:account|access)\s+(?:has\s+been\s+|will\s+be\s+)?(?:suspended|locked|terminated)`, 15, "account threat lure"},
		{"soceng-prize", `(?i)(?:you(?:'ve|\s+have)\s+won|claim\s+your)\s.{0,30}(?:prize|reward|gift)`, 10, "prize lure"},
		{"soceng-credential-ask", `(?i)(?:enter|provide|confirm)\s+your\s+(?:password|pin|ssn|social\s+security)`, 25, "credential solicitation"},
		{"soceng-support-impersonation", `(?i)(?:official\s+support|security\s+team).{0,40}(?:requires|needs)\s+your`, 15, "support impersonation"},
	},
	CategoryDataExfiltration: {
		{"exfil-reveal-secret", `(?i)(?:reveal|show|print|output|send|tell\s+me)\b.{0,40}\b(?:password|passwords|secret|secrets|api[_\s-]?key|token|credential)`, 30, "secret disclosure request"},
		{"exfil-send-to-url", `(?i)(?:send|post|upload|forward|transmit)\b.{0,40}\bto\s+https?://`, 25, "outbound data push instruction"},
		{"exfil-conversation", `(?i)(?:copy|paste|repeat|summariz\w+)\b.{0,40}\b(?:conversation|chat\s+history|context\s+window)`, 20, "conversation capture request"},
		{"exfil-beacon", `(?i)(?:new\s+Image\(\)|navigator\.sendBeacon|fetch\()\s*.{0,60}(?:document\.cookie|localStorage)`, 35, "script-based data beacon"},
		{"exfil-env", `(?i)(?:cat|echo|printenv)\s+.{0,20}(?:\.env|id_rsa|credentials)`, 25, "environment harvest command"},
		{"exfil-clipboard", `(?i)(?:read|access)\s+(?:the\s+)?clipboard`, 15, "clipboard read request"},
	},
	CategoryObfuscation: {
		{"obf-zero-width", `[\x{200B}\x{200C}\x{200D}\x{2060}\x{FEFF}]{3,}`, 15, "zero-width character padding"},
		{"obf-base64-blob", `[A-Za-z0-9+/]{120,}={0,2}`, 10, "long base64 payload"},
		{"obf-fromcharcode", `(?i)String\.fromCharCode\s*\(`, 20, "character-code string assembly"},
		{"obf-hex-run", `(?:\\x[0-9a-fA-F]{2}){8,}`, 15, "hex escape run"},
		{"obf-unicode-run", `(?:\\u[0-9a-fA-F]{4}){8,}`, 15, "unicode escape run"},
		{"obf-atob", `(?i)\batob\s*\(`, 10, "base64 decode call"},
	},
	CategoryXSS: {
		{"xss-script-tag", `(?i)<\s*script[\s>]`, 30, "script tag"},
		{"xss-js-scheme", `(?i)javascript\s*:`, 25, "javascript: URL scheme"},
		{"xss-event-handler", `(?i)\bon(?:error|load|click|mouseover|focus|submit)\s*=`, 20, "inline event handler"},
		{"xss-iframe-srcdoc", `(?i)<\s*iframe[^>]{0,120}srcdoc\s*=`, 25, "iframe srcdoc injection"},
		{"xss-eval", `(?i)\beval\s*\(`, 15, "eval call"},
		{"xss-doc-write", `(?i)document\.(?:write|writeln)\s*\(`, 15, "document.write call"},
		{"xss-innerhtml", `(?i)\.(?:innerHTML|outerHTML)\s*=`, 15, "innerHTML assignment"},
		{"xss-data-html", `(?i)data:text/html[;,]`, 20, "data:text/html payload"},
	},
	CategorySQLInjection: {
		{"sqli-union-select", `(?i)\bunion\b.{0,20}\bselect\b`, 30, "UNION SELECT probe"},
		{"sqli-or-true", `(?i)(?:'|%27)\s*or\s+(?:'?1'?\s*=\s*'?1|true)`, 30, "tautology probe"},
		{"sqli-comment-trail", `(?:'|%27)\s*(?:--|#|/\*)`, 20, "quote with trailing comment"},
		{"sqli-stacked-drop", `(?i);\s*drop\s+(?:table|database)\b`, 35, "stacked DROP statement"},
		{"sqli-time-blind", `(?i)\b(?:sleep|benchmark|pg_sleep|waitfor\s+delay)\s*\(?`, 25, "time-based blind probe"},
		{"sqli-schema-probe", `(?i)\binformation_schema\b`, 20, "schema enumeration"},
		{"sqli-exec-xp", `(?i)\b(?:xp_cmdshell|exec\s*\(\s*@)`, 35, "command execution via SQL"},
	},
	CategoryFingerprinting: {
		{"fp-canvas-read", `(?i)(?:toDataURL|getImageData)\s*\(`, 15, "canvas pixel read"},
		{"fp-webgl-probe", `(?i)getParameter\s*\(.{0,40}(?:VENDOR|RENDERER)`, 15, "WebGL vendor probe"},
		{"fp-audio-context", `(?i)(?:OfflineAudioContext|createOscillator|createDynamicsCompressor)`, 15, "audio stack probe"},
		{"fp-device-enum", `(?i)enumerateDevices\s*\(`, 15, "media device enumeration"},
		{"fp-plugin-enum", `(?i)navigator\.(?:plugins|mimeTypes)\b`, 10, "plugin enumeration"},
		{"fp-font-probe", `(?i)(?:measureText\s*\(|font-family).{0,60}(?:monospace|sans-serif).{0,60}(?:serif|cursive)`, 10, "font metric probe"},
	},
	CategorySessionTheft: {
		{"session-cookie-read", `(?i)document\.cookie`, 20, "cookie access"},
		{"session-storage-token", `(?i)(?:localStorage|sessionStorage)\.(?:getItem\s*\(\s*)?['"](?:token|jwt|session|auth)`, 25, "stored token access"},
		{"session-sid-in-url", `(?i)[?&](?:sessionid|session_id|sid|phpsessid|jsessionid)=`, 20, "session id in URL"},
		{"session-bearer-leak", `(?i)authorization\s*[:=]\s*bearer\s+[A-Za-z0-9._~+/-]{20,}`, 30, "bearer token literal"},
		{"session-jwt-literal", `eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`, 25, "JWT literal"},
	},
}

// builtinPacks compiles the builtin tables. Builtin patterns are
// maintained alongside this file, so a compile failure is a programmer
// error and panics at startup.
func builtinPacks() []Pack {
	packs := make([]Pack, 0, len(builtinSpecs))
	for cat, specs := range builtinSpecs {
		p := Pack{Category: cat, Weight: builtinWeights[cat]}
		for _, s := range specs {
			p.Rules = append(p.Rules, Rule{
				ID:          s.id,
				Category:    cat,
				BaseScore:   s.score,
				Description: s.desc,
				regex:       regexp.MustCompile(s.pattern),
			})
		}
		packs = append(packs, p)
	}
	return packs
}

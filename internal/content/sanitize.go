package content

import "github.com/microcosm-cc/bluemonday"

// Sanitizer produces the cleaned markup attached to sanitize decisions.
// The extension's content sanitizer collaborator applies it to the DOM;
// this side only computes it.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer creates a sanitizer with the user-generated-content policy:
// formatting and links survive, script vectors do not.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.UGCPolicy()}
}

// Sanitize strips markup that can execute or exfiltrate.
func (s *Sanitizer) Sanitize(htmlStr string) string {
	return s.policy.Sanitize(htmlStr)
}

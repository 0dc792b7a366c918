// Package content extracts the scannable surfaces of a page: visible
// text, text hidden from human readers, and HTML comments. It also holds
// the sanitizer that computes cleaned markup for sanitize decisions.
package content

// Package patterns implements the pattern library: categorized matcher
// rules with weighted scoring over arbitrary text.
//
// Rules are data, not code. The builtin packs ship as tables in rules.go,
// and additional packs load from YAML files or a remote URL, so the rule
// set can be tested and fuzzed independently of the scoring engine.
//
// Scanning is pure: identical (text, context) input yields an identical
// result, which makes results safe to cache. The cache is a bounded LRU
// keyed by a blake2b digest of the input; any rule reload clears it first,
// since cached scores are only valid for the rule set that produced them.
package patterns

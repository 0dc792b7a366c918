package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Category groups rules by the attack class they detect. Categories carry
// independent weight multipliers reflecting exploit severity.
type Category string

const (
	CategoryInstructionHijack Category = "instructionHijack"
	CategorySocialEngineering Category = "socialEngineering"
	CategoryDataExfiltration  Category = "dataExfiltration"
	CategoryObfuscation       Category = "obfuscation"
	CategoryXSS               Category = "xssInjection"
	CategorySQLInjection      Category = "sqlInjection"
	CategoryFingerprinting    Category = "fingerprinting"
	CategorySessionTheft      Category = "sessionTheft"
)

// Rule is one matcher with a category and a base score. Immutable after
// load. The matcher is either a compiled regex or a sandboxed predicate.
type Rule struct {
	ID          string
	Category    Category
	BaseScore   float64
	Description string

	regex  *regexp.Regexp
	pred   *predicate
	source string
}

// NewRegexRule compiles a regex-backed rule.
func NewRegexRule(id string, category Category, pattern string, score float64, description string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: invalid pattern: %w", id, err)
	}
	return Rule{ID: id, Category: category, BaseScore: score, Description: description, regex: re}, nil
}

// NewPredicateRule compiles a rule whose matcher is a JavaScript function
// expression of one string argument, run in a sandboxed interpreter.
func NewPredicateRule(id string, category Category, source string, score float64, description string) (Rule, error) {
	p, err := newPredicate(source)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: invalid predicate: %w", id, err)
	}
	return Rule{ID: id, Category: category, BaseScore: score, Description: description, pred: p}, nil
}

// Match runs the rule against text, returning the matched fragment.
func (r *Rule) Match(text string) (string, bool) {
	if r.regex != nil {
		m := r.regex.FindString(text)
		if m == "" {
			// Distinguish empty match from no match.
			if loc := r.regex.FindStringIndex(text); loc == nil {
				return "", false
			}
		}
		return m, true
	}
	if r.pred != nil && r.pred.match(text) {
		return "", true
	}
	return "", false
}

// Match records a single rule hit. One input may produce many.
type Match struct {
	RuleID      string   `json:"rule_id"`
	Category    Category `json:"category"`
	MatchedText string   `json:"matched_text,omitempty"`
	Score       float64  `json:"score"`
}

// Context carries caller-supplied flags that amplify the final score. The
// same text is more dangerous when concealed from a human reader but
// visible to an automated one.
type Context struct {
	InHiddenElement bool
	InComment       bool
	AgentActive     bool
}

func (c Context) multiplier() float64 {
	m := 1.0
	if c.InHiddenElement {
		m *= 1.5
	}
	if c.InComment {
		m *= 1.2
	}
	if c.AgentActive {
		m *= 1.3
	}
	return m
}

func (c Context) cacheKey() string {
	var b strings.Builder
	if c.InHiddenElement {
		b.WriteByte('h')
	}
	if c.InComment {
		b.WriteByte('c')
	}
	if c.AgentActive {
		b.WriteByte('a')
	}
	return b.String()
}

// Result is the outcome of a scan. Score is RawScore plus per-category
// weight bonuses, context-multiplied, capped at 100.
type Result struct {
	Matches    []Match    `json:"matches"`
	RawScore   float64    `json:"raw_score"`
	Score      float64    `json:"score"`
	Categories []Category `json:"categories"`
}

// Pack is one category's rule table with its weight.
type Pack struct {
	Category Category
	Weight   float64
	Rules    []Rule
}

// Library holds the loaded rule packs behind a read-write lock. Reads
// (scans) vastly outnumber writes (reloads).
type Library struct {
	mu      sync.RWMutex
	rules   map[Category][]Rule
	weights map[Category]float64
	cache   *scanCache
}

// Rule provenance. Reloadable sources (packs from disk, the remote feed)
// are replaced wholesale on reload; builtin and runtime rules persist.
const (
	sourceBuiltin = "builtin"
	sourceRuntime = "runtime"
	sourceDir     = "dir"
	sourceRemote  = "remote"
)

// NewLibrary creates a library preloaded with the builtin packs.
func NewLibrary(cacheSize int) *Library {
	l := &Library{
		rules:   make(map[Category][]Rule),
		weights: make(map[Category]float64),
		cache:   newScanCache(cacheSize),
	}
	for _, p := range builtinPacks() {
		l.install(p, sourceBuiltin)
	}
	return l
}

func (l *Library) install(p Pack, source string) {
	rules := make([]Rule, len(p.Rules))
	copy(rules, p.Rules)
	for i := range rules {
		rules[i].source = source
	}
	l.rules[p.Category] = append(l.rules[p.Category], rules...)
	if p.Weight > 0 {
		l.weights[p.Category] = p.Weight
	} else if _, ok := l.weights[p.Category]; !ok {
		l.weights[p.Category] = 1.0
	}
}

// AddPack installs a pack at runtime. The scan cache is cleared first:
// cached results are only valid for the rule set that produced them.
func (l *Library) AddPack(p Pack) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.clear()
	l.install(p, sourceRuntime)
}

// ReplacePacks atomically swaps every rule previously installed under
// source for the given packs, so reloading a pack set never accumulates
// duplicates. Rules from other sources (builtins included) are untouched.
// The scan cache is cleared for the same reason AddPack clears it.
func (l *Library) ReplacePacks(source string, packs []Pack) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.clear()
	for cat, rules := range l.rules {
		kept := rules[:0]
		for _, r := range rules {
			if r.source != source {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(l.rules, cat)
		} else {
			l.rules[cat] = kept
		}
	}
	for _, p := range packs {
		l.install(p, source)
	}
}

// RuleCount returns the total number of loaded rules.
func (l *Library) RuleCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, rules := range l.rules {
		n += len(rules)
	}
	return n
}

// Scan matches text against every rule in every category. Rules are
// independent: there is no short-circuiting across categories, and one
// text may land in several categories at once. Empty input yields the
// zero result; Scan never fails.
func (l *Library) Scan(text string, ctx Context) Result {
	return l.ScanCategories(text, ctx, nil)
}

// ScanCategories restricts the scan to the given categories. A nil or
// empty list means all categories.
func (l *Library) ScanCategories(text string, ctx Context, categories []Category) Result {
	if text == "" {
		return Result{}
	}

	key := cacheDigest(text, ctx, categories)
	if res, ok := l.cache.get(key); ok {
		return res
	}

	l.mu.RLock()
	res := l.scanLocked(text, ctx, categories)
	l.mu.RUnlock()

	l.cache.put(key, res)
	return res
}

func (l *Library) scanLocked(text string, ctx Context, categories []Category) Result {
	var res Result
	seen := make(map[Category]bool)

	scanPack := func(cat Category, rules []Rule) {
		for i := range rules {
			r := &rules[i]
			fragment, ok := r.Match(text)
			if !ok {
				continue
			}
			res.Matches = append(res.Matches, Match{
				RuleID:      r.ID,
				Category:    cat,
				MatchedText: truncate(fragment, 120),
				Score:       r.BaseScore,
			})
			res.RawScore += r.BaseScore
			if !seen[cat] {
				seen[cat] = true
				res.Categories = append(res.Categories, cat)
			}
		}
	}

	if len(categories) == 0 {
		// Iterate in sorted category order so scan results are
		// deterministic regardless of map iteration order.
		cats := make([]Category, 0, len(l.rules))
		for cat := range l.rules {
			cats = append(cats, cat)
		}
		sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
		for _, cat := range cats {
			scanPack(cat, l.rules[cat])
		}
	} else {
		for _, cat := range categories {
			scanPack(cat, l.rules[cat])
		}
	}

	sort.Slice(res.Categories, func(i, j int) bool { return res.Categories[i] < res.Categories[j] })

	score := res.RawScore
	for _, cat := range res.Categories {
		score += l.weights[cat] * 10
	}
	score *= ctx.multiplier()
	if score > 100 {
		score = 100
	}
	res.Score = score
	return res
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

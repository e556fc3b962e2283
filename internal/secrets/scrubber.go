package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures a Scrubber.
type Config struct {
	Enabled   bool   `koanf:"enabled" json:"enabled"`
	Redaction string `koanf:"redaction" json:"redaction"`

	// Gitleaks adds the gitleaks default rule set to the built-in rules.
	Gitleaks bool `koanf:"gitleaks" json:"gitleaks"`

	// ExtraRules are appended to DefaultRules.
	ExtraRules []Rule `koanf:"extra_rules" json:"extra_rules,omitempty"`
}

// DefaultConfig enables scrubbing with the built-in and gitleaks rules.
func DefaultConfig() Config {
	return Config{Enabled: true, Redaction: DefaultRedaction, Gitleaks: true}
}

// Result describes one scrub.
type Result struct {
	Text string

	// Redactions is the number of merged regions replaced.
	Redactions int

	// RuleIDs lists the rules that matched, sorted and deduplicated.
	RuleIDs []string
}

type span struct {
	start, end int
	rule       string
}

type compiledRule struct {
	id       string
	re       *regexp.Regexp
	keywords []string
}

// Scrubber redacts secrets. It is immutable after construction and safe for
// concurrent use.
type Scrubber struct {
	enabled   bool
	redaction string
	rules     []compiledRule
	gitleaks  *gitleaksDetector
}

// New compiles cfg into a Scrubber.
func New(cfg Config) (*Scrubber, error) {
	s := &Scrubber{enabled: cfg.Enabled, redaction: cfg.Redaction}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}

	rules := append(DefaultRules(), cfg.ExtraRules...)
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("secret rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("secret rule %s: %w", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, re: re, keywords: kws})
	}
	if cfg.Enabled && cfg.Gitleaks {
		g, err := newGitleaksDetector()
		if err != nil {
			return nil, err
		}
		s.gitleaks = g
	}
	return s, nil
}

// MustNew is New that panics on error. Intended for the default config.
func MustNew(cfg Config) *Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub returns text with every detected secret replaced.
func (s *Scrubber) Scrub(text string) Result {
	if s == nil || !s.enabled || text == "" {
		return Result{Text: text}
	}

	var (
		spans []span
		hits  = map[string]struct{}{}
		lower = strings.ToLower(text)
	)
	for _, r := range s.rules {
		if !hasKeyword(lower, r.keywords) {
			continue
		}
		for _, m := range r.re.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: m[0], end: m[1], rule: r.id})
		}
	}
	if s.gitleaks != nil {
		spans = append(spans, s.gitleaks.find(text)...)
	}
	for _, sp := range spans {
		hits[sp.rule] = struct{}{}
	}
	if len(spans) == 0 {
		return Result{Text: text}
	}

	// Overlapping matches from different rules collapse into one redaction.
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, sp := range merged {
		b.WriteString(text[prev:sp.start])
		b.WriteString(s.redaction)
		prev = sp.end
	}
	b.WriteString(text[prev:])

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return Result{Text: b.String(), Redactions: len(merged), RuleIDs: ids}
}

// ScrubString is Scrub returning only the text.
func (s *Scrubber) ScrubString(text string) string {
	return s.Scrub(text).Text
}

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

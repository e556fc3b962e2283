// Package safety blocks shell commands that can destroy a system.
//
// The filter is a fixed list of case-insensitive regular expressions checked
// in order; the first match blocks the command. Configuration may add rules
// but can never remove the built-in ones.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Decision is the verdict for one command.
type Decision struct {
	Allowed bool   `json:"allowed"`
	RuleID  string `json:"rule_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Rule is a blocking pattern.
type Rule struct {
	ID      string
	Reason  string
	Pattern string
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// rm with a recursive flag in any spelling: -r, -R, -rf, -fr, --recursive.
const rmRecursive = `\brm\s+(?:-[^\s]*\s+)*(?:-[a-z]*r[a-z]*|--recursive)(?:\s+-[^\s]*)*\s+`

// builtinRules are always active.
var builtinRules = []Rule{
	{
		ID:      "rm-root",
		Reason:  "recursive delete of the filesystem root",
		Pattern: rmRecursive + `(?:--\s+)?['"]?/(?:\*|\.)?['"]?(?:\s|;|&|\||$)`,
	},
	{
		ID:      "rm-home",
		Reason:  "recursive delete of the home directory",
		Pattern: rmRecursive + `(?:--\s+)?['"]?(?:~|\$home|\$\{home\})/?\*?['"]?(?:\s|;|&|\||$)`,
	},
	{
		ID:      "rm-no-preserve-root",
		Reason:  "rm with --no-preserve-root",
		Pattern: `\brm\b.*--no-preserve-root`,
	},
	{
		ID:      "dd-to-device",
		Reason:  "dd writing to a block device",
		Pattern: `\bdd\b.*\bof=/dev/(?:sd|hd|vd|xvd|nvme|mmcblk|disk)`,
	},
	{
		ID:      "redirect-to-device",
		Reason:  "output redirected onto a block device",
		Pattern: `>\s*/dev/(?:sd|hd|vd|xvd|nvme|mmcblk|disk)[a-z0-9]*`,
	},
	{
		ID:      "mkfs",
		Reason:  "formatting a device",
		Pattern: `\b(?:mkfs(?:\.[a-z0-9]+)?|mkswap|wipefs)\b.*?/dev/`,
	},
	{
		ID:      "shred-device",
		Reason:  "shredding a device",
		Pattern: `\bshred\b.*?/dev/`,
	},
	{
		ID:      "chmod-root",
		Reason:  "recursive permission change of the filesystem root",
		Pattern: `\b(?:chmod|chown|chgrp)\s+(?:-[^\s]*\s+)*(?:-[a-z]*r[a-z]*|--recursive)(?:\s+[^\s]+)*?\s+/(?:\s|;|&|\||$)`,
	},
	{
		ID:      "chmod-777-root",
		Reason:  "world-writable filesystem root",
		Pattern: `\bchmod\s+(?:-[^\s]+\s+)*0?777\s+/(?:\s|;|&|\||$)`,
	},
	{
		ID:      "fork-bomb",
		Reason:  "fork bomb",
		Pattern: `:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
	},
	{
		ID:      "move-to-dev-null",
		Reason:  "moving home or root to /dev/null",
		Pattern: `\bmv\s+(?:-[^\s]+\s+)*(?:~|\$home|/)/?\s+/dev/null`,
	},
}

// Filter checks commands against the rule list. It is immutable and safe for
// concurrent use.
type Filter struct {
	rules []compiledRule
}

// NewFilter compiles the built-in rules plus any extra patterns. Extra
// patterns are matched case-insensitively and identified as "custom-<n>".
func NewFilter(extraPatterns []string) (*Filter, error) {
	rules := append([]Rule{}, builtinRules...)
	for i, p := range extraPatterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		rules = append(rules, Rule{
			ID:      fmt.Sprintf("custom-%d", i+1),
			Reason:  "matched configured pattern " + p,
			Pattern: p,
		})
	}

	f := &Filter{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("safety rule %s: %w", r.ID, err)
		}
		f.rules = append(f.rules, compiledRule{Rule: r, re: re})
	}
	return f, nil
}

var defaultFilter = func() *Filter {
	f, err := NewFilter(nil)
	if err != nil {
		panic(err)
	}
	return f
}()

// Default returns a filter with only the built-in rules.
func Default() *Filter {
	return defaultFilter
}

// Check returns the verdict for command. Commands are matched after
// collapsing whitespace, so "rm   -rf    /" is treated like "rm -rf /".
func (f *Filter) Check(command string) Decision {
	normalized := strings.Join(strings.Fields(command), " ")
	for _, r := range f.rules {
		if r.re.MatchString(normalized) {
			return Decision{Allowed: false, RuleID: r.ID, Reason: r.Reason}
		}
	}
	return Decision{Allowed: true}
}

// RuleIDs lists the active rules in match order.
func (f *Filter) RuleIDs() []string {
	ids := make([]string, len(f.rules))
	for i, r := range f.rules {
		ids[i] = r.ID
	}
	return ids
}

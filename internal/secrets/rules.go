package secrets

// Rule detects one kind of secret.
type Rule struct {
	ID      string `koanf:"id" json:"id"`
	Pattern string `koanf:"pattern" json:"pattern"`

	// Keywords gate the regex: when set, at least one must appear
	// (case-insensitively) in the input before the pattern is tried.
	Keywords []string `koanf:"keywords" json:"keywords,omitempty"`
}

// DefaultRules returns the built-in detection rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "aws-access-key-id",
			Pattern:  `\b(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`,
			Keywords: []string{"akia", "asia", "agpa", "aida", "aroa"},
		},
		{
			ID:      "private-key",
			Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----[\s\S]*?(?:-----END [A-Z ]*PRIVATE KEY(?: BLOCK)?-----|$)`,
		},
		{
			ID:       "github-token",
			Pattern:  `\b(?:gh[pousr]_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,})\b`,
			Keywords: []string{"gh", "github_pat_"},
		},
		{
			ID:       "gitlab-token",
			Pattern:  `\bglpat-[A-Za-z0-9_\-]{20,}`,
			Keywords: []string{"glpat-"},
		},
		{
			ID:       "slack-token",
			Pattern:  `\bxox[abposr]-[A-Za-z0-9\-]{10,}`,
			Keywords: []string{"xox"},
		},
		{
			ID:       "api-key-prefixed",
			Pattern:  `\bsk-(?:ant-|proj-)?[A-Za-z0-9_\-]{20,}`,
			Keywords: []string{"sk-"},
		},
		{
			ID:       "jwt",
			Pattern:  `\beyJ[A-Za-z0-9_\-]{8,}\.eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}`,
			Keywords: []string{"eyj"},
		},
		{
			ID:       "bearer-token",
			Pattern:  `(?i)\bbearer\s+[A-Za-z0-9_\-\.=+/]{16,}`,
			Keywords: []string{"bearer"},
		},
		{
			ID:       "url-credentials",
			Pattern:  `[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s:/@]+:[^\s@/]+@`,
			Keywords: []string{"://"},
		},
		{
			ID:       "assigned-secret",
			Pattern:  `(?i)\b[\w.\-]*(?:password|passwd|pwd|secret|token|api[_\-]?key|access[_\-]?key)[\w.\-]*\s*[:=]\s*['"]?[^\s'"]{6,}['"]?`,
			Keywords: []string{"pass", "pwd", "secret", "token", "key"},
		},
	}
}

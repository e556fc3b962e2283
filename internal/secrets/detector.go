package secrets

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksDetector finds secrets with the gitleaks default rule set. One
// detector is shared by every Scrub call on a Scrubber.
type gitleaksDetector struct {
	mu       sync.Mutex
	detector *detect.Detector
}

func newGitleaksDetector() (*gitleaksDetector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	return &gitleaksDetector{detector: d}, nil
}

// find returns the byte spans of every gitleaks finding in text, with the
// rule that produced each.
func (g *gitleaksDetector) find(text string) []span {
	g.mu.Lock()
	findings := g.detector.DetectString(text)
	g.mu.Unlock()

	var spans []span
	for _, f := range findings {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		// Findings carry line and column positions; the secret text itself
		// locates every occurrence in the flat string.
		for off := 0; ; {
			i := strings.Index(text[off:], secret)
			if i < 0 {
				break
			}
			start := off + i
			spans = append(spans, span{start: start, end: start + len(secret), rule: "gitleaks:" + f.RuleID})
			off = start + len(secret)
		}
	}
	return spans
}

// Package redact masks credentials in user text before it leaves the
// process, using the gitleaks rule set.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ravikadam/tasks/internal/config"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

const previewLen = 4

var redactionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taskagent_redactions_total",
		Help: "Secrets redacted from text before model calls, by gitleaks rule.",
	},
	[]string{"rule"},
)

// Finding describes one redacted secret. The value itself is never kept.
type Finding struct {
	RuleID  string
	Preview string
	Length  int
}

// Result is redacted text plus what was removed.
type Result struct {
	Text     string
	Findings []Finding
}

// Redactor scans text with the default gitleaks rules. A nil or disabled
// Redactor returns text unchanged.
type Redactor struct {
	cfg gitleaksConfig.Config
}

// New builds a Redactor, or returns nil when redaction is disabled.
func New(rc config.RedactionConfig) (*Redactor, error) {
	if !rc.Enabled {
		return nil, nil
	}

	allowlist, err := LoadAllowlist(rc.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}

	base, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	cfg := base.Config
	applyAllowlist(&cfg, allowlist)

	return &Redactor{cfg: cfg}, nil
}

// applyAllowlist appends a global gitleaks allowlist built from al.
// Patterns were validated by LoadAllowlist.
func applyAllowlist(cfg *gitleaksConfig.Config, al *Allowlist) {
	if len(al.Regexes) == 0 && len(al.StopWords) == 0 {
		return
	}
	entry := &gitleaksConfig.Allowlist{Description: "taskagent allowlist"}
	for _, pattern := range al.Regexes {
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	entry.StopWords = append(entry.StopWords, al.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, entry)
}

// Redact replaces each detected secret with [REDACTED:rule:preview].
// The preview is the first four characters, enough to tell keys apart
// in an audit without making them usable.
func (r *Redactor) Redact(text string) Result {
	if r == nil || text == "" {
		return Result{Text: text}
	}

	// A detector accumulates findings internally, so each call gets its own.
	detector := detect.NewDetector(r.cfg)
	found := detector.DetectString(text)
	if len(found) == 0 {
		return Result{Text: text}
	}

	// Longest first so a secret that contains another is replaced whole.
	sort.Slice(found, func(i, j int) bool {
		return len(found[i].Secret) > len(found[j].Secret)
	})

	findings := make([]Finding, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, f := range found {
		if f.Secret == "" || seen[f.Secret] {
			continue
		}
		seen[f.Secret] = true

		preview := f.Secret
		if len(preview) > previewLen {
			preview = preview[:previewLen]
		}
		text = strings.ReplaceAll(text, f.Secret, fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview))
		findings = append(findings, Finding{RuleID: f.RuleID, Preview: preview, Length: len(f.Secret)})
		redactionsTotal.WithLabelValues(f.RuleID).Inc()
	}

	return Result{Text: text, Findings: findings}
}

// Scrub is Redact without the findings.
func (r *Redactor) Scrub(text string) string {
	return r.Redact(text).Text
}

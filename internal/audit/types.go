package audit

import (
	"crypto/sha256"
	"fmt"
)

// Severity represents the severity level of a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Valid reports whether s is one of the three known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// DecisionType classifies a persisted judgment about a finding.
type DecisionType string

const (
	// DecisionAccepted means the finding was valid and a fix was applied.
	DecisionAccepted DecisionType = "accepted"
	// DecisionDismissed means the finding is not relevant / won't fix.
	DecisionDismissed DecisionType = "dismissed"
	// DecisionIntentional means the code is correct as-is; don't flag again.
	DecisionIntentional DecisionType = "intentional"
)

// Valid reports whether d is a known decision type.
func (d DecisionType) Valid() bool {
	switch d {
	case DecisionAccepted, DecisionDismissed, DecisionIntentional:
		return true
	}
	return false
}

// FileContent is one repository file selected for an audit.
type FileContent struct {
	Path    string // relative to repo root
	Content string
}

// Finding is one reported issue from a remote judge.
type Finding struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	File        string   `json:"file"`
	Line        *int     `json:"line,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
	Focus       string   `json:"focus,omitempty"`
}

// FindingID computes the stable identity digest for a finding. Identical
// (focus, file, title, line) always yields the same ID, which is what lets
// decisions persist across runs without a server-assigned identifier.
func FindingID(focus, file, title string, line *int) string {
	lineStr := ""
	if line != nil {
		lineStr = fmt.Sprintf("%d", *line)
	}
	key := fmt.Sprintf("%s:%s:%s", file, title, lineStr)
	if focus != "" {
		key = focus + ":" + key
	}
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum[:6])
}

// Decision is a persisted judgment about a finding's disposition. Records
// are append-only; the effective decision for a finding is the one with
// the greatest date.
type Decision struct {
	FindingID string       `json:"finding_id"`
	Decision  DecisionType `json:"decision"`
	Reason    string       `json:"reason"`
	Date      string       `json:"date"` // YYYY-MM-DD
	By        string       `json:"by"`
	File      string       `json:"file,omitempty"`
	FileHash  string       `json:"file_hash,omitempty"`
	Focus     string       `json:"focus,omitempty"`
	Severity  string       `json:"severity,omitempty"`
	Repo      string       `json:"repo,omitempty"`
}

// AuditResult captures one audit run for one repository.
type AuditResult struct {
	Repo          string    `json:"repo"`
	Focus         string    `json:"focus"` // label, e.g. "security+performance"
	Provider      string    `json:"provider"`
	Findings      []Finding `json:"findings"`
	NewFindings   []Finding `json:"new_findings"`
	ResolvedCount int       `json:"resolved_count"`
	Timestamp     string    `json:"timestamp"`
}

// IntPtr is a convenience for building optional line numbers.
func IntPtr(n int) *int { return &n }

package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"vigil/internal/audit"
)

// rawFinding is the JSON element the model returns.
type rawFinding struct {
	Severity    string `json:"severity"`
	File        string `json:"file"`
	Line        *int   `json:"line"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
	Focus       string `json:"focus"`
}

type findingsEnvelope struct {
	Findings []rawFinding `json:"findings"`
}

// ParseFindings parses a model response into findings. The response is
// one JSON object with a findings array, optionally wrapped in a code
// fence. Malformed output is a hard failure: this is the contract
// boundary against an unreliable external responder, and silently
// dropping it would corrupt the run.
func ParseFindings(text, defaultFocus string) ([]audit.Finding, error) {
	text = stripCodeFence(text)

	var envelope findingsEnvelope
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return nil, fmt.Errorf("model output is not a findings object: %w", err)
	}

	findings := make([]audit.Finding, 0, len(envelope.Findings))
	for i, r := range envelope.Findings {
		sev := audit.Severity(r.Severity)
		if !sev.Valid() {
			return nil, fmt.Errorf("finding %d: invalid severity %q", i, r.Severity)
		}
		if r.File == "" || r.Title == "" || r.Description == "" {
			return nil, fmt.Errorf("finding %d: missing required field (file/title/description)", i)
		}

		focus := r.Focus
		if focus == "" {
			focus = defaultFocus
		}

		findings = append(findings, audit.Finding{
			ID:          audit.FindingID(focus, r.File, r.Title, r.Line),
			Severity:    sev,
			File:        r.File,
			Line:        r.Line,
			Title:       r.Title,
			Description: r.Description,
			Suggestion:  r.Suggestion,
			Focus:       focus,
		})
	}
	return findings, nil
}

// stripCodeFence removes a surrounding markdown fence if present.
func stripCodeFence(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	return strings.TrimSpace(text)
}

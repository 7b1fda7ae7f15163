package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vigil/internal/audit"
)

const sarifVersion = "2.1.0"
const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"

// SARIF schema types (v2.1.0)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool       sarifTool         `json:"tool"`
	Results    []sarifResult     `json:"results"`
	Properties map[string]string `json:"properties,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	ShortDescription sarifMessage       `json:"shortDescription"`
	DefaultConfig    sarifDefaultConfig `json:"defaultConfiguration"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID       string            `json:"ruleId"`
	Level        string            `json:"level"`
	Message      sarifMessage      `json:"message"`
	Locations    []sarifLocation   `json:"locations"`
	Fingerprints map[string]string `json:"fingerprints"`
	Fixes        []sarifFix        `json:"fixes,omitempty"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

type sarifFix struct {
	Description     sarifMessage          `json:"description"`
	ArtifactChanges []sarifArtifactChange `json:"artifactChanges"`
}

type sarifArtifactChange struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Replacements     []sarifReplacement    `json:"replacements"`
}

type sarifReplacement struct {
	DeletedRegion   sarifRegion  `json:"deletedRegion"`
	InsertedContent sarifMessage `json:"insertedContent"`
}

// BuildSARIF converts findings to a SARIF document suitable for code
// scanning upload. Findings become results, focus areas become rules.
func BuildSARIF(findings []audit.Finding, focusLabel, repo, toolVersion string) sarifLog {
	ruleIDs := make(map[string]bool)
	for _, f := range findings {
		if f.Focus != "" {
			ruleIDs[f.Focus] = true
		}
	}
	if len(ruleIDs) == 0 {
		for _, name := range strings.Split(focusLabel, "+") {
			if name = strings.TrimSpace(name); name != "" {
				ruleIDs[name] = true
			}
		}
	}

	names := make([]string, 0, len(ruleIDs))
	for name := range ruleIDs {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make([]sarifRule, 0, len(names))
	for _, name := range names {
		display := strings.ToUpper(name[:1]) + name[1:]
		rules = append(rules, sarifRule{
			ID:               "vigil/" + name,
			Name:             display,
			ShortDescription: sarifMessage{Text: display + " audit"},
			DefaultConfig:    sarifDefaultConfig{Level: "warning"},
		})
	}

	results := make([]sarifResult, 0, len(findings))
	for _, f := range findings {
		results = append(results, findingToResult(f))
	}

	return sarifLog{
		Version: sarifVersion,
		Schema:  sarifSchema,
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:           "vigil",
				Version:        toolVersion,
				InformationURI: "https://github.com/vigil-audit/vigil",
				Rules:          rules,
			}},
			Results: results,
			Properties: map[string]string{
				"repo":  repo,
				"focus": focusLabel,
			},
		}},
	}
}

func findingToResult(f audit.Finding) sarifResult {
	level := "warning"
	switch f.Severity {
	case audit.SeverityHigh:
		level = "error"
	case audit.SeverityLow:
		level = "note"
	}

	ruleID := "vigil/general"
	if f.Focus != "" {
		ruleID = "vigil/" + f.Focus
	}

	message := f.Title
	if f.Description != "" {
		message = f.Title + ": " + f.Description
	}

	loc := sarifLocation{PhysicalLocation: sarifPhysicalLocation{
		ArtifactLocation: sarifArtifactLocation{URI: f.File, URIBaseID: "%SRCROOT%"},
	}}
	if f.Line != nil {
		loc.PhysicalLocation.Region = &sarifRegion{StartLine: *f.Line}
	}

	result := sarifResult{
		RuleID:       ruleID,
		Level:        level,
		Message:      sarifMessage{Text: message},
		Locations:    []sarifLocation{loc},
		Fingerprints: map[string]string{"vigilFindingId": f.ID},
	}

	if f.Suggestion != "" {
		startLine := 1
		if f.Line != nil {
			startLine = *f.Line
		}
		result.Fixes = []sarifFix{{
			Description: sarifMessage{Text: f.Suggestion},
			ArtifactChanges: []sarifArtifactChange{{
				ArtifactLocation: sarifArtifactLocation{URI: f.File, URIBaseID: "%SRCROOT%"},
				Replacements: []sarifReplacement{{
					DeletedRegion:   sarifRegion{StartLine: startLine},
					InsertedContent: sarifMessage{Text: f.Suggestion},
				}},
			}},
		}}
	}
	return result
}

// SaveSARIF writes the document under <reportsDir>/<repo>/<date>-<focus>.sarif.
func SaveSARIF(log sarifLog, reportsDir, repo, focus string) (string, error) {
	dir := filepath.Join(reportsDir, repo)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling SARIF: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.sarif", time.Now().Format("2006-01-02"), focus))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing SARIF: %w", err)
	}
	return path, nil
}

// Package report renders audit results as markdown reports, short
// notification texts, and SARIF documents for code scanning upload.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/internal/audit"
)

// FocusDisplay formats a focus label for headings:
// "security+performance" becomes "Security + Performance".
func FocusDisplay(focus string) string {
	parts := strings.Split(focus, "+")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " + ")
}

// Generate renders the full markdown report for one audit run.
func Generate(result audit.AuditResult) string {
	var b strings.Builder
	display := FocusDisplay(result.Focus)

	fmt.Fprintf(&b, "# Vigil Report: %s\n\n", display)
	fmt.Fprintf(&b, "- **Repo**: %s\n", result.Repo)
	fmt.Fprintf(&b, "- **Focus**: %s\n", display)
	fmt.Fprintf(&b, "- **Provider**: %s\n", result.Provider)
	fmt.Fprintf(&b, "- **Date**: %s\n\n", result.Timestamp)
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **New findings**: %d\n", len(result.NewFindings))
	fmt.Fprintf(&b, "- **Total findings**: %d\n", len(result.Findings))
	fmt.Fprintf(&b, "- **Previously resolved**: %d\n\n", result.ResolvedCount)

	if len(result.NewFindings) == 0 {
		b.WriteString("No new findings. Looking good!\n")
		return b.String()
	}

	severities := []audit.Severity{audit.SeverityHigh, audit.SeverityMedium, audit.SeverityLow}
	icons := map[audit.Severity]string{
		audit.SeverityHigh:   "🔴",
		audit.SeverityMedium: "🟡",
		audit.SeverityLow:    "🔵",
	}

	for _, sev := range severities {
		var group []audit.Finding
		for _, f := range result.NewFindings {
			if f.Severity == sev {
				group = append(group, f)
			}
		}
		if len(group) == 0 {
			continue
		}

		fmt.Fprintf(&b, "## %s %s (%d)\n\n", icons[sev], strings.ToUpper(string(sev)), len(group))
		for _, f := range group {
			loc := "`" + f.File
			if f.Line != nil {
				loc += fmt.Sprintf(":%d", *f.Line)
			}
			loc += "`"

			fmt.Fprintf(&b, "### %s\n\n", f.Title)
			fmt.Fprintf(&b, "**Location**: %s  \n", loc)
			fmt.Fprintf(&b, "**ID**: `%s`\n\n", f.ID)
			fmt.Fprintf(&b, "%s\n", f.Description)
			if f.Suggestion != "" {
				fmt.Fprintf(&b, "\n**Suggestion**: %s\n", f.Suggestion)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Save writes a report under <reportsDir>/<repo>/<date>-<focus>.md and
// returns the path.
func Save(content, reportsDir, repo, focus string) (string, error) {
	dir := filepath.Join(reportsDir, repo)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.md", time.Now().Format("2006-01-02"), focus))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

var focusIcons = map[string]string{
	"security":     "🔒",
	"docs":         "📝",
	"patterns":     "🏗️",
	"performance":  "⚡",
	"hygiene":      "🧹",
	"dependencies": "📦",
}

// Notification formats the short message surfaced after a run.
func Notification(result audit.AuditResult) string {
	icon, ok := focusIcons[result.Focus]
	if !ok {
		icon = "🔍"
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("%s %s Audit — %s", icon, FocusDisplay(result.Focus), result.Repo))

	if len(result.NewFindings) == 0 {
		lines = append(lines, "✅ No new findings")
	} else {
		var high, medium, low int
		for _, f := range result.NewFindings {
			switch f.Severity {
			case audit.SeverityHigh:
				high++
			case audit.SeverityMedium:
				medium++
			case audit.SeverityLow:
				low++
			}
		}

		var parts []string
		if high > 0 {
			parts = append(parts, fmt.Sprintf("🔴 %d high", high))
		}
		if medium > 0 {
			parts = append(parts, fmt.Sprintf("🟡 %d medium", medium))
		}
		if low > 0 {
			parts = append(parts, fmt.Sprintf("🔵 %d low", low))
		}
		lines = append(lines, fmt.Sprintf("%d new findings: %s", len(result.NewFindings), strings.Join(parts, ", ")))
		lines = append(lines, "")

		top := result.NewFindings
		if len(top) > 3 {
			top = top[:3]
		}
		sevIcons := map[audit.Severity]string{
			audit.SeverityHigh:   "⚠️",
			audit.SeverityMedium: "ℹ️",
			audit.SeverityLow:    "💡",
		}
		for _, f := range top {
			lines = append(lines, fmt.Sprintf("%s %s", sevIcons[f.Severity], f.Title))
			lines = append(lines, fmt.Sprintf("   %s", f.File))
		}
	}

	if result.ResolvedCount > 0 {
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("✅ %d previous findings still resolved", result.ResolvedCount))
	}
	return strings.Join(lines, "\n")
}

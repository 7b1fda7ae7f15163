// Package decisions is the decision-memory layer: an append-only JSONL
// store of dispositions on findings. It drives suppression and
// resurfacing across audit runs, so unlike the cost ledger a corrupt
// record here is a hard load failure.
package decisions

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/internal/audit"
)

// DefaultPath is the store location relative to the working directory.
const DefaultPath = ".vigil/decisions.jsonl"

// BaselineReason tags decisions created by a baseline sweep.
const BaselineReason = "baseline"

// Load parses the decision store. A missing file yields an empty slice;
// a malformed record is fatal because suppression correctness depends on
// every decision being visible.
func Load(path string) ([]audit.Decision, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening decision store: %w", err)
	}
	defer f.Close()

	var decisions []audit.Decision
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d audit.Decision
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, fmt.Errorf("corrupt decision record at %s:%d: %w", path, lineNo, err)
		}
		if d.FindingID == "" || !d.Decision.Valid() {
			return nil, fmt.Errorf("corrupt decision record at %s:%d: missing finding_id or unknown decision", path, lineNo)
		}
		decisions = append(decisions, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading decision store: %w", err)
	}
	return decisions, nil
}

// Append writes one decision record to the store.
func Append(path string, d audit.Decision) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating decision store directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening decision store: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling decision: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending decision: %w", err)
	}
	return nil
}

// Filter splits findings into new findings and a resolved count.
//
// For each finding: no decision means new; a decision older than
// expiryDays resurfaces it; a decision whose recorded file hash no
// longer matches the file's current digest resurfaces it (the code
// changed underneath the judgment); otherwise the finding is suppressed
// and counts as resolved, regardless of which decision kind suppressed
// it. The absence of a recorded hash never forces resurfacing on its own.
func Filter(findings []audit.Finding, decisions []audit.Decision, repoRoot string, expiryDays int) ([]audit.Finding, int) {
	latest := make(map[string]audit.Decision)
	for _, d := range decisions {
		prev, ok := latest[d.FindingID]
		if !ok || d.Date > prev.Date {
			latest[d.FindingID] = d
		}
	}

	today := time.Now()
	var newFindings []audit.Finding
	resolved := 0

	for _, f := range findings {
		d, ok := latest[f.ID]
		if !ok {
			newFindings = append(newFindings, f)
			continue
		}

		if d.Date != "" {
			decided, err := time.Parse("2006-01-02", d.Date)
			if err == nil && today.Sub(decided) > time.Duration(expiryDays)*24*time.Hour {
				newFindings = append(newFindings, f)
				continue
			}
		}

		if d.FileHash != "" && f.File != "" {
			current := HashFile(filepath.Join(repoRoot, f.File))
			if current != d.FileHash {
				newFindings = append(newFindings, f)
				continue
			}
		}

		resolved++
	}

	return newFindings, resolved
}

// FormatContext renders the prior decisions as an instruction block for
// the remote judge. Empty input yields an empty string so callers never
// inject an empty section into a prompt.
func FormatContext(decisions []audit.Decision) string {
	if len(decisions) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Previously Reviewed Findings\n\n")
	b.WriteString("The following findings have already been reviewed. Do NOT report these again\n")
	b.WriteString("unless the code has materially changed in a way that invalidates the decision.\n\n")
	for _, d := range decisions {
		fmt.Fprintf(&b, "- [%s] finding_id=%s: %s\n", strings.ToUpper(string(d.Decision)), d.FindingID, d.Reason)
	}
	return b.String()
}

// CreateBaseline emits one dismissed decision per finding, reason-tagged
// "baseline", capturing the file hash so later changes resurface the
// finding. Decisions are returned, not persisted.
func CreateBaseline(findings []audit.Finding, repoRoot, by, repoName string) []audit.Decision {
	if by == "" {
		by = BaselineReason
	}
	today := time.Now().Format("2006-01-02")

	out := make([]audit.Decision, 0, len(findings))
	for _, f := range findings {
		hash := ""
		if f.File != "" {
			hash = HashFile(filepath.Join(repoRoot, f.File))
		}
		out = append(out, audit.Decision{
			FindingID: f.ID,
			Decision:  audit.DecisionDismissed,
			Reason:    BaselineReason,
			Date:      today,
			By:        by,
			File:      f.File,
			FileHash:  hash,
			Focus:     f.Focus,
			Severity:  string(f.Severity),
			Repo:      repoName,
		})
	}
	return out
}

// BaselineFilter selects which baseline records RemoveBaseline deletes.
// Empty fields match everything.
type BaselineFilter struct {
	Repos      []string
	Focuses    []string
	Severities []string
}

func (bf BaselineFilter) matches(d audit.Decision) bool {
	return matchesOneOf(d.Repo, bf.Repos) &&
		matchesOneOf(d.Focus, bf.Focuses) &&
		matchesOneOf(d.Severity, bf.Severities)
}

func matchesOneOf(value string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// RemoveBaseline deletes exactly the baseline-tagged records matching
// the filter, rewriting the store with every other record preserved
// verbatim. It works purely from the persisted decisions. Returns the
// removed count. This is the store's only destructive operation.
func RemoveBaseline(path string, filter BaselineFilter) (int, error) {
	all, err := Load(path)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}

	var kept []audit.Decision
	removed := 0
	for _, d := range all {
		if d.Reason == BaselineReason && filter.matches(d) {
			removed++
			continue
		}
		kept = append(kept, d)
	}

	var b strings.Builder
	for _, d := range kept {
		data, err := json.Marshal(d)
		if err != nil {
			return 0, fmt.Errorf("marshaling decision: %w", err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return 0, fmt.Errorf("rewriting decision store: %w", err)
	}
	return removed, nil
}

// ListBaseline returns all baseline-tagged records.
func ListBaseline(path string) ([]audit.Decision, error) {
	all, err := Load(path)
	if err != nil {
		return nil, err
	}
	var out []audit.Decision
	for _, d := range all {
		if d.Reason == BaselineReason {
			out = append(out, d)
		}
	}
	return out, nil
}

// HashFile digests a file's content for change detection: sha256 hex
// truncated to 16 characters. Returns "" when the file cannot be read,
// which callers treat as "no recorded hash".
func HashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

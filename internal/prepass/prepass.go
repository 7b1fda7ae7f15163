// Package prepass classifies gathered files with a cheap model so the
// main audit only pays for content the judge will actually use.
package prepass

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"vigil/internal/audit"
	"vigil/internal/focus"
	"vigil/internal/providers"
)

// ContentTier is how much of a file the main audit receives.
type ContentTier string

const (
	TierFull    ContentTier = "full"
	TierSnippet ContentTier = "snippet"
	TierMap     ContentTier = "map"
	TierSkip    ContentTier = "skip"
)

// FileClassification is the per-file pre-pass verdict.
type FileClassification struct {
	Path   string
	Tier   ContentTier
	Reason string
}

// Relevant reports whether the file survives into the main audit.
func (fc FileClassification) Relevant() bool { return fc.Tier != TierSkip }

// Result summarizes a pre-pass run.
type Result struct {
	Classified    []FileClassification
	OriginalCount int
	RetainedCount int
	FullCount     int
	SnippetCount  int
	MapCount      int
}

// The classifier reuses the findings contract: severity encodes the
// tier (high=full, medium=snippet, low=map) and a file with no finding
// is skipped entirely.
const classificationPrompt = `You are a file relevance classifier for a code audit tool.

Audit focus areas: %s

Review the provided files and classify each one by how much content the main auditor
will need to assess it for the specified focus areas.

Output a finding for EACH file that should be included in the main audit:
  - severity: "high"   -> file is highly relevant; send full content
  - severity: "medium" -> file is moderately relevant; a snippet is enough
  - severity: "low"    -> file is marginally relevant; a structural map is enough
  - title: one of "full-content", "snippet", or "file-map" (matching the severity above)
  - file: <exact file path as provided, do not change the path>
  - description: one-sentence reason for this classification

For files that are clearly NOT relevant (auto-generated files, lock files, build artifacts,
or configs completely unrelated to %s), omit them and output no finding.

When in doubt, INCLUDE the file (at least as "low"/file-map). The goal is to filter
only obviously irrelevant files to reduce token costs, not to perform a full audit.`

// BuildClassificationPrompt builds the pre-pass system prompt.
func BuildClassificationPrompt(focusNames []string) string {
	names := strings.Join(focusNames, ", ")
	return fmt.Sprintf(classificationPrompt, names, names)
}

func severityToTier(s audit.Severity) ContentTier {
	switch s {
	case audit.SeverityHigh:
		return TierFull
	case audit.SeverityMedium:
		return TierSnippet
	default:
		return TierMap
	}
}

// Enrich builds the main-audit file list from classifications: full
// content passes through, snippet and map tiers substitute reduced
// content, and skipped files drop out.
func Enrich(files []audit.FileContent, classified []FileClassification) []audit.FileContent {
	tiers := make(map[string]ContentTier, len(classified))
	for _, fc := range classified {
		tiers[fc.Path] = fc.Tier
	}

	enriched := make([]audit.FileContent, 0, len(files))
	for _, f := range files {
		switch tiers[f.Path] {
		case TierFull:
			enriched = append(enriched, f)
		case TierSnippet:
			enriched = append(enriched, focus.ExtractSnippet(f))
		case TierMap:
			enriched = append(enriched, focus.ExtractFileMap(f))
		}
	}
	return enriched
}

// Run classifies files with the given provider and returns the verdicts
// plus the enriched file list for the main audit.
func Run(ctx context.Context, files []audit.FileContent, focusNames []string, provider providers.Provider, logger *zap.Logger) (Result, []audit.FileContent, error) {
	if len(files) == 0 {
		return Result{}, nil, nil
	}

	logger.Info("pre-pass classifying files",
		zap.Int("file_count", len(files)),
		zap.String("provider", provider.Name()))

	prompt := BuildClassificationPrompt(focusNames)
	findings, err := provider.RunAudit(ctx, files, prompt, "", providers.SubmitOptions{
		JobLabel: "vigil-prepass",
	})
	if err != nil {
		return Result{}, nil, fmt.Errorf("pre-pass classification: %w", err)
	}

	return Classify(files, findings, logger)
}

// Classify maps classification findings onto the gathered file set.
// Exposed separately from Run so callers with already-retrieved
// findings (and tests) can skip the provider round trip.
func Classify(files []audit.FileContent, findings []audit.Finding, logger *zap.Logger) (Result, []audit.FileContent, error) {
	tierByPath := make(map[string]ContentTier, len(findings))
	reasonByPath := make(map[string]string, len(findings))
	for _, f := range findings {
		tierByPath[f.File] = severityToTier(f.Severity)
		reasonByPath[f.File] = f.Description
	}

	result := Result{OriginalCount: len(files)}
	for _, f := range files {
		tier, ok := tierByPath[f.Path]
		if !ok {
			tier = TierSkip
		}
		result.Classified = append(result.Classified, FileClassification{
			Path:   f.Path,
			Tier:   tier,
			Reason: reasonByPath[f.Path],
		})
		switch tier {
		case TierFull:
			result.FullCount++
			result.RetainedCount++
		case TierSnippet:
			result.SnippetCount++
			result.RetainedCount++
		case TierMap:
			result.MapCount++
			result.RetainedCount++
		}
	}

	enriched := Enrich(files, result.Classified)
	logger.Info("pre-pass complete",
		zap.Int("retained", result.RetainedCount),
		zap.Int("original", result.OriginalCount),
		zap.Int("full", result.FullCount),
		zap.Int("snippet", result.SnippetCount),
		zap.Int("map", result.MapCount))

	return result, enriched, nil
}

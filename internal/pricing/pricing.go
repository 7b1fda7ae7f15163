// Package pricing holds the per-model price table and the pure cost
// functions used by the estimate command and the cost ledger.
package pricing

import (
	"fmt"
	"strings"

	"vigil/internal/audit"
)

// ModelPricing is the price data for one model.
type ModelPricing struct {
	InputPerMillion  float64 // $/M tokens, standard tier
	OutputPerMillion float64 // $/M tokens, standard tier
	TierThreshold    int     // input tokens above which tiered rates apply; 0 = no tiers
	InputHighTier    float64 // $/M tokens above the threshold
	OutputHighTier   float64 // $/M output tokens once the threshold is crossed
	BatchDiscount    float64 // fraction (0.5 = 50% off)
	ContextWindow    int
}

// Models is the price table, keyed by model key.
var Models = map[string]ModelPricing{
	"claude-opus-4-6": {
		InputPerMillion:  5.00,
		OutputPerMillion: 25.00,
		TierThreshold:    200_000,
		InputHighTier:    10.00,
		OutputHighTier:   37.50,
		BatchDiscount:    0.50,
		ContextWindow:    200_000,
	},
	"claude-sonnet-4-5": {
		InputPerMillion:  3.00,
		OutputPerMillion: 15.00,
		TierThreshold:    200_000,
		InputHighTier:    6.00,
		OutputHighTier:   22.50,
		BatchDiscount:    0.50,
		ContextWindow:    200_000,
	},
	"gemini-2.5-flash": {
		InputPerMillion:  0.30,
		OutputPerMillion: 2.50,
		ContextWindow:    1_000_000,
	},
	"gemini-2.0-flash": {
		InputPerMillion:  0.10,
		OutputPerMillion: 0.40,
		ContextWindow:    1_000_000,
	},
}

// modelProvider maps each model key to its provider name.
var modelProvider = map[string]string{
	"claude-opus-4-6":   "anthropic",
	"claude-sonnet-4-5": "anthropic",
	"gemini-2.5-flash":  "gemini",
	"gemini-2.0-flash":  "gemini",
}

// ResolveModelKey maps a provider + model name to a price-table key.
// Direct lookup first, then provider-based heuristics.
func ResolveModelKey(provider, model string) string {
	if _, ok := Models[model]; ok {
		return model
	}
	lower := strings.ToLower(model)
	switch provider {
	case "anthropic":
		if strings.Contains(lower, "opus") {
			return "claude-opus-4-6"
		}
		return "claude-sonnet-4-5"
	case "gemini":
		if strings.Contains(model, "2.5") || strings.Contains(model, "2-5") {
			return "gemini-2.5-flash"
		}
		return "gemini-2.0-flash"
	}
	return "gemini-2.0-flash"
}

// Cost computes the total cost for the given token counts. Input above the
// tier threshold is billed at the high-tier rate, and once that threshold
// is crossed all output tokens bill at the high-tier output rate too. The
// batch discount is applied last.
func Cost(inputTokens, outputTokens int, p ModelPricing, useBatch bool) float64 {
	if inputTokens == 0 && outputTokens == 0 {
		return 0
	}

	var inputCost, outputCost float64
	if p.TierThreshold > 0 && inputTokens > p.TierThreshold {
		standard := p.TierThreshold
		high := inputTokens - p.TierThreshold
		inputCost = float64(standard) / 1_000_000 * p.InputPerMillion
		inputCost += float64(high) / 1_000_000 * p.InputHighTier
		outputCost = float64(outputTokens) / 1_000_000 * p.OutputHighTier
	} else {
		inputCost = float64(inputTokens) / 1_000_000 * p.InputPerMillion
		outputCost = float64(outputTokens) / 1_000_000 * p.OutputPerMillion
	}

	total := inputCost + outputCost
	if useBatch && p.BatchDiscount > 0 {
		total *= 1.0 - p.BatchDiscount
	}
	return total
}

// EstimateTokens estimates the token count for a file set.
// Rough heuristic: ~4 chars per token.
func EstimateTokens(files []audit.FileContent) int {
	total := 0
	for _, f := range files {
		total += len(f.Content)
	}
	return total / 4
}

// EstimateOutputTokens estimates output tokens:
// min(16384, input/10) per focus area.
func EstimateOutputTokens(inputTokens, numFocusAreas int) int {
	perFocus := inputTokens / 10
	if perFocus > 16384 {
		perFocus = 16384
	}
	if numFocusAreas < 1 {
		numFocusAreas = 1
	}
	return perFocus * numFocusAreas
}

// FocusFrames maps each focus area to its organizing frame question.
var FocusFrames = map[string]string{
	"security":     "Does it work?",
	"testing":      "Does it work?",
	"patterns":     "Does it last?",
	"hygiene":      "Does it last?",
	"docs":         "Does it last?",
	"dependencies": "Does it last?",
	"performance":  "Does it scale?",
}

// FrameLabel returns the shared frame question when every focus area in
// the group belongs to the same frame, else "".
func FrameLabel(focusNames []string) string {
	if len(focusNames) == 0 {
		return ""
	}
	label := ""
	for _, name := range focusNames {
		frame, ok := FocusFrames[name]
		if !ok {
			continue
		}
		if label == "" {
			label = frame
		} else if label != frame {
			return ""
		}
	}
	return label
}

// FormatTokens formats a token count for display (287000 → "287K").
func FormatTokens(n int) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%dK", n/1_000)
	}
	return fmt.Sprintf("%d", n)
}

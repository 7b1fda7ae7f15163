package pricing

import (
	"fmt"
	"sort"
	"strings"

	"vigil/internal/audit"
)

// PrepassEstimate predicts the effect of a pre-pass triage without
// running it.
type PrepassEstimate struct {
	ReducedTokens int
	TriageCost    float64
	High          int
	Medium        int
	LowSkip       int
}

// EstimatePrepassReduction estimates what a pre-pass triage would reduce
// the token count to. Files are sorted by content size ascending and a
// 15% high / 30% medium split is assumed; the kept (high + medium) files
// contribute the reduced count. Triage cost models gemini-2.5-flash at
// ~60 output tokens per file.
func EstimatePrepassReduction(files []audit.FileContent, totalTokens int) PrepassEstimate {
	if len(files) == 0 {
		return PrepassEstimate{}
	}

	n := len(files)
	sorted := make([]audit.FileContent, n)
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Content) < len(sorted[j].Content)
	})

	high := roundCount(n, 0.15)
	medium := roundCount(n, 0.30)
	lowSkip := n - high - medium

	reduced := 0
	for _, f := range sorted[:high+medium] {
		reduced += len(f.Content) / 4
	}

	flash := Models["gemini-2.5-flash"]
	triageCost := Cost(totalTokens, n*60, flash, false)

	return PrepassEstimate{
		ReducedTokens: reduced,
		TriageCost:    triageCost,
		High:          high,
		Medium:        medium,
		LowSkip:       lowSkip,
	}
}

func roundCount(n int, frac float64) int {
	c := int(float64(n)*frac + 0.5)
	if c < 1 {
		c = 1
	}
	return c
}

type alternative struct {
	modelKey   string
	provider   string
	cost       float64
	savingsPct int
}

// BuildEstimateReport assembles the human-readable cost estimate for one
// repository. activeDaysPerWeek comes from the configured schedule and
// drives the monthly projection.
func BuildEstimateReport(repoName string, focusNames []string, files []audit.FileContent, providerName, modelKey string, activeDaysPerWeek int) string {
	var b strings.Builder

	focusDisplay := strings.Join(focusNames, " + ")
	header := fmt.Sprintf("  %s — %s", repoName, focusDisplay)
	if frame := FrameLabel(focusNames); frame != "" {
		header += fmt.Sprintf(" (%s)", frame)
	}
	fmt.Fprintf(&b, "\n%s\n\n", header)

	totalTokens := EstimateTokens(files)
	fmt.Fprintf(&b, "  Files:     %d files, %s tokens\n", len(files), FormatTokens(totalTokens))

	p := Models[modelKey]
	useBatch := p.BatchDiscount > 0
	fmt.Fprintf(&b, "  Provider:  %s (%s)\n\n", providerName, modelKey)

	outputTokens := EstimateOutputTokens(totalTokens, len(focusNames))
	cost := Cost(totalTokens, outputTokens, p, useBatch)
	tiered := p.TierThreshold > 0 && totalTokens > p.TierThreshold

	if tiered {
		fmt.Fprintf(&b, "  ! Cost estimate: ~$%.2f\n", cost)
		fmt.Fprintf(&b, "    Your token count (%s) exceeds the %s standard tier.\n",
			FormatTokens(totalTokens), FormatTokens(p.TierThreshold))
		fmt.Fprintf(&b, "    Tiered pricing applies: $%.2f/M input (2x standard rate).\n", p.InputHighTier)
	} else {
		fmt.Fprintf(&b, "  Cost estimate: ~$%.2f\n", cost)
	}
	if useBatch {
		b.WriteString("    Batch API 50% discount applied.\n")
	}
	b.WriteString("\n")

	// Cheaper-model alternatives.
	var alts []alternative
	for altKey, altPricing := range Models {
		if altKey == modelKey {
			continue
		}
		altCost := Cost(totalTokens, EstimateOutputTokens(totalTokens, len(focusNames)), altPricing, altPricing.BatchDiscount > 0)
		if cost > 0 && altCost < cost {
			alts = append(alts, alternative{
				modelKey:   altKey,
				provider:   modelProvider[altKey],
				cost:       altCost,
				savingsPct: int((1.0 - altCost/cost) * 100),
			})
		}
	}
	sort.Slice(alts, func(i, j int) bool { return alts[i].cost < alts[j].cost })

	// Pre-pass alternative, only when the primary model crossed its tier.
	var prepass PrepassEstimate
	prepassCost := 0.0
	prepassPct := 0
	havePrepass := false
	if tiered && providerName == "anthropic" {
		prepass = EstimatePrepassReduction(files, totalTokens)
		reducedOutput := EstimateOutputTokens(prepass.ReducedTokens, len(focusNames))
		prepassCost = Cost(prepass.ReducedTokens, reducedOutput, p, useBatch) + prepass.TriageCost
		if cost > 0 && prepassCost < cost {
			prepassPct = int((1.0 - prepassCost/cost) * 100)
			havePrepass = true
		}
	}

	if len(alts) > 0 || havePrepass {
		b.WriteString("  Alternatives:\n")
		for _, alt := range alts {
			desc := fmt.Sprintf("%s (%s)", alt.provider, alt.modelKey)
			note := ""
			if alt.provider == "gemini" && alt.savingsPct >= 90 {
				note = " — recommended for daily audits"
			} else if strings.Contains(alt.modelKey, "sonnet") {
				note = " — similar quality, lower cost"
			}
			fmt.Fprintf(&b, "    %-38s ~$%.2f   %d%% cheaper%s\n", desc, alt.cost, alt.savingsPct, note)
		}
		if havePrepass {
			desc := providerName + " + pre-pass"
			fmt.Fprintf(&b, "    %-38s ~$%.2f   %d%% cheaper — Flash triage keeps %s under the standard tier\n",
				desc, prepassCost, prepassPct, modelKey)
		}
		b.WriteString("\n")
	}

	if havePrepass {
		b.WriteString("  Pre-pass estimate:\n")
		fmt.Fprintf(&b, "    Gemini Flash triage: ~$%.2f\n", prepass.TriageCost)
		fmt.Fprintf(&b, "    Expected reduction: %s → ~%s tokens (high: %d files, medium: %d, low/skip: %d)\n",
			FormatTokens(totalTokens), FormatTokens(prepass.ReducedTokens),
			prepass.High, prepass.Medium, prepass.LowSkip)
		fmt.Fprintf(&b, "    With pre-pass, %s stays in the standard pricing tier ($%.2f/M vs $%.2f/M)\n\n",
			modelKey, p.InputPerMillion, p.InputHighTier)
	}

	monthlyRuns := float64(activeDaysPerWeek) * 52 / 12
	fmt.Fprintf(&b, "  Monthly estimate: ~$%.2f (%d runs/week at current schedule)\n",
		cost*monthlyRuns, activeDaysPerWeek)
	if len(alts) > 0 {
		fmt.Fprintf(&b, "  Monthly with %s: ~$%.2f\n", alts[0].modelKey, alts[0].cost*monthlyRuns)
	}
	b.WriteString("\n")

	if tiered && len(alts) > 0 && alts[0].provider == "gemini" {
		fmt.Fprintf(&b, "  Recommendation: Use gemini for daily audits (~$%.2f/run).\n", alts[0].cost)
		b.WriteString("  Reserve anthropic for monthly deep dives where finding depth matters most.\n\n")
	}

	return b.String()
}

package pricing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/audit"
)

func TestCost_ZeroTokens(t *testing.T) {
	assert.Zero(t, Cost(0, 0, Models["claude-sonnet-4-5"], true))
}

func TestCost_StandardTier(t *testing.T) {
	p := Models["claude-sonnet-4-5"]
	// 100K input at $3/M + 10K output at $15/M, halved by batch discount.
	got := Cost(100_000, 10_000, p, true)
	assert.InDelta(t, (0.30+0.15)*0.5, got, 1e-9)
	// Without the batch discount the same tokens cost twice as much.
	assert.InDelta(t, 2*got, Cost(100_000, 10_000, p, false), 1e-9)
}

func TestCost_TierCrossingRaisesMarginalInputRate(t *testing.T) {
	p := Models["claude-sonnet-4-5"]
	below := Cost(p.TierThreshold, 0, p, false)
	justAbove := Cost(p.TierThreshold+1_000_000, 0, p, false)
	marginalHigh := justAbove - below
	marginalStandard := Cost(1_000_000, 0, p, false)
	assert.Greater(t, marginalHigh, marginalStandard)
}

func TestCost_HighTierOutputRate(t *testing.T) {
	p := Models["claude-sonnet-4-5"]
	// Once input crosses the threshold, all output bills at the high rate.
	overTier := Cost(p.TierThreshold+1, 1_000_000, p, false)
	under := Cost(p.TierThreshold, 1_000_000, p, false)
	assert.Greater(t, overTier-under, p.OutputHighTier-p.OutputPerMillion-0.01)
}

func TestCost_Monotone(t *testing.T) {
	for key, p := range Models {
		prev := 0.0
		for _, in := range []int{0, 1_000, 100_000, 250_000, 1_000_000} {
			c := Cost(in, in/10, p, false)
			require.GreaterOrEqual(t, c, prev, "model %s: cost must be non-decreasing", key)
			prev = c
		}
	}
}

func TestResolveModelKey(t *testing.T) {
	assert.Equal(t, "claude-opus-4-6", ResolveModelKey("anthropic", "claude-opus-4-6"))
	assert.Equal(t, "claude-opus-4-6", ResolveModelKey("anthropic", "claude-opus-next"))
	assert.Equal(t, "claude-sonnet-4-5", ResolveModelKey("anthropic", "claude-sonnet-4-5-20250929"))
	assert.Equal(t, "gemini-2.5-flash", ResolveModelKey("gemini", "gemini-2.5-flash-latest"))
	assert.Equal(t, "gemini-2.0-flash", ResolveModelKey("gemini", "gemini-2.0-flash-001"))
	assert.Equal(t, "gemini-2.0-flash", ResolveModelKey("unknown", "whatever"))
}

func TestEstimateOutputTokens(t *testing.T) {
	assert.Equal(t, 1_000, EstimateOutputTokens(10_000, 1))
	assert.Equal(t, 2_000, EstimateOutputTokens(10_000, 2))
	// Per-focus cap at 16384.
	assert.Equal(t, 16_384, EstimateOutputTokens(1_000_000, 1))
	assert.Equal(t, 1_000, EstimateOutputTokens(10_000, 0))
}

func TestEstimateTokens(t *testing.T) {
	files := []audit.FileContent{
		{Path: "a.go", Content: strings.Repeat("x", 400)},
		{Path: "b.go", Content: strings.Repeat("y", 80)},
	}
	assert.Equal(t, 120, EstimateTokens(files))
}

func TestFrameLabel(t *testing.T) {
	assert.Equal(t, "Does it work?", FrameLabel([]string{"security", "testing"}))
	assert.Equal(t, "Does it last?", FrameLabel([]string{"docs"}))
	assert.Equal(t, "", FrameLabel([]string{"security", "performance"}))
	assert.Equal(t, "", FrameLabel(nil))
}

func TestFormatTokens(t *testing.T) {
	assert.Equal(t, "287K", FormatTokens(287_000))
	assert.Equal(t, "1.5M", FormatTokens(1_500_000))
	assert.Equal(t, "950", FormatTokens(950))
}

func TestEstimatePrepassReduction(t *testing.T) {
	files := make([]audit.FileContent, 10)
	for i := range files {
		files[i] = audit.FileContent{Path: "f", Content: strings.Repeat("x", (i+1)*400)}
	}
	est := EstimatePrepassReduction(files, EstimateTokens(files))
	assert.Equal(t, 2, est.High)   // 15% of 10, rounded
	assert.Equal(t, 3, est.Medium) // 30% of 10
	assert.Equal(t, 5, est.LowSkip)
	assert.Greater(t, est.ReducedTokens, 0)
	assert.Less(t, est.ReducedTokens, EstimateTokens(files))
	assert.Greater(t, est.TriageCost, 0.0)
}

func TestBuildEstimateReport_Tiered(t *testing.T) {
	// ~1.2M chars → ~300K tokens, over the anthropic tier threshold.
	files := []audit.FileContent{{Path: "big.go", Content: strings.Repeat("a", 1_200_000)}}
	report := BuildEstimateReport("myrepo", []string{"security"}, files, "anthropic", "claude-sonnet-4-5", 6)

	assert.Contains(t, report, "myrepo — security")
	assert.Contains(t, report, "! Cost estimate")
	assert.Contains(t, report, "Tiered pricing applies")
	assert.Contains(t, report, "Alternatives:")
	assert.Contains(t, report, "Monthly estimate")
}

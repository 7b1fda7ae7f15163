package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindingID_Stable(t *testing.T) {
	a := FindingID("security", "src/app.py", "Hardcoded credential", IntPtr(42))
	b := FindingID("security", "src/app.py", "Hardcoded credential", IntPtr(42))
	assert.Equal(t, a, b, "identical inputs must produce identical IDs")
	assert.Len(t, a, 12)
}

func TestFindingID_Distinguishes(t *testing.T) {
	base := FindingID("security", "src/app.py", "Hardcoded credential", IntPtr(42))

	assert.NotEqual(t, base, FindingID("docs", "src/app.py", "Hardcoded credential", IntPtr(42)))
	assert.NotEqual(t, base, FindingID("security", "src/other.py", "Hardcoded credential", IntPtr(42)))
	assert.NotEqual(t, base, FindingID("security", "src/app.py", "Other title", IntPtr(42)))
	assert.NotEqual(t, base, FindingID("security", "src/app.py", "Hardcoded credential", IntPtr(43)))
	assert.NotEqual(t, base, FindingID("security", "src/app.py", "Hardcoded credential", nil))
}

func TestFindingID_NoFocusOmitsPrefix(t *testing.T) {
	// A finding without a focus hashes only file:title:line, so it stays
	// stable when runs move between single-focus and unfocused modes.
	a := FindingID("", "main.go", "Unchecked error", nil)
	b := FindingID("", "main.go", "Unchecked error", nil)
	assert.Equal(t, a, b)
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityRank(SeverityHigh), SeverityRank(SeverityMedium))
	assert.Greater(t, SeverityRank(SeverityMedium), SeverityRank(SeverityLow))
	assert.Greater(t, SeverityRank(SeverityLow), SeverityRank(Severity("bogus")))
}

func TestValidity(t *testing.T) {
	assert.True(t, SeverityHigh.Valid())
	assert.False(t, Severity("critical").Valid())
	assert.True(t, DecisionIntentional.Valid())
	assert.False(t, DecisionType("ignored").Valid())
}

package decisions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/audit"
)

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "decisions.jsonl")
}

func finding(id, file, title string) audit.Finding {
	return audit.Finding{
		ID:       id,
		Severity: audit.SeverityMedium,
		File:     file,
		Title:    title,
	}
}

func decided(findingID, date string) audit.Decision {
	return audit.Decision{
		FindingID: findingID,
		Decision:  audit.DecisionDismissed,
		Reason:    "not relevant",
		Date:      date,
		By:        "user",
	}
}

func TestLoad_MissingFile(t *testing.T) {
	ds, err := Load(storePath(t))
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestAppendLoad_RoundTrip(t *testing.T) {
	path := storePath(t)
	d := audit.Decision{
		FindingID: "abc123",
		Decision:  audit.DecisionIntentional,
		Reason:    "by design",
		Date:      "2026-08-01",
		By:        "alice",
		File:      "src/app.py",
		FileHash:  "deadbeef00112233",
		Focus:     "security",
		Severity:  "high",
		Repo:      "myrepo",
	}
	require.NoError(t, Append(path, d))
	require.NoError(t, Append(path, decided("def456", "2026-08-02")))

	ds, err := Load(path)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, d, ds[0])
}

func TestLoad_CorruptRecordIsFatal(t *testing.T) {
	path := storePath(t)
	content := `{"finding_id":"ok","decision":"dismissed","reason":"r","date":"2026-01-01","by":"u"}
{broken json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err, "decision store is load-bearing; corruption must not be silent")
	assert.Contains(t, err.Error(), "corrupt decision record")
}

func TestLoad_UnknownDecisionTypeIsFatal(t *testing.T) {
	path := storePath(t)
	content := `{"finding_id":"ok","decision":"maybe","reason":"r","date":"2026-01-01","by":"u"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestFilter_NoDecisions(t *testing.T) {
	findings := []audit.Finding{finding("a", "f.py", "t")}
	newF, resolved := Filter(findings, nil, t.TempDir(), 90)
	assert.Len(t, newF, 1)
	assert.Zero(t, resolved)
}

func TestFilter_LatestDecisionWins(t *testing.T) {
	// An older "dismissed" superseded by a newer record still suppresses;
	// the map must pick the lexicographically greatest date.
	today := time.Now().Format("2006-01-02")
	ds := []audit.Decision{
		decided("a", "2020-01-01"), // expired on its own
		decided("a", today),        // effective
	}
	newF, resolved := Filter([]audit.Finding{finding("a", "", "t")}, ds, t.TempDir(), 90)
	assert.Empty(t, newF)
	assert.Equal(t, 1, resolved)
}

func TestFilter_ExpiredDecisionResurfaces(t *testing.T) {
	ds := []audit.Decision{decided("a", "2020-01-01")}
	newF, resolved := Filter([]audit.Finding{finding("a", "", "t")}, ds, t.TempDir(), 90)
	assert.Len(t, newF, 1)
	assert.Zero(t, resolved)
}

func TestFilter_AllDecisionKindsSuppressEqually(t *testing.T) {
	today := time.Now().Format("2006-01-02")
	kinds := []audit.DecisionType{audit.DecisionAccepted, audit.DecisionDismissed, audit.DecisionIntentional}

	var ds []audit.Decision
	var findings []audit.Finding
	for i, kind := range kinds {
		id := string(rune('a' + i))
		ds = append(ds, audit.Decision{FindingID: id, Decision: kind, Date: today, By: "u"})
		findings = append(findings, finding(id, "", "t"))
	}

	newF, resolved := Filter(findings, ds, t.TempDir(), 90)
	assert.Empty(t, newF)
	assert.Equal(t, 3, resolved)
}

func TestFilter_FileHashMismatchResurfaces(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "src/app.py", "original content")
	hash := HashFile(filepath.Join(repo, "src/app.py"))
	require.NotEmpty(t, hash)

	today := time.Now().Format("2006-01-02")
	d := audit.Decision{FindingID: "a", Decision: audit.DecisionDismissed, Date: today, By: "u", FileHash: hash}
	f := finding("a", "src/app.py", "t")

	// Unchanged file: suppressed.
	newF, resolved := Filter([]audit.Finding{f}, []audit.Decision{d}, repo, 90)
	assert.Empty(t, newF)
	assert.Equal(t, 1, resolved)

	// Modified file: resurfaced, resolved count drops.
	writeRepoFile(t, repo, "src/app.py", "changed content")
	newF, resolved = Filter([]audit.Finding{f}, []audit.Decision{d}, repo, 90)
	assert.Len(t, newF, 1)
	assert.Zero(t, resolved)
}

func TestFilter_MissingRecordedHashDoesNotResurface(t *testing.T) {
	d := audit.Decision{FindingID: "a", Decision: audit.DecisionDismissed, Date: time.Now().Format("2006-01-02"), By: "u"}
	newF, resolved := Filter([]audit.Finding{finding("a", "gone.py", "t")}, []audit.Decision{d}, t.TempDir(), 90)
	assert.Empty(t, newF)
	assert.Equal(t, 1, resolved)
}

func TestFilter_Scenario_ThreeOfFiveResolved(t *testing.T) {
	today := time.Now().Format("2006-01-02")
	var findings []audit.Finding
	for _, id := range []string{"f1", "f2", "f3", "f4", "f5"} {
		findings = append(findings, finding(id, "", "t"))
	}
	ds := []audit.Decision{
		{FindingID: "f1", Decision: audit.DecisionAccepted, Date: today, By: "u"},
		{FindingID: "f2", Decision: audit.DecisionDismissed, Date: today, By: "u"},
		{FindingID: "f3", Decision: audit.DecisionIntentional, Date: today, By: "u"},
	}

	newF, resolved := Filter(findings, ds, t.TempDir(), 90)
	assert.Len(t, newF, 2)
	assert.Equal(t, 3, resolved)
}

func TestFormatContext(t *testing.T) {
	assert.Empty(t, FormatContext(nil), "empty input must not inject an empty prompt section")

	ctx := FormatContext([]audit.Decision{
		{FindingID: "abc", Decision: audit.DecisionIntentional, Reason: "intended behavior"},
	})
	assert.Contains(t, ctx, "Previously Reviewed Findings")
	assert.Contains(t, ctx, "[INTENTIONAL] finding_id=abc: intended behavior")
}

func TestCreateBaseline(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "a.py", "content a")

	findings := []audit.Finding{
		{ID: "id1", Severity: audit.SeverityHigh, File: "a.py", Title: "t1", Focus: "security"},
		{ID: "id2", Severity: audit.SeverityLow, File: "missing.py", Title: "t2"},
	}
	ds := CreateBaseline(findings, repo, "", "myrepo")
	require.Len(t, ds, 2)

	assert.Equal(t, audit.DecisionDismissed, ds[0].Decision)
	assert.Equal(t, BaselineReason, ds[0].Reason)
	assert.Equal(t, "security", ds[0].Focus)
	assert.Equal(t, "high", ds[0].Severity)
	assert.Equal(t, "myrepo", ds[0].Repo)
	assert.NotEmpty(t, ds[0].FileHash)
	assert.Empty(t, ds[1].FileHash, "missing file records no hash")
}

func TestRemoveBaseline_FilterExactness(t *testing.T) {
	path := storePath(t)
	records := []audit.Decision{
		{FindingID: "b1", Decision: audit.DecisionDismissed, Reason: BaselineReason, Date: "2026-01-01", By: "baseline", Repo: "repoA", Focus: "security", Severity: "high"},
		{FindingID: "b2", Decision: audit.DecisionDismissed, Reason: BaselineReason, Date: "2026-01-01", By: "baseline", Repo: "repoB", Focus: "security", Severity: "low"},
		{FindingID: "b3", Decision: audit.DecisionDismissed, Reason: BaselineReason, Date: "2026-01-01", By: "baseline", Repo: "repoA", Focus: "docs", Severity: "high"},
		{FindingID: "u1", Decision: audit.DecisionIntentional, Reason: "real judgment", Date: "2026-01-02", By: "alice", Repo: "repoA", Focus: "security"},
	}
	for _, d := range records {
		require.NoError(t, Append(path, d))
	}

	removed, err := RemoveBaseline(path, BaselineFilter{Repos: []string{"repoA"}, Focuses: []string{"security"}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "only the baseline matching all filters goes")

	remaining, err := Load(path)
	require.NoError(t, err)
	require.Len(t, remaining, 3)

	ids := []string{remaining[0].FindingID, remaining[1].FindingID, remaining[2].FindingID}
	assert.ElementsMatch(t, []string{"b2", "b3", "u1"}, ids)
	// The non-baseline record survives byte-for-byte in meaning.
	assert.Equal(t, "real judgment", remaining[2].Reason)
}

func TestRemoveBaseline_NoFilterRemovesAllBaselines(t *testing.T) {
	path := storePath(t)
	require.NoError(t, Append(path, audit.Decision{FindingID: "b1", Decision: audit.DecisionDismissed, Reason: BaselineReason, Date: "2026-01-01", By: "baseline"}))
	require.NoError(t, Append(path, decided("u1", "2026-01-02")))

	removed, err := RemoveBaseline(path, BaselineFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := Load(path)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "u1", remaining[0].FindingID)
}

func TestListBaseline(t *testing.T) {
	path := storePath(t)
	require.NoError(t, Append(path, audit.Decision{FindingID: "b1", Decision: audit.DecisionDismissed, Reason: BaselineReason, Date: "2026-01-01", By: "baseline"}))
	require.NoError(t, Append(path, decided("u1", "2026-01-02")))

	bs, err := ListBaseline(path)
	require.NoError(t, err)
	require.Len(t, bs, 1)
	assert.Equal(t, "b1", bs[0].FindingID)
}

func TestHashFile(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "a.txt", "hello")

	h1 := HashFile(filepath.Join(repo, "a.txt"))
	assert.Len(t, h1, 16)
	assert.Equal(t, h1, HashFile(filepath.Join(repo, "a.txt")))
	assert.Empty(t, HashFile(filepath.Join(repo, "missing.txt")))
}

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

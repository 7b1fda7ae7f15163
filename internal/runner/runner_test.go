package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/audit"
	"vigil/internal/config"
	"vigil/internal/decisions"
	"vigil/internal/ledger"
	"vigil/internal/providers"
	"vigil/internal/state"
)

type fakeProvider struct {
	name       string
	submitted  []string
	pollStatus providers.BatchStatus
	findings   []audit.Finding
	usage      providers.Usage
	submitErr  error
	pollErr    error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) SubmitBatch(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts providers.SubmitOptions) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	id := "batch-" + opts.JobLabel
	f.submitted = append(f.submitted, id)
	return id, nil
}

func (f *fakeProvider) PollBatch(ctx context.Context, batchID, defaultFocus string) (providers.PollResult, error) {
	if f.pollErr != nil {
		return providers.PollResult{}, f.pollErr
	}
	result := providers.PollResult{BatchID: batchID, Status: f.pollStatus}
	if f.pollStatus == providers.StatusEnded {
		result.Findings = f.findings
	} else {
		result.Counts.Processing = 1
	}
	return result, nil
}

func (f *fakeProvider) RunAudit(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts providers.SubmitOptions) ([]audit.Finding, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.findings, nil
}

func (f *fakeProvider) LastUsage() providers.Usage { return f.usage }

func testRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "src", "app.py"),
		[]byte("import os\n\ndef main():\n    pass\n"), 0o644))
	return dir
}

func testConfig(repoPath string) *config.Config {
	return &config.Config{
		Repos: []config.RepoConfig{{
			Name:             "myrepo",
			Path:             repoPath,
			ProviderRotation: []string{"anthropic"},
		}},
		Schedule:   map[string]any{"monday": "security"},
		Budget:     config.BudgetConfig{MaxPerRunUSD: 2.0, AlertThresholdUSD: 1.5},
		Decisions:  config.DecisionConfig{ExpiryDays: 90, Path: ".vigil/decisions.jsonl"},
		Prepass:    config.PrepassConfig{Auto: true, ThresholdTokens: 600_000},
		Privacy:    config.PrivacyConfig{RedactSecrets: true},
		ReportsDir: ".vigil/reports",
		Model:      "claude-sonnet-4-5",
	}
}

func newTestRunner(t *testing.T, cfg *config.Config, provider *fakeProvider) *Runner {
	t.Helper()
	t.Chdir(t.TempDir())
	r := New(cfg, zap.NewNop())
	r.newProvider = func(name, model string, logger *zap.Logger) (providers.Provider, error) {
		return provider, nil
	}
	r.now = func() time.Time {
		// a Monday
		return time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)
	}
	return r
}

func sampleFindings() []audit.Finding {
	line := 3
	return []audit.Finding{{
		ID:          audit.FindingID("security", "src/app.py", "Unused import", &line),
		Severity:    audit.SeverityLow,
		File:        "src/app.py",
		Line:        &line,
		Title:       "Unused import",
		Description: "os is imported but never used",
		Focus:       "security",
	}}
}

func TestSubmitThenRetrieve(t *testing.T) {
	repoPath := testRepo(t)
	provider := &fakeProvider{
		name:       "anthropic",
		pollStatus: providers.StatusEnded,
		findings:   sampleFindings(),
		usage:      providers.Usage{InputTokens: 5000, OutputTokens: 300},
	}
	r := newTestRunner(t, testConfig(repoPath), provider)
	ctx := context.Background()

	pending, err := r.Submit(ctx, Options{})
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.Len(t, pending.Batches, 1)
	assert.Equal(t, "myrepo", pending.Batches[0].Repo)
	assert.Equal(t, "batch-myrepo-security", pending.Batches[0].BatchID)
	assert.Equal(t, "security", pending.Focus)
	assert.FileExists(t, PendingBatchFile)

	results, err := r.Retrieve(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "myrepo", results[0].Repo)
	assert.Len(t, results[0].NewFindings, 1)

	// pending removed, marker written, snapshot and ledger populated
	assert.NoFileExists(t, PendingBatchFile)
	assert.FileExists(t, LastRetrievedFile)

	snapFindings := state.LoadLatest(".")
	require.Len(t, snapFindings, 1)
	assert.Equal(t, "Unused import", snapFindings[0].Title)

	entries, err := ledger.New("").Read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5000, entries[0].InputTokens)
	assert.Greater(t, entries[0].CostEstimateUSD, 0.0)

	reportPath := filepath.Join(".vigil", "reports", "myrepo",
		time.Now().Format("2006-01-02")+"-security.md")
	assert.FileExists(t, reportPath)
}

func TestRetrieve_StillProcessing(t *testing.T) {
	repoPath := testRepo(t)
	provider := &fakeProvider{name: "anthropic", pollStatus: providers.StatusProcessing}
	r := newTestRunner(t, testConfig(repoPath), provider)
	ctx := context.Background()

	_, err := r.Submit(ctx, Options{})
	require.NoError(t, err)

	results, err := r.Retrieve(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.FileExists(t, PendingBatchFile, "pending survives until a result lands")
}

func TestRetrieve_Idempotent(t *testing.T) {
	repoPath := testRepo(t)
	provider := &fakeProvider{
		name:       "anthropic",
		pollStatus: providers.StatusEnded,
		findings:   sampleFindings(),
	}
	r := newTestRunner(t, testConfig(repoPath), provider)
	ctx := context.Background()

	pending, err := r.Submit(ctx, Options{})
	require.NoError(t, err)

	results, err := r.Retrieve(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// re-create the pending file to simulate a second retrieve of the
	// same batch set
	require.NoError(t, writeJSON(PendingBatchFile, pending))
	again, err := r.Retrieve(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, again, "matching marker skips re-processing")
}

func TestRetrieve_PartialDrain(t *testing.T) {
	byName := map[string]*fakeProvider{
		"anthropic": {name: "anthropic", pollStatus: providers.StatusEnded, findings: sampleFindings()},
		"openai":    {name: "openai", pollStatus: providers.StatusProcessing},
	}
	r := newTestRunner(t, testConfig(testRepo(t)), &fakeProvider{name: "anthropic"})
	r.newProvider = func(name, model string, logger *zap.Logger) (providers.Provider, error) {
		return byName[name], nil
	}
	ctx := context.Background()

	pending := PendingBatch{
		SubmittedAt: "2026-08-31T06:00:00Z",
		FocusNames:  []string{"security"},
		Batches: []BatchInfo{
			{Repo: "myrepo", BatchID: "batch-done", Provider: "anthropic", FileCount: 1},
			{Repo: "other", BatchID: "batch-slow", Provider: "openai", FileCount: 1},
		},
	}
	require.NoError(t, writeJSON(PendingBatchFile, pending))

	results, err := r.Retrieve(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "myrepo", results[0].Repo)

	// the finished batch is drained, the slow one stays pending
	var left PendingBatch
	require.NoError(t, readJSON(PendingBatchFile, &left))
	require.Len(t, left.Batches, 1)
	assert.Equal(t, "batch-slow", left.Batches[0].BatchID)

	// a later retrieve still polls the remainder
	byName["openai"].pollStatus = providers.StatusEnded
	byName["openai"].findings = nil
	again, err := r.Retrieve(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.NoFileExists(t, PendingBatchFile)
}

func TestRetrieve_GeminiStoredResult(t *testing.T) {
	r := newTestRunner(t, testConfig(testRepo(t)), &fakeProvider{name: "anthropic"})
	r.newProvider = providers.New
	t.Setenv("GOOGLE_API_KEY", "test-key")

	// A gemini submit runs synchronously and stores its result on disk.
	// The retrieve normally happens in a fresh process, so the provider
	// built here must read the result back rather than remember it.
	stash := struct {
		Findings []audit.Finding `json:"findings"`
		Usage    providers.Usage `json:"usage"`
	}{
		Findings: sampleFindings(),
		Usage:    providers.Usage{InputTokens: 3000, OutputTokens: 200},
	}
	require.NoError(t, writeJSON(
		filepath.Join(".vigil", "gemini-results", "gemini-sync-42.json"), stash))

	pending := PendingBatch{
		SubmittedAt: "2026-08-31T06:00:00Z",
		FocusNames:  []string{"security"},
		Batches: []BatchInfo{
			{Repo: "myrepo", BatchID: "gemini-sync-42", Provider: "gemini", FileCount: 1},
		},
	}
	require.NoError(t, writeJSON(PendingBatchFile, pending))

	results, err := r.Retrieve(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "myrepo", results[0].Repo)
	assert.Len(t, results[0].NewFindings, 1)
	assert.NoFileExists(t, PendingBatchFile)

	entries, err := ledger.New("").Read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3000, entries[0].InputTokens)
}

func TestRetrieve_MarkerWriteFailure(t *testing.T) {
	provider := &fakeProvider{
		name:       "anthropic",
		pollStatus: providers.StatusEnded,
		findings:   sampleFindings(),
	}
	r := newTestRunner(t, testConfig(testRepo(t)), provider)
	ctx := context.Background()

	_, err := r.Submit(ctx, Options{})
	require.NoError(t, err)

	// Occupy the marker path so its write fails after the batch has
	// been processed.
	require.NoError(t, os.MkdirAll(LastRetrievedFile, 0o755))

	results, err := r.Retrieve(ctx, Options{})
	require.Error(t, err)
	require.Len(t, results, 1)

	// The pending file is drained before the marker is written, so a
	// failure here cannot cause the batch to be processed twice.
	assert.NoFileExists(t, PendingBatchFile)
}

func TestRetrieve_NoPending(t *testing.T) {
	r := newTestRunner(t, testConfig(testRepo(t)), &fakeProvider{name: "anthropic"})
	results, err := r.Retrieve(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSubmit_OffDay(t *testing.T) {
	cfg := testConfig(testRepo(t))
	cfg.Schedule = map[string]any{"monday": "off"}
	r := newTestRunner(t, cfg, &fakeProvider{name: "anthropic"})

	pending, err := r.Submit(context.Background(), Options{})
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestSubmit_UnknownFocus(t *testing.T) {
	r := newTestRunner(t, testConfig(testRepo(t)), &fakeProvider{name: "anthropic"})
	_, err := r.Submit(context.Background(), Options{Focus: "astrology"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown focus area")
}

func TestSubmit_UnknownRepo(t *testing.T) {
	r := newTestRunner(t, testConfig(testRepo(t)), &fakeProvider{name: "anthropic"})
	_, err := r.Submit(context.Background(), Options{RepoName: "ghost"})
	require.Error(t, err)
}

func TestSubmit_DryRun(t *testing.T) {
	provider := &fakeProvider{name: "anthropic"}
	r := newTestRunner(t, testConfig(testRepo(t)), provider)

	pending, err := r.Submit(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, pending.Batches)
	assert.Empty(t, provider.submitted)
	assert.NoFileExists(t, PendingBatchFile)
}

func TestRun_Synchronous(t *testing.T) {
	provider := &fakeProvider{
		name:     "anthropic",
		findings: sampleFindings(),
		usage:    providers.Usage{InputTokens: 4000, OutputTokens: 200},
	}
	r := newTestRunner(t, testConfig(testRepo(t)), provider)

	results, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "anthropic", results[0].Provider)
	assert.Len(t, results[0].NewFindings, 1)

	entries, err := ledger.New("").Read()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRun_DecisionSuppression(t *testing.T) {
	repoPath := testRepo(t)
	findings := sampleFindings()
	provider := &fakeProvider{name: "anthropic", findings: findings}
	r := newTestRunner(t, testConfig(repoPath), provider)

	require.NoError(t, decisions.Append(".vigil/decisions.jsonl", audit.Decision{
		FindingID: findings[0].ID,
		Decision:  audit.DecisionDismissed,
		Reason:    "known and fine",
		Date:      "2026-08-29",
		By:        "tester",
	}))

	results, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].NewFindings, "dismissed finding is suppressed")
	assert.Equal(t, 1, results[0].ResolvedCount)
	assert.Len(t, results[0].Findings, 1, "raw findings keep everything")
}

func TestSubmit_BudgetExceeded(t *testing.T) {
	cfg := testConfig(testRepo(t))
	cfg.Budget.MaxPerRunUSD = 0.0000001
	r := newTestRunner(t, cfg, &fakeProvider{name: "anthropic"})

	_, err := r.Submit(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds budget max")
}

func TestRun_SARIF(t *testing.T) {
	provider := &fakeProvider{name: "anthropic", findings: sampleFindings()}
	r := newTestRunner(t, testConfig(testRepo(t)), provider)

	_, err := r.Run(context.Background(), Options{WriteSARIF: true})
	require.NoError(t, err)

	sarifPath := filepath.Join(".vigil", "reports", "myrepo",
		time.Now().Format("2006-01-02")+"-security.sarif")
	assert.FileExists(t, sarifPath)
}

func TestRun_TerminalFailureZeroFindings(t *testing.T) {
	// A batch that ends without findings is a clean result, not an error.
	provider := &fakeProvider{name: "anthropic", pollStatus: providers.StatusEnded}
	r := newTestRunner(t, testConfig(testRepo(t)), provider)
	ctx := context.Background()

	_, err := r.Submit(ctx, Options{})
	require.NoError(t, err)

	results, err := r.Retrieve(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Findings)
}

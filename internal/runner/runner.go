// Package runner orchestrates audits end to end: file gathering,
// optional pre-pass, submission, retrieval, decision filtering, and
// report generation.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"vigil/internal/audit"
	"vigil/internal/config"
	"vigil/internal/decisions"
	"vigil/internal/focus"
	"vigil/internal/ledger"
	"vigil/internal/prepass"
	"vigil/internal/pricing"
	"vigil/internal/providers"
	"vigil/internal/redact"
	"vigil/internal/report"
	"vigil/internal/state"
)

const (
	// PendingBatchFile records submitted-but-unretrieved batches.
	PendingBatchFile = ".vigil/pending-batch.json"
	// LastRetrievedFile is the retrieval idempotency marker.
	LastRetrievedFile = ".vigil/last-retrieved.json"
)

// BatchInfo identifies one submitted remote batch.
type BatchInfo struct {
	Repo      string `json:"repo"`
	BatchID   string `json:"batch_id"`
	Provider  string `json:"provider"`
	FileCount int    `json:"file_count"`
}

// PendingBatch is the submit-to-retrieve handoff record.
type PendingBatch struct {
	SubmittedAt string      `json:"submitted_at"`
	Focus       string      `json:"focus"`
	FocusNames  []string    `json:"focus_names"`
	Batches     []BatchInfo `json:"batches"`
}

type retrievedMarker struct {
	BatchIDs    []string `json:"batch_ids"`
	RetrievedAt string   `json:"retrieved_at"`
}

// Options are per-invocation overrides from the CLI.
type Options struct {
	RepoName    string // limit to one configured repo
	Focus       string // override today's schedule
	Provider    string // override the repo's provider rotation
	DryRun      bool
	WriteSARIF  bool
	PendingPath string // alternate pending-batch file for retrieve
}

// Runner drives audits for every configured repository.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger

	// newProvider is swappable for tests.
	newProvider func(name, model string, logger *zap.Logger) (providers.Provider, error)
	now         func() time.Time
}

// New builds a Runner over the given config.
func New(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:         cfg,
		logger:      logger,
		newProvider: providers.New,
		now:         time.Now,
	}
}

// resolveFocusNames picks the focus set from the override or today's
// schedule, then validates every name. Unknown names fail the whole
// invocation before anything is submitted.
func (r *Runner) resolveFocusNames(override string) ([]string, error) {
	var names []string
	if override != "" {
		names = config.NormalizeFocus(override)
	} else {
		names = r.cfg.TodayFocus(r.now())
	}
	if len(names) == 0 {
		return nil, nil
	}
	if _, err := focus.Resolve(names); err != nil {
		return nil, err
	}
	return names, nil
}

func (r *Runner) selectRepos(repoName string) ([]config.RepoConfig, error) {
	if repoName == "" {
		return r.cfg.Repos, nil
	}
	repo, ok := r.cfg.Repo(repoName)
	if !ok {
		return nil, fmt.Errorf("unknown repo: %s", repoName)
	}
	return []config.RepoConfig{repo}, nil
}

// Submit submits batch audits for the selected repos and persists the
// pending-batch handoff for a later Retrieve.
func (r *Runner) Submit(ctx context.Context, opts Options) (*PendingBatch, error) {
	focusNames, err := r.resolveFocusNames(opts.Focus)
	if err != nil {
		return nil, err
	}
	if len(focusNames) == 0 {
		r.logger.Info("today is scheduled as off; use a focus override to run anyway")
		return nil, nil
	}

	repos, err := r.selectRepos(opts.RepoName)
	if err != nil {
		return nil, err
	}

	pending := &PendingBatch{
		SubmittedAt: r.now().Format(time.RFC3339),
		Focus:       focus.Label(focusNames),
		FocusNames:  focusNames,
	}

	for _, repo := range repos {
		info, err := r.submitRepo(ctx, repo, focusNames, opts.Provider, opts.DryRun)
		if err != nil {
			return nil, err
		}
		if info != nil {
			pending.Batches = append(pending.Batches, *info)
		}
	}

	if len(pending.Batches) > 0 && !opts.DryRun {
		if err := writeJSON(PendingBatchFile, pending); err != nil {
			return nil, fmt.Errorf("saving pending batch: %w", err)
		}
		r.logger.Info("batch info saved; run retrieve later to get results",
			zap.String("path", PendingBatchFile))
	}
	return pending, nil
}

func (r *Runner) submitRepo(ctx context.Context, repo config.RepoConfig, focusNames []string, providerOverride string, dryRun bool) (*BatchInfo, error) {
	label := focus.Label(focusNames)
	areas, err := focus.Resolve(focusNames)
	if err != nil {
		return nil, err
	}

	r.logger.Info("gathering files",
		zap.String("repo", repo.Name),
		zap.String("focus", label))
	files, err := focus.GatherCombined(areas, repo.Path, repo.Exclude, r.logger)
	if err != nil {
		return nil, fmt.Errorf("gathering files for %s: %w", repo.Name, err)
	}
	r.logger.Info("files gathered",
		zap.String("repo", repo.Name),
		zap.Int("file_count", len(files)),
		zap.Int("focus_areas", len(focusNames)))

	if len(files) == 0 {
		r.logger.Info("no files to audit, skipping", zap.String("repo", repo.Name))
		return nil, nil
	}

	providerName := providerOverride
	if providerName == "" {
		providerName = r.cfg.ProviderForRepo(repo.Name, 0)
	}
	if !providers.Known(providerName) {
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}

	decs, err := decisions.Load(r.cfg.Decisions.Path)
	if err != nil {
		return nil, err
	}
	decisionContext := decisions.FormatContext(decs)
	prompt := focus.BuildCombinedPrompt(areas)

	if dryRun {
		r.logger.Info("dry run, nothing submitted",
			zap.String("repo", repo.Name),
			zap.Int("file_count", len(files)),
			zap.Strings("focus_areas", focusNames),
			zap.Int("prompt_chars", len(prompt)),
			zap.Int("prior_decisions", len(decs)))
		return nil, nil
	}

	provider, err := r.newProvider(providerName, r.cfg.Model, r.logger)
	if err != nil {
		return nil, err
	}

	files, err = r.prepareFiles(ctx, files, focusNames, repo, provider)
	if err != nil {
		return nil, err
	}

	r.logger.Info("submitting batch",
		zap.String("repo", repo.Name),
		zap.String("provider", providerName),
		zap.String("model", r.cfg.Model))
	batchID, err := provider.SubmitBatch(ctx, files, prompt, decisionContext, providers.SubmitOptions{
		JobLabel:      repo.Name + "-" + label,
		NumFocusAreas: len(focusNames),
		DefaultFocus:  defaultFocus(focusNames),
	})
	if err != nil {
		return nil, fmt.Errorf("submitting %s: %w", repo.Name, err)
	}
	r.logger.Info("batch submitted",
		zap.String("repo", repo.Name),
		zap.String("batch_id", batchID))

	return &BatchInfo{
		Repo:      repo.Name,
		BatchID:   batchID,
		Provider:  providerName,
		FileCount: len(files),
	}, nil
}

// prepareFiles applies the pre-pass (when triggered), budget guard, and
// secret redaction. This is the last stop before content leaves the
// machine.
func (r *Runner) prepareFiles(ctx context.Context, files []audit.FileContent, focusNames []string, repo config.RepoConfig, provider providers.Provider) ([]audit.FileContent, error) {
	files, err := r.maybePrepass(ctx, files, focusNames, repo, provider)
	if err != nil {
		return nil, err
	}
	if err := r.checkBudget(files, focusNames, provider.Name(), repo.Name); err != nil {
		return nil, err
	}
	if r.cfg.Privacy.RedactSecrets {
		files = redact.Files(files, r.cfg.Privacy.RedactPaths)
	}
	return files, nil
}

// maybePrepass runs pre-pass classification when the config demands it
// or when the estimate would cross the model's tiered-pricing threshold.
func (r *Runner) maybePrepass(ctx context.Context, files []audit.FileContent, focusNames []string, repo config.RepoConfig, provider providers.Provider) ([]audit.FileContent, error) {
	est := pricing.EstimateTokens(files)

	trigger := r.cfg.Prepass.Enabled && est > r.cfg.Prepass.ThresholdTokens
	if !trigger && r.cfg.Prepass.Auto {
		key := pricing.ResolveModelKey(provider.Name(), r.cfg.Model)
		if p, ok := pricing.Models[key]; ok && p.TierThreshold > 0 && est > p.TierThreshold {
			r.logger.Info("auto-enabling pre-pass: estimate would hit tiered pricing",
				zap.String("repo", repo.Name),
				zap.String("tokens", pricing.FormatTokens(est)),
				zap.String("tier_threshold", pricing.FormatTokens(p.TierThreshold)))
			trigger = true
		}
	}
	if !trigger {
		return files, nil
	}

	classifier, err := r.prepassProvider(repo, provider)
	if err != nil {
		return nil, err
	}
	_, enriched, err := prepass.Run(ctx, files, focusNames, classifier, r.logger)
	if err != nil {
		return nil, err
	}
	return enriched, nil
}

// prepassProvider picks the cheapest constructible provider from the
// repo's rotation for classification, falling back to the main one.
func (r *Runner) prepassProvider(repo config.RepoConfig, main providers.Provider) (providers.Provider, error) {
	type candidate struct {
		name  string
		price float64
	}
	var candidates []candidate
	for _, name := range repo.ProviderRotation {
		key := pricing.ResolveModelKey(name, r.cfg.Model)
		p, ok := pricing.Models[key]
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{name: name, price: p.InputPerMillion})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].price < candidates[j].price })

	for _, c := range candidates {
		if c.name == main.Name() {
			return main, nil
		}
		key := pricing.ResolveModelKey(c.name, r.cfg.Model)
		provider, err := r.newProvider(c.name, key, r.logger)
		if err != nil {
			// No credentials for the cheaper provider; keep looking.
			continue
		}
		return provider, nil
	}
	return main, nil
}

// checkBudget refuses submission when the estimated spend exceeds the
// per-run cap, and warns at the alert threshold.
func (r *Runner) checkBudget(files []audit.FileContent, focusNames []string, providerName, repoName string) error {
	key := pricing.ResolveModelKey(providerName, r.cfg.Model)
	p, ok := pricing.Models[key]
	if !ok {
		return nil
	}

	in := pricing.EstimateTokens(files)
	out := pricing.EstimateOutputTokens(in, len(focusNames))
	cost := pricing.Cost(in, out, p, providerName == "anthropic")

	if max := r.cfg.Budget.MaxPerRunUSD; max > 0 && cost > max {
		return fmt.Errorf("estimated cost $%.2f exceeds budget max $%.2f for %s", cost, max, repoName)
	}
	if alert := r.cfg.Budget.AlertThresholdUSD; alert > 0 && cost > alert {
		r.logger.Warn("estimated cost exceeds alert threshold",
			zap.String("repo", repoName),
			zap.Float64("estimated_usd", cost),
			zap.Float64("alert_threshold_usd", alert))
	}
	return nil
}

// Retrieve fetches results for a previously submitted batch. Terminal
// batches are drained out of the pending file; still-processing ones
// stay pending for a later call. The file is removed once empty.
func (r *Runner) Retrieve(ctx context.Context, opts Options) ([]audit.AuditResult, error) {
	path := opts.PendingPath
	if path == "" {
		path = PendingBatchFile
	}

	var pending PendingBatch
	if err := readJSON(path, &pending); err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("no pending batch found; submit first", zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("reading pending batch: %w", err)
	}

	if r.alreadyRetrieved(pending) {
		r.logger.Info("batch already retrieved, skipping")
		return nil, nil
	}

	focusNames := pending.FocusNames
	if len(focusNames) == 0 && pending.Focus != "" {
		focusNames = []string{pending.Focus}
	}
	label := focus.Label(focusNames)

	var results []audit.AuditResult
	var retrievedIDs []string
	var remaining []BatchInfo
	for _, info := range pending.Batches {
		result, done, err := r.retrieveRepo(ctx, info, label, defaultFocus(focusNames), opts.WriteSARIF)
		if err != nil {
			return results, err
		}
		if done {
			results = append(results, result)
			retrievedIDs = append(retrievedIDs, info.BatchID)
		} else {
			remaining = append(remaining, info)
		}
	}

	if len(retrievedIDs) == 0 {
		return nil, nil
	}
	// Drain terminal batches out; still-processing ones stay pending. The
	// pending file is rewritten before the marker so a crash between the
	// two writes never leaves a drained batch still listed as pending.
	if len(remaining) > 0 {
		pending.Batches = remaining
		if err := writeJSON(path, pending); err != nil {
			return results, fmt.Errorf("updating pending batch: %w", err)
		}
	} else if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return results, fmt.Errorf("removing pending batch: %w", err)
	}
	if err := r.markRetrieved(retrievedIDs); err != nil {
		return results, err
	}
	return results, nil
}

func (r *Runner) alreadyRetrieved(pending PendingBatch) bool {
	var marker retrievedMarker
	if err := readJSON(LastRetrievedFile, &marker); err != nil {
		return false
	}

	pendingIDs := make([]string, 0, len(pending.Batches))
	for _, b := range pending.Batches {
		pendingIDs = append(pendingIDs, b.BatchID)
	}
	sort.Strings(pendingIDs)

	retrieved := append([]string(nil), marker.BatchIDs...)
	sort.Strings(retrieved)

	if len(pendingIDs) == 0 || len(pendingIDs) != len(retrieved) {
		return false
	}
	for i := range pendingIDs {
		if pendingIDs[i] != retrieved[i] {
			return false
		}
	}
	return true
}

func (r *Runner) markRetrieved(ids []string) error {
	return writeJSON(LastRetrievedFile, retrievedMarker{
		BatchIDs:    ids,
		RetrievedAt: r.now().Format(time.RFC3339),
	})
}

// retrieveRepo polls one batch. done is false while the remote job is
// still processing.
func (r *Runner) retrieveRepo(ctx context.Context, info BatchInfo, label, defFocus string, writeSARIF bool) (audit.AuditResult, bool, error) {
	provider, err := r.newProvider(info.Provider, r.cfg.Model, r.logger)
	if err != nil {
		return audit.AuditResult{}, false, err
	}

	r.logger.Info("checking batch",
		zap.String("repo", info.Repo),
		zap.String("batch_id", info.BatchID))
	poll, err := provider.PollBatch(ctx, info.BatchID, defFocus)
	if err != nil {
		return audit.AuditResult{}, false, fmt.Errorf("polling %s: %w", info.Repo, err)
	}

	if poll.Status != providers.StatusEnded {
		r.logger.Info("batch still processing",
			zap.String("repo", info.Repo),
			zap.Int("remaining", poll.Counts.Processing))
		return audit.AuditResult{}, false, nil
	}

	r.logger.Info("batch ended",
		zap.String("repo", info.Repo),
		zap.Int("findings", len(poll.Findings)))

	if info.FileCount > 0 {
		usage := provider.LastUsage()
		if err := ledger.New("").Append(ledger.Entry{
			Repo:             info.Repo,
			Focus:            label,
			Provider:         info.Provider,
			Model:            r.cfg.Model,
			InputTokens:      usage.InputTokens,
			OutputTokens:     usage.OutputTokens,
			CacheReadTokens:  usage.CacheReadTokens,
			CacheWriteTokens: usage.CacheWriteTokens,
			FileCount:        info.FileCount,
		}); err != nil {
			r.logger.Warn("recording cost ledger entry", zap.Error(err))
		}
	}

	result, err := r.finishAudit(info.Repo, label, info.Provider, poll.Findings, writeSARIF)
	if err != nil {
		return audit.AuditResult{}, false, err
	}
	return result, true, nil
}

// finishAudit runs the shared post-retrieval pipeline: decision
// filtering, snapshot, report, and optional SARIF.
func (r *Runner) finishAudit(repoName, label, providerName string, findings []audit.Finding, writeSARIF bool) (audit.AuditResult, error) {
	repoPath := "."
	if repo, ok := r.cfg.Repo(repoName); ok {
		repoPath = repo.Path
	}

	decs, err := decisions.Load(r.cfg.Decisions.Path)
	if err != nil {
		return audit.AuditResult{}, err
	}
	newFindings, resolvedCount := decisions.Filter(findings, decs, repoPath, r.cfg.Decisions.ExpiryDays)

	result := audit.AuditResult{
		Repo:          repoName,
		Focus:         label,
		Provider:      providerName,
		Findings:      findings,
		NewFindings:   newFindings,
		ResolvedCount: resolvedCount,
		Timestamp:     r.now().Format(time.RFC3339),
	}

	if err := state.SaveLatest(".", state.Snapshot{
		Repo:          repoName,
		Focus:         label,
		Timestamp:     result.Timestamp,
		ResolvedCount: resolvedCount,
		Findings:      newFindings,
	}); err != nil {
		return audit.AuditResult{}, err
	}

	md := report.Generate(result)
	reportPath, err := report.Save(md, r.cfg.ReportsDir, repoName, label)
	if err != nil {
		return audit.AuditResult{}, err
	}
	r.logger.Info("report saved",
		zap.String("repo", repoName),
		zap.String("path", reportPath))

	if writeSARIF {
		doc := report.BuildSARIF(result.Findings, label, repoName, Version)
		sarifPath, err := report.SaveSARIF(doc, r.cfg.ReportsDir, repoName, label)
		if err != nil {
			return audit.AuditResult{}, err
		}
		r.logger.Info("SARIF report saved",
			zap.String("repo", repoName),
			zap.String("path", sarifPath))
	}
	return result, nil
}

// Run is the synchronous convenience: submit each repo's audit and wait
// for the results in process.
func (r *Runner) Run(ctx context.Context, opts Options) ([]audit.AuditResult, error) {
	focusNames, err := r.resolveFocusNames(opts.Focus)
	if err != nil {
		return nil, err
	}
	if len(focusNames) == 0 {
		r.logger.Info("today is scheduled as off; use a focus override to run anyway")
		return nil, nil
	}

	repos, err := r.selectRepos(opts.RepoName)
	if err != nil {
		return nil, err
	}

	var results []audit.AuditResult
	for _, repo := range repos {
		result, err := r.runRepoSync(ctx, repo, focusNames, opts)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Runner) runRepoSync(ctx context.Context, repo config.RepoConfig, focusNames []string, opts Options) (audit.AuditResult, error) {
	label := focus.Label(focusNames)
	areas, err := focus.Resolve(focusNames)
	if err != nil {
		return audit.AuditResult{}, err
	}

	files, err := focus.GatherCombined(areas, repo.Path, repo.Exclude, r.logger)
	if err != nil {
		return audit.AuditResult{}, fmt.Errorf("gathering files for %s: %w", repo.Name, err)
	}
	if len(files) == 0 {
		return audit.AuditResult{
			Repo:      repo.Name,
			Focus:     label,
			Provider:  "none",
			Timestamp: r.now().Format(time.RFC3339),
		}, nil
	}

	providerName := opts.Provider
	if providerName == "" {
		providerName = r.cfg.ProviderForRepo(repo.Name, 0)
	}
	if !providers.Known(providerName) {
		return audit.AuditResult{}, fmt.Errorf("unknown provider: %s", providerName)
	}

	decs, err := decisions.Load(r.cfg.Decisions.Path)
	if err != nil {
		return audit.AuditResult{}, err
	}
	decisionContext := decisions.FormatContext(decs)
	prompt := focus.BuildCombinedPrompt(areas)

	if opts.DryRun {
		r.logger.Info("dry run, nothing submitted",
			zap.String("repo", repo.Name),
			zap.Int("file_count", len(files)),
			zap.Strings("focus_areas", focusNames))
		return audit.AuditResult{
			Repo:      repo.Name,
			Focus:     label,
			Provider:  "dry-run",
			Timestamp: r.now().Format(time.RFC3339),
		}, nil
	}

	provider, err := r.newProvider(providerName, r.cfg.Model, r.logger)
	if err != nil {
		return audit.AuditResult{}, err
	}

	files, err = r.prepareFiles(ctx, files, focusNames, repo, provider)
	if err != nil {
		return audit.AuditResult{}, err
	}

	r.logger.Info("running audit",
		zap.String("repo", repo.Name),
		zap.String("focus", label),
		zap.String("provider", providerName))
	findings, err := provider.RunAudit(ctx, files, prompt, decisionContext, providers.SubmitOptions{
		JobLabel:      repo.Name + "-" + label,
		NumFocusAreas: len(focusNames),
		DefaultFocus:  defaultFocus(focusNames),
	})
	if err != nil {
		return audit.AuditResult{}, fmt.Errorf("auditing %s: %w", repo.Name, err)
	}

	usage := provider.LastUsage()
	if err := ledger.New("").Append(ledger.Entry{
		Repo:             repo.Name,
		Focus:            label,
		Provider:         providerName,
		Model:            r.cfg.Model,
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		CacheReadTokens:  usage.CacheReadTokens,
		CacheWriteTokens: usage.CacheWriteTokens,
		FileCount:        len(files),
	}); err != nil {
		r.logger.Warn("recording cost ledger entry", zap.Error(err))
	}

	return r.finishAudit(repo.Name, label, providerName, findings, opts.WriteSARIF)
}

func defaultFocus(names []string) string {
	if len(names) == 1 {
		return names[0]
	}
	return ""
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Package providers implements the uniform adapter over remote LLM
// batch judges. Every variant exposes the same three-operation contract
// (submit, poll, run-to-completion) and keeps its vendor wire format
// entirely internal.
package providers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vigil/internal/audit"
)

// BatchStatus is the observable state of a remote batch job.
type BatchStatus string

const (
	StatusSubmitted  BatchStatus = "submitted"
	StatusProcessing BatchStatus = "processing"
	StatusEnded      BatchStatus = "ended"
)

// RequestCounts mirrors the remote job's per-request progress counters.
type RequestCounts struct {
	Processing int
	Succeeded  int
	Errored    int
}

// PollResult is one poll observation. Findings are populated only when
// Status is StatusEnded and the job succeeded.
type PollResult struct {
	BatchID  string
	Status   BatchStatus
	Counts   RequestCounts
	Findings []audit.Finding
}

// Usage is the token accounting from the last terminal response.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// SubmitOptions carries per-job submission parameters.
type SubmitOptions struct {
	// JobLabel names the job at the provider (e.g. "myrepo-security").
	JobLabel string
	// NumFocusAreas scales the output token budget.
	NumFocusAreas int
	// DefaultFocus backfills findings the model did not self-tag.
	DefaultFocus string
}

// Provider is the uniform interface over asynchronous batch judges.
//
// PollBatch never sleeps; callers retry non-terminal polls. RunAudit is
// the synchronous convenience: it may block in a fixed-interval poll
// loop until the job is terminal, honoring ctx cancellation.
type Provider interface {
	Name() string
	SubmitBatch(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts SubmitOptions) (string, error)
	PollBatch(ctx context.Context, batchID, defaultFocus string) (PollResult, error)
	RunAudit(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts SubmitOptions) ([]audit.Finding, error)
	LastUsage() Usage
}

// New creates a provider by name.
func New(name, model string, logger *zap.Logger) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropic(model, logger)
	case "openai":
		return NewOpenAI(model, logger)
	case "gemini", "google":
		return NewGemini(model, logger)
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

// Known reports whether name resolves to a provider, without
// constructing one (construction requires API keys).
func Known(name string) bool {
	switch name {
	case "anthropic", "openai", "gemini", "google":
		return true
	}
	return false
}

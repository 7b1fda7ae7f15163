package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"vigil/internal/audit"
)

const (
	anthropicBatchesURL = "https://api.anthropic.com/v1/messages/batches"
	anthropicAPIVersion = "2023-06-01"
)

// Anthropic talks to the Message Batches API. Batch submissions get the
// 50% batch discount, which the pricing model accounts for.
type Anthropic struct {
	apiKey    string
	model     string
	client    *http.Client
	logger    *zap.Logger
	lastUsage Usage
}

// NewAnthropic creates the Anthropic batch provider.
func NewAnthropic(model string, logger *zap.Logger) (*Anthropic, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}
	return &Anthropic{
		apiKey: key,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) LastUsage() Usage { return a.lastUsage }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicParams struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicBatchRequest struct {
	Requests []anthropicBatchEntry `json:"requests"`
}

type anthropicBatchEntry struct {
	CustomID string          `json:"custom_id"`
	Params   anthropicParams `json:"params"`
}

type anthropicRequestCounts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

type anthropicBatch struct {
	ID               string                 `json:"id"`
	ProcessingStatus string                 `json:"processing_status"`
	RequestCounts    anthropicRequestCounts `json:"request_counts"`
	ResultsURL       string                 `json:"results_url"`
}

type anthropicUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
}

type anthropicResultMessage struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicBatchResult struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    string                 `json:"type"`
		Message anthropicResultMessage `json:"message"`
	} `json:"result"`
}

// SubmitBatch creates a one-request batch and returns its ID.
func (a *Anthropic) SubmitBatch(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts SubmitOptions) (string, error) {
	label := opts.JobLabel
	if label == "" {
		label = "vigil-audit"
	}

	body := anthropicBatchRequest{
		Requests: []anthropicBatchEntry{{
			CustomID: label,
			Params: anthropicParams{
				Model:     a.model,
				MaxTokens: maxTokensFor(opts),
				System:    systemPrompt,
				Messages: []anthropicMessage{
					{Role: "user", Content: buildUserMessage(files, decisionContext)},
				},
			},
		}},
	}

	var batch anthropicBatch
	if err := a.doJSON(ctx, http.MethodPost, anthropicBatchesURL, body, &batch); err != nil {
		return "", fmt.Errorf("submitting batch: %w", err)
	}
	return batch.ID, nil
}

// PollBatch reports the batch's remote state. It returns StatusEnded
// only on the terminal remote status and never sleeps; non-terminal
// polls are the caller's to retry.
func (a *Anthropic) PollBatch(ctx context.Context, batchID, defaultFocus string) (PollResult, error) {
	var batch anthropicBatch
	if err := a.doJSON(ctx, http.MethodGet, anthropicBatchesURL+"/"+batchID, nil, &batch); err != nil {
		return PollResult{}, fmt.Errorf("polling batch %s: %w", batchID, err)
	}

	result := PollResult{
		BatchID: batchID,
		Status:  StatusProcessing,
		Counts: RequestCounts{
			Processing: batch.RequestCounts.Processing,
			Succeeded:  batch.RequestCounts.Succeeded,
			Errored:    batch.RequestCounts.Errored + batch.RequestCounts.Canceled + batch.RequestCounts.Expired,
		},
	}

	if batch.ProcessingStatus != "ended" {
		return result, nil
	}
	result.Status = StatusEnded

	findings, err := a.fetchResults(ctx, batch.ResultsURL, defaultFocus)
	if err != nil {
		return PollResult{}, err
	}
	result.Findings = findings
	return result, nil
}

func (a *Anthropic) fetchResults(ctx context.Context, resultsURL, defaultFocus string) ([]audit.Finding, error) {
	if resultsURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating results request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching batch results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetching batch results (status %d): %s", resp.StatusCode, string(body))
	}

	// Results are JSONL, one line per request in the batch.
	var findings []audit.Finding
	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry anthropicBatchResult
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("parsing batch result line: %w", err)
		}
		if entry.Result.Type != "succeeded" {
			a.logger.Warn("batch request did not succeed",
				zap.String("custom_id", entry.CustomID),
				zap.String("result_type", entry.Result.Type))
			continue
		}

		var text string
		for _, block := range entry.Result.Message.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		parsed, err := ParseFindings(text, defaultFocus)
		if err != nil {
			return nil, fmt.Errorf("parsing findings for %s: %w", entry.CustomID, err)
		}
		findings = append(findings, parsed...)
		usage.InputTokens += entry.Result.Message.Usage.InputTokens
		usage.OutputTokens += entry.Result.Message.Usage.OutputTokens
		usage.CacheReadTokens += entry.Result.Message.Usage.CacheReadTokens
		usage.CacheWriteTokens += entry.Result.Message.Usage.CacheCreationTokens
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch results: %w", err)
	}
	a.lastUsage = usage
	return findings, nil
}

// RunAudit submits a batch and polls at a fixed interval until it ends.
// The loop has no attempt cap; ctx is the caller's cancellation path.
func (a *Anthropic) RunAudit(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts SubmitOptions) ([]audit.Finding, error) {
	batchID, err := a.SubmitBatch(ctx, files, systemPrompt, decisionContext, opts)
	if err != nil {
		return nil, err
	}
	a.logger.Info("batch submitted", zap.String("batch_id", batchID))

	for {
		result, err := a.PollBatch(ctx, batchID, opts.DefaultFocus)
		if err != nil {
			return nil, err
		}
		if result.Status == StatusEnded {
			return result.Findings, nil
		}

		a.logger.Info("batch still processing",
			zap.String("batch_id", batchID),
			zap.Int("processing", result.Counts.Processing))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(60 * time.Second):
		}
	}
}

func (a *Anthropic) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

func (a *Anthropic) doJSON(ctx context.Context, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	return retryWithBackoff(ctx, 3, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		a.setHeaders(req)

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &rateLimitError{}
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &authError{message: string(respBody)}
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
		return nil
	})
}

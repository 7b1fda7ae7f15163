package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"vigil/internal/audit"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiStashDir holds completed synchronous results keyed by synthetic
// batch ID, so a later retrieve in a fresh process can still find them.
const geminiStashDir = ".vigil/gemini-results"

// Gemini has no batch endpoint, so the request runs synchronously at
// submit time and the result is stored on disk under a synthetic batch
// ID. PollBatch then observes the stored result as already ended, which
// keeps the three-operation contract uniform across providers.
type Gemini struct {
	apiKey    string
	model     string
	client    *http.Client
	logger    *zap.Logger
	lastUsage Usage
}

// NewGemini creates the Gemini provider.
func NewGemini(model string, logger *zap.Logger) (*Gemini, error) {
	key := os.Getenv("GOOGLE_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY environment variable is not set")
	}
	return &Gemini{
		apiKey: key,
		model:  model,
		client: &http.Client{Timeout: 300 * time.Second},
		logger: logger,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) LastUsage() Usage { return g.lastUsage }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiStash struct {
	Findings []audit.Finding `json:"findings"`
	Usage    Usage           `json:"usage"`
}

// SubmitBatch runs the audit immediately and stores the findings under
// a synthetic batch ID. The result survives the process so a later
// retrieve can still collect it.
func (g *Gemini) SubmitBatch(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts SubmitOptions) (string, error) {
	findings, err := g.generate(ctx, files, systemPrompt, decisionContext, opts)
	if err != nil {
		return "", err
	}

	batchID := fmt.Sprintf("gemini-sync-%d", time.Now().UnixNano())
	if err := writeStash(batchID, geminiStash{Findings: findings, Usage: g.lastUsage}); err != nil {
		return "", fmt.Errorf("storing synchronous result for %s: %w", batchID, err)
	}
	return batchID, nil
}

func writeStash(batchID string, s geminiStash) error {
	if err := os.MkdirAll(geminiStashDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(geminiStashDir, batchID+".json"), data, 0o644)
}

// PollBatch reads back a stored synchronous result. It is read-only, so
// re-polling an already-ended job has no side effects.
func (g *Gemini) PollBatch(ctx context.Context, batchID, defaultFocus string) (PollResult, error) {
	data, err := os.ReadFile(filepath.Join(geminiStashDir, batchID+".json"))
	if err != nil {
		return PollResult{}, fmt.Errorf("no stored result for batch %s: %w", batchID, err)
	}
	var s geminiStash
	if err := json.Unmarshal(data, &s); err != nil {
		return PollResult{}, fmt.Errorf("parsing stored result for %s: %w", batchID, err)
	}

	g.lastUsage = s.Usage
	return PollResult{
		BatchID:  batchID,
		Status:   StatusEnded,
		Counts:   RequestCounts{Succeeded: 1},
		Findings: s.Findings,
	}, nil
}

// RunAudit for a synchronous provider is a single generate call.
func (g *Gemini) RunAudit(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts SubmitOptions) ([]audit.Finding, error) {
	return g.generate(ctx, files, systemPrompt, decisionContext, opts)
}

func (g *Gemini) generate(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts SubmitOptions) ([]audit.Finding, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: buildUserMessage(files, decisionContext)}}},
		},
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	reqBody.GenerationConfig.MaxOutputTokens = maxTokensFor(opts)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", geminiBaseURL, g.model)

	var response geminiResponse
	err = retryWithBackoff(ctx, 3, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", g.apiKey)

		resp, err := g.client.Do(req)
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

		if err := json.Unmarshal(respBody, &response); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(response.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}
	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	findings, err := ParseFindings(text.String(), opts.DefaultFocus)
	if err != nil {
		return nil, err
	}
	g.lastUsage = Usage{
		InputTokens:  response.UsageMetadata.PromptTokenCount,
		OutputTokens: response.UsageMetadata.CandidatesTokenCount,
	}
	return findings, nil
}

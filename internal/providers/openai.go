package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"vigil/internal/audit"
)

const openaiBaseURL = "https://api.openai.com/v1"

// OpenAI talks to the Batch API: the request set is uploaded as a JSONL
// file, a batch job references it, and results come back as another
// file once the job reaches a terminal status.
type OpenAI struct {
	apiKey    string
	model     string
	client    *http.Client
	logger    *zap.Logger
	lastUsage Usage
}

// NewOpenAI creates the OpenAI batch provider.
func NewOpenAI(model string, logger *zap.Logger) (*OpenAI, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}
	return &OpenAI{
		apiKey: key,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) LastUsage() Usage { return o.lastUsage }

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiBatchLine struct {
	CustomID string `json:"custom_id"`
	Method   string `json:"method"`
	URL      string `json:"url"`
	Body     struct {
		Model          string               `json:"model"`
		MaxTokens      int                  `json:"max_completion_tokens"`
		Messages       []openaiChatMessage  `json:"messages"`
		ResponseFormat openaiResponseFormat `json:"response_format"`
	} `json:"body"`
}

type openaiResponseFormat struct {
	Type       string `json:"type"`
	JSONSchema struct {
		Name   string          `json:"name"`
		Schema json.RawMessage `json:"schema"`
	} `json:"json_schema"`
}

// findingSchema constrains chat completions to the findings shape so
// the shared parser never sees prose.
var findingSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"findings": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"severity": {"type": "string", "enum": ["high", "medium", "low"]},
					"file": {"type": "string"},
					"line": {"type": ["integer", "null"]},
					"title": {"type": "string"},
					"description": {"type": "string"},
					"suggestion": {"type": ["string", "null"]},
					"focus": {"type": ["string", "null"]}
				},
				"required": ["severity", "file", "title", "description"]
			}
		}
	},
	"required": ["findings"]
}`)

func auditResponseFormat() openaiResponseFormat {
	var rf openaiResponseFormat
	rf.Type = "json_schema"
	rf.JSONSchema.Name = "audit_findings"
	rf.JSONSchema.Schema = findingSchema
	return rf
}

type openaiFile struct {
	ID string `json:"id"`
}

type openaiBatch struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	OutputFileID  string `json:"output_file_id"`
	ErrorFileID   string `json:"error_file_id"`
	RequestCounts struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

type openaiResultLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int                `json:"status_code"`
		Body       openaiChatResponse `json:"body"`
	} `json:"response"`
}

// SubmitBatch uploads the request file and creates the batch job.
func (o *OpenAI) SubmitBatch(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts SubmitOptions) (string, error) {
	label := opts.JobLabel
	if label == "" {
		label = "vigil-audit"
	}

	var line openaiBatchLine
	line.CustomID = label
	line.Method = "POST"
	line.URL = "/v1/chat/completions"
	line.Body.Model = o.model
	line.Body.MaxTokens = maxTokensFor(opts)
	line.Body.Messages = []openaiChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserMessage(files, decisionContext)},
	}
	line.Body.ResponseFormat = auditResponseFormat()
	lineJSON, err := json.Marshal(line)
	if err != nil {
		return "", fmt.Errorf("marshaling batch line: %w", err)
	}

	fileID, err := o.uploadFile(ctx, label+".jsonl", append(lineJSON, '\n'))
	if err != nil {
		return "", fmt.Errorf("uploading batch file: %w", err)
	}

	body := map[string]string{
		"input_file_id":     fileID,
		"endpoint":          "/v1/chat/completions",
		"completion_window": "24h",
	}
	var batch openaiBatch
	if err := o.doJSON(ctx, http.MethodPost, openaiBaseURL+"/batches", body, &batch); err != nil {
		return "", fmt.Errorf("creating batch: %w", err)
	}
	return batch.ID, nil
}

// PollBatch maps the remote lifecycle onto the common statuses. A batch
// that terminated without succeeding (failed, expired, cancelled) ends
// with zero findings rather than an error; the failure is the remote
// job's, not the poll's.
func (o *OpenAI) PollBatch(ctx context.Context, batchID, defaultFocus string) (PollResult, error) {
	var batch openaiBatch
	if err := o.doJSON(ctx, http.MethodGet, openaiBaseURL+"/batches/"+batchID, nil, &batch); err != nil {
		return PollResult{}, fmt.Errorf("polling batch %s: %w", batchID, err)
	}

	result := PollResult{
		BatchID: batchID,
		Counts: RequestCounts{
			Processing: batch.RequestCounts.Total - batch.RequestCounts.Completed - batch.RequestCounts.Failed,
			Succeeded:  batch.RequestCounts.Completed,
			Errored:    batch.RequestCounts.Failed,
		},
	}

	switch batch.Status {
	case "completed":
		result.Status = StatusEnded
		findings, err := o.fetchResults(ctx, batch.OutputFileID, defaultFocus)
		if err != nil {
			return PollResult{}, err
		}
		result.Findings = findings
		return result, nil
	case "failed", "expired", "cancelled":
		o.logger.Warn("batch terminated without results",
			zap.String("batch_id", batchID),
			zap.String("status", batch.Status))
		result.Status = StatusEnded
		return result, nil
	case "validating":
		result.Status = StatusSubmitted
		return result, nil
	default:
		result.Status = StatusProcessing
		return result, nil
	}
}

func (o *OpenAI) fetchResults(ctx context.Context, outputFileID, defaultFocus string) ([]audit.Finding, error) {
	if outputFileID == "" {
		return nil, nil
	}

	content, err := o.downloadFile(ctx, outputFileID)
	if err != nil {
		return nil, fmt.Errorf("downloading batch output: %w", err)
	}

	var findings []audit.Finding
	var usage Usage
	for _, raw := range bytes.Split(content, []byte("\n")) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var entry openaiResultLine
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("parsing batch result line: %w", err)
		}
		if entry.Response.StatusCode != http.StatusOK || len(entry.Response.Body.Choices) == 0 {
			o.logger.Warn("batch request did not succeed",
				zap.String("custom_id", entry.CustomID),
				zap.Int("status_code", entry.Response.StatusCode))
			continue
		}

		parsed, err := ParseFindings(entry.Response.Body.Choices[0].Message.Content, defaultFocus)
		if err != nil {
			return nil, fmt.Errorf("parsing findings for %s: %w", entry.CustomID, err)
		}
		findings = append(findings, parsed...)
		usage.InputTokens += entry.Response.Body.Usage.PromptTokens
		usage.OutputTokens += entry.Response.Body.Usage.CompletionTokens
	}
	o.lastUsage = usage
	return findings, nil
}

// RunAudit submits a batch and polls at a fixed interval until it ends.
func (o *OpenAI) RunAudit(ctx context.Context, files []audit.FileContent, systemPrompt, decisionContext string, opts SubmitOptions) ([]audit.Finding, error) {
	batchID, err := o.SubmitBatch(ctx, files, systemPrompt, decisionContext, opts)
	if err != nil {
		return nil, err
	}
	o.logger.Info("batch submitted", zap.String("batch_id", batchID))

	for {
		result, err := o.PollBatch(ctx, batchID, opts.DefaultFocus)
		if err != nil {
			return nil, err
		}
		if result.Status == StatusEnded {
			return result.Findings, nil
		}

		o.logger.Info("batch still processing",
			zap.String("batch_id", batchID),
			zap.Int("processing", result.Counts.Processing))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(60 * time.Second):
		}
	}
}

func (o *OpenAI) uploadFile(ctx context.Context, name string, content []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("writing form field: %w", err)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("writing form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openaiBaseURL+"/files", &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var file openaiFile
	if err := json.Unmarshal(respBody, &file); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	return file.ID, nil
}

func (o *OpenAI) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openaiBaseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

func (o *OpenAI) doJSON(ctx context.Context, method, url string, body, out any) error {
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
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
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

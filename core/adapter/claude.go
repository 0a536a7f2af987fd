package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultClaudeBaseURL = "https://api.anthropic.com/v1"
	claudeAPIVersion     = "2023-06-01"
	// Messages API 要求 max_tokens，未指定时使用
	claudeDefaultMaxTokens = 4096
)

// ClaudeAdapter Anthropic Messages API 客户端
type ClaudeAdapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewClaudeAdapter(client *http.Client, baseURL, apiKey, model string) *ClaudeAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultClaudeBaseURL
	}
	return &ClaudeAdapter{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

func (a *ClaudeAdapter) Model() string { return a.model }

// Generate 调用 /messages 并拼接所有 text 块
func (a *ClaudeAdapter) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = claudeDefaultMaxTokens
	}
	body := ClaudeRequest{
		Model:       a.model,
		Messages:    []ClaudeMessage{{Role: "user", Content: req.Prompt}},
		System:      req.SystemPrompt,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	reqBodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claude request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)
	httpReq.Header.Set("User-Agent", "LessonLift/1.0")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", a.fail(KindTransient, 0, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", a.fail(KindTransient, resp.StatusCode, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", a.statusError(resp.StatusCode, data)
	}

	var claudeResp ClaudeResponse
	if err := json.Unmarshal(data, &claudeResp); err != nil {
		return "", a.fail(KindTransient, resp.StatusCode, "malformed response", err)
	}

	var sb strings.Builder
	for _, block := range claudeResp.Content {
		// 跳过 thinking 等非文本块
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", a.fail(KindTransient, resp.StatusCode, "empty response", nil)
	}
	return text, nil
}

func (a *ClaudeAdapter) statusError(statusCode int, data []byte) error {
	var errResp ClaudeErrorResponse
	message := strings.TrimSpace(string(data))
	reason := ""
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		reason = errResp.Error.Type
	}
	if len(message) > 200 {
		message = message[:200]
	}

	kind := ClassifyStatus(statusCode, reason+" "+message)
	switch reason {
	case "authentication_error":
		kind = KindInvalidCredential
	case "permission_error", "not_found_error":
		kind = KindNotEntitled
	case "overloaded_error", "api_error":
		// 529 overloaded 是暂时性的
		kind = KindTransient
	}
	return a.fail(kind, statusCode, message, nil)
}

func (a *ClaudeAdapter) fail(kind FailureKind, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:   ProviderClaude,
		Model:      a.model,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// 响应体读取上限
const maxResponseBytes = 8 << 20

// GeminiAdapter Google Gemini generateContent 客户端
type GeminiAdapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewGeminiAdapter(client *http.Client, baseURL, apiKey, model string) *GeminiAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiAdapter{
		client:  client,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
	}
}

func (a *GeminiAdapter) Model() string { return a.model }

// Generate 调用 models/{model}:generateContent 并拼接第一个候选的文本
func (a *GeminiAdapter) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	body := GeminiRequest{
		Contents: []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: req.Prompt}}},
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: req.SystemPrompt}}}
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		body.GenerationConfig = &GeminiConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	reqBodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid gemini base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/models/" + a.model + ":generateContent"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Key 放在 Header，避免出现在 url.Error 和日志里
	httpReq.Header.Set("x-goog-api-key", a.apiKey)
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

	var geminiResp GeminiResponse
	if err := json.Unmarshal(data, &geminiResp); err != nil {
		return "", a.fail(KindTransient, resp.StatusCode, "malformed response", err)
	}

	if geminiResp.PromptFeedback != nil && geminiResp.PromptFeedback.BlockReason != "" {
		return "", a.fail(KindTransient, resp.StatusCode, "prompt blocked: "+geminiResp.PromptFeedback.BlockReason, nil)
	}
	if len(geminiResp.Candidates) == 0 {
		return "", a.fail(KindTransient, resp.StatusCode, "no candidates returned", nil)
	}

	var sb strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		// 跳过思考过程
		if part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", a.fail(KindTransient, resp.StatusCode, "empty response", nil)
	}
	return text, nil
}

func (a *GeminiAdapter) statusError(statusCode int, data []byte) error {
	var errResp GeminiErrorResponse
	message := strings.TrimSpace(string(data))
	reason := ""
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		reason = errResp.Error.Status
		for _, d := range errResp.Error.Details {
			reason += " " + d.Reason
		}
	}
	if len(message) > 200 {
		message = message[:200]
	}
	return a.fail(ClassifyStatus(statusCode, reason+" "+message), statusCode, message, nil)
}

func (a *GeminiAdapter) fail(kind FailureKind, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:   ProviderGemini,
		Model:      a.model,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

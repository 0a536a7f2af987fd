package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter OpenAI Chat Completions 客户端
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

func NewOpenAIAdapter(httpClient *http.Client, baseURL, apiKey, model string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (a *OpenAIAdapter) Model() string { return a.model }

func (a *OpenAIAdapter) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:     a.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", a.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", a.fail(KindTransient, 0, "openai returned no choices", nil)
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", a.fail(KindTransient, 0, "empty response", nil)
	}
	return content, nil
}

// wrapError 将 go-openai 的错误转换为 ProviderError
func (a *OpenAIAdapter) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		reason := apiErr.Type
		if code, ok := apiErr.Code.(string); ok {
			reason += " " + code
		}
		kind := ClassifyStatus(apiErr.HTTPStatusCode, reason+" "+apiErr.Message)
		return a.fail(kind, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		kind := ClassifyStatus(reqErr.HTTPStatusCode, "")
		return a.fail(kind, reqErr.HTTPStatusCode, fmt.Sprintf("request error: %s", reqErr.HTTPStatus), err)
	}

	return a.fail(KindTransient, 0, "request failed", err)
}

func (a *OpenAIAdapter) fail(kind FailureKind, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:   ProviderOpenAI,
		Model:      a.model,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

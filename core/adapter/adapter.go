package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// GenerateRequest 单次文本生成请求
type GenerateRequest struct {
	SystemPrompt string
	Prompt       string
	Temperature  *float64
	MaxTokens    int
}

// Generator 绑定到一个 (key, model) 组合的文本生成客户端
type Generator interface {
	// Model 返回上游模型名
	Model() string

	// Generate 发送一次生成请求，失败时返回 *ProviderError
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Factory 根据 provider 名称构造 Generator
type Factory struct {
	Client  *http.Client
	BaseURL string // 为空时使用 provider 默认地址
}

func NewFactory(client *http.Client, baseURL string) *Factory {
	return &Factory{Client: client, BaseURL: strings.TrimSpace(baseURL)}
}

// New 构造阶段只做本地校验，不发起网络请求
func (f *Factory) New(provider, apiKey, model string) (Generator, error) {
	if err := validateKey(provider, apiKey); err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		return nil, ErrEmptyModel
	}

	switch provider {
	case ProviderGemini:
		return NewGeminiAdapter(f.Client, f.BaseURL, apiKey, model), nil
	case ProviderOpenAI:
		return NewOpenAIAdapter(f.Client, f.BaseURL, apiKey, model), nil
	case ProviderClaude:
		return NewClaudeAdapter(f.Client, f.BaseURL, apiKey, model), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// SupportedProvider reports whether New knows how to build a client for name.
func SupportedProvider(name string) bool {
	return name == ProviderGemini || name == ProviderOpenAI || name == ProviderClaude
}

func validateKey(provider, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return ErrEmptyKey
	}
	if strings.IndexFunc(apiKey, unicode.IsSpace) != -1 {
		return fmt.Errorf("%w: contains whitespace", ErrMalformedKey)
	}
	if provider == ProviderOpenAI && !strings.HasPrefix(apiKey, "sk-") {
		return fmt.Errorf("%w: expected sk- prefix", ErrMalformedKey)
	}
	if provider == ProviderClaude && !strings.HasPrefix(apiKey, "sk-ant-") {
		return fmt.Errorf("%w: expected sk-ant- prefix", ErrMalformedKey)
	}
	return nil
}

package core

import (
	"context"
	"time"

	"lessonlift/core/adapter"
)

// ModelCandidate 候选模型，优先级由其在列表中的位置决定
type ModelCandidate struct {
	Name string `json:"name" yaml:"name"`
}

// Candidates builds an ordered candidate list, highest priority first.
func Candidates(names ...string) []ModelCandidate {
	out := make([]ModelCandidate, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		out = append(out, ModelCandidate{Name: n})
	}
	return out
}

// ProbeStage 探测结果所处阶段
type ProbeStage int

const (
	ProbeOK ProbeStage = iota
	ProbeConstructionFailed
	ProbeRejected
)

func (s ProbeStage) String() string {
	switch s {
	case ProbeOK:
		return "ok"
	case ProbeConstructionFailed:
		return "construction_failed"
	default:
		return "probe_rejected"
	}
}

// ProbeResult 探测结果：成功时 Handle 非空，否则 Err 说明失败原因
type ProbeResult struct {
	Stage  ProbeStage
	Handle *ProviderHandle
	Kind   adapter.FailureKind
	Err    error
}

// ProviderHandle 已通过探测的 (key, model) 绑定
type ProviderHandle struct {
	credential      Credential
	credentialIndex int
	modelIndex      int
	gen             adapter.Generator
	selectedAt      time.Time
}

// NewProviderHandle wraps a constructed generator. Position fields are filled
// in by the selector that adopts it.
func NewProviderHandle(cred Credential, gen adapter.Generator) *ProviderHandle {
	return &ProviderHandle{credential: cred, gen: gen}
}

func (h *ProviderHandle) CredentialIndex() int   { return h.credentialIndex }
func (h *ProviderHandle) ModelIndex() int        { return h.modelIndex }
func (h *ProviderHandle) Model() string          { return h.gen.Model() }
func (h *ProviderHandle) Credential() Credential { return h.credential }
func (h *ProviderHandle) SelectedAt() time.Time  { return h.selectedAt }

// Generate 使用该 handle 发起实际生成请求
func (h *ProviderHandle) Generate(ctx context.Context, req adapter.GenerateRequest) (string, error) {
	return h.gen.Generate(ctx, req)
}

// AdapterProber 通过 adapter.Factory 构造客户端并发送一次 ping
type AdapterProber struct {
	factory   *adapter.Factory
	provider  string
	timeout   time.Duration
	prompt    string
	maxTokens int
}

func NewAdapterProber(factory *adapter.Factory, provider string, timeout time.Duration, prompt string, maxTokens int) *AdapterProber {
	if prompt == "" {
		prompt = "Say hello"
	}
	return &AdapterProber{
		factory:   factory,
		provider:  provider,
		timeout:   timeout,
		prompt:    prompt,
		maxTokens: maxTokens,
	}
}

func (p *AdapterProber) Probe(ctx context.Context, cred Credential, candidate ModelCandidate) ProbeResult {
	gen, err := p.factory.New(p.provider, cred.Secret(), candidate.Name)
	if err != nil {
		return ProbeResult{Stage: ProbeConstructionFailed, Kind: adapter.KindInvalidCredential, Err: err}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if _, err := gen.Generate(ctx, adapter.GenerateRequest{Prompt: p.prompt, MaxTokens: p.maxTokens}); err != nil {
		return ProbeResult{Stage: ProbeRejected, Kind: adapter.KindOf(err), Err: err}
	}
	return ProbeResult{Stage: ProbeOK, Handle: NewProviderHandle(cred, gen)}
}

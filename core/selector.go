package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lessonlift/core/adapter"
	"lessonlift/models"
)

// selection 池内位置 (credential, model)
type selection struct {
	cred  int
	model int
}

// SelectorOptions 可选参数
type SelectorOptions struct {
	// KeyCooldown 一个 key 的所有模型都因配额失败时的冷却时间，0 表示不冷却
	KeyCooldown time.Duration
	Recorder    AttemptRecorder
}

// ProviderSelector 故障转移控制器
//
// 按池顺序遍历 key，每个 key 内按优先级遍历模型，第一个探测成功的组合成为
// active handle。Select 与 Invalidate 共用一把锁，并发请求不会交错探测同一个 key。
//
// 失效后的重选策略：从失败 key 的下一个 key 开始（回绕），并在这一轮中排除刚失败的
// (key, model) 组合。
type ProviderSelector struct {
	pool       *CredentialPool
	candidates []ModelCandidate
	prober     Prober
	keys       KeyManager
	logger     *logrus.Logger
	cooldown   time.Duration
	recorder   AttemptRecorder

	mu            sync.Mutex
	active        *ProviderHandle
	resumeAt      int
	exclude       *selection
	probes        uint64
	selections    uint64
	invalidations uint64
}

// NewProviderSelector 构造函数强制要求依赖注入
func NewProviderSelector(
	pool *CredentialPool,
	candidates []ModelCandidate,
	prober Prober,
	km KeyManager,
	logger *logrus.Logger,
	opts SelectorOptions,
) *ProviderSelector {
	return &ProviderSelector{
		pool:       pool,
		candidates: append([]ModelCandidate(nil), candidates...),
		prober:     prober,
		keys:       km,
		logger:     logger,
		cooldown:   opts.KeyCooldown,
		recorder:   opts.Recorder,
	}
}

// Select 返回当前可用的 handle，必要时执行一次完整搜索
// 最多发起 Count()*len(candidates) 次探测
func (s *ProviderSelector) Select(ctx context.Context) (*ProviderHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return s.active, nil
	}

	n, m := s.pool.Count(), len(s.candidates)
	if n == 0 || m == 0 {
		s.logger.Errorf("💀 No provider available: %d credentials, %d model candidates", n, m)
		return nil, &NoProviderAvailableError{}
	}

	var attempts []error
	for offset := 0; offset < n; offset++ {
		ci := (s.resumeAt + offset) % n
		cred := s.pool.Get(ci)
		fp := cred.Fingerprint()

		if !s.keys.IsAvailable(fp) {
			s.logger.Infof("⏭️ Skipping credential #%d (%s): cooling down or dead", ci, cred.Masked())
			attempts = append(attempts, fmt.Errorf("credential #%d skipped: unavailable", ci))
			continue
		}

		probed := 0
		quotaOnly := true

	candidates:
		for mi, cand := range s.candidates {
			if s.exclude != nil && *s.exclude == (selection{cred: ci, model: mi}) {
				s.logger.Infof("⏭️ Skipping just-invalidated pair #%d/%s", ci, cand.Name)
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			start := time.Now()
			res := s.prober.Probe(ctx, cred, cand)
			s.probes++
			probed++
			s.record("probe", ci, cred, cand.Name, res.Err, res.Kind, time.Since(start))

			switch res.Stage {
			case ProbeOK:
				h := res.Handle
				h.credentialIndex = ci
				h.modelIndex = mi
				h.selectedAt = time.Now()
				s.active = h
				s.resumeAt = ci
				s.exclude = nil
				s.selections++
				s.logger.Infof("✅ Selected provider: credential #%d (%s) model %s", ci, cred.Masked(), cand.Name)
				return h, nil

			case ProbeConstructionFailed:
				s.logger.Warnf("❌ Credential #%d (%s) rejected at construction: %v", ci, cred.Masked(), res.Err)
				attempts = append(attempts, &ConstructionError{CredentialIndex: ci, Model: cand.Name, Err: res.Err})
				s.keys.MarkDead(fp)
				quotaOnly = false
				break candidates

			default:
				// 调用方取消不算上游失败
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				s.logger.Warnf("⚠️ Probe #%d/%s failed (%s): %v", ci, cand.Name, res.Kind, res.Err)
				attempts = append(attempts, &ProbeRejectedError{CredentialIndex: ci, Model: cand.Name, Kind: res.Kind, Err: res.Err})
				if res.Kind == adapter.KindInvalidCredential {
					s.keys.MarkDead(fp)
					quotaOnly = false
					break candidates
				}
				if res.Kind != adapter.KindQuotaExceeded {
					quotaOnly = false
				}
			}
		}

		if probed > 0 && quotaOnly && s.cooldown > 0 {
			s.logger.Warnf("🧊 Credential #%d (%s) out of quota on every model, cooling down for %s", ci, cred.Masked(), s.cooldown)
			s.keys.MarkCooldown(fp, s.cooldown)
		}
	}

	// 整轮失败：下一次由新的用户请求触发完整搜索
	s.resumeAt = 0
	s.exclude = nil
	s.logger.Errorf("💀 No provider available after %d attempts", len(attempts))
	return nil, &NoProviderAvailableError{Attempts: attempts}
}

// Invalidate 通知选择器 h 在实际使用中失败
// 只有 h 仍是 active handle 时才生效，并发请求的重复失效是 no-op
func (s *ProviderSelector) Invalidate(h *ProviderHandle, cause error) error {
	if h == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	invalidated := &ProviderInvalidatedError{
		CredentialIndex: h.credentialIndex,
		Model:           h.Model(),
		Cause:           cause,
	}
	if s.active != h {
		return invalidated
	}

	s.active = nil
	s.invalidations++
	s.resumeAt = (h.credentialIndex + 1) % s.pool.Count()
	s.exclude = &selection{cred: h.credentialIndex, model: h.modelIndex}

	if adapter.KindOf(cause) == adapter.KindInvalidCredential {
		s.keys.MarkDead(h.credential.Fingerprint())
	}

	s.logger.Warnf("🔄 Provider credential #%d (%s) model %s invalidated: %v",
		h.credentialIndex, h.credential.Masked(), h.Model(), cause)
	return invalidated
}

// Active 返回当前 handle，可能为 nil
func (s *ProviderSelector) Active() *ProviderHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// RecordGeneration 记录一次使用 handle 的实际生成结果
func (s *ProviderSelector) RecordGeneration(h *ProviderHandle, err error, d time.Duration) {
	if h == nil {
		return
	}
	var kind adapter.FailureKind
	if err != nil {
		kind = adapter.KindOf(err)
	}
	s.record("generate", h.credentialIndex, h.credential, h.Model(), err, kind, d)
}

func (s *ProviderSelector) record(stage string, ci int, cred Credential, model string, err error, kind adapter.FailureKind, d time.Duration) {
	if s.recorder == nil {
		return
	}
	attempt := &models.ProviderAttempt{
		CreatedAt:       time.Now(),
		Stage:           stage,
		CredentialIndex: ci,
		Fingerprint:     cred.Fingerprint(),
		Model:           model,
		Success:         err == nil,
		Duration:        d.Milliseconds(),
	}
	if err != nil {
		attempt.FailureKind = string(kind)
		msg := err.Error()
		if len(msg) > 300 {
			msg = msg[:300]
		}
		attempt.ErrorMsg = msg
	}
	s.recorder.Record(attempt)
}

// SelectorSnapshot 选择器状态概览
type SelectorSnapshot struct {
	Active          bool      `json:"active"`
	CredentialIndex int       `json:"credential_index"`
	Credential      string    `json:"credential,omitempty"`
	Model           string    `json:"model,omitempty"`
	SelectedAt      time.Time `json:"selected_at,omitempty"`
	Credentials     int       `json:"credentials"`
	Candidates      []string  `json:"candidates"`
	ResumeAt        int       `json:"resume_at"`
	Probes          uint64    `json:"probes"`
	Selections      uint64    `json:"selections"`
	Invalidations   uint64    `json:"invalidations"`
}

func (s *ProviderSelector) Snapshot() SelectorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := SelectorSnapshot{
		CredentialIndex: -1,
		Credentials:     s.pool.Count(),
		Candidates:      make([]string, 0, len(s.candidates)),
		ResumeAt:        s.resumeAt,
		Probes:          s.probes,
		Selections:      s.selections,
		Invalidations:   s.invalidations,
	}
	for _, c := range s.candidates {
		snap.Candidates = append(snap.Candidates, c.Name)
	}
	if s.active != nil {
		snap.Active = true
		snap.CredentialIndex = s.active.credentialIndex
		snap.Credential = s.active.credential.Masked()
		snap.Model = s.active.Model()
		snap.SelectedAt = s.active.selectedAt
	}
	return snap
}

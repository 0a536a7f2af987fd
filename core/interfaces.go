package core

import (
	"context"
	"time"

	"lessonlift/models"
)

// Prober 验证一个 (key, model) 组合是否真的可用
// 只做一次构造和一次最小请求，重试策略全部在 ProviderSelector 中
type Prober interface {
	Probe(ctx context.Context, cred Credential, candidate ModelCandidate) ProbeResult
}

// KeyManager 抽象密钥状态管理
type KeyManager interface {
	IsAvailable(key string) bool
	MarkCooldown(key string, duration time.Duration)
	MarkDead(key string)
}

// SecretProvider 抽象密钥加解密
// 用于读取数据库中存储的上游 API Key
type SecretProvider interface {
	Decrypt(ciphertext string) (string, error)
	Encrypt(plaintext string) (string, error)
}

// AttemptRecorder 接收每次探测/生成的结果，实现方不得阻塞
type AttemptRecorder interface {
	Record(attempt *models.ProviderAttempt)
}

// SelectorSource 返回当前生效的 ProviderSelector，管理员重新加载后会替换
type SelectorSource interface {
	Selector() *ProviderSelector
}

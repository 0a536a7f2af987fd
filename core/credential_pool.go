package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Credential 上游 API Key，只通过它在池中的位置来区分
type Credential struct {
	secret string
}

// Secret 返回原始密钥，只应传给 adapter
func (c Credential) Secret() string { return c.secret }

// Masked 返回脱敏后的密钥，用于日志
func (c Credential) Masked() string { return maskKey(c.secret) }

// Fingerprint 返回密钥的短哈希，作为 KeyManager 的状态键
func (c Credential) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.secret))
	return hex.EncodeToString(sum[:])[:12]
}

// CredentialPool 有序且不可变的密钥列表
type CredentialPool struct {
	creds []Credential
}

// NewCredentialPool 去掉空白项，按值去重，保留首次出现的位置
func NewCredentialPool(secrets ...string) *CredentialPool {
	seen := make(map[string]struct{}, len(secrets))
	creds := make([]Credential, 0, len(secrets))
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		creds = append(creds, Credential{secret: s})
	}
	return &CredentialPool{creds: creds}
}

func (p *CredentialPool) Count() int {
	if p == nil {
		return 0
	}
	return len(p.creds)
}

// Get panics when i is out of range.
func (p *CredentialPool) Get(i int) Credential {
	if i < 0 || i >= p.Count() {
		panic(fmt.Sprintf("credential index %d out of range [0,%d)", i, p.Count()))
	}
	return p.creds[i]
}

// maskKey 脱敏 API Key
func maskKey(key string) string {
	if len(key) <= 8 {
		if len(key) <= 1 {
			return "***"
		}
		return key[:1] + "***"
	}
	return key[:3] + "***" + key[len(key)-4:]
}

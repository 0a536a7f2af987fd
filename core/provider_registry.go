package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lessonlift/models"
)

var ErrCredentialNotFound = errors.New("credential not found")

// RegistryOptions 构建凭证池与选择器所需的静态配置
type RegistryOptions struct {
	EnvKeys    []string
	Candidates []ModelCandidate
	Selector   SelectorOptions
}

// CredentialView 管理接口展示的脱敏凭证
type CredentialView struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Source      string `json:"source"` // env / db
	Masked      string `json:"key"`
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
}

// ProviderRegistry 持有当前的凭证池和 ProviderSelector
// 凭证来源：环境变量（按配置顺序）+ 数据库中加密存储的 Key（按 ID）
type ProviderRegistry struct {
	db      *gorm.DB
	logger  *logrus.Logger
	keys    *KeyStateManager
	secrets SecretProvider
	prober  Prober
	opts    RegistryOptions

	mu       sync.RWMutex
	pool     *CredentialPool
	selector *ProviderSelector
}

// NewProviderRegistry 构造函数强制要求依赖注入
func NewProviderRegistry(
	db *gorm.DB,
	logger *logrus.Logger,
	km *KeyStateManager,
	sp SecretProvider,
	prober Prober,
	opts RegistryOptions,
) (*ProviderRegistry, error) {
	r := &ProviderRegistry{
		db:      db,
		logger:  logger,
		keys:    km,
		secrets: sp,
		prober:  prober,
		opts:    opts,
	}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh 重新加载凭证并替换选择器，key 状态一并清空
func (r *ProviderRegistry) Refresh() error {
	secrets := append([]string(nil), r.opts.EnvKeys...)

	var stored []models.ProviderCredential
	if err := r.db.Order("id asc").Find(&stored).Error; err != nil {
		return fmt.Errorf("failed to load stored credentials: %w", err)
	}
	for _, c := range stored {
		val, err := r.secrets.Decrypt(c.KeyValue)
		if err != nil {
			r.logger.Errorf("Failed to decrypt stored credential %d (%s): %v", c.ID, c.Name, err)
			continue
		}
		secrets = append(secrets, val)
	}

	pool := NewCredentialPool(secrets...)
	r.keys.Reset()
	sel := NewProviderSelector(pool, r.opts.Candidates, r.prober, r.keys, r.logger, r.opts.Selector)

	r.mu.Lock()
	r.pool = pool
	r.selector = sel
	r.mu.Unlock()

	r.logger.Infof("🔑 Loaded %d credentials, %d model candidates", pool.Count(), len(r.opts.Candidates))
	if pool.Count() == 0 {
		r.logger.Warn("⚠️ No API keys configured, every generation will fail until one is added")
	}
	return nil
}

func (r *ProviderRegistry) Selector() *ProviderSelector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selector
}

func (r *ProviderRegistry) Pool() *CredentialPool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool
}

// AddCredential 加密存储一个 Key，调用方需要 Refresh 才会生效
func (r *ProviderRegistry) AddCredential(name, key string) (*models.ProviderCredential, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidRequest)
	}
	sealed, err := r.secrets.Encrypt(key)
	if err != nil {
		return nil, err
	}
	cred := &models.ProviderCredential{Name: name, KeyValue: sealed}
	if err := r.db.Create(cred).Error; err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	r.logger.Infof("🔑 Stored credential %d (%s): %s", cred.ID, name, maskKey(key))
	return cred, nil
}

func (r *ProviderRegistry) DeleteCredential(id uint) error {
	res := r.db.Delete(&models.ProviderCredential{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// ListCredentials 返回环境变量和数据库中的全部 Key（脱敏）
func (r *ProviderRegistry) ListCredentials() ([]CredentialView, error) {
	states := r.keys.Snapshot()
	status := func(fp string) string {
		if s, ok := states[fp]; ok {
			return s.Status.String()
		}
		return KeyStatusAvailable.String()
	}

	out := make([]CredentialView, 0)
	for _, k := range NewCredentialPool(r.opts.EnvKeys...).creds {
		out = append(out, CredentialView{
			Source:      "env",
			Masked:      k.Masked(),
			Fingerprint: k.Fingerprint(),
			Status:      status(k.Fingerprint()),
		})
	}

	var stored []models.ProviderCredential
	if err := r.db.Order("id asc").Find(&stored).Error; err != nil {
		return nil, err
	}
	for _, c := range stored {
		view := CredentialView{ID: c.ID, Name: c.Name, Source: "db", Masked: "***", Status: "undecryptable"}
		if val, err := r.secrets.Decrypt(c.KeyValue); err == nil {
			k := Credential{secret: val}
			view.Masked = k.Masked()
			view.Fingerprint = k.Fingerprint()
			view.Status = status(view.Fingerprint)
		}
		out = append(out, view)
	}
	return out, nil
}

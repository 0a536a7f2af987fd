package core

import (
	"sync"
	"time"
)

// KeyStatusType Key状态枚举
type KeyStatusType int

const (
	KeyStatusAvailable KeyStatusType = iota
	KeyStatusCooldown
	KeyStatusDead
)

func (s KeyStatusType) String() string {
	switch s {
	case KeyStatusCooldown:
		return "cooldown"
	case KeyStatusDead:
		return "dead"
	default:
		return "available"
	}
}

// KeyState Key的状态信息
type KeyState struct {
	Status     KeyStatusType `json:"status"`
	UnlockTime time.Time     `json:"unlock_time,omitempty"`
}

// KeyStateManager Key状态管理器 (线程安全)，以 Credential.Fingerprint 为键
type KeyStateManager struct {
	states map[string]KeyState
	mutex  sync.RWMutex
	now    func() time.Time
}

func NewKeyStateManager() *KeyStateManager {
	return &KeyStateManager{
		states: make(map[string]KeyState),
		now:    time.Now,
	}
}

// MarkCooldown 标记Key为冷却状态
func (m *KeyStateManager) MarkCooldown(key string, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// 已失效的 Key 不会因为冷却被复活
	if s, ok := m.states[key]; ok && s.Status == KeyStatusDead {
		return
	}
	m.states[key] = KeyState{
		Status:     KeyStatusCooldown,
		UnlockTime: m.now().Add(duration),
	}
}

// MarkDead 标记Key为失效，进程生命周期内不再探测
func (m *KeyStateManager) MarkDead(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.states[key] = KeyState{
		Status: KeyStatusDead,
	}
}

// MarkAvailable 标记Key为可用
func (m *KeyStateManager) MarkAvailable(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.states, key)
}

// IsAvailable 检查Key是否可用
func (m *KeyStateManager) IsAvailable(key string) bool {
	m.mutex.RLock()
	state, exists := m.states[key]
	m.mutex.RUnlock()

	if !exists {
		return true // 默认可用
	}

	switch state.Status {
	case KeyStatusDead:
		return false
	case KeyStatusCooldown:
		if m.now().After(state.UnlockTime) {
			// 冷却结束，懒惰清理
			m.clearExpired(key)
			return true
		}
		return false
	}
	return true
}

// clearExpired 在写锁下重新检查，避免覆盖并发写入的 Dead 状态
func (m *KeyStateManager) clearExpired(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if s, ok := m.states[key]; ok && s.Status == KeyStatusCooldown && m.now().After(s.UnlockTime) {
		delete(m.states, key)
	}
}

// Snapshot 返回当前所有非默认状态
func (m *KeyStateManager) Snapshot() map[string]KeyState {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]KeyState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// Reset 清除所有状态，重新加载凭证时使用
func (m *KeyStateManager) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.states = make(map[string]KeyState)
}

package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Plan 订阅计划
type Plan string

const (
	PlanTrial    Plan = "trial"
	PlanStarter  Plan = "starter"
	PlanStandard Plan = "standard"
	PlanPro      Plan = "pro"
)

// Valid reports whether p is one of the known plans.
func (p Plan) Valid() bool {
	switch p {
	case PlanTrial, PlanStarter, PlanStandard, PlanPro:
		return true
	}
	return false
}

// AdminKey 管理员密钥
type AdminKey struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	Key       string    `gorm:"uniqueIndex" json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// User 教师账号，通过 Bearer Token 访问
type User struct {
	gorm.Model
	PublicID       string     `gorm:"uniqueIndex;not null" json:"public_id"`
	Email          string     `gorm:"uniqueIndex;not null" json:"email"`
	Token          string     `gorm:"uniqueIndex;not null" json:"-"`
	Plan           Plan       `gorm:"default:trial" json:"plan"`
	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"`
	LessonsUsed    int        `gorm:"default:0" json:"lessons_used"`
}

// UsageCounter 每日生成计数
type UsageCounter struct {
	ID     uint   `gorm:"primaryKey"`
	UserID uint   `gorm:"uniqueIndex:idx_usage_user_day;not null"`
	Day    string `gorm:"uniqueIndex:idx_usage_user_day;size:10;not null"` // 2006-01-02
	Count  int    `gorm:"default:0"`
}

// Lesson 已生成的教案
type Lesson struct {
	gorm.Model
	PublicID                string `gorm:"uniqueIndex;not null" json:"id"`
	UserID                  uint   `gorm:"index;not null" json:"-"`
	YearGroup               string `json:"year_group"`
	AbilityLevel            string `json:"ability_level"`
	LessonDuration          int    `json:"lesson_duration"`
	Subject                 string `json:"subject"`
	Topic                   string `json:"topic"`
	LearningObjective       string `json:"learning_objective,omitempty"`
	SenEalNotes             string `json:"sen_eal_notes,omitempty"`
	RegenerationInstruction string `json:"regeneration_instruction,omitempty"`
	Content                 string `gorm:"type:text" json:"content"`
	HTML                    string `gorm:"type:text" json:"html"`
	Text                    string `gorm:"type:text" json:"text"`
	ModelName               string `gorm:"column:model" json:"model"`
	WordCount               int    `json:"word_count"`

	Refinements []LessonRefinement `gorm:"foreignKey:LessonID" json:"refinements,omitempty"`
}

// LessonRefinement 某个小节的改写结果 (enhance / simplify)
type LessonRefinement struct {
	gorm.Model
	LessonID   uint   `gorm:"uniqueIndex:idx_refine_lesson_section;not null" json:"-"`
	SectionKey string `gorm:"uniqueIndex:idx_refine_lesson_section;not null" json:"section"`
	Mode       string `json:"mode"`
	Content    string `gorm:"type:text" json:"content"`
}

// ProviderCredential 管理员录入的上游 API Key（加密存储）
type ProviderCredential struct {
	gorm.Model
	Name     string `json:"name"`
	KeyValue string `gorm:"not null" json:"-"`
}

// ProviderAttempt 单次探测或生成请求的结果
type ProviderAttempt struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Stage           string    `gorm:"size:16" json:"stage"` // probe / generate
	CredentialIndex int       `json:"credential_index"`
	Fingerprint     string    `gorm:"size:16;index" json:"fingerprint"`
	Model           string    `json:"model"`
	Success         bool      `json:"success"`
	FailureKind     string    `json:"failure_kind,omitempty"`
	Duration        int64     `json:"duration_ms"`
	ErrorMsg        string    `json:"error,omitempty"`
}

// ProviderStats 按 (key 指纹, 模型) 聚合的统计
type ProviderStats struct {
	gorm.Model
	Fingerprint   string  `gorm:"uniqueIndex:idx_stats_fp_model;size:16" json:"fingerprint"`
	ModelName     string  `gorm:"uniqueIndex:idx_stats_fp_model" json:"model"`
	Success       int     `gorm:"default:0" json:"success"`
	Error         int     `gorm:"default:0" json:"error"`
	TotalLatency  float64 `gorm:"default:0" json:"total_latency"` // 毫秒
	TotalRequests int64   `gorm:"default:0" json:"total_requests"`
}

// AutoMigrate 自动迁移数据库结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AdminKey{},
		&User{},
		&UsageCounter{},
		&Lesson{},
		&LessonRefinement{},
		&ProviderCredential{},
		&ProviderAttempt{},
		&ProviderStats{},
	)
}

// GenerateAdminKey 生成管理员密钥
func GenerateAdminKey() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return "sk-admin-" + hex.EncodeToString(bytes)
}

// GenerateUserToken 生成用户访问令牌
func GenerateUserToken() string {
	return "ll-" + uuid.NewString()
}

// InitializeDefaultData 初始化默认数据，首次启动时返回新生成的管理员密钥
func InitializeDefaultData(db *gorm.DB, bootstrapToken string) (string, error) {
	var adminCount int64
	if err := db.Model(&AdminKey{}).Count(&adminCount).Error; err != nil {
		return "", err
	}
	if adminCount > 0 {
		return "", nil
	}

	key := bootstrapToken
	if key == "" {
		key = GenerateAdminKey()
	}
	adminKey := AdminKey{
		Name: "Initial Root Key",
		Key:  key,
	}
	if err := db.Create(&adminKey).Error; err != nil {
		return "", err
	}
	return adminKey.Key, nil
}

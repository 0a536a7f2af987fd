package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// defaultModels 按优先级排列的候选模型
var defaultModels = map[string][]string{
	ProviderGemini: {"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"},
	ProviderOpenAI: {"gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"},
	ProviderClaude: {"claude-sonnet-4-5", "claude-3-5-haiku-latest"},
}

// DefaultModels returns the built-in candidate list for provider.
func DefaultModels(provider string) []string {
	return append([]string(nil), defaultModels[provider]...)
}

// TrialLimits 试用期限制
type TrialLimits struct {
	Lessons int      `yaml:"lessons"`
	Days    int      `yaml:"days"`
	Formats []string `yaml:"formats"`
}

// PlanLimits 付费计划限制
type PlanLimits struct {
	DailyMax   int      `yaml:"daily_max"`
	MonthlyMax int      `yaml:"monthly_max"`
	Formats    []string `yaml:"formats"`
}

// FileConfig LESSONLIFT_CONFIG 指向的 YAML 文件
type FileConfig struct {
	Provider string   `yaml:"provider"`
	Models   []string `yaml:"models"`
	Limits   struct {
		Trial *TrialLimits            `yaml:"trial"`
		Plans map[string]PlanLimits `yaml:"plans"`
	} `yaml:"limits"`
}

// Config 运行时配置
type Config struct {
	Port          string
	DatabasePath  string
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	Provider string
	APIKeys  []string
	Models   []string
	BaseURL  string

	ProbeTimeout      time.Duration
	ProbeMaxTokens    int
	GenerateTimeout   time.Duration
	GenerateMaxTokens int
	MaxReselections   int
	KeyCooldown       time.Duration

	SecretKey      string
	AdminToken     string
	RateLimitRPS   float64
	RateLimitBurst int
	HistoryTTL     time.Duration

	// 来自 YAML 的限制覆盖，为空时使用内置默认值
	Trial *TrialLimits
	Plans map[string]PlanLimits
}

// Load 依次读取 .env、环境变量和可选的 YAML 文件
func Load() (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8000"),
		DatabasePath: getEnv("DATABASE_PATH", "lessonlift.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      os.Getenv("LOG_FILE"),
		Provider:     strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini)),
		BaseURL:      os.Getenv("LLM_BASE_URL"),
		SecretKey:    os.Getenv("SECRET_KEY"),
		AdminToken:   os.Getenv("ADMIN_TOKEN"),
	}

	var errs []error
	intVar := func(dst *int, key string, def int) {
		v, err := getInt(key, def)
		errs = append(errs, err)
		*dst = v
	}
	durVar := func(dst *time.Duration, key string, def time.Duration) {
		v, err := getDuration(key, def)
		errs = append(errs, err)
		*dst = v
	}

	intVar(&cfg.LogMaxSizeMB, "LOG_MAX_SIZE_MB", 50)
	intVar(&cfg.LogMaxBackups, "LOG_MAX_BACKUPS", 3)
	intVar(&cfg.ProbeMaxTokens, "PROBE_MAX_TOKENS", 0)
	intVar(&cfg.GenerateMaxTokens, "GENERATE_MAX_TOKENS", 8192)
	intVar(&cfg.MaxReselections, "MAX_RESELECTIONS", 2)
	intVar(&cfg.RateLimitBurst, "RATE_LIMIT_BURST", 10)
	durVar(&cfg.ProbeTimeout, "PROBE_TIMEOUT", 20*time.Second)
	durVar(&cfg.GenerateTimeout, "GENERATE_TIMEOUT", 90*time.Second)
	durVar(&cfg.KeyCooldown, "KEY_COOLDOWN", 10*time.Minute)
	durVar(&cfg.HistoryTTL, "HISTORY_CACHE_TTL", 5*time.Minute)

	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "5"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
	}
	cfg.RateLimitRPS = rps

	if path := os.Getenv("LESSONLIFT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			errs = append(errs, err)
		}
	}

	if models := splitList(os.Getenv("LLM_MODELS")); len(models) > 0 {
		cfg.Models = models
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels(cfg.Provider)
	}

	cfg.APIKeys = splitList(os.Getenv("LLM_API_KEYS"))
	switch cfg.Provider {
	case ProviderGemini:
		cfg.APIKeys = appendNonEmpty(cfg.APIKeys, os.Getenv("GEMINI_API_KEY"))
	case ProviderOpenAI:
		cfg.APIKeys = appendNonEmpty(cfg.APIKeys, os.Getenv("OPENAI_API_KEY"))
	case ProviderClaude:
		cfg.APIKeys = appendNonEmpty(cfg.APIKeys, os.Getenv("ANTHROPIC_API_KEY"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure database dir %s: %w", dir, err)
		}
	}
	return cfg, nil
}

// applyFile 读取 YAML，文件中的 provider 只在环境变量未设置时生效
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.Provider != "" && os.Getenv("LLM_PROVIDER") == "" {
		c.Provider = strings.ToLower(fc.Provider)
	}
	if len(fc.Models) > 0 {
		c.Models = fc.Models
	}
	c.Trial = fc.Limits.Trial
	c.Plans = fc.Limits.Plans
	return nil
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	var errs []error
	if _, ok := defaultModels[c.Provider]; !ok {
		errs = append(errs, fmt.Errorf("LLM_PROVIDER: unsupported provider %q", c.Provider))
	}
	switch len(c.SecretKey) {
	case 0, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("SECRET_KEY: must be 16, 24 or 32 bytes, got %d", len(c.SecretKey)))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("PROBE_TIMEOUT: must be positive"))
	}
	if c.GenerateTimeout <= 0 {
		errs = append(errs, errors.New("GENERATE_TIMEOUT: must be positive"))
	}
	if c.MaxReselections < 0 {
		errs = append(errs, errors.New("MAX_RESELECTIONS: must not be negative"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	for name, p := range c.Plans {
		if p.DailyMax <= 0 || p.MonthlyMax <= 0 {
			errs = append(errs, fmt.Errorf("limits.plans.%s: daily_max and monthly_max must be positive", name))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// getDuration 接受 "20s" 这样的时长，纯数字按秒处理
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func appendNonEmpty(list []string, v string) []string {
	if v = strings.TrimSpace(v); v != "" {
		return append(list, v)
	}
	return list
}

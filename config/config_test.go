package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv 避免宿主环境变量影响测试
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "DATABASE_PATH", "LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS",
		"LLM_PROVIDER", "LLM_API_KEYS", "GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "LLM_MODELS", "LLM_BASE_URL",
		"PROBE_TIMEOUT", "PROBE_MAX_TOKENS", "GENERATE_TIMEOUT", "GENERATE_MAX_TOKENS", "MAX_RESELECTIONS",
		"KEY_COOLDOWN", "SECRET_KEY", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "ADMIN_TOKEN",
		"HISTORY_CACHE_TTL", "LESSONLIFT_CONFIG",
	} {
		t.Setenv(k, "")
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "lessonlift.db", cfg.DatabasePath)
	assert.Equal(t, ProviderGemini, cfg.Provider)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"}, cfg.Models)
	assert.Empty(t, cfg.APIKeys)
	assert.Equal(t, 20*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 90*time.Second, cfg.GenerateTimeout)
	assert.Equal(t, 2, cfg.MaxReselections)
	assert.Equal(t, 10*time.Minute, cfg.KeyCooldown)
	assert.Equal(t, 50, cfg.LogMaxSizeMB)
	assert.Equal(t, 3, cfg.LogMaxBackups)
	assert.Equal(t, float64(5), cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Nil(t, cfg.Plans)
}

func TestLoadClaudeProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-one")
	t.Setenv("OPENAI_API_KEY", "ignored")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderClaude, cfg.Provider)
	assert.Equal(t, []string{"sk-ant-one"}, cfg.APIKeys)
	assert.Equal(t, DefaultModels(ProviderClaude), cfg.Models)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("LLM_API_KEYS", "sk-a, ,sk-b")
	t.Setenv("OPENAI_API_KEY", "sk-c")
	t.Setenv("GEMINI_API_KEY", "ignored")
	t.Setenv("LLM_MODELS", "gpt-4o-mini , gpt-4o")
	t.Setenv("PROBE_TIMEOUT", "5")
	t.Setenv("KEY_COOLDOWN", "90s")
	t.Setenv("SECRET_KEY", "0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, []string{"sk-a", "sk-b", "sk-c"}, cfg.APIKeys)
	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, cfg.Models)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 90*time.Second, cfg.KeyCooldown)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "lessonlift.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: openai
models: [gpt-4o-mini]
limits:
  trial:
    lessons: 3
    days: 14
  plans:
    starter:
      daily_max: 2
      monthly_max: 40
      formats: [html, md]
`), 0o644))
	t.Setenv("LESSONLIFT_CONFIG", path)
	t.Setenv("LLM_MODELS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, []string{"gpt-4o-mini"}, cfg.Models)
	require.NotNil(t, cfg.Trial)
	assert.Equal(t, 3, cfg.Trial.Lessons)
	assert.Equal(t, 14, cfg.Trial.Days)
	assert.Equal(t, PlanLimits{DailyMax: 2, MonthlyMax: 40, Formats: []string{"html", "md"}}, cfg.Plans["starter"])
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"LLM_PROVIDER":     "mistral",
		"SECRET_KEY":       "too-short",
		"PROBE_TIMEOUT":    "soon",
		"MAX_RESELECTIONS": "-1",
		"RATE_LIMIT_RPS":   "0",
		"LOG_MAX_SIZE_MB":  "big",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/avs/pkg/artifacts"
	"github.com/Mindburn-Labs/avs/pkg/config"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "AVS_SQLITE_PATH", "REDIS_ADDR", "REDIS_DB",
		"AIEP_SIGNING_SECRET", "AIEP_SIGNING_SECRET_FILE", "AVS_ALLOW_DEV_SECRET",
		"AVS_GATEWAY_URL", "OTEL_EXPORTER_OTLP_ENDPOINT", "ARTIFACT_STORAGE_TYPE",
		"ARTIFACT_DIR", "ARTIFACT_S3_BUCKET", "LLM_API_KEY", "LLM_BASE_URL", "LLM_MODEL",
		"AVS_TOKEN_TTL", "LLM_TEMPERATURE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Empty(t, cfg.DatabaseURL)
	assert.False(t, cfg.AllowDevSecret)
	assert.False(t, cfg.FuzzEnabled())
	assert.Equal(t, artifacts.StoreType(""), cfg.Artifacts.Type)
	assert.Equal(t, "artifacts", cfg.Artifacts.Dir)
	assert.False(t, cfg.Telemetry("dev").Enabled)
	assert.Zero(t, cfg.TokenTTL)
	assert.Nil(t, cfg.Sampling())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://avs@db:5432/avs")
	t.Setenv("AVS_SQLITE_PATH", "/tmp/avs.db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("AIEP_SIGNING_SECRET", "hex:00ff")
	t.Setenv("AVS_ALLOW_DEV_SECRET", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317")
	t.Setenv("ARTIFACT_STORAGE_TYPE", "S3")
	t.Setenv("ARTIFACT_S3_BUCKET", "reports")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_MODEL", "gpt-test")
	t.Setenv("AVS_TOKEN_TTL", "15m")
	t.Setenv("LLM_TEMPERATURE", "0.2")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "postgres://avs@db:5432/avs", cfg.Store().DatabaseURL)
	assert.Equal(t, "/tmp/avs.db", cfg.Store().SQLitePath)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "hex:00ff", cfg.Secret().Value)
	assert.True(t, cfg.Secret().AllowDev)
	assert.Equal(t, artifacts.StoreTypeS3, cfg.Artifacts.Type)
	assert.Equal(t, "reports", cfg.Artifacts.S3Bucket)
	assert.True(t, cfg.FuzzEnabled())
	assert.Equal(t, "gpt-test", cfg.LLMModel)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	require.NotNil(t, cfg.Sampling())
	assert.Equal(t, 0.2, cfg.Sampling().Temperature)

	tc := cfg.Telemetry("1.2.3")
	assert.True(t, tc.Enabled)
	assert.True(t, tc.Insecure)
	assert.Equal(t, "collector:4317", tc.OTLPEndpoint)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
}

func TestLoad_IgnoresInvalidTuning(t *testing.T) {
	clearEnv(t)
	t.Setenv("AVS_TOKEN_TTL", "500ms")
	t.Setenv("LLM_TEMPERATURE", "warm")

	cfg := config.Load()
	assert.Zero(t, cfg.TokenTTL, "sub-second lifetimes are not representable in a token")
	assert.Nil(t, cfg.Sampling())
}

func TestLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	} {
		cfg := &config.Config{LogLevel: in}
		assert.Equal(t, want, cfg.Level(), in)
	}
}

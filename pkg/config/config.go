// Package config loads process configuration from the environment and run
// inputs (contracts, invariants, scenarios) from files.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/avs/pkg/artifacts"
	"github.com/Mindburn-Labs/avs/pkg/crypto"
	"github.com/Mindburn-Labs/avs/pkg/llm"
	"github.com/Mindburn-Labs/avs/pkg/observability"
	"github.com/Mindburn-Labs/avs/pkg/store"
)

// Config holds process configuration.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string
	SQLitePath  string
	RedisAddr   string
	RedisDB     int

	SigningSecret     string
	SigningSecretFile string
	AllowDevSecret    bool

	GatewayURL   string
	OTLPEndpoint string

	Artifacts artifacts.Options

	// TokenTTL is the capability lifetime used when a mint request carries
	// none. Zero keeps the service default.
	TokenTTL time.Duration

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
	// LLMTemperature is nil unless LLM_TEMPERATURE holds a valid number.
	LLMTemperature *float64
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	artifactDir := os.Getenv("ARTIFACT_DIR")
	if artifactDir == "" {
		artifactDir = "artifacts"
	}

	var tokenTTL time.Duration
	if v := os.Getenv("AVS_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= time.Second {
			tokenTTL = d
		}
	}

	var temperature *float64
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			temperature = &f
		}
	}

	return &Config{
		Port:              port,
		LogLevel:          logLevel,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        os.Getenv("AVS_SQLITE_PATH"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisDB:           redisDB,
		SigningSecret:     os.Getenv("AIEP_SIGNING_SECRET"),
		SigningSecretFile: os.Getenv("AIEP_SIGNING_SECRET_FILE"),
		AllowDevSecret:    os.Getenv("AVS_ALLOW_DEV_SECRET") == "true",
		GatewayURL:        os.Getenv("AVS_GATEWAY_URL"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Artifacts: artifacts.Options{
			Type:       artifacts.StoreType(strings.ToLower(os.Getenv("ARTIFACT_STORAGE_TYPE"))),
			Dir:        artifactDir,
			S3Bucket:   os.Getenv("ARTIFACT_S3_BUCKET"),
			S3Region:   os.Getenv("ARTIFACT_S3_REGION"),
			S3Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
			S3Prefix:   os.Getenv("ARTIFACT_S3_PREFIX"),
			GCSBucket:  os.Getenv("ARTIFACT_GCS_BUCKET"),
			GCSPrefix:  os.Getenv("ARTIFACT_GCS_PREFIX"),
		},
		TokenTTL:       tokenTTL,
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMBaseURL:     os.Getenv("LLM_BASE_URL"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		LLMTemperature: temperature,
	}
}

// Level maps LogLevel onto slog. Unknown values mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) Secret() crypto.SecretSource {
	return crypto.SecretSource{
		Value:    c.SigningSecret,
		File:     c.SigningSecretFile,
		AllowDev: c.AllowDevSecret,
	}
}

func (c *Config) Store() store.Options {
	return store.Options{DatabaseURL: c.DatabaseURL, SQLitePath: c.SQLitePath}
}

// Telemetry enables export only when an OTLP endpoint is configured.
func (c *Config) Telemetry(version string) *observability.Config {
	tc := observability.DefaultConfig()
	tc.ServiceVersion = version
	if c.OTLPEndpoint != "" {
		tc.Enabled = true
		tc.OTLPEndpoint = strings.TrimPrefix(strings.TrimPrefix(c.OTLPEndpoint, "http://"), "https://")
		tc.Insecure = !strings.HasPrefix(c.OTLPEndpoint, "https://")
	}
	return tc
}

// Sampling returns the sampling override for scenario fuzzing, or nil to
// keep the generator default.
func (c *Config) Sampling() *llm.SamplingOptions {
	if c.LLMTemperature == nil {
		return nil
	}
	return &llm.SamplingOptions{Temperature: *c.LLMTemperature}
}

// FuzzEnabled reports whether an LLM backend is configured.
func (c *Config) FuzzEnabled() bool {
	return c.LLMAPIKey != "" || c.LLMBaseURL != ""
}

package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the API server and CLI.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Inference service (OpenAI-compatible chat/completions).
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAITimeout time.Duration

	// Job record retention.
	RetentionWindow time.Duration
	SweepInterval   time.Duration

	// Pipeline.
	AnalysisTimeout time.Duration

	// Upload handling.
	MaxUploadBytes    int64
	ImageMaxDimension int

	// Reference lookup.
	PubMedBaseURL    string
	PubMedMaxResults int
	PubMedTimeout    time.Duration

	// Submission rate limiting (per client IP).
	RateLimitCapacity int
	RateLimitRefill   float64

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITimeout: getEnvDuration("OPENAI_TIMEOUT", 90*time.Second),

		RetentionWindow: getEnvDuration("JOB_RETENTION_WINDOW", time.Hour),
		SweepInterval:   getEnvDuration("JOB_SWEEP_INTERVAL", 5*time.Minute),

		AnalysisTimeout: getEnvDuration("ANALYSIS_TIMEOUT", 2*time.Minute),

		MaxUploadBytes:    getEnvInt64("MAX_UPLOAD_BYTES", 10*1024*1024),
		ImageMaxDimension: getEnvInt("IMAGE_MAX_DIMENSION", 1024),

		PubMedBaseURL:    getEnv("PUBMED_BASE_URL", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"),
		PubMedMaxResults: getEnvInt("PUBMED_MAX_RESULTS", 3),
		PubMedTimeout:    getEnvDuration("PUBMED_TIMEOUT", 10*time.Second),

		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 20),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 1),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate checks the settings the server cannot run without. The inference
// credential is required up front so a misconfigured deployment fails at
// startup instead of failing every job.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.RetentionWindow <= 0 {
		return errors.New("JOB_RETENTION_WINDOW must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("JOB_SWEEP_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

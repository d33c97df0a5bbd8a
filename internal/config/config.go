// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Inference backends.
const (
	InferenceGRPC   = "grpc"
	InferenceOpenAI = "openai"
	InferenceCanned = "canned"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	StoreBackend    string
	DBPath          string
	BadgerDir       string
	DefaultLanguage string
	Inference       InferenceConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// InferenceConfig selects and configures the reply generator.
type InferenceConfig struct {
	Backend      string
	Addr         string
	Method       string
	Token        string
	Timeout      time.Duration
	HistoryLimit int
	OpenAIKey    string
	OpenAIModel  string
	OpenAIURL    string
}

// RateLimitConfig bounds submitted messages per user.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
		DBPath:          getEnv("DB_PATH", "./data/zeus.db"),
		BadgerDir:       getEnv("BADGER_DIR", "./data/badger"),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "es-ES"),
		Inference: InferenceConfig{
			Backend:      strings.ToLower(getEnv("INFERENCE_BACKEND", InferenceCanned)),
			Addr:         getEnv("INFERENCE_ADDR", ""),
			Method:       getEnv("INFERENCE_METHOD", "/zeus.v1.Assistant/Generate"),
			Token:        getEnv("INFERENCE_TOKEN", ""),
			Timeout:      getEnvDuration("INFERENCE_TIMEOUT", 30*time.Second),
			HistoryLimit: getEnvInt("INFERENCE_HISTORY_LIMIT", 20),
			OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:  getEnv("OPENAI_MODEL", ""),
			OpenAIURL:    getEnv("OPENAI_BASE_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreBackend {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StoreBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("BADGER_DIR cannot be empty")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreSQLite, StoreBadger, c.StoreBackend)
	}
	if c.DefaultLanguage == "" {
		return fmt.Errorf("DEFAULT_LANGUAGE cannot be empty")
	}

	switch c.Inference.Backend {
	case InferenceGRPC:
		if c.Inference.Addr == "" {
			return fmt.Errorf("INFERENCE_ADDR is required for the grpc backend")
		}
		if !strings.HasPrefix(c.Inference.Method, "/") {
			return fmt.Errorf("INFERENCE_METHOD must be a full method name, got %q", c.Inference.Method)
		}
	case InferenceOpenAI:
		if c.Inference.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
		}
	case InferenceCanned:
	default:
		return fmt.Errorf("INFERENCE_BACKEND must be grpc, openai or canned, got %q", c.Inference.Backend)
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be > 0")
	}
	if c.Inference.HistoryLimit < 0 {
		return fmt.Errorf("INFERENCE_HISTORY_LIMIT must be >= 0")
	}

	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}

	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "badger")
	t.Setenv("INFERENCE_BACKEND", "canned")
	t.Setenv("DEFAULT_LANGUAGE", "es-ES")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.StoreBackend != StoreBadger {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("expected 30s window, got %s", cfg.RateLimit.Window)
	}
	if cfg.Inference.Method != "/zeus.v1.Assistant/Generate" {
		t.Fatalf("unexpected default method %q", cfg.Inference.Method)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Port:            "8080",
			StoreBackend:    StoreSQLite,
			DBPath:          "./data/zeus.db",
			DefaultLanguage: "es-ES",
			Inference: InferenceConfig{
				Backend: InferenceCanned,
				Method:  "/zeus.v1.Assistant/Generate",
				Timeout: 30 * time.Second,
			},
			RateLimit: RateLimitConfig{Requests: 10, Window: time.Minute},
			ConversationLog: ConversationLogConfig{
				Dir:        "./logs",
				GlobalPath: "./logs/all.ndjson",
				QueueSize:  10,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"unknown store", func(c *Config) { c.StoreBackend = "redis" }, "STORE_BACKEND"},
		{"badger without dir", func(c *Config) { c.StoreBackend = StoreBadger; c.BadgerDir = "" }, "BADGER_DIR"},
		{"grpc without addr", func(c *Config) { c.Inference.Backend = InferenceGRPC }, "INFERENCE_ADDR"},
		{"grpc bad method", func(c *Config) {
			c.Inference.Backend = InferenceGRPC
			c.Inference.Addr = "localhost:50051"
			c.Inference.Method = "Generate"
		}, "INFERENCE_METHOD"},
		{"openai without key", func(c *Config) { c.Inference.Backend = InferenceOpenAI }, "OPENAI_API_KEY"},
		{"unknown inference", func(c *Config) { c.Inference.Backend = "magic" }, "INFERENCE_BACKEND"},
		{"zero timeout", func(c *Config) { c.Inference.Timeout = 0 }, "INFERENCE_TIMEOUT"},
		{"zero rate limit", func(c *Config) { c.RateLimit.Requests = 0 }, "RATE_LIMIT_REQUESTS"},
		{"empty log dir", func(c *Config) { c.ConversationLog.Dir = "" }, "CONVERSATION_LOG_DIR"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("ZEUS_TEST_DURATION", "bogus")
	if got := getEnvDuration("ZEUS_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected fallback for bad duration, got %s", got)
	}
	t.Setenv("ZEUS_TEST_DURATION", "2m")
	if got := getEnvDuration("ZEUS_TEST_DURATION", time.Second); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", got)
	}
}

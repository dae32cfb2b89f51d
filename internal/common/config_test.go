package common

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_URL", "file:test.db")
	t.Setenv("MAX_UPLOAD_MB", "2")
	t.Setenv("PIPELINE_LEASE_TTL", "30s")
	t.Setenv("PAGE_CONCURRENCY", "not-a-number")

	cfg := LoadConfig()
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "file:test.db" {
		t.Fatalf("database config = %+v", cfg.Database)
	}
	if cfg.Server.MaxUploadBytes != 2<<20 {
		t.Fatalf("MaxUploadBytes = %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Pipeline.LeaseTTL != 30*time.Second {
		t.Fatalf("LeaseTTL = %v", cfg.Pipeline.LeaseTTL)
	}
	if cfg.Pipeline.PageConcurrency != 3 {
		t.Fatalf("unparsable value should keep the default, got %d", cfg.Pipeline.PageConcurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "postgres", DSN: "postgres://localhost/db"},
			Server:   ServerConfig{HTTPAddr: ":8080"},
			LLM:      LLMConfig{Strategy: "auto"},
			Pipeline: PipelineConfig{Workers: 1, PageConcurrency: 1},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"live without key", func(c *Config) { c.LLM.Strategy = "live" }},
		{"unknown strategy", func(c *Config) { c.LLM.Strategy = "magic" }},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"inbox without tenant", func(c *Config) { c.Documents.InboxDir = "/tmp/inbox" }},
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidInput) || ErrorCode(err) != "CONFIG_ERROR" {
				t.Fatalf("Validate() = %v, want CONFIG_ERROR", err)
			}
		})
	}
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	type req struct {
		Name string `json:"name" validate:"required"`
		Qty  int    `json:"qty" validate:"gte=0"`
	}
	err := ValidateStruct(req{Qty: -1})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("err is not an AppError")
	}
	for _, want := range []string{"req.name", "is required", "req.qty", "must be >= 0"} {
		if !strings.Contains(appErr.Message, want) {
			t.Fatalf("message %q missing %q", appErr.Message, want)
		}
	}
}

// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, defaults, env var expansion, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalProviders = `
models:
  providers:
    - name: "gpt"
      base_url: "https://api.openai.com/v1"
      model: "gpt-4o-mini"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:9090"

database:
  path: "./test.db"

storage:
  base_url: "mem://localhost/blobs"
  public_prefix: "/blobs/"

models:
  default: "local"
  providers:
    - name: "gpt"
      base_url: "https://api.openai.com/v1"
      api_key: "sk-test"
      model: "gpt-4o-mini"
      streaming: true
    - name: "local"
      base_url: "http://localhost:11434/v1"
      model: "llama3"
      timeout: "30s"

ingestion:
  text_ratio_threshold: 0.7
  batch_pages: 4
  max_retries: 2
  retry_delay: "500ms"

streaming:
  keepalive_interval: "10s"
  cancel_poll_interval: "1s"
  fake_chunk_size: 16
  fake_chunk_delay: "5ms"

tools:
  translate: false

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9090")
	}
	if cfg.Storage.PublicPrefix != "/blobs/" {
		t.Errorf("Storage.PublicPrefix = %q, want %q", cfg.Storage.PublicPrefix, "/blobs/")
	}
	if cfg.Models.Default != "local" {
		t.Errorf("Models.Default = %q, want %q", cfg.Models.Default, "local")
	}
	if got := cfg.Models.Providers[1].Timeout; got != 30*time.Second {
		t.Errorf("Providers[1].Timeout = %v, want 30s", got)
	}
	if got := cfg.Models.Providers[0].Timeout; got != 2*time.Minute {
		t.Errorf("Providers[0].Timeout = %v, want default 2m", got)
	}
	if cfg.Ingestion.RetryDelay != 500*time.Millisecond {
		t.Errorf("Ingestion.RetryDelay = %v, want 500ms", cfg.Ingestion.RetryDelay)
	}
	if cfg.Streaming.KeepAliveInterval != 10*time.Second {
		t.Errorf("Streaming.KeepAliveInterval = %v, want 10s", cfg.Streaming.KeepAliveInterval)
	}
	if cfg.Streaming.CancelPollInterval != time.Second {
		t.Errorf("Streaming.CancelPollInterval = %v, want 1s", cfg.Streaming.CancelPollInterval)
	}
	if cfg.Streaming.FakeChunkDelay != 5*time.Millisecond {
		t.Errorf("Streaming.FakeChunkDelay = %v, want 5ms", cfg.Streaming.FakeChunkDelay)
	}
	if cfg.Tools.Translate {
		t.Error("Tools.Translate should be disabled")
	}
	if !cfg.Tools.WebSearch {
		t.Error("Tools.WebSearch should keep its default")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalProviders))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Models.Default != "gpt" {
		t.Errorf("Models.Default = %q, want first provider", cfg.Models.Default)
	}
	if cfg.Streaming.FakeChunkDelay <= 0 {
		t.Errorf("Streaming.FakeChunkDelay = %v, want a positive default", cfg.Streaming.FakeChunkDelay)
	}
	if cfg.Streaming.CancelPollInterval != 2*time.Second {
		t.Errorf("Streaming.CancelPollInterval = %v, want 2s", cfg.Streaming.CancelPollInterval)
	}
	if cfg.Titles.AfterUserTurns != 2 {
		t.Errorf("Titles.AfterUserTurns = %d, want 2", cfg.Titles.AfterUserTurns)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_KEY", "sk-from-env")
	t.Setenv("PARLEY_TEST_SECRET", "jwt-secret")

	cfg, err := Load(writeConfig(t, `
models:
  providers:
    - name: "gpt"
      base_url: "https://api.openai.com/v1"
      api_key: "${PARLEY_TEST_KEY}"
      model: "gpt-4o-mini"
auth:
  jwt_secret: "${PARLEY_TEST_SECRET}"
search:
  api_key: "${PARLEY_TEST_UNSET}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Models.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want %q", cfg.Models.Providers[0].APIKey, "sk-from-env")
	}
	if cfg.Auth.JWTSecret != "jwt-secret" {
		t.Errorf("JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "jwt-secret")
	}
	if cfg.Search.APIKey != "" {
		t.Errorf("unset variable should expand to empty, got %q", cfg.Search.APIKey)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalProviders+`
streaming:
  keepalive_interval: "soon"
`))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "keepalive_interval") {
		t.Errorf("error should name the field, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no providers", func(c *Config) { c.Models.Providers = nil }, "models.providers"},
		{"unknown default", func(c *Config) { c.Models.Default = "nope" }, "models.default"},
		{"duplicate provider", func(c *Config) {
			c.Models.Providers = append(c.Models.Providers, c.Models.Providers[0])
		}, "duplicate"},
		{"bad ratio", func(c *Config) { c.Ingestion.TextRatioThreshold = 1.5 }, "text_ratio_threshold"},
		{"zero batch", func(c *Config) { c.Ingestion.BatchPages = 0 }, "batch_pages"},
		{"bad prefix", func(c *Config) { c.Storage.PublicPrefix = "files" }, "public_prefix"},
		{"no database", func(c *Config) { c.Database.Path = "" }, "database.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Models.Providers = []ProviderConfig{{Name: "gpt", BaseURL: "http://x", Model: "m"}}
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath_Env(t *testing.T) {
	t.Setenv("PARLEY_CONFIG", "/etc/parley.yaml")
	if got := DefaultPath(); got != "/etc/parley.yaml" {
		t.Errorf("DefaultPath() = %q, want %q", got, "/etc/parley.yaml")
	}
}

func TestToolsConfig_Enabled(t *testing.T) {
	tc := ToolsConfig{WebSearch: true, Retrieval: true}

	cases := map[string]bool{
		"web_search":      true,
		"document_search": true,
		"summarize":       false,
		"translate":       false,
		"shell":           false,
	}
	for name, want := range cases {
		if got := tc.Enabled(name); got != want {
			t.Errorf("Enabled(%q) = %v, want %v", name, got, want)
		}
	}
}

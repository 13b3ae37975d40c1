// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete parley configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Models    ModelsConfig    `yaml:"models"`
	Search    SearchConfig    `yaml:"search"`
	OCR       OCRConfig       `yaml:"ocr"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Streaming StreamingConfig `yaml:"streaming"`
	Titles    TitlesConfig    `yaml:"titles"`
	Tools     ToolsConfig     `yaml:"tools"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig locates the blob store
type StorageConfig struct {
	// BaseURL is an afs URL such as file:///var/lib/parley or mem://localhost/parley
	BaseURL string `yaml:"base_url"`
	// PublicPrefix is the same-origin path clients use to reference stored blobs
	PublicPrefix string `yaml:"public_prefix"`
}

// ModelsConfig lists the model providers a request can select
type ModelsConfig struct {
	Default   string           `yaml:"default"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one OpenAI-compatible chat completions endpoint
type ProviderConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Streaming bool   `yaml:"streaming"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SearchConfig holds the web search API settings
type SearchConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
}

// OCRConfig holds the OCR backend settings
type OCRConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// IngestionConfig tunes the document ingestion pipeline
type IngestionConfig struct {
	TextRatioThreshold float64 `yaml:"text_ratio_threshold"`
	BatchPages         int     `yaml:"batch_pages"`
	MaxRetries         int     `yaml:"max_retries"`
	Concurrency        int     `yaml:"concurrency"`

	RetryDelay    time.Duration `yaml:"-"`
	RetryDelayRaw string        `yaml:"retry_delay"`
}

// StreamingConfig tunes the streaming response path
type StreamingConfig struct {
	FakeChunkSize int `yaml:"fake_chunk_size"`
	MaxSteps      int `yaml:"max_steps"`

	KeepAliveInterval  time.Duration `yaml:"-"`
	CancelPollInterval time.Duration `yaml:"-"`
	FakeChunkDelay     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	KeepAliveIntervalRaw  string `yaml:"keepalive_interval"`
	CancelPollIntervalRaw string `yaml:"cancel_poll_interval"`
	FakeChunkDelayRaw     string `yaml:"fake_chunk_delay"`
}

// TitlesConfig controls automatic conversation titles
type TitlesConfig struct {
	Enabled        bool `yaml:"enabled"`
	AfterUserTurns int  `yaml:"after_user_turns"`
}

// ToolsConfig holds the feature flags that gate each tool
type ToolsConfig struct {
	WebSearch bool `yaml:"web_search"`
	Retrieval bool `yaml:"retrieval"`
	Summarize bool `yaml:"summarize"`
	Translate bool `yaml:"translate"`
}

// Enabled reports whether the named tool is switched on.
func (t ToolsConfig) Enabled(tool string) bool {
	switch tool {
	case "web_search":
		return t.WebSearch
	case "document_search":
		return t.Retrieval
	case "summarize":
		return t.Summarize
	case "translate":
		return t.Translate
	default:
		return false
	}
}

// PromptsConfig points at an optional prompt template override file
type PromptsConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every tunable set.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "0.0.0.0:8080"},
		Database: DatabaseConfig{Path: "./parley.db"},
		Storage:  StorageConfig{BaseURL: "file:///var/lib/parley/blobs", PublicPrefix: "/files/"},
		Search:   SearchConfig{MaxResults: 5},
		OCR:      OCRConfig{Model: "mistral-ocr-latest"},
		Ingestion: IngestionConfig{
			TextRatioThreshold: 0.5,
			BatchPages:         8,
			MaxRetries:         3,
			Concurrency:        2,
			RetryDelay:         2 * time.Second,
		},
		Streaming: StreamingConfig{
			FakeChunkSize:      8,
			MaxSteps:           8,
			KeepAliveInterval:  15 * time.Second,
			CancelPollInterval: 2 * time.Second,
			FakeChunkDelay:     15 * time.Millisecond,
		},
		Titles:  TitlesConfig{Enabled: true, AfterUserTurns: 2},
		Tools:   ToolsConfig{WebSearch: true, Retrieval: true, Summarize: true, Translate: true},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath returns the first existing config location: $PARLEY_CONFIG,
// ./config.yaml, then ~/.config/parley/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	candidates := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "parley", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Storage.BaseURL == "" {
		return fmt.Errorf("storage.base_url is required")
	}
	if !strings.HasPrefix(c.Storage.PublicPrefix, "/") {
		return fmt.Errorf("storage.public_prefix must start with /")
	}

	if len(c.Models.Providers) == 0 {
		return fmt.Errorf("models.providers needs at least one provider")
	}
	seen := make(map[string]bool)
	for i, p := range c.Models.Providers {
		if p.Name == "" || p.BaseURL == "" || p.Model == "" {
			return fmt.Errorf("models.providers[%d]: name, base_url and model are required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("models.providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
	}
	if c.Models.Default == "" {
		c.Models.Default = c.Models.Providers[0].Name
	} else if !seen[c.Models.Default] {
		return fmt.Errorf("models.default %q does not name a provider", c.Models.Default)
	}

	if c.Ingestion.TextRatioThreshold < 0 || c.Ingestion.TextRatioThreshold > 1 {
		return fmt.Errorf("ingestion.text_ratio_threshold must be between 0 and 1")
	}
	if c.Ingestion.BatchPages < 1 {
		return fmt.Errorf("ingestion.batch_pages must be positive")
	}
	if c.Ingestion.MaxRetries < 0 {
		return fmt.Errorf("ingestion.max_retries must not be negative")
	}
	if c.Ingestion.Concurrency < 1 {
		c.Ingestion.Concurrency = 1
	}

	if c.Streaming.FakeChunkSize < 1 {
		return fmt.Errorf("streaming.fake_chunk_size must be positive")
	}
	if c.Streaming.MaxSteps < 1 {
		return fmt.Errorf("streaming.max_steps must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"ingestion.retry_delay", cfg.Ingestion.RetryDelayRaw, &cfg.Ingestion.RetryDelay},
		{"streaming.keepalive_interval", cfg.Streaming.KeepAliveIntervalRaw, &cfg.Streaming.KeepAliveInterval},
		{"streaming.cancel_poll_interval", cfg.Streaming.CancelPollIntervalRaw, &cfg.Streaming.CancelPollInterval},
		{"streaming.fake_chunk_delay", cfg.Streaming.FakeChunkDelayRaw, &cfg.Streaming.FakeChunkDelay},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	for i := range cfg.Models.Providers {
		p := &cfg.Models.Providers[i]
		if p.TimeoutRaw == "" {
			p.Timeout = 2 * time.Minute
			continue
		}
		d, err := time.ParseDuration(p.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing models.providers[%d].timeout %q: %w", i, p.TimeoutRaw, err)
		}
		p.Timeout = d
	}

	return nil
}

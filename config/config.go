package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig represents configuration for Anthropic LLM provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"` // Anthropic API key
}

// OllamaConfig represents configuration for Ollama LLM provider.
type OllamaConfig struct {
	Host    string `yaml:"host,omitempty"`    // Ollama host (default: "http://localhost:11434")
	Model   string `yaml:"model,omitempty"`   // Default model name
	Timeout int    `yaml:"timeout,omitempty"` // Request timeout in seconds
}

// OpenAIConfig represents configuration for OpenAI LLM provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`      // OpenAI API key
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Model        string `yaml:"model,omitempty"`        // Default model name
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// LLMPreference represents a single LLM provider/model preference for a
// pipeline stage. The first available provider in the list is used.
type LLMPreference struct {
	Provider string `yaml:"provider" json:"provider"`               // Required: "anthropic", "ollama", or "openai"
	Model    string `yaml:"model,omitempty" json:"model,omitempty"` // Optional: uses provider default if omitted
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path           string `yaml:"path,omitempty"`            // SQLite file (default: ~/.recalld/recall.db)
	MigrationsPath string `yaml:"migrations_path,omitempty"` // Load migrations from disk instead of the embedded set
}

// EmbeddingConfig selects the embedding gateway.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider,omitempty"`   // "ollama" or "openai"
	Model      string `yaml:"model,omitempty"`      // Provider model name, empty for the provider default
	Dimensions int    `yaml:"dimensions,omitempty"` // Expected vector length, 0 disables the check
	CacheSize  int64  `yaml:"cache_size,omitempty"` // Cached vectors, 0 disables the cache
}

// MemoryConfig tunes the extraction pipeline and its queue.
type MemoryConfig struct {
	Extraction     []LLMPreference `yaml:"extraction,omitempty"` // Provider preferences for fact extraction
	Decision       []LLMPreference `yaml:"decision,omitempty"`   // Provider preferences for reconciliation decisions
	MaxTokens      int64           `yaml:"max_tokens,omitempty"`
	Embedding      EmbeddingConfig `yaml:"embedding,omitempty"`
	Index          string          `yaml:"index,omitempty"` // "chromem" or "sql"
	SearchK        int             `yaml:"search_k,omitempty"`
	MinScore       float64         `yaml:"min_score,omitempty"`
	WindowSize     int             `yaml:"window_size,omitempty"`
	DrainDelay     string          `yaml:"drain_delay,omitempty"`    // e.g. "10s"
	DrainBatchSize int             `yaml:"drain_batch_size,omitempty"`
	SweepSchedule  string          `yaml:"sweep_schedule,omitempty"` // cron spec or duration, e.g. "@every 1m"
	StaleAfter     string          `yaml:"stale_after,omitempty"`    // e.g. "15m"
	DefaultOwner   string          `yaml:"default_owner,omitempty"`  // Owner used by MCP tools and the CLI
}

// DrainDelayDuration parses DrainDelay.
func (m MemoryConfig) DrainDelayDuration() (time.Duration, error) {
	return parseDuration("drain_delay", m.DrainDelay)
}

// StaleAfterDuration parses StaleAfter.
func (m MemoryConfig) StaleAfterDuration() (time.Duration, error) {
	return parseDuration("stale_after", m.StaleAfter)
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("memory.%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("memory.%s must not be negative", field)
	}
	return d, nil
}

// ServerConfig represents server-side configuration for the recalld daemon.
type ServerConfig struct {
	// Server settings
	Server struct {
		Socket string `yaml:"socket,omitempty"` // Unix socket path (default: /tmp/recalld.sock)
		TCP    string `yaml:"tcp,omitempty"`    // TCP address (e.g., localhost:50061)
	} `yaml:"server,omitempty"`

	Database DatabaseConfig `yaml:"database,omitempty"`

	// LLM provider configurations
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`

	LLMProviders []string     `yaml:"llm_providers,omitempty"`
	Memory       MemoryConfig `yaml:"memory,omitempty"`
}

type DaemonConfig struct {
	Socket string `yaml:"socket,omitempty"` // Unix socket path (default: /tmp/recalld.sock)
	TCP    string `yaml:"tcp,omitempty"`    // TCP address (e.g., localhost:50061)
}

// ClientConfig represents client-side configuration for the recall CLI.
type ClientConfig struct {
	Daemon  DaemonConfig `yaml:"daemon,omitempty"`
	Owner   string       `yaml:"owner,omitempty"`   // Owner used when --owner is not given
	Timeout int          `yaml:"timeout,omitempty"` // Timeout in seconds for RPCs (default: 30)
}

// GetServerConfigPath returns the default server config file path.
// Can be overridden via RECALL_CONFIG_PATH environment variable.
func GetServerConfigPath() string {
	if envPath := os.Getenv("RECALL_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.recalld/config.yaml"
	}
	return filepath.Join(homeDir, ".recalld", "config.yaml")
}

// GetClientConfigPath returns the default client config file path.
// Can be overridden via RECALL_CLIENT_CONFIG_PATH environment variable.
func GetClientConfigPath() string {
	if envPath := os.Getenv("RECALL_CLIENT_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.recalld/cli.yaml"
	}
	return filepath.Join(homeDir, ".recalld", "cli.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ExpandPath is expandPath for callers outside the package.
func ExpandPath(path string) string { return expandPath(path) }

// SaveServerConfig saves the server configuration to the specified path.
func SaveServerConfig(cfg *ServerConfig, path string) error {
	return saveYAML(cfg, path)
}

// SaveClientConfig saves the client configuration to the specified path.
func SaveClientConfig(cfg *ClientConfig, path string) error {
	return saveYAML(cfg, path)
}

func saveYAML(v any, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultServerConfig returns the built-in defaults.
func DefaultServerConfig() ServerConfig {
	defaults := ServerConfig{
		LLMProviders: []string{"anthropic"},
		Ollama: OllamaConfig{
			Host:    "http://localhost:11434",
			Timeout: 60,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Database: DatabaseConfig{
			Path: "~/.recalld/recall.db",
		},
		Memory: MemoryConfig{
			MaxTokens: 2048,
			Embedding: EmbeddingConfig{
				Provider:  "ollama",
				CacheSize: 4096,
			},
			Index:          "chromem",
			SearchK:        5,
			WindowSize:     20,
			DrainDelay:     "10s",
			DrainBatchSize: 10,
			SweepSchedule:  "@every 1m",
			StaleAfter:     "15m",
			DefaultOwner:   "default",
		},
	}
	defaults.Server.Socket = "/tmp/recalld.sock"
	return defaults
}

// LoadServerConfig loads server-side configuration: defaults, then the
// config file at path when it exists, then environment overrides.
func LoadServerConfig(path string) (*ServerConfig, error) {
	defaults := DefaultServerConfig()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		userConfigYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read user config file %q: %w", expandedPath, err)
		}

		var userConfig ServerConfig
		if err := yaml.Unmarshal(userConfigYAML, &userConfig); err != nil {
			return nil, fmt.Errorf("failed to parse user config: %w", err)
		}

		if err := mergo.Merge(&defaults, userConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge user config: %w", err)
		}
	}

	if err := mergo.Merge(&defaults, envOverrides(), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
	}

	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &defaults, nil
}

// envOverrides collects settings given through the environment. Unset
// variables stay zero and are skipped by mergo.
func envOverrides() ServerConfig {
	var env ServerConfig
	env.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	env.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	env.OpenAI.BaseURL = os.Getenv("OPENAI_BASE_URL")
	env.OpenAI.Model = os.Getenv("OPENAI_MODEL")
	env.OpenAI.Organization = os.Getenv("OPENAI_ORG_ID")
	env.Ollama.Host = os.Getenv("OLLAMA_HOST")
	env.Ollama.Model = os.Getenv("OLLAMA_MODEL")
	env.Database.Path = os.Getenv("RECALL_DB_PATH")
	env.Memory.DefaultOwner = os.Getenv("RECALL_DEFAULT_OWNER")
	return env
}

// Validate checks values that would otherwise fail deep inside startup.
func (c *ServerConfig) Validate() error {
	switch c.Memory.Index {
	case "chromem", "sql":
	default:
		return fmt.Errorf("memory.index must be chromem or sql, got %q", c.Memory.Index)
	}
	switch c.Memory.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("memory.embedding.provider must be ollama or openai, got %q", c.Memory.Embedding.Provider)
	}
	if _, err := c.Memory.DrainDelayDuration(); err != nil {
		return err
	}
	if _, err := c.Memory.StaleAfterDuration(); err != nil {
		return err
	}
	return nil
}

// LoadClientConfig loads client-side configuration.
// Returns defaults if config file doesn't exist.
func LoadClientConfig(path string) (*ClientConfig, error) {
	defaults := ClientConfig{
		Owner:   "default",
		Timeout: 30,
	}
	defaults.Daemon.Socket = "/tmp/recalld.sock"

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		return &defaults, nil
	}

	configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read client config file %q: %w", expandedPath, err)
	}

	var config ClientConfig
	if err := yaml.Unmarshal(configYAML, &config); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}

	if err := mergo.Merge(&defaults, config, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge client config: %w", err)
	}

	return &defaults, nil
}

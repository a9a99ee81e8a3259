package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "OPENAI_ORG_ID",
		"OLLAMA_HOST", "OLLAMA_MODEL", "RECALL_DB_PATH", "RECALL_DEFAULT_OWNER",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadServerConfig_DefaultsWithoutFile(t *testing.T) {
	clearProviderEnv(t)
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Server.Socket != "/tmp/recalld.sock" {
		t.Errorf("unexpected socket %q", cfg.Server.Socket)
	}
	m := cfg.Memory
	if m.Index != "chromem" || m.SearchK != 5 || m.WindowSize != 20 || m.DrainBatchSize != 10 {
		t.Errorf("unexpected memory defaults %+v", m)
	}
	if d, _ := m.DrainDelayDuration(); d != 10*time.Second {
		t.Errorf("expected 10s drain delay, got %v", d)
	}
	if d, _ := m.StaleAfterDuration(); d != 15*time.Minute {
		t.Errorf("expected 15m stale_after, got %v", d)
	}
}

func TestLoadServerConfig_FileOverridesDefaults(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, `
llm_providers: [openai, ollama]
openai:
  api_key: sk-file
memory:
  index: sql
  drain_delay: 2s
  extraction:
    - provider: openai
      model: gpt-4o
  embedding:
    provider: openai
    dimensions: 1536
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Memory.Index != "sql" || cfg.Memory.Embedding.Provider != "openai" || cfg.Memory.Embedding.Dimensions != 1536 {
		t.Errorf("file values not applied: %+v", cfg.Memory)
	}
	if cfg.Memory.SearchK != 5 {
		t.Errorf("unset values should keep defaults, got search_k=%d", cfg.Memory.SearchK)
	}
	if cfg.Memory.Embedding.CacheSize != 4096 {
		t.Errorf("nested defaults should survive, got cache_size=%d", cfg.Memory.Embedding.CacheSize)
	}
	if len(cfg.Memory.Extraction) != 1 || cfg.Memory.Extraction[0].Model != "gpt-4o" {
		t.Errorf("unexpected extraction preferences %+v", cfg.Memory.Extraction)
	}
	if cfg.LLMProviders[0] != "openai" {
		t.Errorf("unexpected providers %v", cfg.LLMProviders)
	}
}

func TestLoadServerConfig_EnvironmentWins(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("RECALL_DEFAULT_OWNER", "alice")
	path := writeConfig(t, "openai:\n  api_key: sk-file\n")

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Errorf("expected env key, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.Memory.DefaultOwner != "alice" {
		t.Errorf("expected owner from env, got %q", cfg.Memory.DefaultOwner)
	}
}

func TestLoadServerConfig_Validation(t *testing.T) {
	clearProviderEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad index", "memory:\n  index: faiss\n"},
		{"bad embedding provider", "memory:\n  embedding:\n    provider: cohere\n"},
		{"bad duration", "memory:\n  drain_delay: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadServerConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadClientConfig(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Daemon.Socket != "/tmp/recalld.sock" || cfg.Owner != "default" {
		t.Errorf("unexpected defaults %+v", cfg)
	}

	path := writeConfig(t, "daemon:\n  tcp: localhost:50061\nowner: bob\n")
	cfg, err = LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Daemon.TCP != "localhost:50061" || cfg.Owner != "bob" || cfg.Timeout != 30 {
		t.Errorf("unexpected merged config %+v", cfg)
	}
}

func TestSaveAndReloadClientConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")
	if err := SaveClientConfig(&ClientConfig{Owner: "carol", Timeout: 5}, path); err != nil {
		t.Fatalf("SaveClientConfig: %v", err)
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Owner != "carol" || cfg.Timeout != 5 {
		t.Errorf("unexpected reloaded config %+v", cfg)
	}
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Memory.Embedding.Provider = "cohere"
	if _, _, err := NewEmbedder(&cfg); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}

func TestNewProviderRegistryResolvesStage(t *testing.T) {
	clearProviderEnv(t)
	cfg := DefaultServerConfig()
	cfg.LLMProviders = []string{"anthropic", "openai"}
	cfg.OpenAI.APIKey = "sk-test"

	key, err := NewProviderRegistry(&cfg).Resolve("extraction", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key.Provider != "openai" || key.Model != "gpt-4o-mini" {
		t.Errorf("expected the configured openai fallback, got %+v", key)
	}
}

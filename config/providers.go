package config

import (
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/recall/llm"
	llmollama "github.com/aschepis/backscratcher/recall/llm/ollama"
	llmopenai "github.com/aschepis/backscratcher/recall/llm/openai"
	"github.com/aschepis/backscratcher/recall/memory"
	memollama "github.com/aschepis/backscratcher/recall/memory/ollama"
	memopenai "github.com/aschepis/backscratcher/recall/memory/openai"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// NewProviderRegistry builds the LLM provider registry from cfg.
func NewProviderRegistry(cfg *ServerConfig) *llm.ProviderRegistry {
	host, ollamaModel := LoadOllamaConfig(cfg)
	apiKey, baseURL, openaiModel, org := LoadOpenAIConfig(cfg)
	return llm.NewProviderRegistry(&llm.ProviderConfig{
		AnthropicAPIKey: LoadAnthropicConfig(cfg),
		OllamaHost:      host,
		OllamaModel:     ollamaModel,
		OpenAIAPIKey:    apiKey,
		OpenAIBaseURL:   baseURL,
		OpenAIModel:     openaiModel,
		OpenAIOrg:       org,
	}, cfg.LLMProviders)
}

// NewLLMClient creates the client a ClientKey describes, wrapped with
// request logging and, for Ollama, the configured per-request timeout.
func NewLLMClient(cfg *ServerConfig, key *llm.ClientKey, logger zerolog.Logger) (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	switch key.Provider {
	case llm.ProviderAnthropic:
		client, err = NewAnthropicClient(cfg, logger)
	case llm.ProviderOllama:
		client, err = llmollama.NewOllamaClient(key.Host, key.Model)
	case llm.ProviderOpenAI:
		client, err = llmopenai.NewOpenAIClient(key.APIKey, key.BaseURL, key.Model, key.Organization)
	default:
		return nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", key.Provider, err)
	}
	mws := []llm.Middleware{llm.NewLoggingMiddleware(logger)}
	if key.Provider == llm.ProviderOllama && cfg.Ollama.Timeout > 0 {
		mws = append(mws, llm.WithTimeout(time.Duration(cfg.Ollama.Timeout)*time.Second))
	}
	return llm.Chain(client, mws...), nil
}

// NewStageGateway resolves the provider for a pipeline stage and returns a
// structured-output gateway bound to the resolved model.
func NewStageGateway(cfg *ServerConfig, registry *llm.ProviderRegistry, stage string, prefs []LLMPreference, logger zerolog.Logger) (*memory.LLMGateway, *llm.ClientKey, error) {
	key, err := registry.Resolve(stage, lo.Map(prefs, func(p LLMPreference, _ int) llm.Preference {
		return llm.Preference{Provider: p.Provider, Model: p.Model}
	}))
	if err != nil {
		return nil, nil, err
	}
	client, err := NewLLMClient(cfg, key, logger)
	if err != nil {
		return nil, nil, err
	}
	return memory.NewLLMGateway(client, key.Model, cfg.Memory.MaxTokens, logger), key, nil
}

// NewEmbedder builds the embedding gateway: the provider client, the
// dimension check and, when cache_size is positive, the cache. The returned
// func releases the cache.
func NewEmbedder(cfg *ServerConfig) (memory.Embedder, func(), error) {
	ec := cfg.Memory.Embedding
	var (
		base memory.Embedder
		err  error
	)
	switch ec.Provider {
	case "ollama":
		host, _ := LoadOllamaConfig(cfg)
		base, err = memollama.NewEmbedder(host, memollama.Model(ec.Model))
	case "openai":
		apiKey, baseURL, _, org := LoadOpenAIConfig(cfg)
		base, err = memopenai.NewEmbedder(apiKey, baseURL, org, ec.Model, ec.Dimensions)
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider: %q", ec.Provider)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create %s embedder: %w", ec.Provider, err)
	}

	embedder := memory.WithDimensions(base, ec.Dimensions)
	if ec.CacheSize <= 0 {
		return embedder, func() {}, nil
	}
	cached, err := memory.NewCachedEmbedder(embedder, ec.CacheSize)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}

package config

import (
	llmanthropic "github.com/aschepis/backscratcher/recall/llm/anthropic"
	"github.com/rs/zerolog"
)

// LoadAnthropicConfig returns the API key to use for creating an Anthropic client.
func LoadAnthropicConfig(cfg *ServerConfig) (apiKey string) {
	if cfg == nil {
		return ""
	}
	return cfg.Anthropic.APIKey
}

// NewAnthropicClient creates a new Anthropic LLM client from the configuration.
func NewAnthropicClient(cfg *ServerConfig, logger zerolog.Logger) (*llmanthropic.AnthropicClient, error) {
	return llmanthropic.NewAnthropicClient(LoadAnthropicConfig(cfg), logger)
}

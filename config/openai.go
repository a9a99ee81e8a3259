package config

// LoadOpenAIConfig returns the API key, base URL, model, and organization to
// use for creating an OpenAI client.
func LoadOpenAIConfig(cfg *ServerConfig) (apiKey, baseURL, model, organization string) {
	if cfg == nil {
		return "", "", "", ""
	}
	return cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Organization
}

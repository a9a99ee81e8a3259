package config

// LoadOllamaConfig returns the host and default model for Ollama.
func LoadOllamaConfig(cfg *ServerConfig) (host, model string) {
	if cfg != nil {
		host = cfg.Ollama.Host
		model = cfg.Ollama.Model
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return host, model
}

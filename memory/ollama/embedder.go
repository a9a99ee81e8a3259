package ollama

import (
	"context"
	"fmt"

	"github.com/aschepis/backscratcher/recall/llm/ollama"
	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/ollama/ollama/api"
)

type Model string

const (
	ModelMXBAI     Model = "mxbai-embed-large"
	ModelNomicText Model = "nomic-embed-text"
)

type embedder struct {
	client *api.Client
	model  Model
}

// NewEmbedder returns an Embedder backed by a local Ollama model. An empty
// host falls back to OLLAMA_HOST.
func NewEmbedder(host string, model Model) (memory.Embedder, error) {
	if model == "" {
		model = ModelMXBAI
	}
	cli, err := ollama.NewAPIClient(host)
	if err != nil {
		return nil, err
	}
	return &embedder{client: cli, model: model}, nil
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: string(e.model),
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings for model %s", e.model)
	}
	return resp.Embeddings[0], nil
}

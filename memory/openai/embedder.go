package openai

import (
	"context"
	"fmt"

	llmopenai "github.com/aschepis/backscratcher/recall/llm/openai"
	"github.com/aschepis/backscratcher/recall/memory"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultDimensions matches text-embedding-3-small.
const DefaultDimensions = 1536

type embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewEmbedder returns an Embedder backed by the OpenAI embeddings API.
func NewEmbedder(apiKey, baseURL, organization, model string, dimensions int) (memory.Embedder, error) {
	cli, err := llmopenai.NewAPIClient(apiKey, baseURL, organization)
	if err != nil {
		return nil, err
	}
	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}
	return &embedder{client: cli, model: m, dimensions: dimensions}, nil
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	}
	if e.dimensions > 0 && e.dimensions != DefaultDimensions {
		req.Dimensions = e.dimensions
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embeddings for model %s", e.model)
	}
	return resp.Data[0].Embedding, nil
}

package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aschepis/backscratcher/recall/llm"
	"github.com/ollama/ollama/api"
	"github.com/samber/lo"
)

// OllamaClient implements the llm.Client interface for Ollama's API.
type OllamaClient struct {
	client *api.Client
	model  string // Default model to use if not specified in request
}

// NewOllamaClient creates a new OllamaClient.
// If host is empty, it will use the default from environment (OLLAMA_HOST or http://localhost:11434).
func NewOllamaClient(host, model string) (*OllamaClient, error) {
	client, err := NewAPIClient(host)
	if err != nil {
		return nil, err
	}
	return &OllamaClient{
		client: client,
		model:  model,
	}, nil
}

// NewAPIClient builds a raw Ollama API client for host, or from the
// environment when host is empty.
func NewAPIClient(host string) (*api.Client, error) {
	if host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil
	}
	baseURL, err := parseHost(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host: %w", err)
	}
	return api.NewClient(baseURL, &http.Client{}), nil
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Synchronous implements llm.Client.Synchronous. A ResponseFormat is passed
// as the chat request's format so decoding is constrained to the schema.
func (c *OllamaClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	msgs := lo.Map(req.Messages, func(m llm.Message, _ int) api.Message {
		return api.Message{Role: string(m.Role), Content: m.PlainText()}
	})
	if req.System != "" {
		msgs = append([]api.Message{{Role: "system", Content: req.System}}, msgs...)
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   new(bool),
		Options:  make(map[string]interface{}),
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	if req.ResponseFormat != nil {
		schema, err := req.ResponseFormat.SchemaJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to encode response schema: %w", err)
		}
		chatReq.Format = schema
	}

	var chatResp api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, convertOllamaError(err)
	}

	blockType := llm.ContentBlockTypeText
	if req.ResponseFormat != nil {
		blockType = llm.ContentBlockTypeJSON
	}
	var content []llm.ContentBlock
	if chatResp.Message.Content != "" {
		content = append(content, llm.ContentBlock{Type: blockType, Text: chatResp.Message.Content})
	}

	stopReason := "end_turn"
	if chatResp.Done {
		stopReason = "stop"
	}

	return &llm.Response{
		Content: content,
		Usage: &llm.Usage{
			InputTokens:  int64(chatResp.PromptEvalCount),
			OutputTokens: int64(chatResp.EvalCount),
		},
		StopReason: stopReason,
	}, nil
}

func convertOllamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llm.FromStatusCode(statusErr.StatusCode, "ollama chat request failed", err)
	}
	return llm.NewNetworkError("ollama chat request failed", err)
}

var _ llm.Client = (*OllamaClient)(nil)

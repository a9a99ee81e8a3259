package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aschepis/backscratcher/recall/llm"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI API errors don't directly expose retry-after headers
// We'll use a default retry after duration for rate limits
const defaultRetryAfter = 60 * time.Second

// OpenAIClient implements the llm.Client interface for OpenAI's API.
type OpenAIClient struct {
	client *openai.Client
	model  string // Default model to use if not specified in request
}

// NewOpenAIClient creates a new OpenAIClient.
// If baseURL is empty, it will use the default OpenAI API endpoint.
func NewOpenAIClient(apiKey, baseURL, model, organization string) (*OpenAIClient, error) {
	client, err := NewAPIClient(apiKey, baseURL, organization)
	if err != nil {
		return nil, err
	}
	return &OpenAIClient{
		client: client,
		model:  model,
	}, nil
}

// NewAPIClient builds a raw go-openai client. It is shared with the embedder.
func NewAPIClient(apiKey, baseURL, organization string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if organization != "" {
		config.OrgID = organization
	}
	return openai.NewClientWithConfig(config), nil
}

// Synchronous implements llm.Client.Synchronous. A ResponseFormat becomes a
// strict json_schema response format.
func (c *OpenAIClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
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

	msgs := lo.Map(req.Messages, func(m llm.Message, _ int) openai.ChatCompletionMessage {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case llm.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case llm.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		return openai.ChatCompletionMessage{Role: role, Content: m.PlainText()}
	})
	if req.System != "" {
		msgs = append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: req.System}}, msgs...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if f := req.ResponseFormat; f != nil {
		schema, err := f.SchemaJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to encode response schema: %w", err)
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        f.Name,
				Description: f.Description,
				Schema:      json.RawMessage(schema),
			},
		}
	}

	chatResp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewInvalidResponseError("no choices in response")
	}

	choice := chatResp.Choices[0]
	var content []llm.ContentBlock
	if choice.Message.Content != "" {
		blockType := llm.ContentBlockTypeText
		if req.ResponseFormat != nil {
			blockType = llm.ContentBlockTypeJSON
		}
		content = append(content, llm.ContentBlock{Type: blockType, Text: choice.Message.Content})
	}

	return &llm.Response{
		Content: content,
		Usage: &llm.Usage{
			InputTokens:  int64(chatResp.Usage.PromptTokens),
			OutputTokens: int64(chatResp.Usage.CompletionTokens),
		},
		StopReason: string(choice.FinishReason),
	}, nil
}

// convertOpenAIError converts go-openai errors to llm.Error.
func convertOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return llm.FromStatusCode(reqErr.HTTPStatusCode, "OpenAI request error", err)
		}
		return llm.NewNetworkError("OpenAI request failed", err)
	}

	if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		retryAfter := defaultRetryAfter
		e := llm.NewRateLimitError(fmt.Sprintf("OpenAI rate limit: %s", apiErr.Message), &retryAfter, err)
		e.StatusCode = apiErr.HTTPStatusCode
		return e
	}
	return llm.FromStatusCode(apiErr.HTTPStatusCode, fmt.Sprintf("OpenAI API error: %s", apiErr.Message), err)
}

var _ llm.Client = (*OpenAIClient)(nil)

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/recall/llm"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Validator is implemented by every structured payload the gateway decodes.
type Validator interface {
	Validate() error
}

// StructuredRequest is one schema-constrained generation.
type StructuredRequest struct {
	Name        string
	Description string
	System      string
	Prompt      string
	Schema      map[string]any
}

// StructuredGenerator turns a prompt into a validated object. Schema
// mismatches surface as *SchemaError.
type StructuredGenerator interface {
	Generate(ctx context.Context, req StructuredRequest, out Validator) error
}

// LLMGateway implements StructuredGenerator on top of an llm.Client, retrying
// retryable provider errors with exponential backoff.
type LLMGateway struct {
	client     llm.Client
	model      string
	maxTokens  int64
	newBackOff func() backoff.BackOff
	logger     zerolog.Logger
}

// NewLLMGateway creates a gateway that sends every request to model.
func NewLLMGateway(client llm.Client, model string, maxTokens int64, logger zerolog.Logger) *LLMGateway {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &LLMGateway{
		client:     client,
		model:      model,
		maxTokens:  maxTokens,
		newBackOff: defaultBackOff,
		logger:     logger.With().Str("component", "llm_gateway").Str("model", model).Logger(),
	}
}

// WithBackOff replaces the retry policy.
func (g *LLMGateway) WithBackOff(factory func() backoff.BackOff) *LLMGateway {
	g.newBackOff = factory
	return g
}

func defaultBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2.0
	eb.MaxInterval = 60 * time.Second
	eb.MaxElapsedTime = 5 * time.Minute
	eb.RandomizationFactor = 0.2 // 20% jitter
	eb.Reset()
	return backoff.WithMaxRetries(eb, 5)
}

// Generate implements StructuredGenerator.
func (g *LLMGateway) Generate(ctx context.Context, req StructuredRequest, out Validator) error {
	temperature := 0.0
	llmReq := &llm.Request{
		Model:       g.model,
		System:      req.System,
		Messages:    []llm.Message{llm.NewTextMessage(llm.RoleUser, req.Prompt)},
		MaxTokens:   g.maxTokens,
		Temperature: &temperature,
		ResponseFormat: &llm.ResponseFormat{
			Name:        req.Name,
			Description: req.Description,
			Schema:      req.Schema,
		},
	}

	b := g.newBackOff()
	attempt := 0
	operation := func() error {
		attempt++
		resp, err := g.client.Synchronous(ctx, llmReq)
		if err != nil {
			if !llm.IsRetryableError(err) {
				return backoff.Permanent(err)
			}
			if retryAfter := llm.ExtractRetryAfter(err); retryAfter != nil && *retryAfter > 0 {
				g.logger.Warn().Dur("retryAfter", *retryAfter).Int("attempt", attempt).Msg("Rate limited, waiting before retry")
				select {
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				case <-time.After(*retryAfter):
				}
			}
			g.logger.Warn().Err(err).Int("attempt", attempt).Str("request", req.Name).Msg("Retryable LLM error")
			return err
		}

		if err := decodeStructured(resp.Text(), out); err != nil {
			return backoff.Permanent(&SchemaError{Name: req.Name, Err: err})
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		g.logger.Error().Err(err).Str("request", req.Name).Int("attempts", attempt).Msg("Structured generation failed")
		return err
	}
	return nil
}

// decodeStructured pulls the JSON object out of a model reply, decodes it
// into out and validates it. Extra fields are ignored.
func decodeStructured(text string, out Validator) error {
	raw := extractJSONObject(text)
	if raw == "" {
		return errors.New("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return out.Validate()
}

// extractJSONObject tolerates code fences and prose around the object.
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

var keywordSanitizer = regexp.MustCompile(`[^a-z0-9_ -]+`)

// sanitizeKeywords lowercases, strips punctuation, dedups and caps the list.
func sanitizeKeywords(keywords []string) []string {
	out := lo.FilterMap(keywords, func(kw string, _ int) (string, bool) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		kw = keywordSanitizer.ReplaceAllString(kw, "")
		kw = strings.Trim(kw, "_- ")
		return kw, kw != ""
	})
	out = lo.Uniq(out)
	if len(out) > 8 {
		out = out[:8]
	}
	return out
}

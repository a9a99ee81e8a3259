package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/samber/lo"
)

// MemoryBackend is the subset of memory.Service the tools call.
type MemoryBackend interface {
	AddFromTool(ctx context.Context, ownerID, content, kind string, keywords []string) memory.AddResult
	SearchText(ctx context.Context, ownerID, query string, limit int) ([]memory.SearchResult, error)
	CoreProfile(ctx context.Context, ownerID string) ([]memory.CoreBlock, error)
}

const defaultSearchLimit = 5

// RegisterMemoryTools registers memory_remember, memory_search and
// memory_core_profile. Tool names must match ^[a-zA-Z0-9_-]{1,128}$.
func (r *Registry) RegisterMemoryTools(backend MemoryBackend) {
	r.Register("memory_remember", func(ctx context.Context, ownerID string, args json.RawMessage) (any, error) {
		var payload struct {
			Content  string   `json:"content"`
			Kind     string   `json:"kind"`
			Keywords []string `json:"keywords"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		if payload.Kind == "" {
			payload.Kind = string(memory.KindSemantic)
		}
		// rejection is reported in the result so the model can react to it
		return backend.AddFromTool(ctx, ownerID, payload.Content, payload.Kind, payload.Keywords), nil
	})

	r.Register("memory_search", func(ctx context.Context, ownerID string, args json.RawMessage) (any, error) {
		var payload struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		if strings.TrimSpace(payload.Query) == "" {
			return nil, fmt.Errorf("query cannot be empty")
		}
		if payload.Limit <= 0 {
			payload.Limit = defaultSearchLimit
		}
		results, err := backend.SearchText(ctx, ownerID, payload.Query, payload.Limit)
		if err != nil {
			return nil, err
		}
		return lo.Map(results, func(res memory.SearchResult, _ int) map[string]any {
			out := map[string]any{
				"id":         res.Fact.ID,
				"content":    res.Fact.Content,
				"kind":       res.Fact.Kind,
				"score":      res.Score,
				"valid_from": res.Fact.ValidFrom,
			}
			if len(res.Fact.Keywords) > 0 {
				out["keywords"] = res.Fact.Keywords
			}
			return out
		}), nil
	})

	r.Register("memory_core_profile", func(ctx context.Context, ownerID string, _ json.RawMessage) (any, error) {
		blocks, err := backend.CoreProfile(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"blocks":   lo.SliceToMap(blocks, func(b memory.CoreBlock) (string, string) { return string(b.Label), b.Content }),
			"rendered": memory.RenderCoreProfile(blocks),
		}, nil
	})
}

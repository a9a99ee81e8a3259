package memory

import (
	"encoding/json"
	"fmt"
	"strings"
)

const extractionSystemPrompt = `You maintain long-term memory about a user from their conversations.

Read the conversation and extract facts worth remembering beyond this session. Each fact must
stand on its own without the conversation: write it in the third person, resolve pronouns and
relative dates, and keep one idea per fact.

Classify every fact with a kind:
- episodic: something that happened at a particular time ("Had a fight with Sam about chores on Sunday")
- semantic: a stable truth about the user or their world ("Partner's name is Sam")
- procedural: how the user likes things done or what works for them ("Prefers to talk things through after a walk")

Attach up to five short lowercase keywords per fact.

Separately, if the conversation changes what belongs in one of the always-loaded core profile
blocks, return the complete new text for that block. Valid labels are user_profile,
partner_info, relationship_context and preferences. Rewrite the whole block, merging what the
current block already says.

Skip greetings, small talk, and anything already captured in the core profile. Return empty
lists when there is nothing new.`

const decisionSystemPrompt = `You are a memory manager that keeps a user's long-term facts consistent.

You receive candidate facts extracted from a new conversation and the existing facts that are
most similar to them. For each candidate decide one action:
- ADD: the candidate is new information. content may rewrite it for clarity.
- UPDATE: the candidate refines or extends an existing fact. Give targetId of that fact and
  content with the merged text that replaces it.
- INVALIDATE: the candidate shows an existing fact is no longer true. Give its targetId.
  Emit a separate ADD decision for the same index if the candidate itself should be stored.
- NOOP: the candidate is already captured by an existing fact.

Only use ids from the existing facts list. Every decision needs a short reason.`

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"memories": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":  map[string]any{"type": "string"},
					"kind":     map[string]any{"type": "string", "enum": []string{"episodic", "semantic", "procedural"}},
					"keywords": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"content", "kind"},
			},
		},
		"core_memory_updates": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":   map[string]any{"type": "string", "enum": []string{"user_profile", "partner_info", "relationship_context", "preferences"}},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"label", "content"},
			},
		},
	},
	"required": []string{"memories", "core_memory_updates"},
}

var decisionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decisions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index":    map[string]any{"type": "integer"},
					"action":   map[string]any{"type": "string", "enum": []string{"ADD", "UPDATE", "INVALIDATE", "NOOP"}},
					"content":  map[string]any{"type": "string"},
					"targetId": map[string]any{"type": "string"},
					"reason":   map[string]any{"type": "string"},
				},
				"required": []string{"index", "action", "reason"},
			},
		},
	},
	"required": []string{"decisions"},
}

func buildExtractionPrompt(coreProfile string, window []Message) string {
	var sb strings.Builder
	sb.WriteString("Current core profile:\n")
	sb.WriteString(coreProfile)
	sb.WriteString("\n\nConversation:\n")
	for _, m := range window {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, strings.TrimSpace(m.Content))
	}
	return sb.String()
}

type promptCandidate struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
	Kind    Kind   `json:"kind"`
}

type promptExisting struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Kind       Kind    `json:"kind"`
	Similarity float64 `json:"similarity"`
}

func buildDecisionPrompt(candidates []Candidate, existing []SearchResult) (string, error) {
	cands := make([]promptCandidate, len(candidates))
	for i, c := range candidates {
		cands[i] = promptCandidate{Index: i, Content: c.Content, Kind: c.Kind}
	}
	ex := make([]promptExisting, len(existing))
	for i, e := range existing {
		ex[i] = promptExisting{ID: e.Fact.ID, Content: e.Fact.Content, Kind: e.Fact.Kind, Similarity: e.Score}
	}
	candJSON, err := json.MarshalIndent(cands, "", "  ")
	if err != nil {
		return "", err
	}
	exJSON, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Candidate facts:\n%s\n\nExisting facts:\n%s", candJSON, exJSON), nil
}

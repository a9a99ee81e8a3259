package schemas

// MemorySchemas returns schemas for memory-related tools.
func MemorySchemas() map[string]ToolSchema {
	return map[string]ToolSchema{
		"memory_remember": {
			Description: "Store one durable fact about the user. Identical facts are refused. Write it in the third person, e.g. 'User is allergic to peanuts'.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{
						"type":        "string",
						"description": "The fact to remember.",
					},
					"kind": map[string]any{
						"type":        "string",
						"enum":        []string{"episodic", "semantic", "procedural"},
						"description": "episodic for events, semantic for stable facts, procedural for habits and routines (default: semantic).",
					},
					"keywords": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Optional keywords for the fact.",
					},
				},
				"required": []string{"content"},
			},
		},
		"memory_search": {
			Description: "Search the user's current facts by meaning. Returns the closest facts with a similarity score.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What to look for.",
					},
					"limit": map[string]any{
						"type":        "number",
						"description": "Maximum number of results to return (default: 5).",
					},
				},
				"required": []string{"query"},
			},
		},
		"memory_core_profile": {
			Description: "Read the user's core profile: user profile, partner info, relationship context and preferences.",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

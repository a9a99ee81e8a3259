// Package schemas contains tool schema definitions. These define the input
// parameters and descriptions advertised for each tool.
package schemas

// ToolSchema represents a tool's description and JSON schema.
type ToolSchema struct {
	Description string
	Schema      map[string]any
}

// All returns all tool schemas.
func All() map[string]ToolSchema {
	return MemorySchemas()
}

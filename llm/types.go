package llm

import (
	"encoding/json"
	"strings"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    MessageRole
	Content []ContentBlock
}

// ContentBlock represents a single content block within a message.
type ContentBlock struct {
	Type ContentBlockType
	Text string
}

// ContentBlockType represents the type of content block.
type ContentBlockType string

const (
	ContentBlockTypeText ContentBlockType = "text"
	// ContentBlockTypeJSON carries a structured payload produced under a ResponseFormat.
	ContentBlockTypeJSON ContentBlockType = "json"
)

// ResponseFormat asks the provider to answer with a single JSON object that
// conforms to Schema. Providers enforce it with their native mechanism.
type ResponseFormat struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request represents a complete LLM API request.
type Request struct {
	Model          string
	Messages       []Message
	System         string
	MaxTokens      int64
	Temperature    *float64 // Optional temperature override
	ResponseFormat *ResponseFormat
}

// Response represents a complete LLM API response.
type Response struct {
	Content    []ContentBlock
	Usage      *Usage
	StopReason string
}

// Text concatenates the response blocks. A structured block, when present,
// wins over any surrounding prose.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == ContentBlockTypeJSON {
			return block.Text
		}
		sb.WriteString(block.Text)
	}
	return sb.String()
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	// Provider-specific usage fields can be added here
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// NewTextMessage creates a new message with a single text block.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{
			{
				Type: ContentBlockTypeText,
				Text: text,
			},
		},
	}
}

// PlainText joins the text blocks of a message.
func (m Message) PlainText() string {
	var sb strings.Builder
	for _, block := range m.Content {
		sb.WriteString(block.Text)
	}
	return sb.String()
}

// ToJSON marshals a message to JSON for debugging/logging purposes.
func (m Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SchemaJSON renders the schema for providers that take raw JSON.
func (f *ResponseFormat) SchemaJSON() (json.RawMessage, error) {
	if f == nil || f.Schema == nil {
		return nil, nil
	}
	b, err := json.Marshal(f.Schema)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

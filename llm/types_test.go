package llm

import (
	"encoding/json"
	"testing"
)

func TestNewTextMessage(t *testing.T) {
	msg := NewTextMessage(RoleUser, "Hello, world!")
	if msg.Role != RoleUser {
		t.Errorf("Expected role %v, got %v", RoleUser, msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("Expected 1 content block, got %d", len(msg.Content))
	}
	if msg.Content[0].Type != ContentBlockTypeText {
		t.Errorf("Expected text block type, got %v", msg.Content[0].Type)
	}
	if msg.PlainText() != "Hello, world!" {
		t.Errorf("Expected text 'Hello, world!', got %q", msg.PlainText())
	}
}

func TestResponseTextPrefersStructuredBlock(t *testing.T) {
	resp := &Response{Content: []ContentBlock{
		{Type: ContentBlockTypeText, Text: "Here you go: "},
		{Type: ContentBlockTypeJSON, Text: `{"ok":true}`},
	}}
	if got := resp.Text(); got != `{"ok":true}` {
		t.Errorf("Expected structured block, got %q", got)
	}

	plain := &Response{Content: []ContentBlock{
		{Type: ContentBlockTypeText, Text: "a"},
		{Type: ContentBlockTypeText, Text: "b"},
	}}
	if got := plain.Text(); got != "ab" {
		t.Errorf("Expected concatenated text, got %q", got)
	}

	var nilResp *Response
	if nilResp.Text() != "" {
		t.Error("Expected empty text for nil response")
	}
}

func TestResponseFormatSchemaJSON(t *testing.T) {
	f := &ResponseFormat{Name: "x", Schema: map[string]any{"type": "object"}}
	raw, err := f.SchemaJSON()
	if err != nil {
		t.Fatalf("SchemaJSON failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal schema: %v", err)
	}
	if decoded["type"] != "object" {
		t.Errorf("Expected type object, got %v", decoded["type"])
	}
}

func TestMessageToJSON(t *testing.T) {
	msg := NewTextMessage(RoleUser, "Test message")
	jsonData, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("Failed to marshal message to JSON: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(jsonData, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
	if decoded.Role != msg.Role {
		t.Errorf("Expected role %v, got %v", msg.Role, decoded.Role)
	}
}

package anthropic

import (
	"encoding/json"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/recall/llm"
	"github.com/samber/lo"
)

// ToMessageParams converts llm.Messages to Anthropic MessageParams. System
// messages are carried by the request's System field and are skipped here.
func ToMessageParams(msgs []llm.Message) []anthropic.MessageParam {
	msgs = lo.Filter(msgs, func(m llm.Message, _ int) bool { return m.Role != llm.RoleSystem })
	return lo.Map(msgs, func(m llm.Message, _ int) anthropic.MessageParam {
		blocks := lo.Map(m.Content, func(b llm.ContentBlock, _ int) anthropic.ContentBlockParamUnion {
			return anthropic.NewTextBlock(b.Text)
		})
		if m.Role == llm.RoleAssistant {
			return anthropic.NewAssistantMessage(blocks...)
		}
		return anthropic.NewUserMessage(blocks...)
	})
}

// ToStructuredTool turns a response format into the single tool the model is
// forced to call. Its input is the structured payload.
func ToStructuredTool(format *llm.ResponseFormat) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{
		Properties:  format.Schema["properties"],
		ExtraFields: map[string]any{},
	}
	if req, ok := format.Schema["required"].([]string); ok {
		schema.Required = req
	}
	for k, v := range format.Schema {
		switch k {
		case "type", "properties", "required":
		default:
			schema.ExtraFields[k] = v
		}
	}
	tool := anthropic.ToolParam{
		Name:        format.Name,
		Description: anthropic.String(format.Description),
		InputSchema: schema,
	}
	return anthropic.ToolUnionParam{OfTool: &tool}
}

// fromContent converts the response blocks. The forced tool call becomes a
// JSON block.
func fromContent(message *anthropic.Message, structured string) []llm.ContentBlock {
	content := make([]llm.ContentBlock, 0, len(message.Content))
	for _, blockUnion := range message.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: block.Text})
		case anthropic.ToolUseBlock:
			if block.Name != structured {
				continue
			}
			raw, err := json.Marshal(block.Input)
			if err != nil {
				continue
			}
			content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeJSON, Text: string(raw)})
		}
	}
	return content
}

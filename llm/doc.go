// Package llm provides a provider-neutral abstraction layer for Large Language Model (LLM) APIs.
//
// The memory pipeline only needs one thing from a model: a single JSON object
// that conforms to a schema. Requests therefore carry an optional
// ResponseFormat and each provider enforces it natively:
//
//   - anthropic: a forced call to a tool whose input schema is the format
//   - openai: a json_schema response format
//   - ollama: the chat request's format field
//
// The structured payload comes back as a ContentBlockTypeJSON block and
// Response.Text returns it.
//
// Usage Example
//
//	client := llm.Chain(baseClient, llm.NewLoggingMiddleware(logger), llm.WithTimeout(time.Minute))
//
//	resp, err := client.Synchronous(ctx, &llm.Request{
//	    Model:    "claude-haiku-4-5",
//	    System:   "Extract facts.",
//	    Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, transcript)},
//	    ResponseFormat: &llm.ResponseFormat{Name: "extract_memories", Schema: schema},
//	})
//
// Errors from providers are translated to *Error so callers can decide
// whether to retry with IsRetryableError.
package llm

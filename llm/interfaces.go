package llm

import (
	"context"
)

// Client provides a provider-neutral interface for making LLM API calls.
type Client interface {
	// Synchronous sends a request and returns a complete response.
	Synchronous(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a plain function to Client.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

// Synchronous calls f.
func (f ClientFunc) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware decorates a Client.
type Middleware func(next Client) Client

// Chain wraps client with middleware. The first middleware listed is the
// outermost, so it sees the request first and the response last.
func Chain(client Client, middleware ...Middleware) Client {
	for i := len(middleware) - 1; i >= 0; i-- {
		client = middleware[i](client)
	}
	return client
}

var _ Client = ClientFunc(nil)

package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// NewLoggingMiddleware logs every call with its model, duration and token usage.
func NewLoggingMiddleware(logger zerolog.Logger) Middleware {
	logger = logger.With().Str("component", "llm").Logger()
	return func(next Client) Client {
		return ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
			ev := logger.Debug().
				Str("model", req.Model).
				Int("messages", len(req.Messages))
			if req.ResponseFormat != nil {
				ev = ev.Str("format", req.ResponseFormat.Name)
			}
			ev.Msg("LLM request")

			start := time.Now()
			resp, err := next.Synchronous(ctx, req)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("model", req.Model).
					Dur("duration", time.Since(start)).
					Bool("retryable", IsRetryableError(err)).
					Msg("LLM request failed")
				return nil, err
			}

			ev = logger.Debug().
				Str("model", req.Model).
				Dur("duration", time.Since(start)).
				Str("stopReason", resp.StopReason)
			if resp.Usage != nil {
				ev = ev.Int64("inputTokens", resp.Usage.InputTokens).
					Int64("outputTokens", resp.Usage.OutputTokens)
			}
			ev.Msg("LLM response")
			return resp, nil
		})
	}
}

// WithTimeout bounds each call. A deadline hit here surfaces as a retryable
// timeout error. A non-positive d disables the bound.
func WithTimeout(d time.Duration) Middleware {
	return func(next Client) Client {
		if d <= 0 {
			return next
		}
		return ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			resp, err := next.Synchronous(ctx, req)
			if err != nil && ctx.Err() == context.DeadlineExceeded {
				return nil, NewTimeoutError(err)
			}
			return resp, err
		})
	}
}

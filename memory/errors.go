package memory

import (
	"errors"
	"fmt"
)

var (
	ErrFactNotFound      = errors.New("fact not found")
	ErrInvalidKind       = errors.New("invalid memory kind")
	ErrInvalidLabel      = errors.New("invalid core memory label")
	ErrEmptyContent      = errors.New("content is empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNoEmbedder        = errors.New("no embedder configured")
	ErrQueueStopped      = errors.New("queue stopped")
)

// SchemaError reports a model payload that did not match the expected schema.
type SchemaError struct {
	Name string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: schema validation failed: %v", e.Name, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// IsSchemaError reports whether err is, or wraps, a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

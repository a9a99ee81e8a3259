package memory

import (
	"context"
	"testing"
)

func TestCachedEmbedder(t *testing.T) {
	inner := newCountingEmbedder()
	cache, err := NewCachedEmbedder(inner, 16)
	if err != nil {
		t.Fatalf("NewCachedEmbedder: %v", err)
	}
	defer cache.Close()
	ctx := context.Background()

	first, err := cache.Embed(ctx, "likes tea")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	cache.Wait()

	first[0] = 42 // callers must not be able to poison the cache
	second, err := cache.Embed(ctx, "likes tea")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(inner.calls()) != 1 {
		t.Errorf("expected one upstream call, got %d", len(inner.calls()))
	}
	if second[0] == 42 {
		t.Error("cached vector was mutated through a returned slice")
	}

	if _, err := cache.Embed(ctx, "likes coffee"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(inner.calls()) != 2 {
		t.Errorf("different text should miss the cache, got %d calls", len(inner.calls()))
	}
}

func TestWithDimensions(t *testing.T) {
	e := WithDimensions(newSemanticEmbedder(8), 16)
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected a dimension mismatch error")
	}
	e = WithDimensions(newSemanticEmbedder(8), 8)
	if _, err := e.Embed(context.Background(), "hello"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

package conversations

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/aschepis/backscratcher/recall/migrations"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() }) //nolint:errcheck // Test cleanup
	if err := migrations.RunMigrations(db, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return NewStore(db, zerolog.Nop())
}

func TestStore_AppendAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	turns := []struct{ role, content string }{
		{RoleUser, "My sister is visiting next week"},
		{RoleAssistant, "How nice! What are you planning?"},
		{RoleUser, "Probably a trip to the coast"},
	}
	for _, turn := range turns {
		if err := s.AppendMessage(ctx, conv.ID, turn.role, turn.content); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != len(turns) {
		t.Fatalf("expected %d messages, got %d", len(turns), len(msgs))
	}
	for i, m := range msgs {
		if m.Role != turns[i].role || m.Content != turns[i].content {
			t.Errorf("message %d out of order: %+v", i, m)
		}
	}

	owner, err := s.Owner(ctx, conv.ID)
	if err != nil || owner != "alice" {
		t.Errorf("Owner = %q, %v", owner, err)
	}
}

func TestStore_AppendValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "missing", RoleUser, "hi"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
	conv, _ := s.Create(ctx, "alice")
	if err := s.AppendMessage(ctx, conv.ID, "tool", "{}"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func TestStore_Ensure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Ensure(ctx, "client-chosen-id", "alice"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.Ensure(ctx, "client-chosen-id", "alice"); err != nil {
		t.Fatalf("Ensure should be idempotent: %v", err)
	}
	if err := s.Ensure(ctx, "client-chosen-id", "bob"); !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("expected ErrOwnerMismatch, got %v", err)
	}

	convs, err := s.List(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "client-chosen-id" {
		t.Errorf("unexpected conversations %+v", convs)
	}
}

func TestStore_EmptyConversation(t *testing.T) {
	s := setupTestStore(t)
	conv, _ := s.Create(context.Background(), "alice")
	msgs, err := s.ListMessages(context.Background(), conv.ID)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected no messages, got %v %v", msgs, err)
	}
}

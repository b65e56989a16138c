package archive_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dpapantzikos/cvchat/internal/archive"
	"github.com/dpapantzikos/cvchat/internal/chat"
)

func newTestStore(t *testing.T) *archive.Store {
	t.Helper()
	s, err := archive.New(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user := chat.NewMessage(chat.RoleUser, "what do you work on?")
	assistant := chat.NewMessage(chat.RoleAssistant, "mostly dashboards and ML pipelines")
	if err := s.Append(ctx, "conv-1", user, assistant); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Messages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].ID != user.ID || got[1].ID != assistant.ID {
		t.Fatal("messages out of insertion order")
	}
	if got[0].Role != chat.RoleUser || got[1].Role != chat.RoleAssistant {
		t.Fatal("roles not preserved")
	}
}

func TestAppend_PreservesOrderAcrossCalls(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := chat.NewMessage(chat.RoleUser, "first")
	if err := s.Append(ctx, "conv-1", first); err != nil {
		t.Fatal(err)
	}
	second := chat.NewMessage(chat.RoleAssistant, "second")
	if err := s.Append(ctx, "conv-1", second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Messages(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
		t.Fatal("sequence numbers not continued across Append calls")
	}
}

func TestMessages_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Messages(context.Background(), "missing")
	if !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList_NewestFirstWithPreview(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Append(ctx, "older", chat.NewMessage(chat.RoleUser, "hello")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond) // RFC3339 second granularity
	if err := s.Append(ctx, "newer",
		chat.NewMessage(chat.RoleUser, "hi"),
		chat.NewMessage(chat.RoleAssistant, "hey there"),
	); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(got))
	}
	if got[0].ID != "newer" {
		t.Fatalf("expected newest first, got %s", got[0].ID)
	}
	if got[0].MessageCount != 2 {
		t.Fatalf("expected 2 messages in newest, got %d", got[0].MessageCount)
	}
	if got[0].LastMessage == nil || got[0].LastMessage.Content != "hey there" {
		t.Fatal("expected last-message preview")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Append(ctx, "conv-1", chat.NewMessage(chat.RoleUser, "hello")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "conv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Messages(ctx, "conv-1"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatal("conversation should be gone after delete")
	}
	if err := s.Delete(ctx, "conv-1"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for second delete, got %v", err)
	}
}

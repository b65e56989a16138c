package contextwin_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dpapantzikos/cvchat/internal/chat"
	"github.com/dpapantzikos/cvchat/internal/contextwin"
)

func makeHistory(n int) []chat.Message {
	msgs := make([]chat.Message, 0, n)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		msgs = append(msgs, chat.Message{
			ID:        fmt.Sprintf("m%02d", i),
			Role:      role,
			Content:   fmt.Sprintf("message number %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	return msgs
}

func TestOptimize_SlicesToMostRecent(t *testing.T) {
	history := makeHistory(25)
	res := contextwin.Optimize(history, contextwin.Options{
		MaxMessages:      20,
		MaxTokenBudget:   100000,
		PrioritizeRecent: true,
	})

	if len(res.Messages) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(res.Messages))
	}
	// Must be the last 20 in original relative order.
	for i, m := range res.Messages {
		want := history[5+i].ID
		if m.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, m.ID)
		}
	}
}

func TestOptimize_SlicesToEarliestWhenNotPrioritizingRecent(t *testing.T) {
	history := makeHistory(25)
	res := contextwin.Optimize(history, contextwin.Options{
		MaxMessages:    20,
		MaxTokenBudget: 100000,
	})

	if len(res.Messages) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(res.Messages))
	}
	if res.Messages[0].ID != history[0].ID {
		t.Fatalf("expected earliest-first slice to start at %s, got %s",
			history[0].ID, res.Messages[0].ID)
	}
}

func TestOptimize_TokenBudgetDropsOldestFirst(t *testing.T) {
	long := strings.Repeat("a", 400) // ~100 tokens each
	history := []chat.Message{
		{ID: "old", Role: chat.RoleUser, Content: long},
		{ID: "mid", Role: chat.RoleAssistant, Content: long},
		{ID: "new", Role: chat.RoleUser, Content: long},
	}
	res := contextwin.Optimize(history, contextwin.Options{
		MaxMessages:      10,
		MaxTokenBudget:   250,
		PrioritizeRecent: true,
	})

	if res.EstimatedTokens > 250 {
		t.Fatalf("estimate %d exceeds budget", res.EstimatedTokens)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.ID != "new" {
		t.Fatalf("most recent message must survive budget trimming, got %s", last.ID)
	}
}

func TestOptimize_ReducesToSingleMessageUnderTinyBudget(t *testing.T) {
	history := makeHistory(6)
	res := contextwin.Optimize(history, contextwin.Options{
		MaxMessages:      10,
		MaxTokenBudget:   1, // below even one message's cost
		PrioritizeRecent: true,
	})
	if len(res.Messages) != 1 {
		t.Fatalf("expected exactly one message under an impossible budget, got %d", len(res.Messages))
	}
	if res.Messages[0].ID != history[5].ID {
		t.Fatalf("the surviving message should be the most recent, got %s", res.Messages[0].ID)
	}
}

func TestOptimize_CollapsesAssistantRunsKeepsUserRuns(t *testing.T) {
	history := []chat.Message{
		{ID: "u1", Role: chat.RoleUser, Content: "first question"},
		{ID: "a1", Role: chat.RoleAssistant, Content: "answer"},
		{ID: "a2", Role: chat.RoleAssistant, Content: "duplicate answer"},
		{ID: "u2", Role: chat.RoleUser, Content: "second"},
		{ID: "u3", Role: chat.RoleUser, Content: "third"},
		{ID: "a3", Role: chat.RoleAssistant, Content: "reply"},
	}
	res := contextwin.Optimize(history, contextwin.Options{
		MaxMessages:           10,
		MaxTokenBudget:        100000,
		PrioritizeRecent:      true,
		CollapseAssistantRuns: true,
	})

	wantIDs := []string{"u1", "a1", "u2", "u3", "a3"}
	if len(res.Messages) != len(wantIDs) {
		t.Fatalf("expected %d messages, got %d", len(wantIDs), len(res.Messages))
	}
	for i, id := range wantIDs {
		if res.Messages[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, res.Messages[i].ID)
		}
	}
}

func TestOptimize_MonotonicallyNonIncreasing(t *testing.T) {
	history := makeHistory(30)
	inputTokens := chat.EstimateTokens(history)

	res := contextwin.Optimize(history, contextwin.Options{
		MaxMessages:           12,
		MaxTokenBudget:        500,
		PrioritizeRecent:      true,
		SystemPromptAllowance: 100,
		CollapseAssistantRuns: true,
	})

	if len(res.Messages) > len(history) {
		t.Fatal("output has more messages than input")
	}
	if len(res.Messages) > 12 {
		t.Fatalf("output exceeds MaxMessages: %d", len(res.Messages))
	}
	if got := chat.EstimateTokens(res.Messages); got > inputTokens {
		t.Fatalf("output token estimate %d exceeds input %d", got, inputTokens)
	}
	if res.EstimatedTokens > 500 {
		t.Fatalf("estimate %d exceeds budget", res.EstimatedTokens)
	}
}

func TestOptimize_Deterministic(t *testing.T) {
	history := makeHistory(30)
	opts := contextwin.DefaultOptions()

	a := contextwin.Optimize(history, opts)
	b := contextwin.Optimize(history, opts)

	if len(a.Messages) != len(b.Messages) || a.EstimatedTokens != b.EstimatedTokens {
		t.Fatal("optimize is not deterministic for identical input")
	}
	for i := range a.Messages {
		if a.Messages[i].ID != b.Messages[i].ID {
			t.Fatalf("position %d differs between runs", i)
		}
	}
}

func TestOptimize_DoesNotMutateInput(t *testing.T) {
	history := makeHistory(25)
	firstID := history[0].ID

	contextwin.Optimize(history, contextwin.DefaultOptions())

	if history[0].ID != firstID || len(history) != 25 {
		t.Fatal("input slice was mutated")
	}
}

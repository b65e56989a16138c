// Package chat defines the core conversation types shared by every component
// of the CV-chat session manager: messages, the error taxonomy, and the
// validation rules applied to outgoing message batches.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the conversation roles accepted
// in a transcript. System messages are injected at call time and never
// stored, so they are not valid transcript roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single turn in a conversation. Messages are immutable once
// created; the transcript owns them until persistence trimming evicts them.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a Message with a fresh UUID and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

const (
	// charsPerToken is the usual English BPE heuristic. The estimate is
	// intentionally imprecise — it is a soft budget, not a tokenizer.
	charsPerToken = 4

	// perMessageOverhead accounts for role framing and delimiters.
	perMessageOverhead = 4
)

// EstimateMessageTokens returns a rough token count for a single message.
func EstimateMessageTokens(m Message) int {
	n := len(m.Content) / charsPerToken
	if len(m.Content)%charsPerToken != 0 {
		n++
	}
	return n + perMessageOverhead
}

// EstimateTokens returns a rough token count for a message slice.
func EstimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}

// CloneMessages returns a copy of msgs. Components hand out clones so that
// callers can never mutate a transcript they do not own.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	cp := make([]Message, len(msgs))
	copy(cp, msgs)
	return cp
}

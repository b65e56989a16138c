package chat

import (
	"fmt"
	"strings"
)

// MaxOutgoingContentLen is the hard ceiling on a single outgoing message's
// content, enforced before any remote call. This is distinct from the rate
// limiter's UI-facing per-message limit, which is a deployment policy knob.
const MaxOutgoingContentLen = 4000

// ValidateOutgoing checks a message batch about to be sent to the remote
// model. It fails fast with a content error (never retryable) so that an
// invalid batch cannot consume retry budget or rate-limit quota.
func ValidateOutgoing(msgs []Message) error {
	if len(msgs) == 0 {
		return NewError(KindContent, "no messages to send")
	}
	for i, m := range msgs {
		if !m.Role.Valid() && m.Role != RoleSystem {
			return NewError(KindContent, fmt.Sprintf("message %d has invalid role %q", i, m.Role))
		}
		if strings.TrimSpace(m.Content) == "" {
			return NewError(KindContent, fmt.Sprintf("message %d has empty content", i))
		}
		if len(m.Content) > MaxOutgoingContentLen {
			return NewError(KindContent, fmt.Sprintf("message %d exceeds %d characters", i, MaxOutgoingContentLen))
		}
	}
	return nil
}

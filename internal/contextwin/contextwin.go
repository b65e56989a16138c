// Package contextwin bounds a conversation transcript to the context window
// actually sent to the remote model. The output is deterministic for a given
// input and configuration, and never larger than the input in either message
// count or estimated tokens.
package contextwin

import (
	"github.com/dpapantzikos/cvchat/internal/chat"
)

// Options configures a single Optimize call.
type Options struct {
	// MaxMessages caps the number of messages kept. Default 20.
	MaxMessages int

	// MaxTokenBudget caps the estimated token total, including the
	// system-prompt allowance. Default 2000.
	MaxTokenBudget int

	// PrioritizeRecent keeps the most recent messages when slicing and
	// drops the oldest first when trimming for budget. This is the default
	// and the only mode the orchestrator uses; the opposite ordering exists
	// so both directions stay testable.
	PrioritizeRecent bool

	// SystemPromptAllowance is the fixed token allowance reserved for the
	// system prompt that is prepended at call time. Default 200.
	SystemPromptAllowance int

	// CollapseAssistantRuns removes duplicate assistant turns so the model
	// is not confused by consecutive assistant messages. Consecutive user
	// messages are always preserved. This is a policy choice, kept
	// switchable per call-site rather than baked in.
	CollapseAssistantRuns bool
}

// DefaultOptions returns the options used by the session orchestrator.
func DefaultOptions() Options {
	return Options{
		MaxMessages:           20,
		MaxTokenBudget:        2000,
		PrioritizeRecent:      true,
		SystemPromptAllowance: 200,
		CollapseAssistantRuns: true,
	}
}

// Result is the bounded context window plus its token estimate.
type Result struct {
	Messages        []chat.Message
	EstimatedTokens int
}

// Optimize trims history to fit opts. The input slice is never mutated.
//
// Steps: slice to MaxMessages from the prioritized end, then drop messages
// from the opposite end until the token estimate (plus the system-prompt
// allowance) fits the budget or a single message remains, then collapse
// duplicate assistant runs.
func Optimize(history []chat.Message, opts Options) Result {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultOptions().MaxMessages
	}
	if opts.MaxTokenBudget <= 0 {
		opts.MaxTokenBudget = DefaultOptions().MaxTokenBudget
	}
	if opts.SystemPromptAllowance < 0 {
		opts.SystemPromptAllowance = 0
	}

	window := chat.CloneMessages(history)

	// 1. Bound the message count.
	if len(window) > opts.MaxMessages {
		if opts.PrioritizeRecent {
			window = window[len(window)-opts.MaxMessages:]
		} else {
			window = window[:opts.MaxMessages]
		}
	}

	// 2. Bound the token estimate, dropping from the end opposite to the
	// priority direction. Always retain at least one message.
	estimate := chat.EstimateTokens(window) + opts.SystemPromptAllowance
	for estimate > opts.MaxTokenBudget && len(window) > 1 {
		if opts.PrioritizeRecent {
			window = window[1:]
		} else {
			window = window[:len(window)-1]
		}
		estimate = chat.EstimateTokens(window) + opts.SystemPromptAllowance
	}

	// 3. Collapse duplicate-role runs.
	if opts.CollapseAssistantRuns {
		window = collapseRuns(window)
		estimate = chat.EstimateTokens(window) + opts.SystemPromptAllowance
	}

	return Result{Messages: window, EstimatedTokens: estimate}
}

// collapseRuns keeps the first message unconditionally, then keeps each
// subsequent message when its role differs from the previously kept one or
// when it is a user message. Consecutive user messages therefore survive,
// while an assistant run collapses to its first turn.
func collapseRuns(msgs []chat.Message) []chat.Message {
	if len(msgs) <= 1 {
		return msgs
	}
	kept := msgs[:1]
	for _, m := range msgs[1:] {
		prev := kept[len(kept)-1]
		if m.Role != prev.Role || m.Role == chat.RoleUser {
			kept = append(kept, m)
		}
	}
	return kept
}

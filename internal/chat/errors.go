package chat

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error produced anywhere in the chat pipeline. The
// orchestrator's retry policy and the user-facing renderer both dispatch on
// it.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindServer        Kind = "server"
	KindRateLimit     Kind = "rate_limit"
	KindAuth          Kind = "auth"
	KindContent       Kind = "content"
	KindTTSAPI        Kind = "tts_api"
	KindAudioPlayback Kind = "audio_playback"
	KindTextTooLong   Kind = "text_too_long"
	KindVoiceNotFound Kind = "voice_not_found"
)

// Error is the typed error carried through the pipeline. Remote-call
// failures propagate as *Error values up to the orchestrator, which decides
// between retrying and surfacing.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	// Cause is the underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates an *Error with the default retryability for its kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: defaultRetryable(kind)}
}

// WrapError creates an *Error wrapping cause with the default retryability
// for its kind.
func WrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: defaultRetryable(kind), Cause: cause}
}

// WrapUnknown classifies an error that carries no *Error already. Unexpected
// failures are treated as transport problems — retryable, so a transient
// glitch does not kill the conversation.
func WrapUnknown(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return WrapError(KindNetwork, "unexpected error", err)
}

// defaultRetryable is the default policy: transport, deadline, 5xx and 429
// failures are worth retrying; everything else is terminal.
func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindTimeout, KindServer, KindRateLimit:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err should be retried under the default
// policy. Errors that are not *Error values are treated as retryable
// transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}

// KindOf extracts the Kind from err, or KindNetwork when err carries no
// classification.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindNetwork
}

// userMessages maps each error kind to the text shown to the visitor. The
// lookup is pure — rendering decisions (retry affordance, waits) stay with
// the UI layer.
var userMessages = map[Kind]string{
	KindNetwork:       "Connection trouble — please check your network and try again.",
	KindTimeout:       "The reply took too long. Please try again.",
	KindServer:        "The assistant is having a moment. Please try again shortly.",
	KindRateLimit:     "You're sending messages a bit fast. Give it a few seconds.",
	KindAuth:          "The chat service is misconfigured. Please come back later.",
	KindContent:       "That message can't be sent. Try rephrasing it.",
	KindTTSAPI:        "Voice playback is unavailable right now.",
	KindAudioPlayback: "Couldn't play the audio reply.",
	KindTextTooLong:   "That reply is too long to read aloud.",
	KindVoiceNotFound: "The configured voice isn't available.",
}

// UserMessage returns the user-facing text for an error kind.
func (k Kind) UserMessage() string {
	if msg, ok := userMessages[k]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}

// SuggestedRetryDelay returns how long the UI should suggest waiting before
// a manual retry. Zero means no wait is needed (or none will help).
func (k Kind) SuggestedRetryDelay() time.Duration {
	switch k {
	case KindRateLimit:
		return 10 * time.Second
	case KindServer:
		return 5 * time.Second
	case KindNetwork, KindTimeout:
		return 3 * time.Second
	default:
		return 0
	}
}

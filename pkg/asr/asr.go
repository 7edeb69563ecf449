// Package asr implements the streaming speech recognition channel: a
// persistent duplex websocket that carries canonical audio frames outbound
// and partial/final transcript events inbound, with pause/resume and
// automatic reconnection.
package asr

import (
	"context"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
)

// Kind distinguishes transcript events.
type Kind int

const (
	// KindPartial carries interim text that may still change.
	KindPartial Kind = iota
	// KindFinal carries committed text and ends one utterance.
	KindFinal
	// KindError carries a channel fault (recognition or connection).
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// TranscriptEvent is one inbound recognition event. Zero or more partial
// events may precede each final event.
type TranscriptEvent struct {
	Kind Kind
	Text string
	Err  error // set only for KindError
}

// Recognizer is the recognition channel contract the session depends on.
type Recognizer interface {
	// Start opens the connection and waits for the ready acknowledgment.
	Start(ctx context.Context) error

	// SendFrame forwards one canonical frame. No-op while paused.
	SendFrame(frame *rtc.AudioFrame) error

	// Pause stops outbound sending; depending on policy the connection may
	// also be torn down.
	Pause(ctx context.Context) error

	// Resume re-opens the connection if needed and resumes sending.
	Resume(ctx context.Context) error

	// Events returns the transcript event stream. Closed after Stop.
	Events() <-chan TranscriptEvent

	// Stop tears the channel down. Idempotent.
	Stop() error
}

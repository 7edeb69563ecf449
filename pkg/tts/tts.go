// Package tts implements the streaming speech synthesis channel: a
// persistent duplex websocket that carries speak commands outbound and
// streamed audio chunks inbound, feeding the playback buffer. A speak's
// handle completes on true playback completion, not on byte transfer.
package tts

import (
	"context"
	"sync"
)

// SpeakRequest asks for one utterance to be synthesized and played.
type SpeakRequest struct {
	Text  string
	Voice string // voice id; empty selects the channel's configured voice
}

// SpeakHandle tracks one in-flight utterance. Done closes when playback has
// truly finished: all network audio received AND the playback buffer
// drained AND the last scheduled unit's hardware callback fired.
type SpeakHandle struct {
	requestID string
	done      chan struct{}
	once      sync.Once
	err       error
}

func newSpeakHandle(requestID string) *SpeakHandle {
	return &SpeakHandle{requestID: requestID, done: make(chan struct{})}
}

// RequestID returns the wire id of this utterance.
func (h *SpeakHandle) RequestID() string { return h.requestID }

// Done returns a channel closed when playback completes or fails.
func (h *SpeakHandle) Done() <-chan struct{} { return h.done }

// Err returns the completion error. Valid after Done is closed; nil means
// the utterance played to the end.
func (h *SpeakHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until completion or ctx expiry.
func (h *SpeakHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SpeakHandle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// NewTestHandle creates a handle plus its finisher, for fake synthesizers.
func NewTestHandle(requestID string) (*SpeakHandle, func(error)) {
	h := newSpeakHandle(requestID)
	return h, h.finish
}

// Synthesizer is the synthesis channel contract the session depends on.
type Synthesizer interface {
	// Start opens the connection and waits for the ready acknowledgment.
	Start(ctx context.Context) error

	// Speak sends one synthesis request. The handle completes on true
	// playback completion per the SpeakHandle contract.
	Speak(ctx context.Context, req SpeakRequest) (*SpeakHandle, error)

	// Cancel aborts the in-flight utterance, if any, discarding buffered
	// audio. The utterance's handle completes with context.Canceled.
	Cancel()

	// Stop cancels any in-flight utterance and disconnects. Idempotent.
	Stop() error
}

// Package fake provides a scripted recognizer for testing the session
// without a network backend.
package fake

import (
	"context"
	"sync"

	"github.com/hearsay-ai/voiceloop/pkg/asr"
	"github.com/hearsay-ai/voiceloop/pkg/rtc"
)

// Recognizer is a scripted asr.Recognizer. Tests drive the inbound side
// with EmitPartial / EmitFinal / EmitError.
type Recognizer struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	paused   bool
	frames   int
	resumes  int
	startErr error

	events chan asr.TranscriptEvent
}

// NewRecognizer creates an idle fake recognizer.
func NewRecognizer() *Recognizer {
	return &Recognizer{events: make(chan asr.TranscriptEvent, 32)}
}

// FailStart makes the next Start return err.
func (r *Recognizer) FailStart(err error) {
	r.mu.Lock()
	r.startErr = err
	r.mu.Unlock()
}

func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	return nil
}

func (r *Recognizer) SendFrame(frame *rtc.AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused || !r.started {
		return nil
	}
	r.frames++
	return nil
}

func (r *Recognizer) Pause(ctx context.Context) error {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) Resume(ctx context.Context) error {
	r.mu.Lock()
	r.paused = false
	r.resumes++
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) Events() <-chan asr.TranscriptEvent { return r.events }

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true
	r.started = false
	close(r.events)
	return nil
}

// EmitPartial delivers an interim transcript.
func (r *Recognizer) EmitPartial(text string) {
	r.events <- asr.TranscriptEvent{Kind: asr.KindPartial, Text: text}
}

// EmitFinal delivers a committed transcript.
func (r *Recognizer) EmitFinal(text string) {
	r.events <- asr.TranscriptEvent{Kind: asr.KindFinal, Text: text}
}

// EmitError delivers a channel fault.
func (r *Recognizer) EmitError(err error) {
	r.events <- asr.TranscriptEvent{Kind: asr.KindError, Err: err}
}

// Paused reports the pause state.
func (r *Recognizer) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Started reports whether the channel is started and not stopped.
func (r *Recognizer) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// FramesSent returns how many frames were accepted while unpaused.
func (r *Recognizer) FramesSent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Resumes returns how many times Resume was called.
func (r *Recognizer) Resumes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumes
}

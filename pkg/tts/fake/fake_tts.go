// Package fake provides a scripted synthesizer for testing the session
// without a network backend or audio hardware.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/hearsay-ai/voiceloop/pkg/tts"
)

// Synthesizer is a scripted tts.Synthesizer. Speak returns a handle the
// test completes explicitly with FinishPlayback or implicitly via Cancel.
type Synthesizer struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	requests []tts.SpeakRequest
	active   *controllableHandle
	cancels  int
	speakErr error
}

type controllableHandle struct {
	handle *tts.SpeakHandle
	finish func(error)
}

// NewSynthesizer creates an idle fake synthesizer.
func NewSynthesizer() *Synthesizer { return &Synthesizer{} }

// FailSpeak makes subsequent Speak calls return err.
func (s *Synthesizer) FailSpeak(err error) {
	s.mu.Lock()
	s.speakErr = err
	s.mu.Unlock()
}

func (s *Synthesizer) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Speak(ctx context.Context, req tts.SpeakRequest) (*tts.SpeakHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return nil, fmt.Errorf("synthesizer not started")
	}
	if s.speakErr != nil {
		return nil, s.speakErr
	}
	s.requests = append(s.requests, req)
	handle, finish := tts.NewTestHandle(fmt.Sprintf("fake-%d", len(s.requests)))
	s.active = &controllableHandle{handle: handle, finish: finish}
	return handle, nil
}

func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.cancels++
	s.mu.Unlock()
	if active != nil {
		active.finish(context.Canceled)
	}
}

func (s *Synthesizer) Stop() error {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.stopped = true
	s.started = false
	s.mu.Unlock()
	if active != nil {
		active.finish(context.Canceled)
	}
	return nil
}

// FinishPlayback completes the in-flight utterance as fully played.
func (s *Synthesizer) FinishPlayback() {
	s.FinishPlaybackWith(nil)
}

// FinishPlaybackWith completes the in-flight utterance with err.
func (s *Synthesizer) FinishPlaybackWith(err error) {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()
	if active != nil {
		active.finish(err)
	}
}

// Requests returns all speak requests seen so far.
func (s *Synthesizer) Requests() []tts.SpeakRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tts.SpeakRequest(nil), s.requests...)
}

// Cancels returns how many times Cancel was called.
func (s *Synthesizer) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// Speaking reports whether an utterance is in flight.
func (s *Synthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

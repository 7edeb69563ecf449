// Package vad implements voice activity detection over canonical audio
// frames: short-term energy with hysteresis for debounced speech-start and
// speech-end events, and barge-in ("interruption") detection while
// synthesized speech is playing.
package vad

import (
	"context"
	"time"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
)

// EventType represents the type of VAD event.
type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
	EventInterruption
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventInterruption:
		return "interruption"
	default:
		return "unknown"
	}
}

// Event is one debounced voice activity event. Timestamp is the capture
// timestamp of the frame that confirmed the event.
type Event struct {
	Type      EventType
	Timestamp time.Duration
	Energy    float64 // normalized [0,1] energy of the confirming frame
}

// Detector is a stateful per-frame voice activity detector.
//
// ProcessFrame returns the events confirmed by this frame. The returned
// slice shares the detector's scratch storage and is valid only until the
// next call; steady-state frames return nil without allocating.
type Detector interface {
	ProcessFrame(frame *rtc.AudioFrame) []Event

	// SetAISpeaking toggles interruption mode: while set, a confirmed
	// speech start additionally yields EventInterruption. Both edges reset
	// the hysteresis counters so no stale state crosses the mode boundary.
	SetAISpeaking(speaking bool)

	// Reset clears all detection state.
	Reset()
}

// Stream adapts a detector to channel plumbing: frames in, events out.
// The returned channel closes when frames closes or ctx is done.
func Stream(ctx context.Context, d Detector, frames <-chan *rtc.AudioFrame) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				for _, ev := range d.ProcessFrame(frame) {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return events
}

// Package fake provides a scripted voice activity detector for testing the
// session without real audio energy.
package fake

import (
	"sync"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
	"github.com/hearsay-ai/voiceloop/pkg/vad"
)

// Detector is a scripted VAD. Tests queue events and they are delivered on
// the next processed frame; a queued speech start automatically gains an
// interruption event while aiSpeaking mode is set, matching the real
// detector's contract.
type Detector struct {
	mu         sync.Mutex
	pending    []vad.Event
	aiSpeaking bool
	frames     int
	resets     int
}

// NewDetector creates an empty scripted detector.
func NewDetector() *Detector { return &Detector{} }

// QueueEvent schedules an event for delivery on the next frame.
func (d *Detector) QueueEvent(t vad.EventType) {
	d.mu.Lock()
	d.pending = append(d.pending, vad.Event{Type: t})
	d.mu.Unlock()
}

// ProcessFrame delivers any queued events.
func (d *Detector) ProcessFrame(frame *rtc.AudioFrame) []vad.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames++
	if len(d.pending) == 0 {
		return nil
	}
	events := make([]vad.Event, 0, len(d.pending)+1)
	for _, ev := range d.pending {
		ev.Timestamp = frame.Timestamp
		events = append(events, ev)
		if ev.Type == vad.EventSpeechStart && d.aiSpeaking {
			events = append(events, vad.Event{Type: vad.EventInterruption, Timestamp: frame.Timestamp})
		}
	}
	d.pending = nil
	return events
}

// SetAISpeaking records interruption mode.
func (d *Detector) SetAISpeaking(speaking bool) {
	d.mu.Lock()
	d.aiSpeaking = speaking
	d.mu.Unlock()
}

// Reset records a reset request.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.pending = nil
	d.resets++
	d.mu.Unlock()
}

// AISpeaking reports the current interruption mode, for assertions.
func (d *Detector) AISpeaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aiSpeaking
}

// FramesProcessed returns how many frames have been seen.
func (d *Detector) FramesProcessed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

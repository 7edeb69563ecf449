package vad

import (
	"math"
	"sync"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
)

// Default tuning, sized for 64 ms frames: ~400 ms to confirm speech,
// ~500 ms of silence to confirm the end of an utterance.
// The defaults are deliberately conservative so that noise bursts shorter
// than the confirm window never flap the state.
const (
	DefaultEnergyThreshold      = 0.08
	DefaultSpeechConfirmFrames  = 16
	DefaultSilenceConfirmFrames = 20
)

// Config tunes the energy detector. Zero values select the defaults.
type Config struct {
	EnergyThreshold      float64
	SpeechConfirmFrames  int
	SilenceConfirmFrames int
}

func (c Config) withDefaults() Config {
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.SpeechConfirmFrames <= 0 {
		c.SpeechConfirmFrames = DefaultSpeechConfirmFrames
	}
	if c.SilenceConfirmFrames <= 0 {
		c.SilenceConfirmFrames = DefaultSilenceConfirmFrames
	}
	return c
}

// EnergyDetector implements Detector using root-mean-square frame energy
// with dual-counter hysteresis.
type EnergyDetector struct {
	cfg Config

	mu         sync.Mutex
	inSpeech   bool
	aboveCount int
	belowCount int
	aiSpeaking bool

	scratch [2]Event // reused event storage; max two events per frame
}

// NewEnergyDetector creates a detector with the given configuration.
func NewEnergyDetector(cfg Config) *EnergyDetector {
	return &EnergyDetector{cfg: cfg.withDefaults()}
}

// ProcessFrame computes the frame's normalized RMS energy and applies
// hysteresis. O(frame size), no allocation on the steady-state path.
func (d *EnergyDetector) ProcessFrame(frame *rtc.AudioFrame) []Event {
	energy := Energy(frame)

	d.mu.Lock()
	defer d.mu.Unlock()

	events := d.scratch[:0]
	if energy >= d.cfg.EnergyThreshold {
		d.aboveCount++
		d.belowCount = 0
		if !d.inSpeech && d.aboveCount >= d.cfg.SpeechConfirmFrames {
			d.inSpeech = true
			events = append(events, Event{Type: EventSpeechStart, Timestamp: frame.Timestamp, Energy: energy})
			if d.aiSpeaking {
				events = append(events, Event{Type: EventInterruption, Timestamp: frame.Timestamp, Energy: energy})
			}
		}
	} else {
		d.belowCount++
		d.aboveCount = 0
		if d.inSpeech && d.belowCount >= d.cfg.SilenceConfirmFrames {
			d.inSpeech = false
			events = append(events, Event{Type: EventSpeechEnd, Timestamp: frame.Timestamp, Energy: energy})
		}
	}
	if len(events) == 0 {
		return nil
	}
	return events
}

// SetAISpeaking toggles interruption mode and resets the counters.
func (d *EnergyDetector) SetAISpeaking(speaking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.aiSpeaking == speaking {
		return
	}
	d.aiSpeaking = speaking
	d.inSpeech = false
	d.aboveCount = 0
	d.belowCount = 0
}

// Reset clears all detection state, leaving configuration intact.
func (d *EnergyDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inSpeech = false
	d.aboveCount = 0
	d.belowCount = 0
	d.aiSpeaking = false
}

// InSpeech reports whether the detector currently considers the stream to
// be inside an utterance.
func (d *EnergyDetector) InSpeech() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inSpeech
}

// Energy returns the RMS energy of a canonical frame normalized to [0,1].
func Energy(frame *rtc.AudioFrame) float64 {
	if frame.Samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < frame.Samples; i++ {
		s := float64(frame.Sample(i)) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(frame.Samples))
}

package vad

import (
	"context"
	"testing"
	"time"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
)

// frameWithAmplitude builds a canonical frame whose every sample has the
// given amplitude in [0,1], so RMS energy equals the amplitude.
func frameWithAmplitude(amp float64, ts time.Duration) *rtc.AudioFrame {
	sample := int16(amp * 32768)
	if amp >= 1 {
		sample = 32767
	}
	data := make([]byte, rtc.SamplesPerFrame*2)
	for i := 0; i < rtc.SamplesPerFrame; i++ {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return &rtc.AudioFrame{Data: data, Samples: rtc.SamplesPerFrame, Timestamp: ts}
}

func collect(d Detector, amps []float64) []Event {
	var events []Event
	for i, a := range amps {
		events = append(events, d.ProcessFrame(frameWithAmplitude(a, time.Duration(i)*64*time.Millisecond))...)
	}
	return events
}

func repeat(amp float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp
	}
	return out
}

func TestEnergy(t *testing.T) {
	if e := Energy(frameWithAmplitude(0, 0)); e != 0 {
		t.Errorf("silence energy = %v, want 0", e)
	}
	e := Energy(frameWithAmplitude(0.5, 0))
	if e < 0.49 || e > 0.51 {
		t.Errorf("half-scale energy = %v, want ~0.5", e)
	}
}

func TestEnergyDetector_ConfirmsAfterThresholdRun(t *testing.T) {
	d := NewEnergyDetector(Config{})

	seq := append(repeat(0.5, 16), repeat(0.01, 20)...)
	events := collect(d, seq)

	if len(events) != 2 {
		t.Fatalf("events = %v, want start then end", events)
	}
	if events[0].Type != EventSpeechStart {
		t.Errorf("first event = %v, want speech_start", events[0].Type)
	}
	if events[1].Type != EventSpeechEnd {
		t.Errorf("second event = %v, want speech_end", events[1].Type)
	}
	// Start confirmed on the 16th frame of speech.
	if events[0].Timestamp != 15*64*time.Millisecond {
		t.Errorf("start timestamp = %v, want frame 16", events[0].Timestamp)
	}
}

// A 15-frame run followed by silence is below the confirm window and must
// produce no events at the default configuration.
func TestEnergyDetector_ShortBurstIgnored(t *testing.T) {
	d := NewEnergyDetector(Config{})

	seq := append(repeat(0.5, 15), repeat(0.01, 40)...)
	if events := collect(d, seq); len(events) != 0 {
		t.Errorf("short burst produced events: %v", events)
	}
}

// A silence gap shorter than the silence window must not split an
// utterance, and the counter reset on each crossing means interrupted runs
// start counting again from zero.
func TestEnergyDetector_HysteresisSuppressesFlapping(t *testing.T) {
	d := NewEnergyDetector(Config{EnergyThreshold: 0.08, SpeechConfirmFrames: 4, SilenceConfirmFrames: 6})

	var seq []float64
	seq = append(seq, repeat(0.5, 4)...)  // confirm start
	seq = append(seq, repeat(0.01, 5)...) // below silence window: no end
	seq = append(seq, repeat(0.5, 10)...) // still the same utterance
	seq = append(seq, repeat(0.01, 6)...) // confirm end

	events := collect(d, seq)
	if len(events) != 2 || events[0].Type != EventSpeechStart || events[1].Type != EventSpeechEnd {
		t.Fatalf("events = %v, want exactly one start and one end", events)
	}
}

// One maximal above-threshold run yields at most one speech start no matter
// how long it continues.
func TestEnergyDetector_AtMostOneStartPerRun(t *testing.T) {
	d := NewEnergyDetector(Config{SpeechConfirmFrames: 4, SilenceConfirmFrames: 4})

	events := collect(d, repeat(0.9, 100))
	if len(events) != 1 || events[0].Type != EventSpeechStart {
		t.Fatalf("events = %v, want exactly one speech_start", events)
	}
}

func TestEnergyDetector_MonotonicAlternation(t *testing.T) {
	d := NewEnergyDetector(Config{SpeechConfirmFrames: 2, SilenceConfirmFrames: 2})

	var seq []float64
	for i := 0; i < 10; i++ {
		seq = append(seq, repeat(0.5, 5)...)
		seq = append(seq, repeat(0.01, 5)...)
	}

	events := collect(d, seq)
	wantStart := true
	for i, ev := range events {
		if wantStart && ev.Type != EventSpeechStart {
			t.Fatalf("event %d = %v, want speech_start", i, ev.Type)
		}
		if !wantStart && ev.Type != EventSpeechEnd {
			t.Fatalf("event %d = %v, want speech_end", i, ev.Type)
		}
		wantStart = !wantStart
	}
	if len(events) != 20 {
		t.Errorf("events = %d, want 20 alternating", len(events))
	}
}

func TestEnergyDetector_InterruptionWhileAISpeaking(t *testing.T) {
	d := NewEnergyDetector(Config{SpeechConfirmFrames: 4, SilenceConfirmFrames: 4})
	d.SetAISpeaking(true)

	events := collect(d, repeat(0.5, 10))

	var starts, interruptions int
	for _, ev := range events {
		switch ev.Type {
		case EventSpeechStart:
			starts++
		case EventInterruption:
			interruptions++
		}
	}
	if starts != 1 || interruptions != 1 {
		t.Fatalf("starts=%d interruptions=%d, want exactly one of each", starts, interruptions)
	}
}

func TestEnergyDetector_NoInterruptionWhenNotAISpeaking(t *testing.T) {
	d := NewEnergyDetector(Config{SpeechConfirmFrames: 4, SilenceConfirmFrames: 4})

	for _, ev := range collect(d, repeat(0.5, 10)) {
		if ev.Type == EventInterruption {
			t.Fatal("interruption emitted outside aiSpeaking mode")
		}
	}
}

// Mode transitions reset the counters: speech accumulated before the AI
// started speaking must not leak into an instant interruption.
func TestEnergyDetector_ModeChangeResetsCounters(t *testing.T) {
	d := NewEnergyDetector(Config{SpeechConfirmFrames: 4, SilenceConfirmFrames: 4})

	collect(d, repeat(0.5, 3)) // below confirm, counters primed
	d.SetAISpeaking(true)

	events := collect(d, repeat(0.5, 3))
	if len(events) != 0 {
		t.Fatalf("stale counters crossed the mode boundary: %v", events)
	}
	// The fourth frame after the reset confirms.
	events = collect(d, repeat(0.5, 1))
	if len(events) != 2 {
		t.Fatalf("events = %v, want start plus interruption", events)
	}
}

func TestStream_ClosesWithInput(t *testing.T) {
	d := NewEnergyDetector(Config{SpeechConfirmFrames: 2, SilenceConfirmFrames: 2})
	frames := make(chan *rtc.AudioFrame, 8)
	events := Stream(context.Background(), d, frames)

	for i := 0; i < 4; i++ {
		frames <- frameWithAmplitude(0.5, time.Duration(i)*64*time.Millisecond)
	}
	close(frames)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Type != EventSpeechStart {
		t.Fatalf("events = %v, want one speech_start", got)
	}
}

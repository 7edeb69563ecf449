// Package rtc defines the canonical audio frame type exchanged between the
// capture pipeline, the voice activity detector, and the recognition channel.
package rtc

import (
	"fmt"
	"time"
)

// Canonical format constants. Every AudioFrame in the pipeline is mono,
// 16 kHz, 16-bit signed little-endian PCM.
const (
	SampleRate      = 16000
	NumChannels     = 1
	BytesPerSample  = 2
	SamplesPerFrame = 1024 // nominal frame, 64 ms at 16 kHz
)

// AudioFrame represents a buffer of canonical-format PCM audio.
// Len(Data) == Samples * 2. Frames are immutable after creation: consumers
// that retain a frame past the delivery callback must Clone it.
//
// A zero Timestamp means "live"; otherwise it is the capture offset from
// session start.
type AudioFrame struct {
	Data      []byte        // 16-bit PCM, little-endian
	Samples   int           // sample count (mono)
	Timestamp time.Duration // optional
}

// NewAudioFrame creates an AudioFrame over data, validating that the byte
// length matches the declared sample count.
func NewAudioFrame(data []byte, samples int, timestamp time.Duration) (*AudioFrame, error) {
	if len(data) != samples*BytesPerSample {
		return nil, fmt.Errorf("audio frame length mismatch: got %d bytes, want %d for %d mono 16-bit samples",
			len(data), samples*BytesPerSample, samples)
	}
	return &AudioFrame{Data: data, Samples: samples, Timestamp: timestamp}, nil
}

// Clone creates a deep copy of the frame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &AudioFrame{Data: data, Samples: f.Samples, Timestamp: f.Timestamp}
}

// Duration returns the wall-clock duration the frame represents.
func (f *AudioFrame) Duration() time.Duration {
	return time.Duration(f.Samples) * time.Second / SampleRate
}

// Sample returns the i-th sample decoded from the little-endian buffer.
func (f *AudioFrame) Sample(i int) int16 {
	return int16(f.Data[i*2]) | int16(f.Data[i*2+1])<<8
}

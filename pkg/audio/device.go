// Package audio implements the capture side (microphone normalization into
// canonical frames) and the playback side (streamed synthesis audio sliced
// into scheduled units) of the voice pipeline.
package audio

import "time"

// Format describes the native format of a hardware stream.
type Format struct {
	SampleRate int // samples per second
	Channels   int // interleaved channel count
}

// CaptureDevice abstracts a microphone input stream. The device delivers
// interleaved float32 buffers at its native format on a real-time-sensitive
// callback: the callback must not block and must not retain the buffer.
type CaptureDevice interface {
	// Format returns the device's native format. Valid before Start.
	Format() Format

	// Start begins capture, invoking onBuffer for every hardware buffer.
	Start(onBuffer func(samples []float32)) error

	// Stop ends capture and releases the device. The callback has quiesced
	// by the time Stop returns. Idempotent.
	Stop() error
}

// Output abstracts the audio playback device. Schedule hands one playback
// unit to the hardware; done fires from the output subsystem's completion
// context when the unit has actually been played (or failed).
type Output interface {
	// Start prepares the output stream. Idempotent.
	Start() error

	// Schedule enqueues pcm (16-bit little-endian mono) for playback.
	// The unit is owned by the device until done fires.
	Schedule(pcm []byte, done func(err error)) error

	// Stop halts playback, discarding scheduled units. Pending done
	// callbacks still fire (with an error) before Stop returns.
	Stop() error
}

// PlaybackSampleRate is the sample rate of synthesized audio received from
// the synthesis channel.
const PlaybackSampleRate = 24000

// PlaybackUnitDuration is the nominal duration of one scheduled unit.
const PlaybackUnitDuration = 200 * time.Millisecond

// PlaybackUnitBytes is the size of one scheduled unit:
// 200 ms at 24 kHz mono 16-bit.
const PlaybackUnitBytes = PlaybackSampleRate * 2 / 5

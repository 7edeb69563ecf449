package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hearsay-ai/voiceloop/pkg/voice"
)

// PlaybackConfig tunes the streaming playback buffer.
type PlaybackConfig struct {
	// UnitBytes is the size of one scheduled playback unit.
	// Defaults to PlaybackUnitBytes (200 ms at 24 kHz mono 16-bit).
	UnitBytes int

	// CheckInterval is the period of the completion re-check that covers
	// races between hardware callbacks and MarkInputFinished.
	// Defaults to 100 ms.
	CheckInterval time.Duration
}

// PlaybackBuffer accepts arbitrary-length audio byte streams, slices them
// into fixed-size units scheduled on the Output, and detects true playback
// completion: input finished AND byte queue empty AND zero units pending a
// hardware completion callback. "All bytes received" is not "done playing".
//
// The completion callback fires exactly once, with nil on a full natural
// drain, context.Canceled after Cancel, or the device error on a playback
// fault.
type PlaybackBuffer struct {
	out      Output
	cfg      PlaybackConfig
	logger   *slog.Logger
	complete func(err error)

	mu            sync.Mutex
	queue         []byte
	inputFinished bool
	pending       int
	done          bool
	failure       error

	stopCheck chan struct{}
	stopOnce  sync.Once
}

// NewPlaybackBuffer creates a buffer over out and starts the periodic
// completion check. complete is invoked exactly once from an internal
// goroutine or a device callback.
func NewPlaybackBuffer(out Output, cfg PlaybackConfig, logger *slog.Logger, complete func(err error)) (*PlaybackBuffer, error) {
	if cfg.UnitBytes <= 0 {
		cfg.UnitBytes = PlaybackUnitBytes
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := out.Start(); err != nil {
		return nil, voice.WrapError(voice.CodeSynthesisFailed, err, "audio output unavailable")
	}
	b := &PlaybackBuffer{
		out:       out,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "playback")),
		complete:  complete,
		stopCheck: make(chan struct{}),
	}
	go b.checkLoop()
	return b, nil
}

// Write appends audio bytes and opportunistically schedules units.
func (b *PlaybackBuffer) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	if b.inputFinished {
		b.logger.Warn("write after input finished, dropping", slog.Int("bytes", len(p)))
		return nil
	}
	b.queue = append(b.queue, p...)
	b.scheduleLocked()
	return nil
}

// MarkInputFinished records that no more bytes will arrive. Any partial
// trailing unit is flushed to the device.
func (b *PlaybackBuffer) MarkInputFinished() {
	b.mu.Lock()
	b.inputFinished = true
	b.scheduleLocked()
	b.mu.Unlock()
	b.checkComplete()
}

// Cancel discards queued audio and completes the buffer with
// context.Canceled once units already handed to the hardware settle.
func (b *PlaybackBuffer) Cancel() {
	b.mu.Lock()
	b.queue = nil
	b.inputFinished = true
	if b.failure == nil {
		b.failure = context.Canceled
	}
	b.mu.Unlock()
	b.checkComplete()
}

// Pending returns the number of units awaiting a hardware callback.
func (b *PlaybackBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// scheduleLocked slices full units off the queue and hands them to the
// output device. The trailing partial unit is held back until input
// finishes. Caller holds b.mu.
func (b *PlaybackBuffer) scheduleLocked() {
	if b.done || b.failure != nil {
		return
	}
	for len(b.queue) >= b.cfg.UnitBytes || (b.inputFinished && len(b.queue) > 0) {
		n := b.cfg.UnitBytes
		if n > len(b.queue) {
			n = len(b.queue)
		}
		unit := make([]byte, n)
		copy(unit, b.queue[:n])
		b.queue = b.queue[n:]

		b.pending++
		if err := b.out.Schedule(unit, b.onUnitDone); err != nil {
			b.pending--
			b.failure = voice.WrapError(voice.CodeSynthesisFailed, err, "playback scheduling failed")
			b.queue = nil
			return
		}
	}
	if len(b.queue) == 0 {
		b.queue = nil
	}
}

// onUnitDone runs on the output subsystem's completion context.
func (b *PlaybackBuffer) onUnitDone(err error) {
	b.mu.Lock()
	b.pending--
	if err != nil && b.failure == nil {
		b.failure = voice.WrapError(voice.CodeSynthesisFailed, err, "playback unit failed")
		b.queue = nil
	}
	b.scheduleLocked()
	b.mu.Unlock()
	b.checkComplete()
}

// checkLoop re-evaluates the completion condition periodically. Hardware
// completion callbacks can race MarkInputFinished, so callback ordering
// alone is not trusted.
func (b *PlaybackBuffer) checkLoop() {
	ticker := time.NewTicker(b.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.checkComplete()
		case <-b.stopCheck:
			return
		}
	}
}

func (b *PlaybackBuffer) checkComplete() {
	b.mu.Lock()
	finished := b.inputFinished && len(b.queue) == 0 && b.pending == 0
	failed := b.failure != nil && b.pending == 0
	if b.done || (!finished && !failed) {
		b.mu.Unlock()
		return
	}
	b.done = true
	err := b.failure
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCheck) })
	if b.complete != nil {
		b.complete(err)
	}
}

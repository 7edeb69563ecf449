package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hearsay-ai/voiceloop/pkg/rtc"
	"github.com/hearsay-ai/voiceloop/pkg/voice"
)

// Tap is one registered consumer of canonical frames. Delivery never blocks
// the capture callback: a tap that cannot keep up drops frames and the drop
// counter records it.
type Tap struct {
	name    string
	frames  chan *rtc.AudioFrame
	gate    voice.MuteGate // nil means ungated
	dropped atomic.Int64
}

// Frames returns the tap's frame channel. It is closed when capture stops.
func (t *Tap) Frames() <-chan *rtc.AudioFrame { return t.frames }

// Dropped returns the number of frames discarded because the tap was full.
func (t *Tap) Dropped() int64 { return t.dropped.Load() }

// Name returns the tap's registration name.
func (t *Tap) Name() string { return t.name }

// CaptureConfig tunes the capture converter.
type CaptureConfig struct {
	// FrameSamples is the canonical frame size in samples.
	// Defaults to rtc.SamplesPerFrame (1024, 64 ms).
	FrameSamples int
}

// CaptureStats is a snapshot of capture counters.
type CaptureStats struct {
	FramesEmitted int64
	TapDrops      map[string]int64
}

// CaptureConverter owns the microphone stream and normalizes the device's
// native format (arbitrary rate, channel count, float samples) into
// canonical frames fanned out to every registered tap.
//
// All conversion state is touched only from the device callback, which the
// hardware serializes; the steady-state path reuses scratch buffers and
// allocates only the emitted frame itself.
type CaptureConverter struct {
	dev    CaptureDevice
	cfg    CaptureConfig
	logger *slog.Logger

	mu      sync.Mutex
	taps    []*Tap
	running bool

	// activeTaps is snapshotted at Start and read lock-free on the capture
	// callback. Taps must be registered before Start.
	activeTaps []*Tap

	// capture-callback state
	resampler  *linearResampler
	channels   int
	monoBuf    []float32
	canonBuf   []float32
	frameBuf   []byte
	frameFill  int
	emitted    atomic.Int64
	sampleOffs int64 // canonical samples emitted, for frame timestamps
}

// NewCaptureConverter creates a converter over dev. Taps must be registered
// before Start.
func NewCaptureConverter(dev CaptureDevice, cfg CaptureConfig, logger *slog.Logger) *CaptureConverter {
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = rtc.SamplesPerFrame
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureConverter{
		dev:    dev,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "capture")),
	}
}

// AddTap registers a consumer with the given channel depth.
func (c *CaptureConverter) AddTap(name string, depth int) *Tap {
	return c.AddGatedTap(name, depth, nil)
}

// AddGatedTap registers a consumer whose delivery is suppressed while the
// gate reports muted.
func (c *CaptureConverter) AddGatedTap(name string, depth int, gate voice.MuteGate) *Tap {
	tap := &Tap{
		name:   name,
		frames: make(chan *rtc.AudioFrame, depth),
		gate:   gate,
	}
	c.mu.Lock()
	c.taps = append(c.taps, tap)
	c.mu.Unlock()
	return tap
}

// Start acquires the device and begins emitting frames. A device failure is
// fatal (MicrophoneUnavailable) and is not retried.
func (c *CaptureConverter) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	format := c.dev.Format()
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return voice.NewError(voice.CodeMicrophoneUnavailable,
			fmt.Sprintf("invalid device format %dHz/%dch", format.SampleRate, format.Channels))
	}
	c.channels = format.Channels
	if format.SampleRate != rtc.SampleRate {
		c.resampler = newLinearResampler(format.SampleRate, rtc.SampleRate)
	} else {
		c.resampler = nil
	}
	c.frameBuf = make([]byte, c.cfg.FrameSamples*rtc.BytesPerSample)
	c.frameFill = 0
	c.sampleOffs = 0
	c.activeTaps = append([]*Tap(nil), c.taps...)

	if err := c.dev.Start(c.onCapture); err != nil {
		return voice.WrapError(voice.CodeMicrophoneUnavailable, err, "capture device start failed")
	}
	c.running = true
	c.logger.Info("capture started",
		slog.Int("native_rate", format.SampleRate),
		slog.Int("native_channels", format.Channels),
		slog.Int("frame_samples", c.cfg.FrameSamples))
	return nil
}

// Stop releases the device and closes every tap channel. Idempotent.
func (c *CaptureConverter) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	// Device Stop guarantees the capture callback has quiesced before it
	// returns, so closing the tap channels afterwards cannot race a send.
	err := c.dev.Stop()
	for _, tap := range c.activeTaps {
		close(tap.frames)
	}
	c.activeTaps = nil
	c.taps = nil
	c.logger.Info("capture stopped", slog.Int64("frames_emitted", c.emitted.Load()))
	return err
}

// Stats returns a snapshot of capture counters.
func (c *CaptureConverter) Stats() CaptureStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	drops := make(map[string]int64, len(c.taps))
	for _, tap := range c.taps {
		drops[tap.name] = tap.Dropped()
	}
	return CaptureStats{FramesEmitted: c.emitted.Load(), TapDrops: drops}
}

// onCapture runs on the device's real-time callback.
func (c *CaptureConverter) onCapture(samples []float32) {
	c.monoBuf = downmixMono(samples, c.channels, c.monoBuf[:0])
	canonical := c.monoBuf
	if c.resampler != nil {
		c.canonBuf = c.resampler.resample(c.monoBuf, c.canonBuf[:0])
		canonical = c.canonBuf
	}
	for _, s := range canonical {
		v := pcm16FromFloat(s)
		c.frameBuf[c.frameFill] = byte(v)
		c.frameBuf[c.frameFill+1] = byte(v >> 8)
		c.frameFill += 2
		if c.frameFill == len(c.frameBuf) {
			c.emitFrame()
		}
	}
}

func (c *CaptureConverter) emitFrame() {
	data := make([]byte, len(c.frameBuf))
	copy(data, c.frameBuf)
	c.frameFill = 0

	frame := &rtc.AudioFrame{
		Data:      data,
		Samples:   c.cfg.FrameSamples,
		Timestamp: time.Duration(c.sampleOffs) * time.Second / rtc.SampleRate,
	}
	c.sampleOffs += int64(c.cfg.FrameSamples)
	c.emitted.Add(1)

	for _, tap := range c.activeTaps {
		if tap.gate != nil && tap.gate.ShouldDiscardAudio() {
			continue
		}
		select {
		case tap.frames <- frame:
		default:
			tap.dropped.Add(1)
		}
	}
}

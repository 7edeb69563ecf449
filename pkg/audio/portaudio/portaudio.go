// Package portaudio provides PortAudio-backed implementations of the
// audio.CaptureDevice and audio.Output interfaces.
package portaudio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/hearsay-ai/voiceloop/pkg/audio"
)

var (
	initMu   sync.Mutex
	initRefs int
)

func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio initialize: %w", err)
		}
	}
	initRefs++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	initRefs--
	if initRefs == 0 {
		portaudio.Terminate()
	}
}

// ListDevices returns the names of all audio devices visible to PortAudio.
func ListDevices() ([]string, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	defer release()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, fmt.Sprintf("%s (in:%d out:%d, %.0f Hz)",
			d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate))
	}
	return names, nil
}

// CaptureDevice captures from the default input device at its native format.
type CaptureDevice struct {
	format          audio.Format
	framesPerBuffer int

	mu       sync.Mutex
	stream   *portaudio.Stream
	onBuffer func([]float32)
	acquired bool
}

// OpenDefaultCapture queries the default input device. framesPerBuffer <= 0
// selects ~10 ms buffers at the native rate.
func OpenDefaultCapture(framesPerBuffer int) (*CaptureDevice, error) {
	if err := acquire(); err != nil {
		return nil, err
	}

	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		release()
		return nil, fmt.Errorf("no default input device: %w", err)
	}
	channels := info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	if channels < 1 {
		release()
		return nil, fmt.Errorf("default input device %q has no input channels", info.Name)
	}
	rate := int(info.DefaultSampleRate)
	if framesPerBuffer <= 0 {
		framesPerBuffer = rate / 100
	}
	return &CaptureDevice{
		format:          audio.Format{SampleRate: rate, Channels: channels},
		framesPerBuffer: framesPerBuffer,
		acquired:        true,
	}, nil
}

// Format returns the device's native format.
func (d *CaptureDevice) Format() audio.Format { return d.format }

// Start opens the input stream and begins delivering interleaved float32
// buffers on PortAudio's callback.
func (d *CaptureDevice) Start(onBuffer func(samples []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return fmt.Errorf("capture already started")
	}
	d.onBuffer = onBuffer

	stream, err := portaudio.OpenDefaultStream(
		d.format.Channels, 0, float64(d.format.SampleRate), d.framesPerBuffer,
		func(in []float32) {
			d.onBuffer(in)
		})
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start capture stream: %w", err)
	}
	d.stream = stream
	return nil
}

// Stop closes the stream. PortAudio's Stop blocks until the callback has
// drained, satisfying the CaptureDevice quiescence contract.
func (d *CaptureDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		if d.acquired {
			d.acquired = false
			release()
		}
		return nil
	}
	err := d.stream.Stop()
	if cerr := d.stream.Close(); err == nil {
		err = cerr
	}
	d.stream = nil
	if d.acquired {
		d.acquired = false
		release()
	}
	return err
}

// outUnit is one scheduled playback unit being drained by the output
// callback.
type outUnit struct {
	pcm  []byte
	off  int
	done func(error)
}

// Output plays scheduled units through the default output device as mono
// 16-bit PCM at the synthesis sample rate.
type Output struct {
	sampleRate int

	mu       sync.Mutex
	stream   *portaudio.Stream
	queue    []*outUnit
	acquired bool

	// completions are dispatched off the real-time callback
	completed chan func(error)
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewOutput creates an output for the given sample rate
// (audio.PlaybackSampleRate for synthesis audio).
func NewOutput(sampleRate int) *Output {
	return &Output{
		sampleRate: sampleRate,
		completed:  make(chan func(error), 64),
	}
}

// Start opens and starts the output stream. Idempotent.
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream != nil {
		return nil
	}
	if err := acquire(); err != nil {
		return err
	}
	o.acquired = true

	stream, err := portaudio.OpenDefaultStream(
		0, 1, float64(o.sampleRate), o.sampleRate/100, o.fill)
	if err != nil {
		o.acquired = false
		release()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		o.acquired = false
		release()
		return fmt.Errorf("start output stream: %w", err)
	}
	o.stream = stream
	o.stopCh = make(chan struct{})
	o.wg.Add(1)
	go o.dispatchLoop()
	return nil
}

// Schedule enqueues a unit; its done callback fires after the unit has been
// handed to the hardware buffer in full.
func (o *Output) Schedule(pcm []byte, done func(err error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return fmt.Errorf("output not started")
	}
	o.queue = append(o.queue, &outUnit{pcm: pcm, done: done})
	return nil
}

// Stop halts playback. Pending units fail before Stop returns.
func (o *Output) Stop() error {
	o.mu.Lock()
	if o.stream == nil {
		o.mu.Unlock()
		return nil
	}
	stream := o.stream
	o.stream = nil
	pending := o.queue
	o.queue = nil
	stopCh := o.stopCh
	o.mu.Unlock()

	err := stream.Stop()
	if cerr := stream.Close(); err == nil {
		err = cerr
	}
	close(stopCh)
	o.wg.Wait()

	for _, u := range pending {
		u.done(fmt.Errorf("output stopped"))
	}
	o.mu.Lock()
	if o.acquired {
		o.acquired = false
		release()
	}
	o.mu.Unlock()
	return err
}

// fill runs on PortAudio's real-time output callback: drain queued units
// into the hardware buffer, zero-fill any shortfall.
func (o *Output) fill(out []int16) {
	o.mu.Lock()
	i := 0
	for i < len(out) && len(o.queue) > 0 {
		u := o.queue[0]
		for i < len(out) && u.off+1 < len(u.pcm) {
			out[i] = int16(u.pcm[u.off]) | int16(u.pcm[u.off+1])<<8
			u.off += 2
			i++
		}
		if u.off+1 >= len(u.pcm) {
			o.queue = o.queue[1:]
			select {
			case o.completed <- u.done:
			default:
				// dispatcher backlogged; complete inline as a last resort
				go u.done(nil)
			}
		}
	}
	o.mu.Unlock()
	for ; i < len(out); i++ {
		out[i] = 0
	}
}

// dispatchLoop runs unit completion callbacks away from the audio callback.
func (o *Output) dispatchLoop() {
	defer o.wg.Done()
	for {
		select {
		case done := <-o.completed:
			done(nil)
		case <-o.stopCh:
			for {
				select {
				case done := <-o.completed:
					done(nil)
				default:
					return
				}
			}
		}
	}
}

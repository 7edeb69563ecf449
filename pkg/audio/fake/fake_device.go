// Package fake provides scripted audio devices for testing the capture and
// playback pipelines without hardware.
package fake

import (
	"fmt"
	"sync"

	"github.com/hearsay-ai/voiceloop/pkg/audio"
)

// CaptureDevice is a scripted capture device. Tests push float buffers with
// Feed and they arrive on the converter's callback synchronously.
type CaptureDevice struct {
	format audio.Format

	mu       sync.Mutex
	onBuffer func([]float32)
	started  bool
	startErr error
}

// NewCaptureDevice creates a fake device with the given native format.
func NewCaptureDevice(sampleRate, channels int) *CaptureDevice {
	return &CaptureDevice{format: audio.Format{SampleRate: sampleRate, Channels: channels}}
}

// FailStart makes the next Start return err, simulating a missing device.
func (d *CaptureDevice) FailStart(err error) {
	d.mu.Lock()
	d.startErr = err
	d.mu.Unlock()
}

// Format returns the configured native format.
func (d *CaptureDevice) Format() audio.Format { return d.format }

// Start records the callback.
func (d *CaptureDevice) Start(onBuffer func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	if d.started {
		return fmt.Errorf("capture device already started")
	}
	d.started = true
	d.onBuffer = onBuffer
	return nil
}

// Stop clears the callback; Feed becomes a no-op afterwards.
func (d *CaptureDevice) Stop() error {
	d.mu.Lock()
	d.started = false
	d.onBuffer = nil
	d.mu.Unlock()
	return nil
}

// Started reports whether the device is currently capturing.
func (d *CaptureDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Feed delivers one interleaved buffer at the native format.
func (d *CaptureDevice) Feed(samples []float32) {
	d.mu.Lock()
	cb := d.onBuffer
	d.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

// Output is a scripted playback device. Scheduled units are retained until
// the test completes them with CompleteNext or CompleteAll.
type Output struct {
	mu        sync.Mutex
	started   bool
	units     [][]byte
	callbacks []func(error)
	scheduled int
	failWith  error
}

// NewOutput creates a fake output device.
func NewOutput() *Output { return &Output{} }

// FailScheduling makes subsequent Schedule calls return err.
func (o *Output) FailScheduling(err error) {
	o.mu.Lock()
	o.failWith = err
	o.mu.Unlock()
}

// Start marks the output started.
func (o *Output) Start() error {
	o.mu.Lock()
	o.started = true
	o.mu.Unlock()
	return nil
}

// Schedule retains the unit and its completion callback.
func (o *Output) Schedule(pcm []byte, done func(err error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failWith != nil {
		return o.failWith
	}
	if !o.started {
		return fmt.Errorf("output not started")
	}
	o.units = append(o.units, pcm)
	o.callbacks = append(o.callbacks, done)
	o.scheduled++
	return nil
}

// Stop fails all pending units before returning.
func (o *Output) Stop() error {
	o.mu.Lock()
	cbs := o.callbacks
	o.callbacks = nil
	o.units = nil
	o.started = false
	o.mu.Unlock()
	for _, cb := range cbs {
		cb(fmt.Errorf("output stopped"))
	}
	return nil
}

// CompleteNext fires the oldest pending unit's callback with err.
// Returns false if nothing is pending.
func (o *Output) CompleteNext(err error) bool {
	o.mu.Lock()
	if len(o.callbacks) == 0 {
		o.mu.Unlock()
		return false
	}
	cb := o.callbacks[0]
	o.callbacks = o.callbacks[1:]
	o.units = o.units[1:]
	o.mu.Unlock()
	cb(err)
	return true
}

// CompleteAll drains every pending unit successfully.
func (o *Output) CompleteAll() {
	for o.CompleteNext(nil) {
	}
}

// ScheduledUnits returns how many units have ever been scheduled.
func (o *Output) ScheduledUnits() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scheduled
}

// PendingUnits returns how many units await completion.
func (o *Output) PendingUnits() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.callbacks)
}

// UnitSizes returns the byte size of each currently pending unit, oldest
// first.
func (o *Output) UnitSizes() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	sizes := make([]int, len(o.units))
	for i, u := range o.units {
		sizes[i] = len(u)
	}
	return sizes
}

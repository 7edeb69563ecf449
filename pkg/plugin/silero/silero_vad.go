//go:build silero

package silero

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hearsay-ai/voiceloop/pkg/plugin"
	"github.com/hearsay-ai/voiceloop/pkg/rtc"
	"github.com/hearsay-ai/voiceloop/pkg/vad"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime environment exactly once per
// process, so concurrent detector construction cannot register duplicate
// schemas.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Config tunes the Silero detector. Zero values select the defaults; the
// confirm-frame counts carry the same hysteresis semantics as the energy
// detector.
type Config struct {
	Threshold            float32
	ModelPath            string
	SpeechConfirmFrames  int
	SilenceConfirmFrames int
}

// Detector implements vad.Detector with the Silero model. Each canonical
// frame is split into the model's 512-sample windows; the recurrent state
// is carried across windows, and the per-frame speech decision feeds the
// same dual-counter hysteresis the energy detector uses.
type Detector struct {
	cfg Config

	mu         sync.Mutex
	session    *ort.Session[float32]
	input      *ort.Tensor[float32]
	state      *ort.Tensor[float32]
	sr         *ort.Tensor[float32]
	output     *ort.Tensor[float32]
	outState   *ort.Tensor[float32]
	pending    []float32
	inSpeech   bool
	aboveCount int
	belowCount int
	aiSpeaking bool
	scratch    [2]vad.Event
}

// NewDetector loads the model and prepares the inference session.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SpeechConfirmFrames <= 0 {
		cfg.SpeechConfirmFrames = vad.DefaultSpeechConfirmFrames
	}
	if cfg.SilenceConfirmFrames <= 0 {
		cfg.SilenceConfirmFrames = vad.DefaultSilenceConfirmFrames
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = defaultModelPath()
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("silero model not found at %s (run 'voiceloop models download' first): %w", cfg.ModelPath, err)
	}
	if err := ensureOrtEnv(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	d := &Detector{cfg: cfg}
	if err := d.createSession(); err != nil {
		return nil, err
	}
	return d, nil
}

// createSession builds the fixed-shape tensors and the session around them.
// The model's window size is fixed, so the tensors are reused for every
// inference.
func (d *Detector) createSession() error {
	var err error
	if d.input, err = ort.NewTensor(ort.NewShape(1, windowSamples), make([]float32, windowSamples)); err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	if d.state, err = ort.NewTensor(ort.NewShape(2, 1, 128), make([]float32, stateSize)); err != nil {
		d.destroyTensors()
		return fmt.Errorf("failed to create state tensor: %w", err)
	}
	srData := []float32{float32(rtc.SampleRate)}
	if d.sr, err = ort.NewTensor(ort.NewShape(1), srData); err != nil {
		d.destroyTensors()
		return fmt.Errorf("failed to create sample rate tensor: %w", err)
	}
	if d.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		d.destroyTensors()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}
	if d.outState, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		d.destroyTensors()
		return fmt.Errorf("failed to create output state tensor: %w", err)
	}

	d.session, err = ort.NewSession[float32](
		d.cfg.ModelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]*ort.Tensor[float32]{d.input, d.state, d.sr},
		[]*ort.Tensor[float32]{d.output, d.outState},
	)
	if err != nil {
		d.destroyTensors()
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return nil
}

func (d *Detector) destroyTensors() {
	for _, t := range []*ort.Tensor[float32]{d.input, d.state, d.sr, d.output, d.outState} {
		if t != nil {
			t.Destroy()
		}
	}
	d.input, d.state, d.sr, d.output, d.outState = nil, nil, nil, nil, nil
}

// ProcessFrame runs the model over the frame's windows and applies
// hysteresis to the resulting speech probability.
func (d *Detector) ProcessFrame(frame *rtc.AudioFrame) []vad.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}

	for i := 0; i < frame.Samples; i++ {
		d.pending = append(d.pending, float32(frame.Sample(i))/32768.0)
	}

	var maxProb float32
	windows := 0
	for len(d.pending) >= windowSamples {
		copy(d.input.GetData(), d.pending[:windowSamples])
		d.pending = d.pending[windowSamples:]

		if err := d.session.Run(); err != nil {
			// inference faults degrade to silence rather than killing the stream
			continue
		}
		copy(d.state.GetData(), d.outState.GetData())

		out := d.output.GetData()
		if len(out) > 0 && out[0] > maxProb {
			maxProb = out[0]
		}
		windows++
	}
	if windows == 0 {
		return nil
	}

	events := d.scratch[:0]
	if maxProb >= d.cfg.Threshold {
		d.aboveCount++
		d.belowCount = 0
		if !d.inSpeech && d.aboveCount >= d.cfg.SpeechConfirmFrames {
			d.inSpeech = true
			events = append(events, vad.Event{Type: vad.EventSpeechStart, Timestamp: frame.Timestamp, Energy: float64(maxProb)})
			if d.aiSpeaking {
				events = append(events, vad.Event{Type: vad.EventInterruption, Timestamp: frame.Timestamp, Energy: float64(maxProb)})
			}
		}
	} else {
		d.belowCount++
		d.aboveCount = 0
		if d.inSpeech && d.belowCount >= d.cfg.SilenceConfirmFrames {
			d.inSpeech = false
			events = append(events, vad.Event{Type: vad.EventSpeechEnd, Timestamp: frame.Timestamp, Energy: float64(maxProb)})
		}
	}
	if len(events) == 0 {
		return nil
	}
	return events
}

// SetAISpeaking toggles interruption mode and resets the counters.
func (d *Detector) SetAISpeaking(speaking bool) {
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

// Reset clears detection state, pending samples, and the model's recurrent
// state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inSpeech = false
	d.aboveCount = 0
	d.belowCount = 0
	d.aiSpeaking = false
	d.pending = d.pending[:0]
	if d.state != nil {
		data := d.state.GetData()
		for i := range data {
			data[i] = 0
		}
	}
}

// Close releases the session and tensors. The detector is unusable
// afterwards.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	d.destroyTensors()
}

func newSileroVAD(cfg map[string]any) (any, error) {
	config := Config{}
	if threshold, ok := cfg["threshold"].(float64); ok {
		config.Threshold = float32(threshold)
	}
	if modelPath, ok := cfg["model_path"].(string); ok {
		config.ModelPath = modelPath
	}
	if frames, ok := cfg["speech_frames"].(float64); ok {
		config.SpeechConfirmFrames = int(frames)
	}
	if frames, ok := cfg["silence_frames"].(float64); ok {
		config.SilenceConfirmFrames = int(frames)
	}
	return NewDetector(config)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "vad",
		Name:        "silero",
		Factory:     newSileroVAD,
		Description: "Silero ONNX voice activity detector",
		Version:     "1.0.0",
		Config: map[string]any{
			"threshold":  DefaultThreshold,
			"model_path": "",
		},
		Downloader: &ModelDownloader{},
	})
}

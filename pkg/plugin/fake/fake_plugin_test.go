package fake_test

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/hearsay-ai/voiceloop/pkg/asr"
	asrfake "github.com/hearsay-ai/voiceloop/pkg/asr/fake"
	"github.com/hearsay-ai/voiceloop/pkg/audio"
	audiofake "github.com/hearsay-ai/voiceloop/pkg/audio/fake"
	"github.com/hearsay-ai/voiceloop/pkg/plugin"
	_ "github.com/hearsay-ai/voiceloop/pkg/plugin/fake"
	"github.com/hearsay-ai/voiceloop/pkg/rtc"
	"github.com/hearsay-ai/voiceloop/pkg/session"
	"github.com/hearsay-ai/voiceloop/pkg/tts"
	ttsfake "github.com/hearsay-ai/voiceloop/pkg/tts/fake"
	"github.com/hearsay-ai/voiceloop/pkg/vad"
	vadfake "github.com/hearsay-ai/voiceloop/pkg/vad/fake"
)

func TestRegistersScriptedDetector(t *testing.T) {
	is := is.New(t)

	p, ok := plugin.Lookup("vad", "fake")
	is.True(ok)
	is.Equal(p.Kind, "vad")

	v, err := p.Factory(nil)
	is.NoErr(err)
	det, ok := v.(vad.Detector)
	is.True(ok)

	scripted, ok := det.(*vadfake.Detector)
	is.True(ok)
	scripted.QueueEvent(vad.EventSpeechStart)

	frame := make([]byte, rtc.SamplesPerFrame*rtc.BytesPerSample)
	af, err := rtc.NewAudioFrame(frame, rtc.SamplesPerFrame, 0)
	is.NoErr(err)
	events := det.ProcessFrame(af)
	is.Equal(len(events), 1)
	is.Equal(events[0].Type, vad.EventSpeechStart)
}

// TestSessionWithRegistryDetector wires a session whose detector comes from
// the registry by name rather than a direct constructor, the way the CLI
// resolves the configured provider.
func TestSessionWithRegistryDetector(t *testing.T) {
	is := is.New(t)

	p, ok := plugin.Lookup("vad", "fake")
	is.True(ok)
	v, err := p.Factory(nil)
	is.NoErr(err)
	det := v.(*vadfake.Detector)

	dev := audiofake.NewCaptureDevice(rtc.SampleRate, 1)
	sess, err := session.New(session.Config{
		NewCapture: func() (session.Capture, error) {
			return audio.NewCaptureConverter(dev, audio.CaptureConfig{}, nil), nil
		},
		NewRecognizer:  func() (asr.Recognizer, error) { return asrfake.NewRecognizer(), nil },
		NewSynthesizer: func() (tts.Synthesizer, error) { return ttsfake.NewSynthesizer(), nil },
		NewDetector:    func() vad.Detector { return det },
	})
	is.NoErr(err)
	defer sess.Close()

	is.NoErr(sess.Start(testContext(t)))
	is.Equal(sess.State(), session.StateListening)

	det.QueueEvent(vad.EventSpeechEnd)
	dev.Feed(make([]float32, rtc.SamplesPerFrame))

	deadline := time.Now().Add(2 * time.Second)
	for sess.State() != session.StateProcessing && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	is.Equal(sess.State(), session.StateProcessing)
	is.NoErr(sess.Stop())
}

// testContext mirrors testing.T.Context (Go 1.24) for older toolchains:
// a context canceled when the test ends.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/hearsay-ai/voiceloop/pkg/asr"
	asrfake "github.com/hearsay-ai/voiceloop/pkg/asr/fake"
	"github.com/hearsay-ai/voiceloop/pkg/audio"
	audiofake "github.com/hearsay-ai/voiceloop/pkg/audio/fake"
	"github.com/hearsay-ai/voiceloop/pkg/rtc"
	"github.com/hearsay-ai/voiceloop/pkg/session"
	"github.com/hearsay-ai/voiceloop/pkg/tts"
	ttsfake "github.com/hearsay-ai/voiceloop/pkg/tts/fake"
	"github.com/hearsay-ai/voiceloop/pkg/vad"
	vadfake "github.com/hearsay-ai/voiceloop/pkg/vad/fake"
	"github.com/hearsay-ai/voiceloop/pkg/voice"
)

// harness wires a session to fully scripted components. Factories hand out
// fresh capture converters and channels on every Start, mirroring the real
// wiring where a stopped component is not restartable.
type harness struct {
	mu  sync.Mutex
	dev *audiofake.CaptureDevice
	det *vadfake.Detector
	rec *asrfake.Recognizer
	syn *ttsfake.Synthesizer

	transcripts []asr.TranscriptEvent
	transitions []string
	faults      []error
}

func newHarness(t *testing.T, mutate func(*session.Config)) (*harness, *session.Session) {
	t.Helper()
	h := &harness{
		dev: audiofake.NewCaptureDevice(rtc.SampleRate, 1),
		det: vadfake.NewDetector(),
	}
	cfg := session.Config{
		NewCapture: func() (session.Capture, error) {
			return audio.NewCaptureConverter(h.dev, audio.CaptureConfig{}, nil), nil
		},
		NewRecognizer: func() (asr.Recognizer, error) {
			h.mu.Lock()
			h.rec = asrfake.NewRecognizer()
			rec := h.rec
			h.mu.Unlock()
			return rec, nil
		},
		NewSynthesizer: func() (tts.Synthesizer, error) {
			h.mu.Lock()
			h.syn = ttsfake.NewSynthesizer()
			syn := h.syn
			h.mu.Unlock()
			return syn, nil
		},
		NewDetector: func() vad.Detector { return h.det },
		OnTranscript: func(ev asr.TranscriptEvent) {
			h.mu.Lock()
			h.transcripts = append(h.transcripts, ev)
			h.mu.Unlock()
		},
		OnStateChange: func(from, to session.State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, fmt.Sprintf("%s->%s", from, to))
			h.mu.Unlock()
		},
		OnError: func(err error) {
			h.mu.Lock()
			h.faults = append(h.faults, err)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sess, err := session.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return h, sess
}

func (h *harness) recognizer() *asrfake.Recognizer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec
}

func (h *harness) synthesizer() *ttsfake.Synthesizer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syn
}

func (h *harness) transcriptCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transcripts)
}

func (h *harness) faultCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.faults)
}

// feedFrame pushes exactly one canonical frame through the capture path.
func (h *harness) feedFrame() {
	h.dev.Feed(make([]float32, rtc.SamplesPerFrame))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartStopLifecycle(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	ctx := context.Background()

	is.Equal(sess.State(), session.StateIdle)

	is.NoErr(sess.Start(ctx))
	is.Equal(sess.State(), session.StateListening)
	is.True(h.dev.Started())
	is.True(h.recognizer().Started())

	is.NoErr(sess.Stop())
	is.Equal(sess.State(), session.StateIdle)
	is.True(!h.dev.Started())
	is.True(!h.recognizer().Started())

	// Stop is idempotent
	is.NoErr(sess.Stop())
	is.Equal(sess.State(), session.StateIdle)

	// a stopped session starts again with fresh components
	is.NoErr(sess.Start(ctx))
	is.Equal(sess.State(), session.StateListening)
	is.True(h.dev.Started())
}

func TestStartFromListeningRejected(t *testing.T) {
	is := is.New(t)
	_, sess := newHarness(t, nil)
	ctx := context.Background()

	is.NoErr(sess.Start(ctx))
	err := sess.Start(ctx)
	is.True(err != nil)
	is.Equal(voice.CodeOf(err), voice.CodeInvalidTransition)
	is.Equal(sess.State(), session.StateListening)
	is.Equal(sess.Metrics().InvalidTransitions.Value(), int64(1))
}

func TestFramesFlowToRecognizer(t *testing.T) {
	h, sess := newHarness(t, nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		h.feedFrame()
	}
	waitFor(t, "recognizer to receive frames", func() bool {
		return h.recognizer().FramesSent() == 5
	})
	waitFor(t, "detector to process frames", func() bool {
		return h.det.FramesProcessed() == 5
	})
}

func TestSpeechEndMovesToProcessing(t *testing.T) {
	h, sess := newHarness(t, nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.det.QueueEvent(vad.EventSpeechStart)
	h.feedFrame()
	h.det.QueueEvent(vad.EventSpeechEnd)
	h.feedFrame()

	waitFor(t, "Processing state", func() bool {
		return sess.State() == session.StateProcessing
	})
}

func TestFinalTranscriptReturnsToListening(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.det.QueueEvent(vad.EventSpeechEnd)
	h.feedFrame()
	waitFor(t, "Processing state", func() bool {
		return sess.State() == session.StateProcessing
	})

	h.recognizer().EmitPartial("turn it")
	h.recognizer().EmitFinal("turn it off")
	waitFor(t, "Listening state", func() bool {
		return sess.State() == session.StateListening
	})
	waitFor(t, "transcript callbacks", func() bool {
		return h.transcriptCount() == 2
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	is.Equal(h.transcripts[0].Kind, asr.KindPartial)
	is.Equal(h.transcripts[1].Kind, asr.KindFinal)
	is.Equal(h.transcripts[1].Text, "turn it off")
}

func TestSpeakPlaysToCompletion(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatal(err)
	}

	handle, err := sess.Speak(ctx, "hello there", "nova")
	is.NoErr(err)
	is.Equal(sess.State(), session.StateAISpeaking)
	is.True(h.det.AISpeaking())
	is.True(h.recognizer().Paused())

	reqs := h.synthesizer().Requests()
	is.Equal(len(reqs), 1)
	is.Equal(reqs[0].Text, "hello there")
	is.Equal(reqs[0].Voice, "nova")

	h.synthesizer().FinishPlayback()
	is.NoErr(handle.Wait(ctx))
	waitFor(t, "Listening after playback", func() bool {
		return sess.State() == session.StateListening
	})
	waitFor(t, "recognizer resumed", func() bool {
		return !h.recognizer().Paused()
	})
	is.True(!h.det.AISpeaking())
	is.Equal(sess.Metrics().Interruptions.Value(), int64(0))
}

func TestSpeakWhileSpeakingRejected(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := sess.Speak(ctx, "first", "")
	is.NoErr(err)

	_, err = sess.Speak(ctx, "second", "")
	is.True(err != nil)
	is.Equal(voice.CodeOf(err), voice.CodeInvalidTransition)
	is.Equal(sess.State(), session.StateAISpeaking)

	h.synthesizer().FinishPlayback()
}

func TestBargeInCancelsPlayback(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatal(err)
	}

	handle, err := sess.Speak(ctx, "a very long answer", "")
	is.NoErr(err)
	is.Equal(sess.State(), session.StateAISpeaking)

	// user speech confirmed while the AI is talking
	h.det.QueueEvent(vad.EventSpeechStart)
	h.feedFrame()

	waitFor(t, "playback cancel", func() bool {
		return h.synthesizer().Cancels() == 1
	})
	err = handle.Wait(ctx)
	is.True(errors.Is(err, context.Canceled))
	waitFor(t, "Listening after barge-in", func() bool {
		return sess.State() == session.StateListening
	})
	is.True(!h.det.AISpeaking())
	is.Equal(sess.Metrics().Interruptions.Value(), int64(1))
}

func TestSpeechStartWhileListeningDoesNotCancel(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.det.QueueEvent(vad.EventSpeechStart)
	h.feedFrame()
	waitFor(t, "detector frame", func() bool {
		return h.det.FramesProcessed() == 1
	})
	time.Sleep(20 * time.Millisecond)
	is.Equal(sess.State(), session.StateListening)
	is.Equal(h.synthesizer().Cancels(), 0)
}

func TestToggleMute(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatal(err)
	}

	muted, err := sess.ToggleMute(ctx)
	is.NoErr(err)
	is.True(muted)
	is.True(sess.Muted())
	is.True(h.recognizer().Paused())

	// muted frames never reach the recognizer, but VAD stays live
	for i := 0; i < 3; i++ {
		h.feedFrame()
	}
	waitFor(t, "detector frames while muted", func() bool {
		return h.det.FramesProcessed() == 3
	})
	is.Equal(h.recognizer().FramesSent(), 0)

	muted, err = sess.ToggleMute(ctx)
	is.NoErr(err)
	is.True(!muted)
	is.True(!h.recognizer().Paused())

	h.feedFrame()
	waitFor(t, "frames after unmute", func() bool {
		return h.recognizer().FramesSent() == 1
	})
}

func TestMuteSuspendsVADWhenConfigured(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, func(cfg *session.Config) {
		cfg.MuteSuspendsVAD = true
	})
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatal(err)
	}

	muted, err := sess.ToggleMute(ctx)
	is.NoErr(err)
	is.True(muted)

	for i := 0; i < 3; i++ {
		h.feedFrame()
	}
	time.Sleep(20 * time.Millisecond)
	is.Equal(h.det.FramesProcessed(), 0)
}

func TestSpeakDoneWhileMutedKeepsRecognizerPaused(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatal(err)
	}

	handle, err := sess.Speak(ctx, "answer", "")
	is.NoErr(err)
	_, err = sess.ToggleMute(ctx)
	is.NoErr(err)

	h.synthesizer().FinishPlayback()
	is.NoErr(handle.Wait(ctx))
	waitFor(t, "Listening after playback", func() bool {
		return sess.State() == session.StateListening
	})
	is.True(h.recognizer().Paused())
	is.Equal(h.recognizer().Resumes(), 0)
}

func TestStartFailureEntersError(t *testing.T) {
	is := is.New(t)
	boom := voice.NewError(voice.CodeConnectionFailed, "dial refused")
	_, sess := newHarness(t, func(cfg *session.Config) {
		cfg.NewRecognizer = func() (asr.Recognizer, error) {
			return nil, boom
		}
	})

	err := sess.Start(context.Background())
	is.True(err != nil)
	is.Equal(sess.State(), session.StateError)
	is.Equal(sess.LastError().Code, voice.CodeConnectionFailed)
}

func TestConnectionFaultEntersErrorThenRecovers(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatal(err)
	}

	h.recognizer().EmitError(voice.NewError(voice.CodeConnectionFailed, "reconnect attempts exhausted"))
	waitFor(t, "Error state", func() bool {
		return sess.State() == session.StateError
	})
	is.Equal(sess.LastError().Code, voice.CodeConnectionFailed)
	waitFor(t, "fault callback", func() bool {
		return h.faultCount() == 1
	})

	// the surviving components retry without a full restart
	is.NoErr(sess.Start(ctx))
	is.Equal(sess.State(), session.StateListening)
	is.True(h.dev.Started())
}

func TestRecognitionFaultReturnsToListening(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.det.QueueEvent(vad.EventSpeechEnd)
	h.feedFrame()
	waitFor(t, "Processing state", func() bool {
		return sess.State() == session.StateProcessing
	})

	h.recognizer().EmitError(voice.NewError(voice.CodeRecognitionFailed, "decode failed"))
	waitFor(t, "Listening after fault", func() bool {
		return sess.State() == session.StateListening
	})
	is.Equal(sess.State(), session.StateListening)
}

func TestStopWhileSpeakingDiscardsPlayback(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		t.Fatal(err)
	}

	handle, err := sess.Speak(ctx, "interrupted by shutdown", "")
	is.NoErr(err)

	is.NoErr(sess.Stop())
	is.Equal(sess.State(), session.StateIdle)
	err = handle.Wait(ctx)
	is.True(errors.Is(err, context.Canceled))
	is.True(!h.dev.Started())
}

func TestSpeakBeforeStartRejected(t *testing.T) {
	is := is.New(t)
	_, sess := newHarness(t, nil)
	_, err := sess.Speak(context.Background(), "too early", "")
	is.True(err != nil)
	is.Equal(sess.State(), session.StateIdle)
}

// TestRealDetectorEndToEnd runs the session against the real energy
// detector: sustained loud audio confirms speech on the 16th frame,
// sustained silence confirms the end on the 20th, and the final transcript
// leaves the session listening.
func TestRealDetectorEndToEnd(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, func(cfg *session.Config) {
		cfg.TapDepth = 256
		cfg.NewDetector = func() vad.Detector {
			return vad.NewEnergyDetector(vad.Config{})
		}
	})
	is.NoErr(sess.Start(context.Background()))

	loud := make([]float32, rtc.SamplesPerFrame)
	for i := range loud {
		loud[i] = 0.5
	}
	quiet := make([]float32, rtc.SamplesPerFrame)

	// ~3 s of speech: confirmed start, no end yet
	for i := 0; i < 47; i++ {
		h.dev.Feed(loud)
	}
	time.Sleep(20 * time.Millisecond)
	is.Equal(sess.State(), session.StateListening)

	// 20 frames of silence confirm the end of the utterance
	for i := 0; i < 20; i++ {
		h.dev.Feed(quiet)
	}
	waitFor(t, "Processing after silence", func() bool {
		return sess.State() == session.StateProcessing
	})

	h.recognizer().EmitFinal("hello world")
	waitFor(t, "Listening after transcript", func() bool {
		return sess.State() == session.StateListening
	})
}

// TestConversationRoundTrip drives the canonical exchange: the user speaks,
// a final transcript arrives, the AI answers, playback completes, and the
// session is listening again.
func TestConversationRoundTrip(t *testing.T) {
	is := is.New(t)
	h, sess := newHarness(t, nil)
	ctx := context.Background()
	is.NoErr(sess.Start(ctx))

	h.det.QueueEvent(vad.EventSpeechStart)
	h.feedFrame()
	h.det.QueueEvent(vad.EventSpeechEnd)
	h.feedFrame()
	waitFor(t, "Processing state", func() bool {
		return sess.State() == session.StateProcessing
	})

	h.recognizer().EmitFinal("what's the weather")
	waitFor(t, "Listening after transcript", func() bool {
		return sess.State() == session.StateListening
	})

	handle, err := sess.Speak(ctx, "sunny and mild", "")
	is.NoErr(err)
	h.synthesizer().FinishPlayback()
	is.NoErr(handle.Wait(ctx))
	waitFor(t, "Listening after answer", func() bool {
		return sess.State() == session.StateListening
	})
	is.Equal(sess.Metrics().Utterances.Value(), int64(1))
}

package session

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearsay-ai/voiceloop/pkg/asr"
	"github.com/hearsay-ai/voiceloop/pkg/audio"
	"github.com/hearsay-ai/voiceloop/pkg/tts"
	"github.com/hearsay-ai/voiceloop/pkg/vad"
	"github.com/hearsay-ai/voiceloop/pkg/voice"
)

// Capture is the slice of the capture converter the session depends on.
// *audio.CaptureConverter satisfies it.
type Capture interface {
	AddTap(name string, depth int) *audio.Tap
	AddGatedTap(name string, depth int, gate voice.MuteGate) *audio.Tap
	Start() error
	Stop() error
}

// Config wires a session. Component factories are invoked on every Start so
// that a stopped session can start again with fresh resources.
type Config struct {
	NewCapture     func() (Capture, error)
	NewRecognizer  func() (asr.Recognizer, error)
	NewSynthesizer func() (tts.Synthesizer, error)
	NewDetector    func() vad.Detector

	// MuteSuspendsVAD also gates frame delivery to the detector while
	// muted. Default false: the detector stays live so barge-in remains
	// detectable during mute.
	MuteSuspendsVAD bool

	// TapDepth is the frame-channel depth for the ASR and VAD taps.
	// Defaults to 32.
	TapDepth int

	// StartTimeout bounds component startup inside Start. Defaults to 15 s.
	StartTimeout time.Duration

	// OnTranscript receives partial and final transcript events. Invoked
	// from the session loop; must not block.
	OnTranscript func(asr.TranscriptEvent)

	// OnStateChange observes accepted transitions. Invoked from the
	// session loop; must not block.
	OnStateChange func(from, to State)

	// OnError receives recoverable pipeline faults. Invoked from the
	// session loop; must not block.
	OnError func(err error)

	Logger *slog.Logger
}

// Metrics holds the session's expvar counters.
type Metrics struct {
	StateTransitions   *expvar.Map
	InvalidTransitions *expvar.Int
	Utterances         *expvar.Int
	Interruptions      *expvar.Int
}

func newMetrics() *Metrics {
	transitions := &expvar.Map{}
	transitions.Init()
	return &Metrics{
		StateTransitions:   transitions,
		InvalidTransitions: &expvar.Int{},
		Utterances:         &expvar.Int{},
		Interruptions:      &expvar.Int{},
	}
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdToggleMute
	cmdSpeak
	cmdEnterError
)

type cmdResult struct {
	err    error
	handle *tts.SpeakHandle
	muted  bool
}

type command struct {
	kind   cmdKind
	ctx    context.Context
	text   string
	voice  string
	reason *voice.Error
	reply  chan cmdResult
}

// runtime is one Start..Stop generation of components, owned exclusively by
// the session loop.
type runtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	capture  Capture
	rec      asr.Recognizer
	syn      tts.Synthesizer
	det      vad.Detector
	muteGate voice.MuteGate

	vadEvents <-chan vad.Event
	recEvents <-chan asr.TranscriptEvent
	speakDone chan error

	activeSpeak *tts.SpeakHandle
	muted       bool
	pumpDone    chan struct{}
}

// Session is the voice session state machine. All shared state is owned by
// a single event loop; public operations post commands to it and wait.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	state     atomic.Int32
	lastError atomic.Pointer[voice.Error]
	muted     atomic.Bool

	cmds      chan command
	closeCh   chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

// New creates a session in Idle and starts its event loop.
func New(cfg Config) (*Session, error) {
	if cfg.NewCapture == nil {
		return nil, fmt.Errorf("NewCapture factory is required")
	}
	if cfg.NewRecognizer == nil {
		return nil, fmt.Errorf("NewRecognizer factory is required")
	}
	if cfg.NewSynthesizer == nil {
		return nil, fmt.Errorf("NewSynthesizer factory is required")
	}
	if cfg.NewDetector == nil {
		return nil, fmt.Errorf("NewDetector factory is required")
	}
	if cfg.TapDepth <= 0 {
		cfg.TapDepth = 32
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		cfg:      cfg,
		logger:   cfg.Logger.With(slog.String("component", "session")),
		metrics:  newMetrics(),
		cmds:     make(chan command),
		closeCh:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))
	go s.loop()
	return s, nil
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// LastError returns the reason for the most recent Error state, if any.
func (s *Session) LastError() *voice.Error {
	return s.lastError.Load()
}

// Muted reports whether the microphone is logically muted.
func (s *Session) Muted() bool {
	return s.muted.Load()
}

// Metrics exposes the session's counters.
func (s *Session) Metrics() *Metrics { return s.metrics }

// Start transitions Idle → Listening, initializing capture, VAD, and both
// network channels. From Error it retries with the surviving components.
func (s *Session) Start(ctx context.Context) error {
	res := s.post(ctx, command{kind: cmdStart, ctx: ctx})
	return res.err
}

// Stop tears down all components from any state and returns to a fresh
// Idle. Idempotent and safe to call mid-transmission.
func (s *Session) Stop() error {
	res := s.post(context.Background(), command{kind: cmdStop})
	return res.err
}

// ToggleMute flips the mute state and returns the new value. While muted
// the recognition channel is paused; unmuting resumes it.
func (s *Session) ToggleMute(ctx context.Context) (bool, error) {
	res := s.post(ctx, command{kind: cmdToggleMute, ctx: ctx})
	return res.muted, res.err
}

// Speak transitions Listening/Processing → AISpeaking and synthesizes text.
// The returned handle completes on true playback completion; the session
// returns to Listening on completion or confirmed interruption.
func (s *Session) Speak(ctx context.Context, text, voiceID string) (*tts.SpeakHandle, error) {
	res := s.post(ctx, command{kind: cmdSpeak, ctx: ctx, text: text, voice: voiceID})
	return res.handle, res.err
}

// EnterError forces the session into Error with the given reason.
func (s *Session) EnterError(reason *voice.Error) {
	s.post(context.Background(), command{kind: cmdEnterError, reason: reason})
}

// Close stops the session and shuts the event loop down. The session is
// unusable afterwards.
func (s *Session) Close() error {
	err := s.Stop()
	s.closeOnce.Do(func() { close(s.closeCh) })
	<-s.loopDone
	return err
}

func (s *Session) post(ctx context.Context, cmd command) cmdResult {
	cmd.reply = make(chan cmdResult, 1)
	select {
	case s.cmds <- cmd:
	case <-s.closeCh:
		return cmdResult{err: fmt.Errorf("session is closed")}
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	}
	select {
	case res := <-cmd.reply:
		return res
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	}
}

// loop is the single coordinating goroutine. Every callback from audio or
// network threads arrives here as a message before touching shared state.
func (s *Session) loop() {
	defer close(s.loopDone)
	var run *runtime
	for {
		var vadCh <-chan vad.Event
		var recCh <-chan asr.TranscriptEvent
		var speakCh chan error
		if run != nil {
			vadCh = run.vadEvents
			recCh = run.recEvents
			speakCh = run.speakDone
		}

		select {
		case <-s.closeCh:
			if run != nil {
				s.teardown(run)
			}
			return

		case cmd := <-s.cmds:
			run = s.handleCommand(run, cmd)

		case ev, ok := <-vadCh:
			if !ok {
				run.vadEvents = nil
				continue
			}
			s.handleVADEvent(run, ev)

		case ev, ok := <-recCh:
			if !ok {
				run.recEvents = nil
				continue
			}
			s.handleTranscript(run, ev)

		case err := <-speakCh:
			s.handleSpeakDone(run, err)
		}
	}
}

func (s *Session) handleCommand(run *runtime, cmd command) *runtime {
	switch cmd.kind {
	case cmdStart:
		next, err := s.handleStart(run, cmd.ctx)
		cmd.reply <- cmdResult{err: err}
		return next

	case cmdStop:
		if run != nil {
			s.teardown(run)
			run = nil
		}
		if s.State() != StateIdle {
			s.forceState(StateIdle)
		}
		s.muted.Store(false)
		cmd.reply <- cmdResult{}
		return nil

	case cmdToggleMute:
		if run == nil {
			cmd.reply <- cmdResult{err: fmt.Errorf("session is not started")}
			return nil
		}
		run.muted = !run.muted
		s.muted.Store(run.muted)
		run.muteGate.SetMuted(run.muted)
		var err error
		if run.muted {
			err = run.rec.Pause(cmd.ctx)
		} else if s.State() != StateAISpeaking {
			err = run.rec.Resume(cmd.ctx)
		}
		s.logger.Info("mute toggled", slog.Bool("muted", run.muted))
		cmd.reply <- cmdResult{muted: run.muted, err: err}
		return run

	case cmdSpeak:
		handle, err := s.handleSpeak(run, cmd.ctx, cmd.text, cmd.voice)
		cmd.reply <- cmdResult{handle: handle, err: err}
		return run

	case cmdEnterError:
		s.toError(cmd.reason)
		cmd.reply <- cmdResult{}
		return run

	default:
		cmd.reply <- cmdResult{err: fmt.Errorf("unknown command %d", cmd.kind)}
		return run
	}
}

// handleStart builds a fresh component generation, or revives the network
// channels when retrying out of Error.
func (s *Session) handleStart(run *runtime, ctx context.Context) (*runtime, error) {
	switch s.State() {
	case StateIdle:
	case StateError:
		if run != nil {
			// components survive Error; retry the recognition leg
			if err := run.rec.Start(ctx); err != nil {
				return run, err
			}
			s.transition(StateListening)
			return run, nil
		}
	default:
		s.rejectTransition(StateListening)
		return run, voice.NewError(voice.CodeInvalidTransition,
			fmt.Sprintf("start not allowed from %s", s.State()))
	}

	capture, err := s.cfg.NewCapture()
	if err != nil {
		s.toError(asVoiceError(err, voice.CodeMicrophoneUnavailable))
		return nil, err
	}
	rec, err := s.cfg.NewRecognizer()
	if err != nil {
		capture.Stop()
		s.toError(asVoiceError(err, voice.CodeConnectionFailed))
		return nil, err
	}
	syn, err := s.cfg.NewSynthesizer()
	if err != nil {
		capture.Stop()
		rec.Stop()
		s.toError(asVoiceError(err, voice.CodeConnectionFailed))
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &runtime{
		ctx:       runCtx,
		cancel:    cancel,
		capture:   capture,
		rec:       rec,
		syn:       syn,
		det:       s.cfg.NewDetector(),
		muteGate:  voice.NewMuteGate(),
		speakDone: make(chan error, 1),
		pumpDone:  make(chan struct{}),
	}

	asrTap := capture.AddGatedTap("asr", s.cfg.TapDepth, r.muteGate)
	var vadTap *audio.Tap
	if s.cfg.MuteSuspendsVAD {
		vadTap = capture.AddGatedTap("vad", s.cfg.TapDepth, r.muteGate)
	} else {
		vadTap = capture.AddTap("vad", s.cfg.TapDepth)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancelStart()
	g, gctx := errgroup.WithContext(startCtx)
	g.Go(func() error { return rec.Start(gctx) })
	g.Go(func() error { return syn.Start(gctx) })
	if err := g.Wait(); err == nil {
		err = capture.Start()
	} else {
		capture.Stop()
		rec.Stop()
		syn.Stop()
		cancel()
		s.toError(asVoiceError(err, voice.CodeConnectionFailed))
		return nil, err
	}
	if err != nil {
		// capture failure after the channels came up
		rec.Stop()
		syn.Stop()
		cancel()
		s.toError(asVoiceError(err, voice.CodeMicrophoneUnavailable))
		return nil, err
	}

	r.vadEvents = vad.Stream(runCtx, r.det, vadTap.Frames())
	r.recEvents = rec.Events()
	go s.pumpFrames(r, asrTap)

	s.transition(StateListening)
	s.logger.Info("session started")
	return r, nil
}

// pumpFrames forwards captured frames to the recognition channel in capture
// order.
func (s *Session) pumpFrames(r *runtime, tap *audio.Tap) {
	defer close(r.pumpDone)
	for {
		select {
		case <-r.ctx.Done():
			return
		case frame, ok := <-tap.Frames():
			if !ok {
				return
			}
			if err := r.rec.SendFrame(frame); err != nil {
				s.logger.Debug("frame forward failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Session) handleVADEvent(run *runtime, ev vad.Event) {
	if run == nil {
		return
	}
	switch ev.Type {
	case vad.EventSpeechStart:
		s.logger.Debug("speech started", slog.Duration("at", ev.Timestamp))

	case vad.EventSpeechEnd:
		s.logger.Debug("speech ended", slog.Duration("at", ev.Timestamp))
		if s.State() == StateListening {
			s.transition(StateProcessing)
		}

	case vad.EventInterruption:
		if s.State() != StateAISpeaking {
			return
		}
		s.metrics.Interruptions.Add(1)
		s.logger.Info("barge-in confirmed, canceling playback")
		run.syn.Cancel()
		// the speak handle completes with context.Canceled and
		// handleSpeakDone restores Listening
	}
}

func (s *Session) handleTranscript(run *runtime, ev asr.TranscriptEvent) {
	switch ev.Kind {
	case asr.KindPartial:
		if s.cfg.OnTranscript != nil {
			s.cfg.OnTranscript(ev)
		}

	case asr.KindFinal:
		s.metrics.Utterances.Add(1)
		if s.cfg.OnTranscript != nil {
			s.cfg.OnTranscript(ev)
		}
		if s.State() == StateProcessing {
			s.transition(StateListening)
		}

	case asr.KindError:
		s.handleChannelFault(ev.Err)
	}
}

// handleChannelFault routes a recognition fault: connection exhaustion
// parks the session in Error for a later retry; a server-side recognition
// error returns to Listening rather than wedging Processing.
func (s *Session) handleChannelFault(err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
	switch voice.CodeOf(err) {
	case voice.CodeConnectionFailed, voice.CodeConnectionTimeout:
		s.toError(asVoiceError(err, voice.CodeConnectionFailed))
	default:
		s.logger.Warn("recognition fault", slog.String("error", err.Error()))
		if s.State() == StateProcessing {
			s.transition(StateListening)
		}
	}
}

func (s *Session) handleSpeak(run *runtime, ctx context.Context, text, voiceID string) (*tts.SpeakHandle, error) {
	if run == nil {
		return nil, fmt.Errorf("session is not started")
	}
	state := s.State()
	if state != StateListening && state != StateProcessing {
		s.rejectTransition(StateAISpeaking)
		return nil, voice.NewError(voice.CodeInvalidTransition,
			fmt.Sprintf("speak not allowed from %s", state))
	}

	run.det.SetAISpeaking(true)
	if err := run.rec.Pause(ctx); err != nil {
		s.logger.Warn("recognition pause failed", slog.String("error", err.Error()))
	}

	handle, err := run.syn.Speak(ctx, tts.SpeakRequest{Text: text, Voice: voiceID})
	if err != nil {
		run.det.SetAISpeaking(false)
		if !run.muted {
			run.rec.Resume(ctx)
		}
		if s.cfg.OnError != nil {
			s.cfg.OnError(err)
		}
		return nil, err
	}

	run.activeSpeak = handle
	s.transition(StateAISpeaking)
	go func() {
		<-handle.Done()
		select {
		case run.speakDone <- handle.Err():
		case <-run.ctx.Done():
		}
	}()
	return handle, nil
}

// handleSpeakDone restores listening after playback completes, is
// interrupted, or fails.
func (s *Session) handleSpeakDone(run *runtime, err error) {
	if run == nil || run.activeSpeak == nil {
		return
	}
	run.activeSpeak = nil
	run.det.SetAISpeaking(false)

	if err != nil && !errors.Is(err, context.Canceled) {
		if s.cfg.OnError != nil {
			s.cfg.OnError(err)
		}
		s.logger.Warn("playback ended with error", slog.String("error", err.Error()))
	}

	if s.State() == StateAISpeaking {
		s.transition(StateListening)
	}
	if !run.muted {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if rerr := run.rec.Resume(ctx); rerr != nil {
			cancel()
			s.handleChannelFault(rerr)
			return
		}
		cancel()
	}
}

// teardown synchronously releases a component generation. Never panics;
// in-flight buffers are discarded.
func (s *Session) teardown(run *runtime) {
	run.cancel()
	run.syn.Stop()
	if err := run.capture.Stop(); err != nil {
		s.logger.Warn("capture stop failed", slog.String("error", err.Error()))
	}
	run.rec.Stop()
	select {
	case <-run.pumpDone:
	case <-time.After(time.Second):
		s.logger.Warn("frame pump did not drain in time")
	}
	s.logger.Info("session components released")
}

// transition applies a table edge; off-table requests are logged and
// rejected without mutating state.
func (s *Session) transition(to State) bool {
	from := s.State()
	if from == to {
		return true
	}
	if !CanTransition(from, to) {
		s.rejectTransitionFrom(from, to)
		return false
	}
	s.state.Store(int32(to))
	s.metrics.StateTransitions.Add(fmt.Sprintf("%s_to_%s", from, to), 1)
	s.logger.Info("state changed", slog.String("from", from.String()), slog.String("to", to.String()))
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
	return true
}

// forceState is used only by Stop, which must reach Idle from anywhere.
func (s *Session) forceState(to State) {
	from := s.State()
	s.state.Store(int32(to))
	s.metrics.StateTransitions.Add(fmt.Sprintf("%s_to_%s", from, to), 1)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
}

func (s *Session) toError(reason *voice.Error) {
	s.lastError.Store(reason)
	if s.State() != StateError {
		s.transition(StateError)
	}
}

func (s *Session) rejectTransition(to State) {
	s.rejectTransitionFrom(s.State(), to)
}

func (s *Session) rejectTransitionFrom(from, to State) {
	s.metrics.InvalidTransitions.Add(1)
	s.logger.Warn("invalid transition rejected",
		slog.String("from", from.String()), slog.String("to", to.String()))
}

// asVoiceError coerces err into a *voice.Error, defaulting to code when the
// error carries none.
func asVoiceError(err error, code voice.Code) *voice.Error {
	var ve *voice.Error
	if errors.As(err, &ve) {
		return ve
	}
	return voice.WrapError(code, err, "")
}

package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hearsay-ai/voiceloop/internal/ws"
	"github.com/hearsay-ai/voiceloop/pkg/audio"
	"github.com/hearsay-ai/voiceloop/pkg/voice"
)

// Config configures a synthesis channel.
type Config struct {
	// URL is the synthesis endpoint, e.g. wss://host/ws/voice/tts.
	URL string

	// Token authenticates the connection via query parameter.
	Token string

	// Voice is the default voice id for requests that leave Voice empty.
	Voice string

	// ReadyTimeout bounds the wait for tts_ready. Defaults to 8 s.
	ReadyTimeout time.Duration

	// Playback tunes the playback buffer created per utterance.
	Playback audio.PlaybackConfig
}

// speakCommand is the outbound control message.
type speakCommand struct {
	Action    string `json:"action"`
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	RequestID string `json:"request_id,omitempty"`
}

// inboundEvent is the inbound control vocabulary.
type inboundEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// utterance pairs one speak handle with its playback buffer.
type utterance struct {
	handle    *SpeakHandle
	buffer    *audio.PlaybackBuffer
	requested time.Time
	gotAudio  bool
}

// Channel is the websocket-backed Synthesizer implementation. Audio chunks
// stream straight into a per-utterance playback buffer; the network
// "finished" event only marks input-finished, and the handle completes when
// the buffer drains.
type Channel struct {
	cfg    Config
	out    audio.Output
	logger *slog.Logger

	mu      sync.Mutex
	conn    *ws.Conn
	active  *utterance
	started bool
	stopped bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// firstAudioNanos holds the most recent utterance's latency from speak
	// command to first audio chunk.
	firstAudioNanos atomic.Int64
}

// FirstAudioLatency returns the speak-to-first-chunk latency of the most
// recent utterance that produced audio. Zero before any audio has arrived.
func (c *Channel) FirstAudioLatency() time.Duration {
	return time.Duration(c.firstAudioNanos.Load())
}

// NewChannel creates a synthesis channel playing through out.
func NewChannel(cfg Config, out audio.Output, logger *slog.Logger) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("synthesis URL is required")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:    cfg,
		out:    out,
		logger: logger.With(slog.String("component", "tts")),
		stopCh: make(chan struct{}),
	}, nil
}

// Start opens the connection and waits for tts_ready.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("synthesis channel is stopped")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	return c.connect(ctx)
}

// Speak sends a synthesis request over the open connection, reconnecting
// first if the previous connection was lost.
func (c *Channel) Speak(ctx context.Context, req SpeakRequest) (*SpeakHandle, error) {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.mu.Unlock()
		return nil, fmt.Errorf("synthesis channel is not started")
	}
	if c.active != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("synthesis already in progress")
	}
	needsConnect := c.conn == nil
	c.mu.Unlock()

	if needsConnect {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}

	voiceID := req.Voice
	if voiceID == "" {
		voiceID = c.cfg.Voice
	}
	handle := newSpeakHandle(uuid.NewString())

	buffer, err := audio.NewPlaybackBuffer(c.out, c.cfg.Playback, c.logger, func(err error) {
		c.onPlaybackComplete(handle, err)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		buffer.Cancel()
		return nil, voice.NewError(voice.CodeConnectionFailed, "synthesis connection lost")
	}
	c.active = &utterance{handle: handle, buffer: buffer, requested: time.Now()}
	c.mu.Unlock()

	cmd := speakCommand{Action: "speak", Text: req.Text, Voice: voiceID, RequestID: handle.RequestID()}
	if err := conn.WriteJSON(cmd); err != nil {
		c.clearActive(handle)
		buffer.Cancel()
		return nil, voice.WrapError(voice.CodeSynthesisFailed, err, "speak command send failed")
	}

	c.logger.Info("speak requested",
		slog.String("request_id", handle.RequestID()),
		slog.String("voice", voiceID),
		slog.Int("text_len", len(req.Text)))
	return handle, nil
}

// Cancel aborts the in-flight utterance, discarding buffered audio.
func (c *Channel) Cancel() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active != nil {
		c.logger.Info("speak canceled", slog.String("request_id", active.handle.RequestID()))
		active.buffer.Cancel()
	}
}

// Stop cancels any in-flight utterance and disconnects. Idempotent.
func (c *Channel) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		conn := c.conn
		c.conn = nil
		active := c.active
		c.mu.Unlock()
		close(c.stopCh)
		if active != nil {
			active.buffer.Cancel()
		}
		if conn != nil {
			conn.Close()
		}
		c.wg.Wait()
		c.logger.Info("synthesis channel stopped")
	})
	return nil
}

func (c *Channel) connect(ctx context.Context) error {
	conn, err := ws.Dial(ctx, c.cfg.URL, url.Values{"token": {c.cfg.Token}}, c.logger)
	if err != nil {
		return voice.WrapError(voice.CodeConnectionFailed, err, "synthesis endpoint unreachable")
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("synthesis channel is stopped")
	}
	c.mu.Unlock()

	ready := make(chan struct{}, 1)
	c.wg.Add(1)
	go c.readLoop(conn, ready)

	select {
	case <-ready:
	case <-time.After(c.cfg.ReadyTimeout):
		conn.Close()
		return voice.NewError(voice.CodeConnectionTimeout, "synthesis ready ack not received")
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case <-c.stopCh:
		conn.Close()
		return fmt.Errorf("synthesis channel is stopped")
	}

	c.mu.Lock()
	if c.stopped {
		// Stop won the race between the ready ack and publication; the
		// conn must not outlive the channel.
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("synthesis channel is stopped")
	}
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("synthesis channel ready")
	return nil
}

// readLoop forwards binary audio to the active utterance's buffer and
// routes control events.
func (c *Channel) readLoop(conn *ws.Conn, ready chan<- struct{}) {
	defer c.wg.Done()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		if messageType == websocket.BinaryMessage {
			c.mu.Lock()
			active := c.active
			if active != nil && !active.gotAudio {
				active.gotAudio = true
				c.firstAudioNanos.Store(int64(time.Since(active.requested)))
			}
			c.mu.Unlock()
			if active == nil {
				c.logger.Debug("audio chunk with no active utterance, dropping",
					slog.Int("bytes", len(data)))
				continue
			}
			if err := active.buffer.Write(data); err != nil {
				c.logger.Warn("playback write failed", slog.String("error", err.Error()))
			}
			continue
		}

		var ev inboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("dropping malformed message", slog.String("error", err.Error()))
			continue
		}
		switch ev.Event {
		case "tts_ready":
			select {
			case ready <- struct{}{}:
			default:
			}
		case "tts_finished":
			// all bytes sent; playback is NOT necessarily done
			c.mu.Lock()
			active := c.active
			c.mu.Unlock()
			if active != nil {
				active.buffer.MarkInputFinished()
			}
		case "error":
			c.mu.Lock()
			active := c.active
			c.mu.Unlock()
			if active != nil {
				active.handle.finish(voice.NewError(voice.CodeSynthesisFailed, ev.Message))
				active.buffer.Cancel()
				c.clearActive(active.handle)
			}
		default:
			c.logger.Debug("ignoring event", slog.String("event", ev.Event))
		}
	}
}

// onPlaybackComplete finishes the utterance whose buffer drained.
func (c *Channel) onPlaybackComplete(handle *SpeakHandle, err error) {
	c.clearActive(handle)
	handle.finish(err)
	if err == nil {
		c.logger.Info("playback complete", slog.String("request_id", handle.RequestID()))
	}
}

// clearActive drops the active utterance if it still belongs to handle.
func (c *Channel) clearActive(handle *SpeakHandle) {
	c.mu.Lock()
	if c.active != nil && c.active.handle == handle {
		c.active = nil
	}
	c.mu.Unlock()
}

// handleDisconnect fails the in-flight utterance on an unexpected drop.
func (c *Channel) handleDisconnect(conn *ws.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	active := c.active
	stopped := c.stopped
	c.mu.Unlock()

	if stopped {
		return
	}
	c.logger.Warn("synthesis connection lost", slog.String("error", err.Error()))
	if active != nil {
		active.handle.finish(voice.WrapError(voice.CodeConnectionFailed, err, "synthesis connection lost"))
		active.buffer.Cancel()
		c.clearActive(active.handle)
	}
}

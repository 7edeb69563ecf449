package asr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearsay-ai/voiceloop/internal/ws"
	"github.com/hearsay-ai/voiceloop/pkg/rtc"
	"github.com/hearsay-ai/voiceloop/pkg/voice"
)

// Backoff controls reconnection after an unexpected disconnect.
type Backoff struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultBackoff is the default reconnect policy.
var DefaultBackoff = Backoff{
	MaxRetries:   3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Factor:       2.0,
}

// Config configures a recognition channel.
type Config struct {
	// URL is the recognition endpoint, e.g. wss://host/ws/voice/asr.
	URL string

	// Token authenticates the connection (bearer token or api key,
	// depending on protocol).
	Token string

	// Protocol selects the backend vocabulary. Defaults to BearerProtocol.
	Protocol Protocol

	// ReadyTimeout bounds the wait for the server's ready acknowledgment.
	// Defaults to 8 s.
	ReadyTimeout time.Duration

	// PauseClosesConnection makes Pause tear down the socket instead of
	// merely suppressing sends; Resume reconnects.
	PauseClosesConnection bool

	// Backoff is the reconnect policy. Defaults to DefaultBackoff.
	Backoff Backoff
}

// Channel is the websocket-backed Recognizer implementation.
type Channel struct {
	cfg    Config
	logger *slog.Logger
	events chan TranscriptEvent

	mu      sync.Mutex
	conn    *ws.Conn
	paused  bool
	started bool
	stopped bool

	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	reconnects atomic.Int64
}

// NewChannel creates a recognition channel. Start must be called before
// frames are sent.
func NewChannel(cfg Config, logger *slog.Logger) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("recognition URL is required")
	}
	if cfg.Protocol == nil {
		cfg.Protocol = BearerProtocol{}
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 8 * time.Second
	}
	if cfg.Backoff.MaxRetries <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "asr"), slog.String("protocol", cfg.Protocol.Name())),
		events: make(chan TranscriptEvent, 32),
		stopCh: make(chan struct{}),
	}, nil
}

// Start opens the connection and waits for the ready acknowledgment.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("recognition channel is stopped")
	}
	if c.started && c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	return c.connect(ctx)
}

// SendFrame forwards one canonical frame as a binary message. Silently a
// no-op while paused or disconnected; the read loop owns fault handling.
func (c *Channel) SendFrame(frame *rtc.AudioFrame) error {
	c.mu.Lock()
	conn := c.conn
	paused := c.paused
	c.mu.Unlock()
	if paused || conn == nil {
		return nil
	}
	if err := conn.WriteBinary(frame.Data); err != nil {
		c.logger.Debug("frame send failed", slog.String("error", err.Error()))
	}
	return nil
}

// Pause suppresses outbound sending. With PauseClosesConnection the socket
// is torn down as well and Resume reconnects.
func (c *Channel) Pause(ctx context.Context) error {
	c.mu.Lock()
	c.paused = true
	var conn *ws.Conn
	if c.cfg.PauseClosesConnection {
		conn = c.conn
		c.conn = nil
	}
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
		c.logger.Debug("connection closed on pause")
	}
	return nil
}

// Resume re-enables sending, reconnecting first if the socket is closed.
func (c *Channel) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("recognition channel is stopped")
	}
	c.paused = false
	connected := c.conn != nil
	c.mu.Unlock()

	if connected {
		return nil
	}
	return c.connect(ctx)
}

// Events returns the transcript stream. Closed after Stop.
func (c *Channel) Events() <-chan TranscriptEvent { return c.events }

// Reconnects returns how many automatic reconnects have succeeded.
func (c *Channel) Reconnects() int64 { return c.reconnects.Load() }

// Stop tears the channel down and closes the event stream. Idempotent and
// safe to call mid-transmission.
func (c *Channel) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		close(c.stopCh)
		if conn != nil {
			conn.Close()
		}
		c.wg.Wait()
		close(c.events)
		c.logger.Info("recognition channel stopped")
	})
	return nil
}

// connect dials, starts the read loop, and waits for ready.
func (c *Channel) connect(ctx context.Context) error {
	conn, err := ws.Dial(ctx, c.cfg.URL, c.cfg.Protocol.Query(c.cfg.Token), c.logger)
	if err != nil {
		return voice.WrapError(voice.CodeConnectionFailed, err, "recognition endpoint unreachable")
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("recognition channel is stopped")
	}
	c.mu.Unlock()

	ready := make(chan struct{}, 1)
	c.wg.Add(1)
	go c.readLoop(conn, ready)

	select {
	case <-ready:
	case <-time.After(c.cfg.ReadyTimeout):
		conn.Close()
		return voice.NewError(voice.CodeConnectionTimeout, "recognition ready ack not received")
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case <-c.stopCh:
		conn.Close()
		return fmt.Errorf("recognition channel is stopped")
	}

	c.mu.Lock()
	if c.stopped {
		// Stop won the race between the ready ack and publication; the
		// conn must not outlive the channel.
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("recognition channel is stopped")
	}
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("recognition channel ready")
	return nil
}

// readLoop routes inbound control messages for one connection generation.
func (c *Channel) readLoop(conn *ws.Conn, ready chan<- struct{}) {
	defer c.wg.Done()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		if messageType == websocket.BinaryMessage {
			// recognition inbound is JSON control only
			continue
		}
		inbound, err := c.cfg.Protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed message", slog.String("error", err.Error()))
			continue
		}
		switch inbound.Kind {
		case InboundReady:
			select {
			case ready <- struct{}{}:
			default:
			}
		case InboundPartial:
			c.emit(TranscriptEvent{Kind: KindPartial, Text: inbound.Text})
		case InboundFinal:
			c.emit(TranscriptEvent{Kind: KindFinal, Text: inbound.Text})
		case InboundError:
			c.emit(TranscriptEvent{
				Kind: KindError,
				Err:  voice.NewError(voice.CodeRecognitionFailed, inbound.Message),
			})
		}
	}
}

// handleDisconnect decides whether a read failure warrants reconnection.
func (c *Channel) handleDisconnect(conn *ws.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// a stale generation: already replaced, paused-closed, or stopped
		c.mu.Unlock()
		return
	}
	c.conn = nil
	stopped := c.stopped
	paused := c.paused
	c.mu.Unlock()

	if stopped {
		return
	}
	if paused {
		c.logger.Debug("connection lost while paused; resume will reconnect")
		return
	}

	c.logger.Warn("recognition connection lost, reconnecting", slog.String("error", err.Error()))
	c.wg.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop retries with exponential backoff until success, exhaustion,
// or Stop.
func (c *Channel) reconnectLoop() {
	defer c.wg.Done()
	delay := c.cfg.Backoff.InitialDelay
	for attempt := 1; attempt <= c.cfg.Backoff.MaxRetries; attempt++ {
		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReadyTimeout)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			c.reconnects.Add(1)
			c.logger.Info("recognition channel reconnected", slog.Int("attempt", attempt))
			return
		}
		c.logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt), slog.String("error", err.Error()))

		delay = time.Duration(float64(delay) * c.cfg.Backoff.Factor)
		if delay > c.cfg.Backoff.MaxDelay {
			delay = c.cfg.Backoff.MaxDelay
		}
	}
	c.emit(TranscriptEvent{
		Kind: KindError,
		Err:  voice.NewError(voice.CodeConnectionFailed, "recognition reconnect attempts exhausted"),
	})
}

// emit delivers without ever blocking the read loop.
func (c *Channel) emit(ev TranscriptEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event consumer lagging, dropping", slog.String("kind", ev.Kind.String()))
	}
}

// Package ws wraps the websocket connection handling shared by the
// recognition and synthesis channels: authenticated dialing, serialized
// writes of JSON control and binary audio messages, and message reads.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultHandshakeTimeout bounds the websocket dial.
const DefaultHandshakeTimeout = 10 * time.Second

// Conn is one live websocket connection. Writes are serialized internally;
// reads must come from a single goroutine.
type Conn struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to rawURL with the given query parameters appended
// (typically the auth token) and returns the established connection.
func Dial(ctx context.Context, rawURL string, query url.Values, logger *slog.Logger) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	q := u.Query()
	for key, values := range query {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()

	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("dialing websocket", slog.String("host", u.Host), slog.String("path", u.Path))

	dialer := websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	logger.Debug("websocket connected", slog.String("host", u.Host))
	return &Conn{conn: conn, logger: logger}, nil
}

// ReadMessage blocks until the next message arrives. messageType is
// websocket.TextMessage or websocket.BinaryMessage.
func (c *Conn) ReadMessage() (messageType int, data []byte, err error) {
	return c.conn.ReadMessage()
}

// WriteJSON sends v as a text control message.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteBinary sends data as a binary message.
func (c *Conn) WriteBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close tears the connection down. Idempotent; concurrent readers unblock
// with an error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		// best effort; the peer may already be gone
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsCloseError reports whether err is a normal websocket closure rather
// than a transport fault.
func IsCloseError(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

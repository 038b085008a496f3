package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultEndpointPath     = "/ws"
	defaultHandshakeTimeout = 10 * time.Second
	closeWriteTimeout       = 2 * time.Second
)

// WebSocketTransport talks to the marketplace real-time endpoint over a
// single websocket connection.
type WebSocketTransport struct {
	endpoint         string
	handshakeTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	writeMu sync.Mutex
}

// NewWebSocketTransport derives the ws endpoint from the server base URL:
// http becomes ws, https becomes wss, and the well-known /ws path is
// appended unless the URL already carries one.
func NewWebSocketTransport(baseURL string, handshakeTimeout time.Duration) (*WebSocketTransport, error) {
	endpoint, err := endpointFromBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}

	return &WebSocketTransport{endpoint: endpoint, handshakeTimeout: handshakeTimeout}, nil
}

func endpointFromBaseURL(baseURL string) (string, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return "", errors.New("server base url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url has no host: %q", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultEndpointPath
	}

	return u.String(), nil
}

func (t *WebSocketTransport) Name() string {
	return "websocket"
}

func (t *WebSocketTransport) StatusTarget() string {
	return t.endpoint
}

func (t *WebSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("websocket", "target", t.endpoint)
	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.handshakeTimeout}
	logger.Info("connecting")
	conn, resp, err := dialer.DialContext(ctx, t.endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial websocket: %w", err)
	}
	t.conn = conn
	t.closed = false
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

// Close performs the normal-closure handshake and releases the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.closed = true
	t.mu.Unlock()

	logger := transportLogger("websocket", "target", t.endpoint)
	if conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}

	t.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout),
	)
	t.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

func (t *WebSocketTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	logger := transportLogger("websocket")
	conn, err := t.currentConn()
	if err != nil {
		logger.Debug("read frame failed: not connected", "error", err)

		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		if t.localClosed() {
			return nil, ErrClosed
		}
		logger.Debug("read frame failed", "error", err)

		return nil, err
	}
	logger.Debug("read frame", "len", len(payload))

	return payload, nil
}

func (t *WebSocketTransport) WriteFrame(ctx context.Context, payload []byte) error {
	logger := transportLogger("websocket")
	conn, err := t.currentConn()
	if err != nil {
		logger.Debug("write frame failed: not connected", "error", err)

		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		logger.Warn("write frame failed", "len", len(payload), "error", err)

		return fmt.Errorf("write frame: %w", err)
	}
	logger.Debug("write frame", "len", len(payload))

	return nil
}

func (t *WebSocketTransport) currentConn() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, errors.New("transport is not connected")
	}

	return t.conn, nil
}

func (t *WebSocketTransport) localClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

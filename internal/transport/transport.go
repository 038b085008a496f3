package transport

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
)

// Transport is one full-duplex connection to the real-time endpoint.
// Implementations must tolerate Close being called concurrently with a
// blocked ReadFrame.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}

// StatusTargetResolver lets a transport expose a human-readable target for
// connection status events.
type StatusTargetResolver interface {
	StatusTarget() string
}

// IsNormalClosure reports whether err is a deliberate peer close rather
// than a dropped connection. Only non-normal closures trigger reconnects.
func IsNormalClosure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}

	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// ErrClosed is returned by ReadFrame after a local Close.
var ErrClosed = errors.New("transport closed")

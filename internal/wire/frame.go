package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType tags one discrete real-time message on the shared stream.
type FrameType string

const (
	FrameAuth               FrameType = "auth"
	FrameAuthFailed         FrameType = "auth_failed"
	FrameJoinChat           FrameType = "join_chat"
	FrameLeaveChat          FrameType = "leave_chat"
	FrameMessageRead        FrameType = "message_read"
	FrameMessageReceived    FrameType = "message_received"
	FrameOrderStatusUpdated FrameType = "order_status_updated"
	FrameError              FrameType = "error"
)

// Frame is the JSON envelope exchanged over the real-time endpoint.
// Chat and order traffic share one stream distinguished by Type.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func New(t FrameType, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", t, err)
	}

	return Frame{Type: t, Payload: raw}, nil
}

func Parse(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, errors.New("frame has no type")
	}

	return f, nil
}

func (f Frame) Encode() ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}

	return raw, nil
}

// Decode unmarshals the payload into dst.
func (f Frame) Decode(dst any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}

	return nil
}

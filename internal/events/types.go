package events

import "time"

// ConnectionState describes the connection manager lifecycle state.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
)

// ConnectionStatus is a bus event snapshot of the current connection.
type ConnectionStatus struct {
	State     ConnectionState
	Err       string
	Target    string
	Timestamp time.Time
}

// UIConnState is the debounced connection state meant for render surfaces.
// Raw ConnectionStatus transitions flap during reconnect cycles; this one
// only changes after the debounce window has elapsed.
type UIConnState struct {
	Connected  bool
	Connecting bool
	Err        string
}

// SendFailure is published when an optimistic message send rolled back.
// Draft carries the original text so the composer can restore it.
type SendFailure struct {
	CustomerID string
	ShopID     string
	ProductID  string
	Draft      string
	Err        string
}

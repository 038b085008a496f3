package notifications

// Payload is one user-facing notification (toast).
type Payload struct {
	Title   string
	Content string
}

// Sender delivers notifications through a platform backend.
type Sender interface {
	Send(payload Payload)
}

package wire

import (
	"fmt"
	"strings"
	"time"
)

const (
	UserTypeCustomer = "customer"
	UserTypeMerchant = "merchant"
)

// TempIDPrefix marks a locally synthesized message id that has not been
// confirmed by the server yet.
const TempIDPrefix = "temp_"

// AuthPayload is sent once per connection immediately after open.
// ShopID is set for merchants only.
type AuthPayload struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
	ShopID   string `json:"shop_id,omitempty"`
}

// AuthFailedPayload carries the server's rejection reason.
type AuthFailedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// SessionPayload addresses one conversation for join/leave frames.
type SessionPayload struct {
	CustomerID string `json:"customer_id"`
	ShopID     string `json:"shop_id"`
	ProductID  string `json:"product_id,omitempty"`
}

// ReadReceipt signals that messages of a conversation were viewed.
// MessageID is set when a single message was read, empty for a whole thread.
type ReadReceipt struct {
	MessageID  string `json:"message_id,omitempty"`
	CustomerID string `json:"customer_id"`
	ShopID     string `json:"shop_id"`
	ProductID  string `json:"product_id,omitempty"`
	ReaderID   string `json:"reader_id"`
}

// ErrorPayload is a synthetic frame the connection manager fans out when the
// transport reports a problem. It is never produced by the server.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Message is one chat message. Until the server confirms a send, ID holds a
// temp_<epoch-ms> placeholder; ClientKey is the idempotency key generated at
// send time and carried through both the POST and the broadcast echo.
type Message struct {
	ID         string `json:"id"`
	ClientKey  string `json:"client_key,omitempty"`
	CustomerID string `json:"customer_id"`
	ShopID     string `json:"shop_id"`
	ProductID  string `json:"product_id,omitempty"`
	SenderID   string `json:"sender_id"`
	SenderType string `json:"sender_type"`
	Body       string `json:"message"`
	Read       bool   `json:"read"`
	CreatedAt  int64  `json:"created_at"`
}

func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// TempID builds a placeholder id for an unconfirmed send. The client key
// suffix keeps two sends inside the same millisecond distinct.
func TempID(now time.Time, clientKey string) string {
	id := fmt.Sprintf("%s%d", TempIDPrefix, now.UnixMilli())
	if clientKey == "" {
		return id
	}

	return id + "_" + clientKey
}

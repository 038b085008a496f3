package chat

import "marketgo/internal/wire"

// SessionKey addresses one conversation for join/leave/read frames.
// ProductID narrows the context shown in the chat dialog but never splits
// the thread: two keys are the same conversation iff customer and shop
// match.
type SessionKey struct {
	CustomerID string
	ShopID     string
	ProductID  string
}

func (k SessionKey) ConversationID() string {
	return ConversationID(k.CustomerID, k.ShopID)
}

func (k SessionKey) SameConversation(other SessionKey) bool {
	return k.CustomerID == other.CustomerID && k.ShopID == other.ShopID
}

func SessionFromMessage(m wire.Message) SessionKey {
	return SessionKey{CustomerID: m.CustomerID, ShopID: m.ShopID, ProductID: m.ProductID}
}

func ConversationID(customerID, shopID string) string {
	return customerID + "|" + shopID
}

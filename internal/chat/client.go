package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketgo/internal/api"
	"marketgo/internal/bus"
	"marketgo/internal/events"
	"marketgo/internal/realtime"
	"marketgo/internal/wire"
)

// FrameConn is the slice of the connection manager the chat client needs.
type FrameConn interface {
	Subscribe(fn realtime.Handler) func()
	Send(frame wire.Frame) bool
	ForceReconnect()
}

// MessageAPI is the slice of the REST client the chat client needs.
type MessageAPI interface {
	ListMessages(ctx context.Context, customerID, shopID, productID string) ([]wire.Message, error)
	PostMessage(ctx context.Context, req api.SendMessageRequest) (wire.Message, error)
	MarkRead(ctx context.Context, customerID, shopID, readerID string) error
}

// SendError reports a failed optimistic send. Draft carries the original
// text so the composer can restore it byte for byte.
type SendError struct {
	Draft string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Client adapts the shared frame stream to the chat concern: it filters
// incoming frames to the user's own conversations, feeds the thread store,
// and exposes the join/leave/read/send intents. Intents never mutate UI
// state themselves; the broadcast echo is the single source of truth, so
// every client (including the sender's other open tabs) converges.
type Client struct {
	logger   *slog.Logger
	conn     FrameConn
	bus      bus.MessageBus
	store    *ThreadStore
	api      MessageAPI
	identity realtime.Identity
	status   *realtime.Debouncer

	mu     sync.Mutex
	active *SessionKey
	unsub  func()
}

func NewClient(
	logger *slog.Logger,
	conn FrameConn,
	b bus.MessageBus,
	store *ThreadStore,
	messageAPI MessageAPI,
	identity realtime.Identity,
	status *realtime.Debouncer,
) *Client {
	return &Client{
		logger:   logger,
		conn:     conn,
		bus:      b,
		store:    store,
		api:      messageAPI,
		identity: identity,
		status:   status,
	}
}

func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.unsub == nil {
		c.unsub = c.conn.Subscribe(c.handleFrame)
	}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

func (c *Client) Stop() {
	c.LeaveChat()

	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// JoinChat announces presence in a conversation. Join is advisory: the
// server attributes messages by (customer, shop) regardless of join state,
// so a dropped frame is logged and ignored.
func (c *Client) JoinChat(key SessionKey) {
	c.mu.Lock()
	c.active = &key
	c.mu.Unlock()

	frame, err := wire.New(wire.FrameJoinChat, wire.SessionPayload{
		CustomerID: key.CustomerID,
		ShopID:     key.ShopID,
		ProductID:  key.ProductID,
	})
	if err != nil {
		c.logger.Warn("build join frame", "error", err)

		return
	}
	if !c.conn.Send(frame) {
		c.logger.Debug("join frame dropped: not connected")
	}
}

// LeaveChat mirrors JoinChat; skipped silently if the transport already
// dropped.
func (c *Client) LeaveChat() {
	c.mu.Lock()
	key := c.active
	c.active = nil
	c.mu.Unlock()
	if key == nil {
		return
	}

	frame, err := wire.New(wire.FrameLeaveChat, wire.SessionPayload{
		CustomerID: key.CustomerID,
		ShopID:     key.ShopID,
		ProductID:  key.ProductID,
	})
	if err != nil {
		c.logger.Warn("build leave frame", "error", err)

		return
	}
	if !c.conn.Send(frame) {
		c.logger.Debug("leave frame dropped: not connected")
	}
}

func (c *Client) ActiveSession() (SessionKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return SessionKey{}, false
	}

	return *c.active, true
}

// LoadHistory fetches the authoritative message list for a conversation.
func (c *Client) LoadHistory(ctx context.Context, key SessionKey) ([]wire.Message, error) {
	msgs, err := c.api.ListMessages(ctx, key.CustomerID, key.ShopID, key.ProductID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	c.store.ReplaceConversation(key.ConversationID(), msgs)

	return c.store.Messages(key.ConversationID()), nil
}

// MarkMessageRead signals that a message was viewed: the REST call is
// authoritative, the frame advisory. The server broadcasts the updated
// read state to every connected client.
func (c *Client) MarkMessageRead(ctx context.Context, m wire.Message) error {
	frame, err := wire.New(wire.FrameMessageRead, wire.ReadReceipt{
		MessageID:  m.ID,
		CustomerID: m.CustomerID,
		ShopID:     m.ShopID,
		ProductID:  m.ProductID,
		ReaderID:   c.identity.UserID,
	})
	if err == nil && !c.conn.Send(frame) {
		c.logger.Debug("read frame dropped: not connected")
	}

	if err := c.api.MarkRead(ctx, m.CustomerID, m.ShopID, c.identity.UserID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	c.store.ApplyReadReceipt(wire.ReadReceipt{
		CustomerID: m.CustomerID,
		ShopID:     m.ShopID,
		ReaderID:   c.identity.UserID,
	})

	return nil
}

// SendMessage runs the optimistic pipeline: stage a temp entry, POST, then
// replace it with the confirmed copy or roll back. On failure the returned
// SendError carries the draft so the caller restores the input text.
func (c *Client) SendMessage(ctx context.Context, key SessionKey, body string) (wire.Message, error) {
	if strings.TrimSpace(body) == "" {
		return wire.Message{}, errors.New("message body is empty")
	}

	now := time.Now()
	clientKey := uuid.NewString()
	temp := wire.Message{
		ID:         wire.TempID(now, clientKey),
		ClientKey:  clientKey,
		CustomerID: key.CustomerID,
		ShopID:     key.ShopID,
		ProductID:  key.ProductID,
		SenderID:   c.identity.UserID,
		SenderType: c.identity.Role,
		Body:       body,
		CreatedAt:  now.UnixMilli(),
	}
	c.store.Append(temp)

	confirmed, err := c.api.PostMessage(ctx, api.SendMessageRequest{
		CustomerID: key.CustomerID,
		ShopID:     key.ShopID,
		ProductID:  key.ProductID,
		SenderID:   c.identity.UserID,
		SenderType: c.identity.Role,
		Body:       body,
		ClientKey:  temp.ClientKey,
	})
	if err != nil {
		c.store.Remove(key.ConversationID(), temp.ID)
		c.logger.Warn("message send failed", "shop_id", key.ShopID, "error", err)
		c.bus.Publish(events.TopicChatSendFail, events.SendFailure{
			CustomerID: key.CustomerID,
			ShopID:     key.ShopID,
			ProductID:  key.ProductID,
			Draft:      body,
			Err:        err.Error(),
		})

		return wire.Message{}, &SendError{Draft: body, Err: err}
	}

	c.store.Resolve(temp.ID, confirmed)
	c.bus.Publish(events.TopicChatMessage, confirmed)

	return confirmed, nil
}

func (c *Client) IsConnected() bool {
	if c.status == nil {
		return false
	}

	return c.status.IsConnected()
}

func (c *Client) IsConnecting() bool {
	if c.status == nil {
		return false
	}

	return c.status.IsConnecting()
}

func (c *Client) ConnectionError() string {
	if c.status == nil {
		return ""
	}

	return c.status.Snapshot().Err
}

// ForceReconnect drops and redials the shared connection. Surfaces call
// this instead of reaching down to the connection manager themselves.
func (c *Client) ForceReconnect() {
	c.conn.ForceReconnect()
}

func (c *Client) handleFrame(frame wire.Frame) {
	switch frame.Type {
	case wire.FrameMessageReceived:
		var m wire.Message
		if err := frame.Decode(&m); err != nil {
			c.logger.Warn("drop message frame", "error", err)

			return
		}
		if !c.relevant(m) {
			return
		}
		if c.store.Append(m) {
			c.bus.Publish(events.TopicChatMessage, m)
		}
	case wire.FrameMessageRead:
		var r wire.ReadReceipt
		if err := frame.Decode(&r); err != nil {
			c.logger.Warn("drop read frame", "error", err)

			return
		}
		c.store.ApplyReadReceipt(r)
	case wire.FrameError:
		var p wire.ErrorPayload
		if err := frame.Decode(&p); err == nil {
			c.logger.Debug("transport error frame", "message", p.Message)
		}
	}
}

// relevant is the broadcast-and-filter predicate for the chat concern: a
// merchant only surfaces messages addressed to its own shop, a customer
// only its own conversations. Every filter bug here is a potential
// cross-tenant leak, so the rule stays in one place.
func (c *Client) relevant(m wire.Message) bool {
	switch c.identity.Role {
	case wire.UserTypeMerchant:
		return m.ShopID == c.identity.ShopID
	case wire.UserTypeCustomer:
		return m.CustomerID == c.identity.UserID
	default:
		return false
	}
}

package orders

import (
	"log/slog"
	"sync"

	"marketgo/internal/bus"
	"marketgo/internal/events"
	"marketgo/internal/realtime"
	"marketgo/internal/wire"
)

// Role selects which slice of the order broadcast a watcher surfaces.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
)

const updateBuffer = 64

// FrameSource is the slice of the connection manager a watcher needs.
type FrameSource interface {
	Subscribe(fn realtime.Handler) func()
}

// Watcher filters order_status_updated broadcasts for one dashboard role:
// a merchant sees only its own shop's orders, a customer only its own,
// an admin everything. All three share the same connection and frame
// stream; only the predicate differs.
type Watcher struct {
	logger  *slog.Logger
	conn    FrameSource
	bus     bus.MessageBus
	role    Role
	userID  string
	shopID  string
	updates chan wire.OrderUpdate

	mu    sync.Mutex
	unsub func()
}

func NewWatcher(logger *slog.Logger, conn FrameSource, b bus.MessageBus, role Role, userID, shopID string) *Watcher {
	return &Watcher{
		logger:  logger,
		conn:    conn,
		bus:     b,
		role:    role,
		userID:  userID,
		shopID:  shopID,
		updates: make(chan wire.OrderUpdate, updateBuffer),
	}
}

func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unsub == nil {
		w.unsub = w.conn.Subscribe(w.handleFrame)
	}
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	unsub := w.unsub
	w.unsub = nil
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Updates delivers accepted payloads. They are ephemeral: a slow consumer
// loses updates rather than blocking frame delivery.
func (w *Watcher) Updates() <-chan wire.OrderUpdate {
	return w.updates
}

func (w *Watcher) handleFrame(frame wire.Frame) {
	if frame.Type != wire.FrameOrderStatusUpdated {
		return
	}
	var update wire.OrderUpdate
	if err := frame.Decode(&update); err != nil {
		w.logger.Warn("drop order frame", "error", err)

		return
	}
	if !w.accepts(update) {
		return
	}

	if w.bus != nil {
		w.bus.Publish(events.TopicOrderUpdate, update)
	}
	select {
	case w.updates <- update:
	default:
		w.logger.Warn("drop order update: slow consumer", "order_id", update.OrderID)
	}
}

func (w *Watcher) accepts(update wire.OrderUpdate) bool {
	switch w.role {
	case RoleMerchant:
		return update.ShopID == w.shopID
	case RoleCustomer:
		return update.CustomerID == w.userID
	case RoleAdmin:
		return true
	default:
		return false
	}
}

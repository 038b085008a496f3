package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketgo/internal/bus"
	"marketgo/internal/events"
	"marketgo/internal/transport"
	"marketgo/internal/wire"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultWriteTimeout   = 8 * time.Second
	authWriteTimeout      = 6 * time.Second
	reconnectDialTimeout  = 15 * time.Second
)

// ErrAuthRejected is recorded when the server answers the auth frame with
// auth_failed. The connection is closed and never retried automatically.
var ErrAuthRejected = errors.New("authentication rejected by server")

// Identity is the auth material sent right after the transport opens.
// ShopID is set for merchants only.
type Identity struct {
	UserID string
	Role   string
	ShopID string
}

// Handler receives every frame delivered by the connection.
type Handler func(frame wire.Frame)

type Options struct {
	// ReconnectDelay is the fixed wait before a reconnect attempt after a
	// non-normal closure. Default 3s.
	ReconnectDelay time.Duration
	// WriteTimeout bounds a single outgoing frame write. Default 8s.
	WriteTimeout time.Duration
}

type subscriber struct {
	id int
	fn Handler
}

type attempt struct {
	done chan struct{}
	err  error
}

// Manager owns at most one live connection to the real-time endpoint no
// matter how many consumers subscribe. The connection lives from the first
// Connect until the last subscriber leaves; a non-normal closure while
// subscribers remain schedules a reconnect that re-sends the auth frame.
type Manager struct {
	logger         *slog.Logger
	bus            bus.MessageBus
	tr             transport.Transport
	reconnectDelay time.Duration
	writeTimeout   time.Duration

	mu          sync.Mutex
	state       events.ConnectionState
	lastErr     error
	identity    Identity
	hasIdentity bool
	subs        []subscriber
	nextSubID   int
	inflight    *attempt
	reconnect   *time.Timer
	closing     bool
	gen         int
}

func NewManager(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	return &Manager{
		logger:         logger,
		bus:            b,
		tr:             tr,
		reconnectDelay: opts.ReconnectDelay,
		writeTimeout:   opts.WriteTimeout,
		state:          events.StateIdle,
	}
}

// Subscribe registers a frame handler and returns its unsubscribe func.
// When the last subscriber unsubscribes the connection is torn down: no
// subscriber may outlive the connection it expects.
func (m *Manager) Subscribe(fn Handler) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	count := len(m.subs)
	m.mu.Unlock()
	m.logger.Debug("subscriber added", "subscribers", count)

	var once sync.Once

	return func() {
		once.Do(func() { m.removeSubscriber(id) })
	}
}

func (m *Manager) removeSubscriber(id int) {
	m.mu.Lock()
	for i, sub := range m.subs {
		if sub.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			break
		}
	}
	count := len(m.subs)
	m.mu.Unlock()
	m.logger.Debug("subscriber removed", "subscribers", count)

	if count == 0 {
		m.Disconnect()
	}
}

func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.subs)
}

// Connect is idempotent: an open connection resolves immediately and a
// concurrent attempt is joined instead of starting a second dial.
func (m *Manager) Connect(ctx context.Context, identity Identity) error {
	m.mu.Lock()
	switch m.state {
	case events.StateOpen:
		m.mu.Unlock()

		return nil
	case events.StateConnecting:
		if inflight := m.inflight; inflight != nil {
			m.mu.Unlock()
			select {
			case <-inflight.done:
				return inflight.err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// Only the reconnect timer is pending. Take the attempt over so the
		// caller resolves on an actual open, not on a scheduled one.
		if m.reconnect != nil {
			m.reconnect.Stop()
			m.reconnect = nil
		}
	}

	m.identity = identity
	m.hasIdentity = true
	m.closing = false
	current := &attempt{done: make(chan struct{})}
	m.inflight = current
	status := m.transitionLocked(events.StateConnecting, nil)
	m.mu.Unlock()
	m.publishStatus(status)

	err := m.dial(ctx)

	m.mu.Lock()
	current.err = err
	if m.inflight == current {
		m.inflight = nil
	}
	m.mu.Unlock()
	close(current.done)

	return err
}

// Disconnect closes the connection with a normal-closure code and cancels
// any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	prev := m.state
	var status events.ConnectionStatus
	if prev != events.StateIdle {
		status = m.transitionLocked(events.StateClosed, nil)
	}
	m.mu.Unlock()

	if prev == events.StateOpen || prev == events.StateConnecting {
		_ = m.tr.Close()
	}
	if prev != events.StateIdle {
		m.publishStatus(status)
	}
}

// ForceReconnect drops the current connection and redials it while
// subscribers remain.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	switch {
	case m.state == events.StateOpen:
		// Stale the current reader so its exit is ignored, then redial.
		m.gen++
		status := m.transitionLocked(events.StateClosed, nil)
		m.mu.Unlock()
		_ = m.tr.Close()
		m.publishStatus(status)
		go m.runReconnect()
	case m.state == events.StateClosed && len(m.subs) > 0 && m.hasIdentity && !m.closing:
		m.mu.Unlock()
		go m.runReconnect()
	default:
		m.mu.Unlock()
	}
}

// Send transmits a frame when the connection is open. It never queues: a
// false return means the frame was dropped and the caller must not assume
// delivery.
func (m *Manager) Send(frame wire.Frame) bool {
	m.mu.Lock()
	open := m.state == events.StateOpen
	m.mu.Unlock()
	if !open {
		m.logger.Debug("drop frame: connection not open", "type", frame.Type)

		return false
	}

	payload, err := frame.Encode()
	if err != nil {
		m.logger.Warn("encode frame failed", "type", frame.Type, "error", err)

		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()
	if err := m.tr.WriteFrame(ctx, payload); err != nil {
		m.logger.Warn("write frame failed", "type", frame.Type, "error", err)

		return false
	}

	return true
}

func (m *Manager) State() events.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == events.StateOpen
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastErr
}

func (m *Manager) dial(ctx context.Context) error {
	if err := m.tr.Connect(ctx); err != nil {
		m.transition(events.StateClosed, err)

		return fmt.Errorf("connect transport: %w", err)
	}
	if err := m.sendAuth(ctx); err != nil {
		_ = m.tr.Close()
		m.transition(events.StateClosed, err)

		return err
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	status := m.transitionLocked(events.StateOpen, nil)
	m.mu.Unlock()
	m.publishStatus(status)

	go m.readLoop(gen)

	return nil
}

func (m *Manager) sendAuth(ctx context.Context) error {
	m.mu.Lock()
	identity := m.identity
	m.mu.Unlock()

	payload := wire.AuthPayload{UserID: identity.UserID, UserType: identity.Role}
	if identity.Role == wire.UserTypeMerchant {
		payload.ShopID = identity.ShopID
	}
	frame, err := wire.New(wire.FrameAuth, payload)
	if err != nil {
		return err
	}
	raw, err := frame.Encode()
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, authWriteTimeout)
	defer cancel()
	if err := m.tr.WriteFrame(writeCtx, raw); err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}
	m.logger.Debug("auth frame sent", "user_id", identity.UserID, "role", identity.Role)

	return nil
}

func (m *Manager) readLoop(gen int) {
	for {
		payload, err := m.tr.ReadFrame(context.Background())
		if err != nil {
			m.handleReadError(gen, err)

			return
		}

		frame, perr := wire.Parse(payload)
		if perr != nil {
			// One bad frame must never crash every listener.
			m.logger.Warn("drop malformed frame", "error", perr)
			continue
		}

		m.deliver(frame)
		if frame.Type == wire.FrameAuthFailed {
			m.failAuth(gen, frame)

			return
		}
	}
}

func (m *Manager) handleReadError(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.closing {
		// Stale reader or deliberate shutdown.
		m.mu.Unlock()

		return
	}
	_ = m.tr.Close()
	if transport.IsNormalClosure(err) {
		status := m.transitionLocked(events.StateClosed, nil)
		m.mu.Unlock()
		m.publishStatus(status)

		return
	}
	hasSubs := len(m.subs) > 0
	status := m.transitionLocked(events.StateClosed, err)
	m.mu.Unlock()
	m.publishStatus(status)
	m.logger.Warn("connection lost", "error", err)

	m.deliver(errorFrame(err))
	if hasSubs {
		m.scheduleReconnect()
	}
}

func (m *Manager) failAuth(gen int, frame wire.Frame) {
	var payload wire.AuthFailedPayload
	if err := frame.Decode(&payload); err != nil {
		m.logger.Warn("decode auth_failed payload", "error", err)
	}
	m.logger.Error("authentication rejected", "reason", payload.Reason)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()

		return
	}
	m.closing = true
	_ = m.tr.Close()
	status := m.transitionLocked(events.StateClosed, ErrAuthRejected)
	m.mu.Unlock()
	m.publishStatus(status)
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closing || len(m.subs) == 0 || !m.hasIdentity ||
		m.state == events.StateOpen || m.inflight != nil {
		m.mu.Unlock()

		return
	}
	status := m.transitionLocked(events.StateConnecting, m.lastErr)
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	m.reconnect = time.AfterFunc(m.reconnectDelay, m.runReconnect)
	m.mu.Unlock()
	m.publishStatus(status)
	m.logger.Info("reconnect scheduled", "delay", m.reconnectDelay)
}

// runReconnect registers itself as the in-flight attempt before dialing, so
// a racing Connect joins it and a second reconnect trigger bails out instead
// of spawning a second read loop on the same connection.
func (m *Manager) runReconnect() {
	m.mu.Lock()
	if m.closing || len(m.subs) == 0 || m.state == events.StateOpen || m.inflight != nil {
		m.mu.Unlock()

		return
	}
	m.reconnect = nil
	current := &attempt{done: make(chan struct{})}
	m.inflight = current
	var status events.ConnectionStatus
	announce := m.state != events.StateConnecting
	if announce {
		status = m.transitionLocked(events.StateConnecting, m.lastErr)
	}
	m.mu.Unlock()
	if announce {
		m.publishStatus(status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconnectDialTimeout)
	err := m.dial(ctx)
	cancel()

	m.mu.Lock()
	current.err = err
	if m.inflight == current {
		m.inflight = nil
	}
	m.mu.Unlock()
	close(current.done)

	if err != nil {
		m.logger.Warn("reconnect failed", "error", err)
		m.scheduleReconnect()

		return
	}
	m.logger.Info("reconnected")
}

func (m *Manager) deliver(frame wire.Frame) {
	m.mu.Lock()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.fn(frame)
	}
}

// transitionLocked mutates state under m.mu and returns the status event;
// the caller publishes it after unlocking so bus consumers can call back
// into the manager without deadlocking.
func (m *Manager) transitionLocked(state events.ConnectionState, err error) events.ConnectionStatus {
	m.state = state
	m.lastErr = err

	status := events.ConnectionStatus{State: state, Timestamp: time.Now()}
	if err != nil {
		status.Err = err.Error()
	}
	if resolver, ok := m.tr.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}

	return status
}

func (m *Manager) transition(state events.ConnectionState, err error) {
	m.mu.Lock()
	status := m.transitionLocked(state, err)
	m.mu.Unlock()
	m.publishStatus(status)
}

func (m *Manager) publishStatus(status events.ConnectionStatus) {
	m.bus.Publish(events.TopicConnStatus, status)
}

func errorFrame(err error) wire.Frame {
	frame, ferr := wire.New(wire.FrameError, wire.ErrorPayload{Message: err.Error()})
	if ferr != nil {
		return wire.Frame{Type: wire.FrameError}
	}

	return frame
}

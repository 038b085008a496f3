package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"marketgo/internal/bus"
	"marketgo/internal/config"
	"marketgo/internal/events"
	"marketgo/internal/notifications"
	"marketgo/internal/wire"
)

const (
	notificationTitleNewMessage = "New message"
	notificationTitleSendFailed = "Message not sent"
	notificationTitleConnLost   = "Connection lost"
	notificationTitleConnBack   = "Connected"
)

// NotificationService turns bus events into desktop toasts. It honors the
// per-event config toggles and never notifies about the user's own sends.
type NotificationService struct {
	bus           bus.MessageBus
	selfID        string
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	connMu        sync.Mutex
	lastConnected bool
	lastConnSet   bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	selfID string,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		selfID:        selfID,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	msgSub := s.bus.Subscribe(events.TopicChatMessage)
	failSub := s.bus.Subscribe(events.TopicChatSendFail)
	connSub := s.bus.Subscribe(events.TopicUIConnState)

	go func() {
		defer s.bus.Unsubscribe(msgSub, events.TopicChatMessage)
		defer s.bus.Unsubscribe(failSub, events.TopicChatSendFail)
		defer s.bus.Unsubscribe(connSub, events.TopicUIConnState)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgSub:
				if !ok {
					return
				}
				if m, ok := msg.(wire.Message); ok {
					s.handleMessage(m)
				}
			case msg, ok := <-failSub:
				if !ok {
					return
				}
				if f, ok := msg.(events.SendFailure); ok {
					s.handleSendFailure(f)
				}
			case msg, ok := <-connSub:
				if !ok {
					return
				}
				if state, ok := msg.(events.UIConnState); ok {
					s.handleConnState(state)
				}
			}
		}
	}()
}

func (s *NotificationService) handleMessage(m wire.Message) {
	if !s.currentConfig().Notifications.IncomingMessage {
		return
	}
	if m.SenderID == s.selfID {
		return
	}
	s.sender.Send(notifications.Payload{
		Title:   notificationTitleNewMessage,
		Content: m.Body,
	})
}

func (s *NotificationService) handleSendFailure(f events.SendFailure) {
	if !s.currentConfig().Notifications.SendFailure {
		return
	}
	s.sender.Send(notifications.Payload{
		Title:   notificationTitleSendFailed,
		Content: fmt.Sprintf("Your message to shop %s was not delivered. The text was restored.", f.ShopID),
	})
}

func (s *NotificationService) handleConnState(state events.UIConnState) {
	if !s.currentConfig().Notifications.ConnectionStatus {
		return
	}

	s.connMu.Lock()
	first := !s.lastConnSet
	changed := state.Connected != s.lastConnected
	s.lastConnected = state.Connected
	s.lastConnSet = true
	s.connMu.Unlock()

	if first || !changed {
		return
	}
	if state.Connected {
		s.sender.Send(notifications.Payload{
			Title:   notificationTitleConnBack,
			Content: "Live updates restored.",
		})

		return
	}
	s.sender.Send(notifications.Payload{
		Title:   notificationTitleConnLost,
		Content: "Live updates paused, reconnecting.",
	})
}

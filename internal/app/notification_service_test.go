package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"marketgo/internal/bus"
	"marketgo/internal/config"
	"marketgo/internal/events"
	"marketgo/internal/notifications"
	"marketgo/internal/wire"
)

type recorderSender struct {
	mu   sync.Mutex
	sent []notifications.Payload
}

func (r *recorderSender) Send(p notifications.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p)
}

func (r *recorderSender) payloads() []notifications.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]notifications.Payload, len(r.sent))
	copy(out, r.sent)

	return out
}

func newTestNotificationService(t *testing.T, cfg config.AppConfig) (bus.MessageBus, *recorderSender) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger)
	t.Cleanup(messageBus.Close)

	sender := &recorderSender{}
	service := NewNotificationService(messageBus, "c1", func() config.AppConfig { return cfg }, sender, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	service.Start(ctx)

	return messageBus, sender
}

func waitForPayloads(t *testing.T, sender *recorderSender, want int) []notifications.Payload {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := sender.payloads(); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notifications, got %d", want, len(sender.payloads()))

	return nil
}

func TestNotificationService_IncomingMessage(t *testing.T) {
	cfg := config.Default()
	messageBus, sender := newTestNotificationService(t, cfg)

	messageBus.Publish(events.TopicChatMessage, wire.Message{
		ID: "m1", CustomerID: "c1", ShopID: "s1", SenderID: "merchant-1", Body: "your order shipped",
	})

	got := waitForPayloads(t, sender, 1)
	if got[0].Title != notificationTitleNewMessage || got[0].Content != "your order shipped" {
		t.Fatalf("unexpected notification: %+v", got[0])
	}
}

func TestNotificationService_SkipsOwnMessages(t *testing.T) {
	cfg := config.Default()
	messageBus, sender := newTestNotificationService(t, cfg)

	messageBus.Publish(events.TopicChatMessage, wire.Message{
		ID: "m1", CustomerID: "c1", ShopID: "s1", SenderID: "c1", Body: "my own send",
	})

	time.Sleep(100 * time.Millisecond)
	if got := sender.payloads(); len(got) != 0 {
		t.Fatalf("own messages must not notify, got %+v", got)
	}
}

func TestNotificationService_HonorsToggle(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.IncomingMessage = false
	messageBus, sender := newTestNotificationService(t, cfg)

	messageBus.Publish(events.TopicChatMessage, wire.Message{
		ID: "m1", CustomerID: "c1", ShopID: "s1", SenderID: "merchant-1", Body: "hello",
	})

	time.Sleep(100 * time.Millisecond)
	if got := sender.payloads(); len(got) != 0 {
		t.Fatalf("disabled toggle must suppress notifications, got %+v", got)
	}
}

func TestNotificationService_SendFailure(t *testing.T) {
	cfg := config.Default()
	messageBus, sender := newTestNotificationService(t, cfg)

	messageBus.Publish(events.TopicChatSendFail, events.SendFailure{
		CustomerID: "c1", ShopID: "s1", Draft: "lost draft", Err: "503",
	})

	got := waitForPayloads(t, sender, 1)
	if got[0].Title != notificationTitleSendFailed {
		t.Fatalf("unexpected notification: %+v", got[0])
	}
}

func TestNotificationService_ConnectionTransitions(t *testing.T) {
	cfg := config.Default()
	messageBus, sender := newTestNotificationService(t, cfg)

	// The initial state only seeds the baseline.
	messageBus.Publish(events.TopicUIConnState, events.UIConnState{Connected: true})
	time.Sleep(50 * time.Millisecond)
	if got := sender.payloads(); len(got) != 0 {
		t.Fatalf("first state must not notify, got %+v", got)
	}

	messageBus.Publish(events.TopicUIConnState, events.UIConnState{Connecting: true})
	got := waitForPayloads(t, sender, 1)
	if got[0].Title != notificationTitleConnLost {
		t.Fatalf("expected connection lost, got %+v", got[0])
	}

	// Repeating the same disconnected state stays quiet.
	messageBus.Publish(events.TopicUIConnState, events.UIConnState{Connecting: true})
	time.Sleep(50 * time.Millisecond)
	if got := sender.payloads(); len(got) != 1 {
		t.Fatalf("unchanged state must not renotify, got %+v", got)
	}

	messageBus.Publish(events.TopicUIConnState, events.UIConnState{Connected: true})
	got = waitForPayloads(t, sender, 2)
	if got[1].Title != notificationTitleConnBack {
		t.Fatalf("expected reconnect notification, got %+v", got[1])
	}
}

package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestBus(t *testing.T) *PubSubBus {
	t.Helper()

	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)

	return b
}

func TestPubSubBus_PublishSubscribe(t *testing.T) {
	b := newTestBus(t)

	sub := b.Subscribe("chat.message")
	defer b.Unsubscribe(sub, "chat.message")

	b.Publish("chat.message", "hello")

	select {
	case msg := <-sub:
		if msg != "hello" {
			t.Fatalf("expected hello, got %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPubSubBus_TopicsAreIsolated(t *testing.T) {
	b := newTestBus(t)

	chatSub := b.Subscribe("chat.message")
	defer b.Unsubscribe(chatSub, "chat.message")
	orderSub := b.Subscribe("order.update")
	defer b.Unsubscribe(orderSub, "order.update")

	b.Publish("order.update", "order event")

	select {
	case msg := <-orderSub:
		if msg != "order event" {
			t.Fatalf("unexpected message %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for order event")
	}

	select {
	case msg := <-chatSub:
		t.Fatalf("chat subscriber must not receive order events, got %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPubSubBus_MultipleSubscribers(t *testing.T) {
	b := newTestBus(t)

	subA := b.Subscribe("conn.status")
	defer b.Unsubscribe(subA, "conn.status")
	subB := b.Subscribe("conn.status")
	defer b.Unsubscribe(subB, "conn.status")

	b.Publish("conn.status", 42)

	for _, sub := range []Subscription{subA, subB} {
		select {
		case msg := <-sub:
			if msg != 42 {
				t.Fatalf("expected 42, got %v", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for fan-out")
		}
	}
}

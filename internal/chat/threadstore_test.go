package chat

import (
	"testing"

	"marketgo/internal/wire"
)

func storeMessage(id, senderID string, createdAt int64) wire.Message {
	return wire.Message{
		ID:         id,
		CustomerID: "c1",
		ShopID:     "s1",
		SenderID:   senderID,
		SenderType: wire.UserTypeCustomer,
		Body:       "body of " + id,
		CreatedAt:  createdAt,
	}
}

func TestThreadStore_Append_DeduplicatesByID(t *testing.T) {
	store := NewThreadStore("c1")
	msg := storeMessage("m1", "merchant-1", 100)

	if !store.Append(msg) {
		t.Fatal("first append must report a new message")
	}
	if store.Append(msg) {
		t.Fatal("duplicate id must be ignored")
	}

	conv := ConversationID("c1", "s1")
	if got := len(store.Messages(conv)); got != 1 {
		t.Fatalf("expected 1 message, got %d", got)
	}
}

func TestThreadStore_Append_DuplicateMergesReadFlag(t *testing.T) {
	store := NewThreadStore("c1")
	msg := storeMessage("m1", "merchant-1", 100)
	store.Append(msg)

	msg.Read = true
	if store.Append(msg) {
		t.Fatal("echo with read flag is still a duplicate")
	}

	conv := ConversationID("c1", "s1")
	if got := store.Messages(conv); !got[0].Read {
		t.Fatal("read flag must be merged into the existing entry")
	}
}

func TestThreadStore_Append_SortsOutOfOrderArrivals(t *testing.T) {
	store := NewThreadStore("c1")
	store.Append(storeMessage("m3", "merchant-1", 300))
	store.Append(storeMessage("m1", "merchant-1", 100))
	store.Append(storeMessage("m2", "merchant-1", 200))

	msgs := store.Messages(ConversationID("c1", "s1"))
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" || msgs[2].ID != "m3" {
		t.Fatalf("messages must stay sorted by created_at: %v %v %v", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
}

func TestThreadStore_Append_EchoPromotesTempByClientKey(t *testing.T) {
	store := NewThreadStore("c1")
	conv := ConversationID("c1", "s1")

	temp := storeMessage("temp_1700000000000", "c1", 100)
	temp.ClientKey = "ck-1"
	store.Append(temp)

	// Broadcast echo lands before the HTTP response.
	echo := storeMessage("m1", "c1", 105)
	echo.ClientKey = "ck-1"
	if !store.Append(echo) {
		t.Fatal("echo promotion is a visible change")
	}

	msgs := store.Messages(conv)
	if len(msgs) != 1 {
		t.Fatalf("expected the temp entry promoted in place, got %d messages", len(msgs))
	}
	if msgs[0].ID != "m1" {
		t.Fatalf("expected confirmed id, got %q", msgs[0].ID)
	}

	// The late HTTP confirmation must not reintroduce a duplicate.
	store.Resolve(temp.ID, echo)
	if got := len(store.Messages(conv)); got != 1 {
		t.Fatalf("resolve after echo must stay at 1 message, got %d", got)
	}
}

func TestThreadStore_Resolve_ReplacesTemp(t *testing.T) {
	store := NewThreadStore("c1")
	conv := ConversationID("c1", "s1")

	temp := storeMessage("temp_1700000000000", "c1", 100)
	temp.ClientKey = "ck-1"
	store.Append(temp)

	confirmed := storeMessage("m1", "c1", 102)
	confirmed.ClientKey = "ck-1"
	store.Resolve(temp.ID, confirmed)

	msgs := store.Messages(conv)
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("expected only the confirmed message, got %+v", msgs)
	}
	thread, ok := store.Thread(conv)
	if !ok || thread.LastMessage.ID != "m1" {
		t.Fatalf("thread summary must track the confirmed message, got %+v", thread)
	}
}

func TestThreadStore_Remove_ReturnsRolledBackMessage(t *testing.T) {
	store := NewThreadStore("c1")
	conv := ConversationID("c1", "s1")

	temp := storeMessage("temp_1700000000000", "c1", 100)
	temp.Body = "draft text to restore"
	store.Append(temp)

	removed, ok := store.Remove(conv, temp.ID)
	if !ok {
		t.Fatal("expected removal to succeed")
	}
	if removed.Body != "draft text to restore" {
		t.Fatalf("removed message must carry the draft, got %q", removed.Body)
	}
	if got := len(store.Messages(conv)); got != 0 {
		t.Fatalf("expected empty conversation after rollback, got %d", got)
	}
	if _, ok := store.Remove(conv, temp.ID); ok {
		t.Fatal("second removal must fail")
	}
}

func TestThreadStore_UnreadCounting(t *testing.T) {
	store := NewThreadStore("c1")
	conv := ConversationID("c1", "s1")

	store.Append(storeMessage("m1", "merchant-1", 100))
	store.Append(storeMessage("m2", "merchant-1", 200))
	own := storeMessage("m3", "c1", 300)
	store.Append(own)

	thread, ok := store.Thread(conv)
	if !ok {
		t.Fatal("thread missing")
	}
	if thread.UnreadCount != 2 {
		t.Fatalf("own messages never count as unread: got %d", thread.UnreadCount)
	}

	store.ApplyReadReceipt(wire.ReadReceipt{CustomerID: "c1", ShopID: "s1", ReaderID: "c1"})
	thread, _ = store.Thread(conv)
	if thread.UnreadCount != 0 {
		t.Fatalf("own read receipt must clear the counter, got %d", thread.UnreadCount)
	}
	for _, m := range store.Messages(conv) {
		if m.SenderID != "c1" && !m.Read {
			t.Fatalf("message %s must be marked read", m.ID)
		}
	}
}

func TestThreadStore_ApplyReadReceipt_SingleMessage(t *testing.T) {
	store := NewThreadStore("merchant-1")
	conv := ConversationID("c1", "s1")

	store.Append(storeMessage("m1", "c1", 100))
	store.Append(storeMessage("m2", "c1", 200))

	store.ApplyReadReceipt(wire.ReadReceipt{MessageID: "m1", CustomerID: "c1", ShopID: "s1", ReaderID: "merchant-1"})

	msgs := store.Messages(conv)
	if !msgs[0].Read || msgs[1].Read {
		t.Fatalf("only m1 may be read: m1=%v m2=%v", msgs[0].Read, msgs[1].Read)
	}
}

func TestThreadStore_Threads_SortedByActivity(t *testing.T) {
	store := NewThreadStore("c1")
	older := storeMessage("m1", "merchant-1", 100)
	store.Append(older)

	newer := storeMessage("m2", "merchant-2", 500)
	newer.ShopID = "s2"
	store.Append(newer)

	threads := store.Threads()
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	if threads[0].ShopID != "s2" || threads[1].ShopID != "s1" {
		t.Fatalf("threads must sort by most recent activity: %+v", threads)
	}
}

func TestThreadStore_ReplaceConversation(t *testing.T) {
	store := NewThreadStore("c1")
	conv := ConversationID("c1", "s1")
	store.Append(storeMessage("stale", "merchant-1", 50))

	store.ReplaceConversation(conv, []wire.Message{
		storeMessage("m2", "merchant-1", 200),
		storeMessage("m1", "merchant-1", 100),
	})

	msgs := store.Messages(conv)
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("expected sorted authoritative list, got %+v", msgs)
	}
	thread, _ := store.Thread(conv)
	if thread.LastMessage.ID != "m2" || thread.UnreadCount != 2 {
		t.Fatalf("summary must be recomputed: %+v", thread)
	}
}

func TestThreadStore_ChangesCoalesce(t *testing.T) {
	store := NewThreadStore("c1")
	store.Append(storeMessage("m1", "merchant-1", 100))
	store.Append(storeMessage("m2", "merchant-1", 200))

	select {
	case <-store.Changes():
	default:
		t.Fatal("expected a pending change tick")
	}
	select {
	case <-store.Changes():
		t.Fatal("ticks must coalesce to one")
	default:
	}
}

func TestSessionKey_SameConversation(t *testing.T) {
	a := SessionKey{CustomerID: "c1", ShopID: "s1", ProductID: "p1"}
	b := SessionKey{CustomerID: "c1", ShopID: "s1", ProductID: "p2"}
	c := SessionKey{CustomerID: "c2", ShopID: "s1"}

	if !a.SameConversation(b) {
		t.Fatal("product id must not split a conversation")
	}
	if a.SameConversation(c) {
		t.Fatal("different customers are different conversations")
	}
	if a.ConversationID() != "c1|s1" {
		t.Fatalf("unexpected conversation id %q", a.ConversationID())
	}
}

package persistence

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"marketgo/internal/chat"
	"marketgo/internal/wire"
)

func testQueueLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.sqlite"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func cachedMessage(id string, createdAt int64) wire.Message {
	return wire.Message{
		ID:         id,
		ClientKey:  "ck-" + id,
		CustomerID: "c1",
		ShopID:     "s1",
		SenderID:   "merchant-1",
		SenderType: wire.UserTypeMerchant,
		Body:       "body of " + id,
		CreatedAt:  createdAt,
	}
}

func TestMessageRepo_InsertAndList(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepo(db)
	ctx := context.Background()

	if err := repo.Insert(ctx, cachedMessage("m2", 200)); err != nil {
		t.Fatalf("insert m2: %v", err)
	}
	if err := repo.Insert(ctx, cachedMessage("m1", 100)); err != nil {
		t.Fatalf("insert m1: %v", err)
	}

	conv := chat.ConversationID("c1", "s1")
	msgs, err := repo.ListByConversation(ctx, conv, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("expected oldest first, got %+v", msgs)
	}
	if msgs[0].ClientKey != "ck-m1" || msgs[0].Body != "body of m1" {
		t.Fatalf("round trip lost fields: %+v", msgs[0])
	}
}

func TestMessageRepo_Insert_DuplicateIDIgnored(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepo(db)
	ctx := context.Background()

	msg := cachedMessage("m1", 100)
	if err := repo.Insert(ctx, msg); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	msg.Body = "mutated"
	if err := repo.Insert(ctx, msg); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	msgs, err := repo.ListByConversation(ctx, chat.ConversationID("c1", "s1"), 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "body of m1" {
		t.Fatalf("duplicate id must be ignored, got %+v", msgs)
	}
}

func TestMessageRepo_Insert_RefusesTempID(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepo(db)

	msg := cachedMessage("temp_1700000000000", 100)
	if err := repo.Insert(context.Background(), msg); err == nil {
		t.Fatal("unconfirmed messages must never be cached")
	}
}

func TestMessageRepo_ListByConversation_Limit(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepo(db)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if err := repo.Insert(ctx, cachedMessage(string(rune('a'+i)), i*100)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	msgs, err := repo.ListByConversation(ctx, chat.ConversationID("c1", "s1"), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].CreatedAt != 400 || msgs[1].CreatedAt != 500 {
		t.Fatalf("limit must keep the newest entries: %+v", msgs)
	}
}

func TestMessageRepo_MarkConversationRead(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepo(db)
	ctx := context.Background()

	peer := cachedMessage("m1", 100)
	if err := repo.Insert(ctx, peer); err != nil {
		t.Fatalf("insert: %v", err)
	}
	own := cachedMessage("m2", 200)
	own.SenderID = "c1"
	if err := repo.Insert(ctx, own); err != nil {
		t.Fatalf("insert: %v", err)
	}

	conv := chat.ConversationID("c1", "s1")
	if err := repo.MarkConversationRead(ctx, conv, "c1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	msgs, err := repo.ListByConversation(ctx, conv, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, m := range msgs {
		if m.SenderID == "c1" && m.Read {
			t.Fatalf("reader's own message must stay untouched: %+v", m)
		}
		if m.SenderID != "c1" && !m.Read {
			t.Fatalf("peer message must be marked read: %+v", m)
		}
	}
}

func TestThreadRepo_Upsert(t *testing.T) {
	db := openTestDB(t)
	repo := NewThreadRepo(db)
	ctx := context.Background()

	thread := chat.Thread{CustomerID: "c1", ShopID: "s1", UnreadCount: 3, LastActivity: 500}
	if err := repo.Upsert(ctx, thread); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A stale writer must not roll the activity timestamp back, but the
	// unread counter always takes the latest value.
	stale := chat.Thread{CustomerID: "c1", ShopID: "s1", UnreadCount: 0, LastActivity: 200}
	if err := repo.Upsert(ctx, stale); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	threads, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("expected one thread, got %d", len(threads))
	}
	if threads[0].LastActivity != 500 || threads[0].UnreadCount != 0 {
		t.Fatalf("unexpected thread after stale upsert: %+v", threads[0])
	}
}

func TestThreadRepo_List_SortedByActivity(t *testing.T) {
	db := openTestDB(t)
	repo := NewThreadRepo(db)
	ctx := context.Background()

	if err := repo.Upsert(ctx, chat.Thread{CustomerID: "c1", ShopID: "s1", LastActivity: 100}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Upsert(ctx, chat.Thread{CustomerID: "c1", ShopID: "s2", LastActivity: 900}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	threads, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(threads) != 2 || threads[0].ShopID != "s2" {
		t.Fatalf("threads must list newest first: %+v", threads)
	}
}

func TestPreload(t *testing.T) {
	db := openTestDB(t)
	threadRepo := NewThreadRepo(db)
	messageRepo := NewMessageRepo(db)
	ctx := context.Background()

	if err := threadRepo.Upsert(ctx, chat.Thread{CustomerID: "c1", ShopID: "s1", UnreadCount: 1, LastActivity: 100}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := messageRepo.Insert(ctx, cachedMessage("m1", 100)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := messageRepo.Insert(ctx, cachedMessage("m2", 200)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	store := chat.NewThreadStore("c1")
	if err := Preload(ctx, threadRepo, messageRepo, store); err != nil {
		t.Fatalf("preload: %v", err)
	}

	conv := chat.ConversationID("c1", "s1")
	msgs := store.Messages(conv)
	if len(msgs) != 2 || msgs[0].ID != "m1" {
		t.Fatalf("store must hold cached messages in order, got %+v", msgs)
	}
	thread, ok := store.Thread(conv)
	if !ok {
		t.Fatal("thread missing after preload")
	}
	if thread.LastMessage.ID != "m2" || thread.LastActivity != 200 {
		t.Fatalf("last message must be filled from the cache: %+v", thread)
	}
	if thread.UnreadCount != 1 {
		t.Fatalf("unread counter must survive preload, got %d", thread.UnreadCount)
	}
}

func TestWriterQueue_RunsEnqueuedOps(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepo(db)

	logger := testQueueLogger()
	queue := NewWriterQueue(logger, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	done := make(chan struct{})
	queue.Enqueue("message.insert", func(opCtx context.Context) error {
		defer close(done)

		return repo.Insert(opCtx, cachedMessage("m1", 100))
	})

	<-done
	msgs, err := repo.ListByConversation(context.Background(), chat.ConversationID("c1", "s1"), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected the queued insert to land, got %d messages", len(msgs))
	}
}

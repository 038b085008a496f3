package persistence

import (
	"context"
	"log/slog"

	"marketgo/internal/bus"
	"marketgo/internal/chat"
	"marketgo/internal/events"
	"marketgo/internal/wire"
)

// CacheWriter mirrors confirmed chat traffic into the local cache so the
// thread list renders instantly on the next start, before any fetch.
type CacheWriter struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	store    *chat.ThreadStore
	messages *MessageRepo
	threads  *ThreadRepo
	queue    *WriterQueue
}

func NewCacheWriter(
	logger *slog.Logger,
	b bus.MessageBus,
	store *chat.ThreadStore,
	messages *MessageRepo,
	threads *ThreadRepo,
	queue *WriterQueue,
) *CacheWriter {
	return &CacheWriter{
		logger:   logger,
		bus:      b,
		store:    store,
		messages: messages,
		threads:  threads,
		queue:    queue,
	}
}

func (w *CacheWriter) Start(ctx context.Context) {
	sub := w.bus.Subscribe(events.TopicChatMessage)

	go func() {
		defer w.bus.Unsubscribe(sub, events.TopicChatMessage)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				m, ok := msg.(wire.Message)
				if !ok {
					continue
				}
				w.persist(m)
			}
		}
	}()
}

func (w *CacheWriter) persist(m wire.Message) {
	if m.IsTemp() {
		// Optimistic entries never reach the cache; only confirmed
		// messages survive a restart.
		return
	}

	w.queue.Enqueue("message.insert", func(ctx context.Context) error {
		return w.messages.Insert(ctx, m)
	})

	conv := chat.ConversationID(m.CustomerID, m.ShopID)
	if t, ok := w.store.Thread(conv); ok {
		w.queue.Enqueue("thread.upsert", func(ctx context.Context) error {
			return w.threads.Upsert(ctx, t)
		})
	}
}

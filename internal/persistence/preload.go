package persistence

import (
	"context"
	"fmt"

	"marketgo/internal/chat"
)

const preloadMessagesPerThread = 100

// Preload hydrates the thread store from the local cache. Thread summaries
// get their last message filled from the loaded lists so the thread list
// renders complete before the first fetch.
func Preload(ctx context.Context, threads *ThreadRepo, messages *MessageRepo, store *chat.ThreadStore) error {
	cached, err := threads.List(ctx)
	if err != nil {
		return fmt.Errorf("preload threads: %w", err)
	}
	lists, err := messages.LoadRecentPerConversation(ctx, preloadMessagesPerThread)
	if err != nil {
		return fmt.Errorf("preload messages: %w", err)
	}

	for i := range cached {
		conv := chat.ConversationID(cached[i].CustomerID, cached[i].ShopID)
		msgs := lists[conv]
		if len(msgs) > 0 {
			cached[i].LastMessage = msgs[len(msgs)-1]
			if cached[i].LastActivity < msgs[len(msgs)-1].CreatedAt {
				cached[i].LastActivity = msgs[len(msgs)-1].CreatedAt
			}
		}
	}

	store.Load(cached, lists)

	return nil
}

package chat

import (
	"sort"
	"sync"

	"marketgo/internal/wire"
)

// Thread is one conversation between a customer and a shop as the thread
// list renders it.
type Thread struct {
	CustomerID   string
	ShopID       string
	LastMessage  wire.Message
	UnreadCount  int
	LastActivity int64
}

// ThreadStore holds every conversation the current user participates in.
// Message lists stay sorted by CreatedAt on insert, and no message id ever
// appears twice in a thread: broadcasts are deduped by server id first and
// by the optimistic send's client key second.
type ThreadStore struct {
	selfID string

	mu       sync.RWMutex
	threads  map[string]Thread
	messages map[string][]wire.Message
	changes  chan struct{}
}

func NewThreadStore(selfID string) *ThreadStore {
	return &ThreadStore{
		selfID:   selfID,
		threads:  make(map[string]Thread),
		messages: make(map[string][]wire.Message),
		changes:  make(chan struct{}, 1),
	}
}

// Load preloads cached state, typically from the local database.
func (s *ThreadStore) Load(threads []Thread, messages map[string][]wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range threads {
		s.threads[ConversationID(t.CustomerID, t.ShopID)] = t
	}
	for conv, msgs := range messages {
		cloned := make([]wire.Message, len(msgs))
		copy(cloned, msgs)
		sortMessages(cloned)
		s.messages[conv] = cloned
	}
	s.notify()
}

// Append records an incoming or optimistic message. It returns false when
// the message was already present (broadcast echo of a known message); the
// read flag is still merged in that case.
func (s *ThreadStore) Append(msg wire.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := ConversationID(msg.CustomerID, msg.ShopID)
	msgs := s.messages[conv]

	if i := indexByID(msgs, msg.ID); i >= 0 {
		if msg.Read && !msgs[i].Read {
			msgs[i].Read = msg.Read
			s.notify()
		}

		return false
	}
	if !msg.IsTemp() && msg.ClientKey != "" {
		if i := indexByClientKey(msgs, msg.ClientKey); i >= 0 {
			// Echo arrived before the HTTP response confirmed the temp
			// entry: promote it in place instead of appending a duplicate.
			msgs[i] = msg
			sortMessages(msgs)
			s.messages[conv] = msgs
			s.refreshThreadLocked(conv)
			s.notify()

			return true
		}
	}

	s.messages[conv] = insertSorted(msgs, msg)
	s.bumpThreadLocked(conv, msg)
	s.notify()

	return true
}

// Resolve replaces the optimistic entry with the server-confirmed message.
// If a broadcast echo already promoted it, the confirmed copy is merged
// without producing a duplicate.
func (s *ThreadStore) Resolve(tempID string, confirmed wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := ConversationID(confirmed.CustomerID, confirmed.ShopID)
	msgs := s.messages[conv]

	if i := indexByID(msgs, tempID); i >= 0 {
		msgs = append(msgs[:i], msgs[i+1:]...)
	}
	if indexByID(msgs, confirmed.ID) < 0 {
		msgs = insertSorted(msgs, confirmed)
	}
	s.messages[conv] = msgs
	s.refreshThreadLocked(conv)
	s.notify()
}

// Remove rolls an optimistic entry back and returns it so the caller can
// restore the draft text.
func (s *ThreadStore) Remove(conv, id string) (wire.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conv]
	i := indexByID(msgs, id)
	if i < 0 {
		return wire.Message{}, false
	}
	removed := msgs[i]
	s.messages[conv] = append(msgs[:i], msgs[i+1:]...)
	s.refreshThreadLocked(conv)
	s.notify()

	return removed, true
}

// ReplaceConversation swaps in the authoritative message list from a fetch.
func (s *ThreadStore) ReplaceConversation(conv string, msgs []wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := make([]wire.Message, len(msgs))
	copy(cloned, msgs)
	sortMessages(cloned)
	s.messages[conv] = cloned
	s.refreshThreadLocked(conv)
	s.notify()
}

// ApplyReadReceipt marks messages read per a broadcast receipt. A receipt
// from the store's own user also clears the thread's unread counter.
func (s *ThreadStore) ApplyReadReceipt(r wire.ReadReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := ConversationID(r.CustomerID, r.ShopID)
	msgs := s.messages[conv]
	changed := false
	for i := range msgs {
		if r.MessageID != "" && msgs[i].ID != r.MessageID {
			continue
		}
		if msgs[i].SenderID == r.ReaderID || msgs[i].Read {
			continue
		}
		msgs[i].Read = true
		changed = true
	}

	if r.ReaderID == s.selfID {
		if t, ok := s.threads[conv]; ok && t.UnreadCount != 0 {
			t.UnreadCount = 0
			s.threads[conv] = t
			changed = true
		}
	}
	if changed {
		s.notify()
	}
}

func (s *ThreadStore) Threads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity > out[j].LastActivity
	})

	return out
}

func (s *ThreadStore) Messages(conv string) []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conv]
	cloned := make([]wire.Message, len(msgs))
	copy(cloned, msgs)

	return cloned
}

func (s *ThreadStore) Thread(conv string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[conv]

	return t, ok
}

// Changes signals that any thread or message list mutated. Coalesced to a
// single pending tick.
func (s *ThreadStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *ThreadStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *ThreadStore) bumpThreadLocked(conv string, msg wire.Message) {
	t, ok := s.threads[conv]
	if !ok {
		t = Thread{CustomerID: msg.CustomerID, ShopID: msg.ShopID}
	}
	if msg.CreatedAt >= t.LastActivity {
		t.LastActivity = msg.CreatedAt
		t.LastMessage = msg
	}
	if msg.SenderID != s.selfID && !msg.Read {
		t.UnreadCount++
	}
	s.threads[conv] = t
}

// refreshThreadLocked recomputes the summary after an in-place mutation.
func (s *ThreadStore) refreshThreadLocked(conv string) {
	msgs := s.messages[conv]
	t, ok := s.threads[conv]
	if !ok {
		if len(msgs) == 0 {
			return
		}
		last := msgs[len(msgs)-1]
		t = Thread{CustomerID: last.CustomerID, ShopID: last.ShopID}
	}
	if len(msgs) == 0 {
		t.LastMessage = wire.Message{}
		t.LastActivity = 0
	} else {
		last := msgs[len(msgs)-1]
		t.LastMessage = last
		t.LastActivity = last.CreatedAt
	}
	unread := 0
	for _, m := range msgs {
		if m.SenderID != s.selfID && !m.Read {
			unread++
		}
	}
	t.UnreadCount = unread
	s.threads[conv] = t
}

func indexByID(msgs []wire.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}

	return -1
}

func indexByClientKey(msgs []wire.Message, key string) int {
	for i := range msgs {
		if msgs[i].ClientKey == key {
			return i
		}
	}

	return -1
}

func sortMessages(msgs []wire.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt < msgs[j].CreatedAt
	})
}

// insertSorted keeps the ascending CreatedAt order even when frames arrive
// out of order; equal timestamps preserve arrival order.
func insertSorted(msgs []wire.Message, msg wire.Message) []wire.Message {
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt > msg.CreatedAt
	})
	msgs = append(msgs, wire.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg

	return msgs
}

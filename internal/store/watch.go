package store

import (
	"sync"
	"time"

	"bizbook/backend/internal/domain"
)

const (
	CollectionProducts     = "products"
	CollectionTransactions = "transactions"
)

// Event is a full collection snapshot. There are no delta semantics: each
// event replaces whatever the subscriber held before.
type Event struct {
	Collection   string               `json:"collection"`
	Products     []domain.Product     `json:"products,omitempty"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
	At           time.Time            `json:"at"`
}

// Subscription is a live view over one owner's collection. C carries
// snapshots until Cancel is called. Delivery is last-write-wins: a slow
// consumer sees the newest snapshot, not every intermediate one.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	cancel func()
	once   sync.Once
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Hub fans collection snapshots out to subscribers. Store implementations
// publish after every successful write; the hub owns delivery.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[string]map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[string]map[int]chan Event)}
}

func (h *Hub) Subscribe(ownerID string, collection string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	byCollection, ok := h.subs[ownerID]
	if !ok {
		byCollection = make(map[string]map[int]chan Event)
		h.subs[ownerID] = byCollection
	}
	channels, ok := byCollection[collection]
	if !ok {
		channels = make(map[int]chan Event)
		byCollection[collection] = channels
	}

	id := h.nextID
	h.nextID++
	ch := make(chan Event, 1)
	channels[id] = ch

	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if channels, ok := h.subs[ownerID][collection]; ok {
			delete(channels, id)
		}
		close(ch)
	}
	return sub
}

// HasSubscribers lets stores skip snapshot assembly when nobody is watching.
func (h *Hub) HasSubscribers(ownerID string, collection string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID][collection]) > 0
}

// Publish replaces any undelivered snapshot with the new one and never
// blocks the writing path.
func (h *Hub) Publish(ownerID string, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[ownerID][event.Collection] {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}

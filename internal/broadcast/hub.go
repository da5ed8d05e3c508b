// Package broadcast implements the in-process stock-update fan-out: a
// publish/subscribe hub keyed by product id, fed by every inventory mutation.
//
// Delivery is fire-and-forget. Publishing never blocks and never reports an
// error; a slow or gone listener loses events rather than stalling the
// publisher or its siblings. Locking is scoped per product: the hub-wide lock
// only guards the topic map, so publishes for unrelated products never
// serialize behind each other.
package broadcast

import (
	"sync"

	"github.com/go-faster/jx"
)

// EventStockUpdate is the kind carried by inventory-change events.
const EventStockUpdate = "stock_update"

// subscriberBuffer is the per-listener channel capacity. A listener that
// falls this far behind starts losing events.
const subscriberBuffer = 16

// Event is one inventory change on a single variant. OldStock is only set by
// manual stock edits; checkout deductions report the new count alone.
type Event struct {
	Kind      string
	VariantID string
	OldStock  *int
	NewStock  int
}

// EncodeJSON renders the event in its wire shape:
// {"event": ..., "variant_id": ..., "old_stock"?: ..., "new_stock": ...}.
func (e Event) EncodeJSON() []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("event")
	enc.Str(e.Kind)
	enc.FieldStart("variant_id")
	enc.Str(e.VariantID)
	if e.OldStock != nil {
		enc.FieldStart("old_stock")
		enc.Int(*e.OldStock)
	}
	enc.FieldStart("new_stock")
	enc.Int(e.NewStock)
	enc.ObjEnd()
	return enc.Bytes()
}

// Subscriber is a registered listener for one product's stock events.
type Subscriber struct {
	productID string
	ch        chan Event
}

// C returns the subscriber's event channel. It is closed on Unsubscribe.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// topic holds the subscriber set for one product. dead marks a topic that has
// been emptied and detached from the hub map; a Subscribe racing the removal
// retries instead of attaching to the orphan.
type topic struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
	dead bool
}

// Hub is the process-wide stock broadcast registry. It is owned by the
// application and injected into publishers and the websocket transport;
// it is the single piece of long-lived shared mutable state in the core.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

// Subscribe registers a new listener for the given product.
func (h *Hub) Subscribe(productID string) *Subscriber {
	s := &Subscriber{
		productID: productID,
		ch:        make(chan Event, subscriberBuffer),
	}

	for {
		h.mu.RLock()
		t := h.topics[productID]
		h.mu.RUnlock()

		if t == nil {
			h.mu.Lock()
			t = h.topics[productID]
			if t == nil {
				t = &topic{subs: make(map[*Subscriber]struct{})}
				h.topics[productID] = t
			}
			h.mu.Unlock()
		}

		t.mu.Lock()
		if t.dead {
			t.mu.Unlock()
			continue
		}
		t.subs[s] = struct{}{}
		t.mu.Unlock()
		return s
	}
}

// Unsubscribe removes a listener and closes its channel. The product's topic
// is dropped from the registry once its last listener leaves, so the map does
// not accumulate empty keys. Unsubscribing twice is a no-op.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.RLock()
	t := h.topics[s.productID]
	h.mu.RUnlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	if _, ok := t.subs[s]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.subs, s)
	empty := len(t.subs) == 0
	if empty {
		t.dead = true
	}
	t.mu.Unlock()

	close(s.ch)

	if empty {
		h.mu.Lock()
		if h.topics[s.productID] == t {
			delete(h.topics, s.productID)
		}
		h.mu.Unlock()
	}
}

// Publish delivers the event to every current listener for the product.
// Each delivery is attempted independently; a listener with a full buffer
// loses the event without affecting the others, and the publisher never
// blocks or observes an error.
func (h *Hub) Publish(productID string, ev Event) {
	h.mu.RLock()
	t := h.topics[productID]
	h.mu.RUnlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Subscribers returns the current listener count for a product.
func (h *Hub) Subscribers(productID string) int {
	h.mu.RLock()
	t := h.topics[productID]
	h.mu.RUnlock()
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

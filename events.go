package engine

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// EventType classifies a book event.
type EventType string

const (
	// EventOrderCreated is emitted when an order (or its unmatched
	// remainder) is added to the book.
	EventOrderCreated EventType = "order_created"
	// EventOrderCanceled is emitted when an owner cancels a resting order.
	EventOrderCanceled EventType = "order_canceled"
	// EventOrderFilled is emitted for a trade that fully consumes the
	// resting (maker) order.
	EventOrderFilled EventType = "order_filled"
	// EventOrderPartiallyFilled is emitted for a trade that leaves the
	// resting (maker) order with remaining quantity.
	EventOrderPartiallyFilled EventType = "order_partially_filled"
)

// BookEvent is one entry of the book's audit trail. SequenceID is a strictly
// increasing per-instrument id used for ordering, deduplication and rebuild
// synchronization downstream; EventID is globally unique.
//
// For fill events, OrderID/Owner identify the taker and MakerOrderID/
// MakerOwner the maker; Price is the maker's price, Size the traded base
// quantity, Amount the quote amount and Remaining the maker's quantity left
// after the trade.
type BookEvent struct {
	SequenceID   uint64          `json:"seq_id"`
	EventID      string          `json:"event_id"`
	TradeID      uint64          `json:"trade_id,omitempty"` // only set for fill events
	Type         EventType       `json:"type"`
	Pair         string          `json:"pair"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Amount       decimal.Decimal `json:"amount,omitempty"`
	Fee          decimal.Decimal `json:"fee,omitempty"`
	OrderID      string          `json:"order_id"`
	Owner        string          `json:"owner"`
	MakerOrderID string          `json:"maker_order_id,omitempty"`
	MakerOwner   string          `json:"maker_owner,omitempty"`
	Remaining    decimal.Decimal `json:"remaining,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

var bookEventPool = sync.Pool{
	New: func() any {
		return new(BookEvent)
	},
}

func acquireBookEvent() *BookEvent {
	ev := bookEventPool.Get().(*BookEvent)
	ev.EventID = xid.New().String()
	return ev
}

func releaseBookEvent(ev *BookEvent) {
	// Reset to zero values. The decimal zero value (nil internal pointer)
	// represents 0, which is valid.
	*ev = BookEvent{}
	bookEventPool.Put(ev)
}

func newCreatedEvent(seqID uint64, pair string, o *Order) *BookEvent {
	ev := acquireBookEvent()
	ev.SequenceID = seqID
	ev.Type = EventOrderCreated
	ev.Pair = pair
	ev.Side = o.Side
	ev.Price = o.Price
	ev.Size = o.Available
	ev.OrderID = o.ID
	ev.Owner = o.Owner
	ev.Remaining = o.Available
	ev.CreatedAt = time.Now().UTC()
	return ev
}

func newCanceledEvent(seqID uint64, pair string, o *Order) *BookEvent {
	ev := acquireBookEvent()
	ev.SequenceID = seqID
	ev.Type = EventOrderCanceled
	ev.Pair = pair
	ev.Side = o.Side
	ev.Price = o.Price
	ev.Size = o.Available
	ev.OrderID = o.ID
	ev.Owner = o.Owner
	ev.CreatedAt = time.Now().UTC()
	return ev
}

func newFillEvent(seqID, tradeID uint64, pair string, taker *Order, maker *Order, size, amount, fee decimal.Decimal) *BookEvent {
	ev := acquireBookEvent()
	ev.SequenceID = seqID
	ev.TradeID = tradeID
	if maker.Available.IsZero() {
		ev.Type = EventOrderFilled
	} else {
		ev.Type = EventOrderPartiallyFilled
	}
	ev.Pair = pair
	ev.Side = taker.Side
	ev.Price = maker.Price
	ev.Size = size
	ev.Amount = amount
	ev.Fee = fee
	ev.OrderID = taker.ID
	ev.Owner = taker.Owner
	ev.MakerOrderID = maker.ID
	ev.MakerOwner = maker.Owner
	ev.Remaining = maker.Available
	ev.CreatedAt = time.Now().UTC()
	return ev
}

// Publisher receives every event the engine emits.
//
// IMPORTANT: Implementations must either:
//  1. Process events synchronously before returning, OR
//  2. Clone the BookEvent data before returning
//
// The caller recycles BookEvent objects to a sync.Pool after Publish
// returns, so any asynchronous processing must work with cloned data.
type Publisher interface {
	Publish(...*BookEvent)
}

// MemoryPublisher stores events in memory, useful for testing.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []*BookEvent
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		events: make([]*BookEvent, 0),
	}
}

// Publish appends clones of the events to the in-memory slice.
func (m *MemoryPublisher) Publish(events ...*BookEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		cpy := new(BookEvent)
		*cpy = *ev
		m.events = append(m.events, cpy)
	}
}

// Count returns the number of events stored.
func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Get returns the event at the specified index.
func (m *MemoryPublisher) Get(index int) *BookEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[index]
}

// Events returns a copy of all stored events.
func (m *MemoryPublisher) Events() []*BookEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*BookEvent, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns the stored events of one type.
func (m *MemoryPublisher) OfType(t EventType) []*BookEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*BookEvent
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// DiscardPublisher drops all events, useful for benchmarking.
type DiscardPublisher struct{}

// NewDiscardPublisher creates a new DiscardPublisher.
func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

// Publish does nothing.
func (p *DiscardPublisher) Publish(events ...*BookEvent) {}

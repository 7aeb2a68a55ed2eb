package engine

import (
	"sync"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// DepthChange is the book depth delta implied by one event.
type DepthChange struct {
	Side     Side
	Price    decimal.Decimal
	SizeDiff decimal.Decimal
}

// CalculateDepthChange derives the depth delta from a book event. For fill
// events the event's side is the taker's, so liquidity leaves the opposite
// (maker) side. A created event adds only the resting remainder.
func CalculateDepthChange(ev *BookEvent) DepthChange {
	switch ev.Type {
	case EventOrderCreated:
		return DepthChange{
			Side:     ev.Side,
			Price:    ev.Price,
			SizeDiff: ev.Remaining,
		}
	case EventOrderCanceled:
		return DepthChange{
			Side:     ev.Side,
			Price:    ev.Price,
			SizeDiff: ev.Size.Neg(),
		}
	case EventOrderFilled, EventOrderPartiallyFilled:
		return DepthChange{
			Side:     ev.Side.Opposite(),
			Price:    ev.Price,
			SizeDiff: ev.Size.Neg(),
		}
	}
	return DepthChange{}
}

// DepthLevel is one aggregated price level.
type DepthLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// AggregatedBook maintains a simplified view of the order book, tracking
// only price levels and their aggregated sizes (depth). It is designed for
// downstream services that rebuild book state from the event stream
// received via message queue: feed it a snapshot through OnRebuild, then
// Replay every event in sequence order.
type AggregatedBook struct {
	mu    sync.RWMutex
	seqID uint64 // last applied SequenceID, for gap detection and deduplication
	ask   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
	bid   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
}

// NewAggregatedBook creates a new AggregatedBook with empty sides.
func NewAggregatedBook() *AggregatedBook {
	return &AggregatedBook{
		ask: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		}),
		bid: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		}),
	}
}

// SequenceID returns the last applied sequence ID.
func (ab *AggregatedBook) SequenceID() uint64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.seqID
}

// OnRebuild resets the book from an engine snapshot. Call it before
// replaying events; Replay then accepts only sequence ids above the
// snapshot's.
func (ab *AggregatedBook) OnRebuild(snap *EngineSnapshot) error {
	if snap == nil {
		return ErrInvalidParam
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	ab.ask.Clear()
	ab.bid.Clear()
	ab.seqID = snap.SequenceID

	for _, o := range snap.Bids {
		ab.apply(Buy, o.Price, o.Available)
	}
	for _, o := range snap.Asks {
		ab.apply(Sell, o.Price, o.Available)
	}
	return nil
}

// Replay applies one event. Events at or below the current sequence id are
// duplicates and are skipped silently; a sequence id more than one ahead
// means lost events and returns ErrSequenceGap without mutating state.
func (ab *AggregatedBook) Replay(ev *BookEvent) error {
	if ev == nil {
		return ErrInvalidParam
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ev.SequenceID <= ab.seqID {
		return nil
	}
	if ev.SequenceID != ab.seqID+1 {
		return ErrSequenceGap
	}

	change := CalculateDepthChange(ev)
	if !change.SizeDiff.IsZero() {
		ab.apply(change.Side, change.Price, change.SizeDiff)
	}
	ab.seqID = ev.SequenceID
	return nil
}

// apply must be called with the lock held.
func (ab *AggregatedBook) apply(side Side, price, diff decimal.Decimal) {
	tree := ab.treeFor(side)
	size, ok := tree.Get(price)
	if !ok {
		size = decimal.Zero
	}
	size = size.Add(diff)
	if size.Sign() > 0 {
		tree.Set(price, size)
		return
	}
	tree.Del(price)
}

func (ab *AggregatedBook) treeFor(side Side) *treemap.TreeMap[decimal.Decimal, decimal.Decimal] {
	if side == Buy {
		return ab.bid
	}
	return ab.ask
}

// Depth returns the aggregated size at a price level, zero when the level
// does not exist.
func (ab *AggregatedBook) Depth(side Side, price decimal.Decimal) decimal.Decimal {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	size, ok := ab.treeFor(side).Get(price)
	if !ok {
		return decimal.Zero
	}
	return size
}

// TopLevels returns up to n levels of one side, best price first.
func (ab *AggregatedBook) TopLevels(side Side, n int) []DepthLevel {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	out := make([]DepthLevel, 0, n)
	if side == Buy {
		for it := ab.bid.Reverse(); it.Valid() && len(out) < n; it.Next() {
			out = append(out, DepthLevel{Price: it.Key(), Size: it.Value()})
		}
		return out
	}
	for it := ab.ask.Iterator(); it.Valid() && len(out) < n; it.Next() {
		out = append(out, DepthLevel{Price: it.Key(), Size: it.Value()})
	}
	return out
}

// LevelCount returns the number of non-empty levels on one side.
func (ab *AggregatedBook) LevelCount(side Side) int {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.treeFor(side).Len()
}

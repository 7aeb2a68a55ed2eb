package engine

import (
	"github.com/shopspring/decimal"
)

// Book is one side of the market: a price index over the side's levels plus
// side-wide totals. It is owned and exclusively mutated by the Engine; price
// index and level queues are never touched directly by anything else.
//
// Invariant: a price exists in the index if and only if its level queue is
// non-empty.
type Book struct {
	side   Side
	tree   *priceTree
	orders int64
}

// NewBidBook creates the buy side. Best price is the maximum key.
func NewBidBook() *Book {
	return &Book{side: Buy, tree: newPriceTree()}
}

// NewAskBook creates the sell side. Best price is the minimum key.
func NewAskBook() *Book {
	return &Book{side: Sell, tree: newPriceTree()}
}

func (b *Book) Side() Side { return b.side }

// insert indexes the order's price (if new) and appends the order to the
// level's FIFO tail.
func (b *Book) insert(o *Order) error {
	lvl := b.tree.upsert(o.Price)
	if err := lvl.push(o); err != nil {
		if lvl.isEmpty() {
			// Undo the level we just created for a rejected push.
			_ = b.tree.remove(o.Price)
		}
		return err
	}
	b.orders++
	return nil
}

// remove splices the order out of its level and drops the level from the
// price index when it empties.
func (b *Book) remove(o *Order) error {
	lvl := b.tree.find(o.Price)
	if lvl == nil {
		return errPriceNotFound
	}
	if err := lvl.remove(o); err != nil {
		return err
	}
	b.orders--
	if lvl.isEmpty() {
		if err := b.tree.remove(o.Price); err != nil {
			panic("book: level emptied but price missing from index")
		}
	}
	return nil
}

// reduce shrinks the level's aggregate volume by delta. Used when a resting
// order is partially consumed but stays queued; the order count and FIFO
// position are untouched.
func (b *Book) reduce(price, delta decimal.Decimal) error {
	lvl := b.tree.find(price)
	if lvl == nil {
		return errPriceNotFound
	}
	lvl.volume = lvl.volume.Sub(delta)
	return nil
}

// bestLevel returns the level at the best price for this side, or nil when
// the side is empty.
func (b *Book) bestLevel() *levelQueue {
	if b.side == Buy {
		return b.tree.max()
	}
	return b.tree.min()
}

// bestPrice returns the best price on this side, or zero when the side is
// empty. Zero is a safe sentinel: zero is never a valid price.
func (b *Book) bestPrice() decimal.Decimal {
	lvl := b.bestLevel()
	if lvl == nil {
		return decimal.Zero
	}
	return lvl.price
}

// nextLevel returns the level that matching visits after lvl: the successor
// for asks (ascending prices) and the predecessor for bids (descending).
func (b *Book) nextLevel(lvl *levelQueue) *levelQueue {
	if b.side == Buy {
		return b.tree.predecessor(lvl.price)
	}
	return b.tree.successor(lvl.price)
}

// nextOrderAtPrice returns the oldest order at price, or nil when the price
// is not indexed.
func (b *Book) nextOrderAtPrice(price decimal.Decimal) *Order {
	lvl := b.tree.find(price)
	if lvl == nil {
		return nil
	}
	return lvl.first()
}

// topPrices returns the n best prices walking from the best level outward,
// substituting zero for any that do not exist.
func (b *Book) topPrices(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, n)
	lvl := b.bestLevel()
	for i := 0; i < n; i++ {
		if lvl == nil {
			out = append(out, decimal.Zero)
			continue
		}
		out = append(out, lvl.price)
		lvl = b.nextLevel(lvl)
	}
	return out
}

// levelStats returns the aggregates of the level at price. ok is false when
// the price is not indexed.
func (b *Book) levelStats(price decimal.Decimal) (LevelStats, bool) {
	lvl := b.tree.find(price)
	if lvl == nil {
		return LevelStats{TotalValue: decimal.Zero}, false
	}
	return LevelStats{OrderCount: lvl.count, TotalValue: lvl.volume}, true
}

func (b *Book) exists(price decimal.Decimal) bool {
	return b.tree.exists(price)
}

// orderCount returns the number of resting orders on this side.
func (b *Book) orderCount() int64 {
	return b.orders
}

// levelCount returns the number of distinct price levels on this side.
func (b *Book) levelCount() int64 {
	return int64(b.tree.count())
}

// scan visits every resting order best price first, oldest first within a
// level, until fn returns false. Used for snapshots.
func (b *Book) scan(fn func(*Order) bool) {
	visit := func(lvl *levelQueue) bool {
		for o := lvl.first(); o != nil; o = o.next {
			if !fn(o) {
				return false
			}
		}
		return true
	}
	if b.side == Buy {
		b.tree.descend(visit)
	} else {
		b.tree.ascend(visit)
	}
}

package engine

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookOrder(id string, price, available int64) *Order {
	qty := decimal.NewFromInt(available)
	return &Order{
		ID:        id,
		Price:     decimal.NewFromInt(price),
		Quantity:  qty,
		Available: qty,
		Owner:     "owner-" + id,
		Status:    StatusCreated,
	}
}

func TestBook_InsertRemove(t *testing.T) {
	b := NewAskBook()

	o1 := bookOrder("s1", 100, 10)
	o2 := bookOrder("s2", 100, 5)
	o3 := bookOrder("s3", 110, 7)
	require.NoError(t, b.insert(o1))
	require.NoError(t, b.insert(o2))
	require.NoError(t, b.insert(o3))

	assert.Equal(t, int64(3), b.orderCount())
	assert.Equal(t, int64(2), b.levelCount())
	assert.Equal(t, "100", b.bestPrice().String())

	stats, ok := b.levelStats(decimal.NewFromInt(100))
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.OrderCount)
	assert.Equal(t, "15", stats.TotalValue.String())

	require.NoError(t, b.remove(o1))
	assert.Equal(t, "100", b.bestPrice().String())

	// Removing the last order at a price drops the level.
	require.NoError(t, b.remove(o2))
	assert.False(t, b.exists(decimal.NewFromInt(100)))
	assert.Equal(t, "110", b.bestPrice().String())

	require.NoError(t, b.remove(o3))
	assert.Equal(t, "0", b.bestPrice().String())
	assert.Equal(t, int64(0), b.orderCount())
	assert.Equal(t, int64(0), b.levelCount())
}

func TestBook_BestPriceBySide(t *testing.T) {
	bid := NewBidBook()
	ask := NewAskBook()

	for _, p := range []int64{90, 100, 80} {
		require.NoError(t, bid.insert(bookOrder(fmt.Sprintf("b%d", p), p, 1)))
		require.NoError(t, ask.insert(bookOrder(fmt.Sprintf("a%d", p), p, 1)))
	}

	assert.Equal(t, "100", bid.bestPrice().String())
	assert.Equal(t, "80", ask.bestPrice().String())
}

func TestBook_TopPricesZeroFill(t *testing.T) {
	b := NewBidBook()
	require.NoError(t, b.insert(bookOrder("b1", 100, 1)))
	require.NoError(t, b.insert(bookOrder("b2", 90, 1)))

	got := b.topPrices(4)
	require.Len(t, got, 4)
	assert.Equal(t, "100", got[0].String())
	assert.Equal(t, "90", got[1].String())
	assert.Equal(t, "0", got[2].String())
	assert.Equal(t, "0", got[3].String())
}

func TestBook_Reduce(t *testing.T) {
	b := NewAskBook()
	o := bookOrder("s1", 100, 10)
	require.NoError(t, b.insert(o))

	require.NoError(t, b.reduce(decimal.NewFromInt(100), decimal.NewFromInt(4)))
	stats, ok := b.levelStats(decimal.NewFromInt(100))
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.OrderCount)
	assert.Equal(t, "6", stats.TotalValue.String())

	assert.ErrorIs(t, b.reduce(decimal.NewFromInt(200), decimal.NewFromInt(1)), errPriceNotFound)
}

func TestBook_ScanOrder(t *testing.T) {
	b := NewBidBook()
	require.NoError(t, b.insert(bookOrder("b1", 90, 1)))
	require.NoError(t, b.insert(bookOrder("b2", 100, 1)))
	require.NoError(t, b.insert(bookOrder("b3", 100, 1)))
	require.NoError(t, b.insert(bookOrder("b4", 80, 1)))

	var got []string
	b.scan(func(o *Order) bool {
		got = append(got, o.ID)
		return true
	})
	// Best price first, oldest first within a level.
	assert.Equal(t, []string{"b2", "b3", "b1", "b4"}, got)

	got = got[:0]
	b.scan(func(o *Order) bool {
		got = append(got, o.ID)
		return len(got) < 2
	})
	assert.Equal(t, []string{"b2", "b3"}, got)
}

// The level invariant: a price exists in the index iff its queue is
// non-empty, and the aggregate count matches the walked length.
func TestBook_LevelInvariantUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	b := NewAskBook()
	live := make(map[string]*Order)
	next := 0

	for i := 0; i < 3000; i++ {
		if rng.Intn(2) == 0 {
			id := fmt.Sprintf("o%d", next)
			next++
			o := bookOrder(id, rng.Int63n(50)+1, rng.Int63n(100)+1)
			require.NoError(t, b.insert(o))
			live[id] = o
		} else if len(live) > 0 {
			var id string
			for id = range live {
				break
			}
			require.NoError(t, b.remove(live[id]))
			delete(live, id)
		}
	}

	assert.Equal(t, int64(len(live)), b.orderCount())
	var walked int64
	b.tree.ascend(func(lvl *levelQueue) bool {
		require.False(t, lvl.isEmpty(), "empty level %s left in index", lvl.price)
		require.Equal(t, lvl.count, lvl.length())
		walked += lvl.count
		return true
	})
	assert.Equal(t, int64(len(live)), walked)
}

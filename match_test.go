package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scaled converts a whole number into the shared 1e18 fixed-point scale.
func scaled(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Mul(Precision)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *MemoryPublisher, *MemoryLedger) {
	t.Helper()

	ledger := NewMemoryLedger()
	pub := NewMemoryPublisher()
	e := NewEngine("BTC-USDT", "BTC", "USDT", ledger, pub, opts...)

	funds := scaled(100_000_000)
	for _, account := range []string{"alice", "bob", "carol", e.bookAccount} {
		ledger.Deposit("BTC", account, funds)
		ledger.Deposit("USDT", account, funds)
	}

	go func() {
		_ = e.Start()
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e, pub, ledger
}

func submit(t *testing.T, e *Engine, owner string, side Side, price, qty int64) string {
	t.Helper()
	id, err := e.Submit(context.Background(), &SubmitRequest{
		Owner:    owner,
		Side:     side,
		Price:    scaled(price),
		Quantity: scaled(qty),
	})
	require.NoError(t, err)
	return id
}

func TestMatch_FullFill(t *testing.T) {
	e, pub, ledger := newTestEngine(t)

	bobBTC := ledger.Balance("BTC", "bob")
	aliceUSDT := ledger.Balance("USDT", "alice")

	sellID := submit(t, e, "bob", Sell, 100, 10)
	buyID := submit(t, e, "alice", Buy, 100, 10)

	// The resting sell is gone and nothing rests for the taker.
	_, err := e.OrderDetail(sellID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = e.OrderDetail(buyID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	bestAsk, err := e.BestAskPrice()
	require.NoError(t, err)
	assert.True(t, bestAsk.IsZero())

	last, err := e.LastTradePrice()
	require.NoError(t, err)
	assert.True(t, scaled(100).Equal(last))

	// 10 BTC moved to alice, 1000 USDT moved to bob.
	assert.True(t, bobBTC.Sub(scaled(10)).Equal(ledger.Balance("BTC", "bob")))
	assert.True(t, aliceUSDT.Sub(scaled(1000)).Equal(ledger.Balance("USDT", "alice")))

	fills := pub.OfType(EventOrderFilled)
	require.Len(t, fills, 1)
	fill := fills[0]
	assert.Equal(t, buyID, fill.OrderID)
	assert.Equal(t, "alice", fill.Owner)
	assert.Equal(t, sellID, fill.MakerOrderID)
	assert.Equal(t, "bob", fill.MakerOwner)
	assert.True(t, scaled(100).Equal(fill.Price))
	assert.True(t, scaled(10).Equal(fill.Size))
	assert.True(t, scaled(1000).Equal(fill.Amount))
	assert.True(t, fill.Remaining.IsZero())
	assert.Equal(t, uint64(1), fill.TradeID)
}

func TestMatch_PartialFill(t *testing.T) {
	e, pub, _ := newTestEngine(t)

	sellID := submit(t, e, "bob", Sell, 100, 10)
	buyID := submit(t, e, "alice", Buy, 100, 4)

	// The maker stays resting with the remainder; the taker never rests.
	maker, err := e.OrderDetail(sellID)
	require.NoError(t, err)
	assert.True(t, scaled(6).Equal(maker.Available))
	assert.True(t, scaled(10).Equal(maker.Quantity))
	assert.Equal(t, StatusPartiallyFilled, maker.Status)

	_, err = e.OrderDetail(buyID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	stats, err := e.LevelStats(scaled(100), Sell)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.OrderCount)
	assert.True(t, scaled(6).Equal(stats.TotalValue))

	partials := pub.OfType(EventOrderPartiallyFilled)
	require.Len(t, partials, 1)
	assert.True(t, scaled(4).Equal(partials[0].Size))
	assert.True(t, scaled(6).Equal(partials[0].Remaining))
	assert.Empty(t, pub.OfType(EventOrderFilled))
}

func TestMatch_NoCross(t *testing.T) {
	e, pub, _ := newTestEngine(t)

	submit(t, e, "bob", Sell, 100, 10)
	buyID := submit(t, e, "alice", Buy, 90, 5)

	// No trade: the buy rests below the ask.
	o, err := e.OrderDetail(buyID)
	require.NoError(t, err)
	assert.True(t, scaled(5).Equal(o.Available))
	assert.Equal(t, StatusCreated, o.Status)

	bestBid, err := e.BestBidPrice()
	require.NoError(t, err)
	assert.True(t, scaled(90).Equal(bestBid))
	bestAsk, err := e.BestAskPrice()
	require.NoError(t, err)
	assert.True(t, scaled(100).Equal(bestAsk))

	assert.Empty(t, pub.OfType(EventOrderFilled))
	assert.Empty(t, pub.OfType(EventOrderPartiallyFilled))
	assert.Len(t, pub.OfType(EventOrderCreated), 2)
}

func TestMatch_PriceTimePriority(t *testing.T) {
	e, pub, _ := newTestEngine(t)

	first := submit(t, e, "alice", Buy, 100, 5)
	second := submit(t, e, "bob", Buy, 100, 5)

	submit(t, e, "carol", Sell, 100, 5)

	// The older bid is drained completely before the newer one is touched.
	_, err := e.OrderDetail(first)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	o, err := e.OrderDetail(second)
	require.NoError(t, err)
	assert.True(t, scaled(5).Equal(o.Available))
	assert.Equal(t, StatusCreated, o.Status)

	fills := pub.OfType(EventOrderFilled)
	require.Len(t, fills, 1)
	assert.Equal(t, first, fills[0].MakerOrderID)
}

func TestMatch_WalksPriceLevels(t *testing.T) {
	e, pub, _ := newTestEngine(t)

	submit(t, e, "bob", Sell, 100, 2)
	submit(t, e, "bob", Sell, 110, 2)
	submit(t, e, "bob", Sell, 120, 2)

	buyID := submit(t, e, "alice", Buy, 115, 5)

	// 100 and 110 are consumed, 120 does not cross, remainder rests at 115.
	fills := pub.OfType(EventOrderFilled)
	require.Len(t, fills, 2)
	assert.True(t, scaled(100).Equal(fills[0].Price))
	assert.True(t, scaled(110).Equal(fills[1].Price))

	o, err := e.OrderDetail(buyID)
	require.NoError(t, err)
	assert.True(t, scaled(1).Equal(o.Available))
	assert.Equal(t, StatusPartiallyFilled, o.Status)

	last, err := e.LastTradePrice()
	require.NoError(t, err)
	assert.True(t, scaled(110).Equal(last))

	bestAsk, err := e.BestAskPrice()
	require.NoError(t, err)
	assert.True(t, scaled(120).Equal(bestAsk))
}

func TestMatch_CapRestsRemainder(t *testing.T) {
	e, pub, _ := newTestEngine(t, WithMatchCap(2))

	submit(t, e, "bob", Sell, 100, 1)
	submit(t, e, "bob", Sell, 100, 1)
	submit(t, e, "bob", Sell, 100, 1)

	buyID := submit(t, e, "alice", Buy, 100, 3)

	// Only two resting orders may be consumed per call; the remainder rests
	// even though crossing liquidity is still on the book.
	assert.Len(t, pub.OfType(EventOrderFilled), 2)

	o, err := e.OrderDetail(buyID)
	require.NoError(t, err)
	assert.True(t, scaled(1).Equal(o.Available))

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AskOrderCount)
	assert.Equal(t, int64(1), stats.BidOrderCount)
}

// failingLedger rejects every transfer after the first n calls succeed.
type failingLedger struct {
	allow int
	calls int
}

func (l *failingLedger) Transfer(asset, from, to string, amount decimal.Decimal) error {
	l.calls++
	if l.calls > l.allow {
		return ErrInsufficientFunds
	}
	return nil
}

func (l *failingLedger) TransferFee(asset, from string, amount decimal.Decimal) error {
	l.calls++
	if l.calls > l.allow {
		return ErrInsufficientFunds
	}
	return nil
}

func TestMatch_SettlementFailureLeavesBookUntouched(t *testing.T) {
	ledger := &failingLedger{allow: 3}
	pub := NewMemoryPublisher()
	e := NewEngine("BTC-USDT", "BTC", "USDT", ledger, pub)
	go func() {
		_ = e.Start()
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	ctx := context.Background()

	// Setup orders rest without ledger calls.
	sellA, err := e.Submit(ctx, &SubmitRequest{Owner: "bob", Side: Sell, Price: scaled(100), Quantity: scaled(1)})
	require.NoError(t, err)
	sellB, err := e.Submit(ctx, &SubmitRequest{Owner: "bob", Side: Sell, Price: scaled(110), Quantity: scaled(1)})
	require.NoError(t, err)

	// The first fill settles (3 calls), the second fill's first transfer
	// fails. The whole submit must be rejected with zero book mutation.
	_, err = e.Submit(ctx, &SubmitRequest{Owner: "alice", Side: Buy, Price: scaled(110), Quantity: scaled(2)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	for _, id := range []string{sellA, sellB} {
		o, err := e.OrderDetail(id)
		require.NoError(t, err)
		assert.True(t, scaled(1).Equal(o.Available))
		assert.Equal(t, StatusCreated, o.Status)
	}

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.AskOrderCount)
	assert.Equal(t, int64(0), stats.BidOrderCount)

	assert.Empty(t, pub.OfType(EventOrderFilled))
	assert.Empty(t, pub.OfType(EventOrderPartiallyFilled))
	assert.Len(t, pub.OfType(EventOrderCreated), 2)
}

func TestMatch_FeeChargedOnQuoteLeg(t *testing.T) {
	e, pub, ledger := newTestEngine(t, WithFeeBps(25))

	bobUSDT := ledger.Balance("USDT", "bob")
	aliceUSDT := ledger.Balance("USDT", "alice")

	// Taker buys: the taker pays the quote leg and therefore the fee.
	submit(t, e, "bob", Sell, 10000, 1)
	submit(t, e, "alice", Buy, 10000, 1)

	// amount = 10000, fee = 10000 * 25 / 10000 = 25
	assert.True(t, scaled(25).Equal(ledger.Fees("USDT")))
	assert.True(t, bobUSDT.Add(scaled(9975)).Equal(ledger.Balance("USDT", "bob")))
	assert.True(t, aliceUSDT.Sub(scaled(10000)).Equal(ledger.Balance("USDT", "alice")))

	fills := pub.OfType(EventOrderFilled)
	require.Len(t, fills, 1)
	assert.True(t, scaled(25).Equal(fills[0].Fee))

	// Taker sells: the maker pays the quote leg and therefore the fee.
	aliceUSDT = ledger.Balance("USDT", "alice")
	bobUSDT = ledger.Balance("USDT", "bob")

	submit(t, e, "alice", Buy, 10000, 1)
	submit(t, e, "bob", Sell, 10000, 1)

	assert.True(t, scaled(50).Equal(ledger.Fees("USDT")))
	assert.True(t, aliceUSDT.Sub(scaled(10000)).Equal(ledger.Balance("USDT", "alice")))
	assert.True(t, bobUSDT.Add(scaled(9975)).Equal(ledger.Balance("USDT", "bob")))
}

func TestQuoteAmount_TruncationPinned(t *testing.T) {
	// quantity 1.5, price 0.333333333333333333: the exact product is
	// 0.4999999999999999995 and must truncate toward zero.
	qty := decimal.NewFromInt(1500000000000000000)
	price := decimal.NewFromInt(333333333333333333)
	assert.Equal(t, "499999999999999999", quoteAmount(qty, price).String())

	// Whole values stay exact.
	assert.Equal(t, scaled(1000).String(), quoteAmount(scaled(10), scaled(100)).String())

	// Truncation, never rounding up.
	assert.Equal(t, "0", quoteAmount(decimal.NewFromInt(1), decimal.NewFromInt(999999999999999999)).String())
}

func TestFeeAmount_TruncationPinned(t *testing.T) {
	e := NewEngine("X-Y", "X", "Y", NewMemoryLedger(), NewDiscardPublisher(), WithFeeBps(25))

	// 10001 * 25 / 10000 = 25.0025 -> 25
	assert.Equal(t, "25", e.feeAmount(decimal.NewFromInt(10001)).String())
	assert.Equal(t, "0", e.feeAmount(decimal.NewFromInt(399)).String())

	zero := NewEngine("X-Y", "X", "Y", NewMemoryLedger(), NewDiscardPublisher())
	assert.True(t, zero.feeAmount(decimal.NewFromInt(10001)).IsZero())
}

func TestMatch_LevelVolumeAfterFullFillOfSibling(t *testing.T) {
	e, _, _ := newTestEngine(t)

	submit(t, e, "bob", Sell, 100, 2)
	submit(t, e, "carol", Sell, 100, 3)

	// Fully consume bob's order; carol's stays at the same level.
	submit(t, e, "alice", Buy, 100, 2)

	lvl, err := e.LevelStats(scaled(100), Sell)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lvl.OrderCount)
	assert.True(t, scaled(3).Equal(lvl.TotalValue))
}

func TestMatch_SequenceIDsAreStrictlyIncreasing(t *testing.T) {
	e, pub, _ := newTestEngine(t)

	submit(t, e, "bob", Sell, 100, 1)
	submit(t, e, "bob", Sell, 110, 1)
	submit(t, e, "alice", Buy, 120, 3)

	events := pub.Events()
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.SequenceID)
		assert.NotEmpty(t, ev.EventID)
	}
}

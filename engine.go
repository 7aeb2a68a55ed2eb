package engine

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// commandType represents the type of command sent to the engine loop.
type commandType int

const (
	cmdSubmit commandType = iota
	cmdCancel
	cmdBestPrice
	cmdTopPrices
	cmdOrdersOf
	cmdOrderDetail
	cmdLevelStats
	cmdStats
	cmdLastTradePrice
	cmdSnapshot
)

type response struct {
	data any
	err  error
}

// command is the unified envelope for everything the loop processes. A
// single channel keeps command ordering deterministic.
type command struct {
	typ     commandType
	payload any
	resp    chan response
}

type cancelRequest struct {
	id     string
	caller string
}

type topPricesRequest struct {
	side Side
	n    int
}

type levelStatsRequest struct {
	price decimal.Decimal
	side  Side
}

// Option configures an Engine.
type Option func(*Engine)

// WithFeeBps sets the trade fee in basis points (100 bps = 1%), charged on
// the quote leg of every fill. Default 0.
func WithFeeBps(bps int64) Option {
	return func(e *Engine) {
		e.feeBps = decimal.NewFromInt(bps)
	}
}

// WithMatchCap bounds the number of resting orders one submit may consume.
func WithMatchCap(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.matchCap = limit
		}
	}
}

// WithBookAccount sets the ledger account that holds locked balances of
// resting orders; cancellation refunds are paid out of it.
func WithBookAccount(account string) Option {
	return func(e *Engine) {
		e.bookAccount = account
	}
}

// WithCommandBuffer sets the command channel capacity.
func WithCommandBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.commandBuffer = n
		}
	}
}

// Engine is the matching core for one instrument: both book sides, the
// order table and the owner registry, mutated exclusively by the loop
// goroutine. Public methods are safe for concurrent use; they serialize
// through the command channel.
type Engine struct {
	pair       string
	baseAsset  string
	quoteAsset string

	bids   *Book
	asks   *Book
	table  *orderTable
	owners *ownerRegistry

	ledger    Ledger
	publisher Publisher

	feeBps        decimal.Decimal
	matchCap      int
	bookAccount   string
	commandBuffer int

	// Loop-owned counters and state. Only the loop goroutine touches these.
	sequenceID     uint64
	tradeID        uint64
	nonce          uint64
	lastTradePrice decimal.Decimal

	isShutdown       atomic.Bool
	cmdChan          chan command
	done             chan struct{}
	shutdownComplete chan struct{}
}

// NewEngine creates the matching core for one instrument. pair names the
// instrument; base and quote are the asset identifiers handed to the
// Ledger on settlement.
func NewEngine(pair, baseAsset, quoteAsset string, ledger Ledger, publisher Publisher, opts ...Option) *Engine {
	e := &Engine{
		pair:           pair,
		baseAsset:      baseAsset,
		quoteAsset:     quoteAsset,
		bids:           NewBidBook(),
		asks:           NewAskBook(),
		table:          newOrderTable(),
		owners:         newOwnerRegistry(),
		ledger:         ledger,
		publisher:      publisher,
		feeBps:         decimal.Zero,
		matchCap:       DefaultMatchCap,
		bookAccount:    pair + ":book",
		commandBuffer:  defaultCommandBuffer,
		lastTradePrice: decimal.Zero,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cmdChan = make(chan command, e.commandBuffer)
	e.done = make(chan struct{})
	e.shutdownComplete = make(chan struct{})
	return e
}

// Pair returns the instrument identifier.
func (e *Engine) Pair() string { return e.pair }

// Start runs the engine loop, processing submissions, cancellations and
// queries. It returns after Shutdown has been called and the remaining
// commands are drained.
func (e *Engine) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-e.done:
			return e.drain()
		case cmd := <-e.cmdChan:
			e.dispatch(cmd)
		}
	}
}

// Shutdown stops the engine loop and waits until pending commands are
// drained or the context expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.isShutdown.CompareAndSwap(false, true) {
		close(e.done)
	}

	select {
	case <-e.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes everything left in the command channel before returning.
// State-changing commands still execute so no accepted order is lost.
func (e *Engine) drain() error {
	defer close(e.shutdownComplete)

	for {
		select {
		case cmd := <-e.cmdChan:
			e.dispatch(cmd)
		default:
			return nil
		}
	}
}

func (e *Engine) dispatch(cmd command) {
	switch cmd.typ {
	case cmdSubmit:
		req, ok := cmd.payload.(*SubmitRequest)
		if !ok {
			cmd.reply(nil, ErrInvalidParam)
			return
		}
		id, err := e.handleSubmit(req)
		cmd.reply(id, err)
	case cmdCancel:
		req, ok := cmd.payload.(cancelRequest)
		if !ok {
			cmd.reply(nil, ErrInvalidParam)
			return
		}
		cmd.reply(nil, e.handleCancel(req.id, req.caller))
	case cmdBestPrice:
		side, _ := cmd.payload.(Side)
		cmd.reply(e.bookFor(side).bestPrice(), nil)
	case cmdTopPrices:
		req, _ := cmd.payload.(topPricesRequest)
		cmd.reply(e.bookFor(req.side).topPrices(req.n), nil)
	case cmdOrdersOf:
		owner, _ := cmd.payload.(string)
		cmd.reply(e.owners.ordersOf(owner), nil)
	case cmdOrderDetail:
		id, _ := cmd.payload.(string)
		o, err := e.table.get(id)
		if err != nil {
			cmd.reply(nil, err)
			return
		}
		cmd.reply(copyOrder(o), nil)
	case cmdLevelStats:
		req, _ := cmd.payload.(levelStatsRequest)
		// A missing level is simply empty depth, not an error.
		stats, _ := e.bookFor(req.side).levelStats(req.price)
		cmd.reply(stats, nil)
	case cmdStats:
		cmd.reply(&BookStats{
			AskLevelCount: e.asks.levelCount(),
			AskOrderCount: e.asks.orderCount(),
			BidLevelCount: e.bids.levelCount(),
			BidOrderCount: e.bids.orderCount(),
		}, nil)
	case cmdLastTradePrice:
		cmd.reply(e.lastTradePrice, nil)
	case cmdSnapshot:
		cmd.reply(e.createSnapshot(), nil)
	}
}

func (c command) reply(data any, err error) {
	if c.resp == nil {
		return
	}
	select {
	case c.resp <- response{data: data, err: err}:
	default:
		// Nobody is listening anymore; drop it.
	}
}

func (e *Engine) bookFor(side Side) *Book {
	if side == Buy {
		return e.bids
	}
	return e.asks
}

// copyOrder returns a detached copy safe to hand outside the loop.
func copyOrder(o *Order) *Order {
	cpy := *o
	cpy.next, cpy.prev, cpy.queue = nil, nil, nil
	return &cpy
}

// exec sends a command to the loop and waits for its response.
func (e *Engine) exec(ctx context.Context, typ commandType, payload any) (any, error) {
	if e.isShutdown.Load() {
		return nil, ErrShutdown
	}

	resp := make(chan response, 1)
	select {
	case e.cmdChan <- command{typ: typ, payload: payload, resp: resp}:
	case <-e.done:
		return nil, ErrEngineClosed
	case <-ctx.Done():
		return nil, ErrTimeout
	}

	select {
	case r := <-resp:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// execQuery is exec with a fixed timeout, for the read-only surface.
func (e *Engine) execQuery(typ commandType, payload any) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return e.exec(ctx, typ, payload)
}

// Submit places a limit order and returns its id. The call is synchronous:
// when it returns, matching has completed and any remainder is resting.
func (e *Engine) Submit(ctx context.Context, req *SubmitRequest) (string, error) {
	if req == nil {
		return "", ErrInvalidParam
	}
	data, err := e.exec(ctx, cmdSubmit, req)
	if err != nil {
		return "", err
	}
	return data.(string), nil
}

// Cancel removes a resting order. Only the order's owner may cancel it;
// the remaining locked balance is refunded through the Ledger.
func (e *Engine) Cancel(ctx context.Context, id, caller string) error {
	if len(id) == 0 || len(caller) == 0 {
		return ErrInvalidParam
	}
	_, err := e.exec(ctx, cmdCancel, cancelRequest{id: id, caller: caller})
	return err
}

// BestBidPrice returns the highest resting bid price, or zero when the bid
// side is empty.
func (e *Engine) BestBidPrice() (decimal.Decimal, error) {
	data, err := e.execQuery(cmdBestPrice, Buy)
	if err != nil {
		return decimal.Zero, err
	}
	return data.(decimal.Decimal), nil
}

// BestAskPrice returns the lowest resting ask price, or zero when the ask
// side is empty.
func (e *Engine) BestAskPrice() (decimal.Decimal, error) {
	data, err := e.execQuery(cmdBestPrice, Sell)
	if err != nil {
		return decimal.Zero, err
	}
	return data.(decimal.Decimal), nil
}

// TopPrices returns the n best prices on side, best first, zero-filled when
// fewer levels exist.
func (e *Engine) TopPrices(side Side, n int) ([]decimal.Decimal, error) {
	if n <= 0 {
		return nil, ErrInvalidParam
	}
	data, err := e.execQuery(cmdTopPrices, topPricesRequest{side: side, n: n})
	if err != nil {
		return nil, err
	}
	return data.([]decimal.Decimal), nil
}

// OrdersOf returns the ids of the owner's resting orders. Order of the
// returned slice is unspecified.
func (e *Engine) OrdersOf(owner string) ([]string, error) {
	data, err := e.execQuery(cmdOrdersOf, owner)
	if err != nil {
		return nil, err
	}
	return data.([]string), nil
}

// OrderDetail returns a copy of a resting order.
func (e *Engine) OrderDetail(id string) (*Order, error) {
	data, err := e.execQuery(cmdOrderDetail, id)
	if err != nil {
		return nil, err
	}
	return data.(*Order), nil
}

// LevelStats returns the order count and total available quantity at a
// price level. A price with no resting orders reports zero for both.
func (e *Engine) LevelStats(price decimal.Decimal, side Side) (LevelStats, error) {
	data, err := e.execQuery(cmdLevelStats, levelStatsRequest{price: price, side: side})
	if err != nil {
		return LevelStats{}, err
	}
	return data.(LevelStats), nil
}

// Stats returns usage statistics for both sides of the book.
func (e *Engine) Stats() (*BookStats, error) {
	data, err := e.execQuery(cmdStats, nil)
	if err != nil {
		return nil, err
	}
	return data.(*BookStats), nil
}

// LastTradePrice returns the price of the most recent fill, zero before
// the first trade.
func (e *Engine) LastTradePrice() (decimal.Decimal, error) {
	data, err := e.execQuery(cmdLastTradePrice, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return data.(decimal.Decimal), nil
}

// TakeSnapshot captures the engine state through the loop, so it is
// consistent with respect to in-flight commands.
func (e *Engine) TakeSnapshot() (*EngineSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := e.exec(ctx, cmdSnapshot, nil)
	if err != nil {
		return nil, err
	}
	return data.(*EngineSnapshot), nil
}

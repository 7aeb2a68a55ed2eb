package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// fill is one planned trade against a resting maker order. Plans are
// computed without mutating anything so a settlement failure can abort the
// whole submit with the book untouched.
type fill struct {
	maker  *Order
	size   decimal.Decimal // base quantity traded
	amount decimal.Decimal // quote amount, size * price / Precision
	fee    decimal.Decimal // quote fee, amount * feeBps / 10000
	full   bool            // the maker is fully consumed
}

// quoteAmount converts a base quantity at a price into the quote amount.
// All values are fixed-point integers scaled by Precision; the division
// truncates toward zero, consistently in the quote payer's favor.
func quoteAmount(qty, price decimal.Decimal) decimal.Decimal {
	q, _ := qty.Mul(price).QuoRem(Precision, 0)
	return q
}

func (e *Engine) feeAmount(amount decimal.Decimal) decimal.Decimal {
	if e.feeBps.IsZero() {
		return decimal.Zero
	}
	f, _ := amount.Mul(e.feeBps).QuoRem(feeDenominator, 0)
	return f
}

// crosses reports whether an incoming order at price trades against the
// opposing book's level at bookPrice.
func crosses(side Side, price, bookPrice decimal.Decimal) bool {
	if side == Buy {
		return price.Cmp(bookPrice) >= 0
	}
	return price.Cmp(bookPrice) <= 0
}

// handleSubmit runs on the engine loop goroutine.
func (e *Engine) handleSubmit(req *SubmitRequest) (string, error) {
	if req.Price.Sign() <= 0 {
		return "", ErrInvalidPrice
	}
	if req.Quantity.Sign() <= 0 {
		return "", ErrInvalidQuantity
	}
	if req.Owner == "" || (req.Side != Buy && req.Side != Sell) {
		return "", ErrInvalidParam
	}

	e.nonce++
	id := newOrderID(e.pair, req.Owner, req.Side, req.Price, e.nonce)
	if e.table.exists(id) {
		return "", ErrOrderIDExists
	}

	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().UnixNano()
	}
	taker := &Order{
		ID:        id,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Available: req.Quantity,
		Owner:     req.Owner,
		Status:    StatusCreated,
		Timestamp: ts,
	}

	fills := e.planMatch(taker)
	if err := e.settle(taker, fills); err != nil {
		return "", err
	}
	e.apply(taker, fills)
	return id, nil
}

// planMatch walks the opposing book best price first, oldest order first
// within a level, and plans fills while quantity remains, the incoming
// price crosses, and fewer than matchCap resting orders have been consumed.
// Read-only: no book, table or ledger state changes here.
func (e *Engine) planMatch(taker *Order) []fill {
	opposite := e.bookFor(taker.Side.Opposite())
	remaining := taker.Quantity

	var fills []fill
	consumed := 0
	for lvl := opposite.bestLevel(); lvl != nil; lvl = opposite.nextLevel(lvl) {
		if remaining.Sign() <= 0 || consumed >= e.matchCap {
			break
		}
		if !crosses(taker.Side, taker.Price, lvl.price) {
			break
		}
		for maker := lvl.first(); maker != nil; maker = maker.next {
			if remaining.Sign() <= 0 || consumed >= e.matchCap {
				break
			}
			size := maker.Available
			full := true
			if remaining.Cmp(size) < 0 {
				size = remaining
				full = false
			}
			amount := quoteAmount(size, lvl.price)
			fills = append(fills, fill{
				maker:  maker,
				size:   size,
				amount: amount,
				fee:    e.feeAmount(amount),
				full:   full,
			})
			remaining = remaining.Sub(size)
			consumed++
		}
	}
	return fills
}

// settle executes the ledger legs of every planned fill. The quote-leg
// payer also pays the fee: the counterparty receives amount minus fee and
// the fee is skimmed into the ledger's fee sink. Any error aborts the whole
// submit before a single book mutation has happened.
func (e *Engine) settle(taker *Order, fills []fill) error {
	for _, f := range fills {
		net := f.amount.Sub(f.fee)
		if taker.Side == Buy {
			if err := e.ledger.Transfer(e.quoteAsset, taker.Owner, f.maker.Owner, net); err != nil {
				return err
			}
			if err := e.ledger.TransferFee(e.quoteAsset, taker.Owner, f.fee); err != nil {
				return err
			}
			if err := e.ledger.Transfer(e.baseAsset, f.maker.Owner, taker.Owner, f.size); err != nil {
				return err
			}
			continue
		}
		if err := e.ledger.Transfer(e.baseAsset, taker.Owner, f.maker.Owner, f.size); err != nil {
			return err
		}
		if err := e.ledger.Transfer(e.quoteAsset, f.maker.Owner, taker.Owner, net); err != nil {
			return err
		}
		if err := e.ledger.TransferFee(e.quoteAsset, f.maker.Owner, f.fee); err != nil {
			return err
		}
	}
	return nil
}

// apply mutates the book state for settled fills, rests the remainder and
// emits events. Nothing here can fail under the invariants; inconsistencies
// between plan and book state would mean corruption and panic.
func (e *Engine) apply(taker *Order, fills []fill) {
	opposite := e.bookFor(taker.Side.Opposite())

	events := make([]*BookEvent, 0, len(fills)+1)
	for _, f := range fills {
		maker := f.maker
		taker.Available = taker.Available.Sub(f.size)

		if f.full {
			maker.Status = StatusFilled
			// Remove before zeroing Available: the level's volume aggregate
			// is maintained from the order's remaining quantity.
			if err := opposite.remove(maker); err != nil {
				panic("engine: planned maker missing from book: " + err.Error())
			}
			if err := e.table.remove(maker.ID); err != nil {
				panic("engine: planned maker missing from order table: " + err.Error())
			}
			if err := e.owners.remove(maker.Owner, maker.ID); err != nil {
				panic("engine: planned maker missing from owner registry: " + err.Error())
			}
			maker.Available = decimal.Zero
		} else {
			maker.Available = maker.Available.Sub(f.size)
			maker.Status = StatusPartiallyFilled
			if err := opposite.reduce(maker.Price, f.size); err != nil {
				panic("engine: planned maker level missing from book: " + err.Error())
			}
		}

		e.lastTradePrice = maker.Price
		e.tradeID++
		e.sequenceID++
		events = append(events, newFillEvent(e.sequenceID, e.tradeID, e.pair, taker, maker, f.size, f.amount, f.fee))
	}

	if taker.Available.Sign() > 0 {
		if len(fills) > 0 {
			taker.Status = StatusPartiallyFilled
		}
		if err := e.bookFor(taker.Side).insert(taker); err != nil {
			panic("engine: fresh order rejected by book: " + err.Error())
		}
		if err := e.table.create(taker); err != nil {
			panic("engine: fresh order rejected by order table: " + err.Error())
		}
		e.owners.add(taker.Owner, taker.ID)

		e.sequenceID++
		events = append(events, newCreatedEvent(e.sequenceID, e.pair, taker))
	} else {
		taker.Status = StatusFilled
	}

	if len(events) > 0 {
		e.publisher.Publish(events...)
		for _, ev := range events {
			releaseBookEvent(ev)
		}
	}
}

// handleCancel runs on the engine loop goroutine. The refund is the order's
// remaining quantity expressed in the asset it locked: the quote amount for
// a bid, the base quantity for an ask. The ledger call happens first so a
// refund failure leaves the order resting.
func (e *Engine) handleCancel(id, caller string) error {
	o, err := e.table.get(id)
	if err != nil {
		return err
	}
	if o.Owner != caller {
		return ErrNotOrderOwner
	}

	var asset string
	var refund decimal.Decimal
	if o.Side == Buy {
		asset = e.quoteAsset
		refund = quoteAmount(o.Available, o.Price)
	} else {
		asset = e.baseAsset
		refund = o.Available
	}
	if err := e.ledger.Transfer(asset, e.bookAccount, o.Owner, refund); err != nil {
		return err
	}

	if err := e.bookFor(o.Side).remove(o); err != nil {
		panic("engine: tracked order missing from book: " + err.Error())
	}
	if err := e.table.remove(id); err != nil {
		panic("engine: tracked order missing from order table: " + err.Error())
	}
	if err := e.owners.remove(o.Owner, id); err != nil {
		panic("engine: tracked order missing from owner registry: " + err.Error())
	}
	o.Status = StatusCancelled

	e.sequenceID++
	ev := newCanceledEvent(e.sequenceID, e.pair, o)
	e.publisher.Publish(ev)
	releaseBookEvent(ev)
	return nil
}

package engine

import (
	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus tracks the order lifecycle. An order is created, optionally
// partially filled any number of times, and terminates either fully filled
// or cancelled. Terminal orders are removed from every index.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "created"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
)

// Order is the book's record of a single limit order. The OrderTable is the
// single source of truth for these fields; Book and OwnerOrderRegistry hold
// only the id and placement.
type Order struct {
	ID        string          `json:"id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`  // original quantity
	Available decimal.Decimal `json:"available"` // remaining quantity, 0 < Available <= Quantity while resting
	Owner     string          `json:"owner"`
	Status    OrderStatus     `json:"status"`
	Timestamp int64           `json:"timestamp"` // Unix nano, creation time

	// Intrusive level-queue links (ignored by JSON).
	next  *Order
	prev  *Order
	queue *levelQueue
}

// SubmitRequest is the input for placing a limit order.
type SubmitRequest struct {
	Owner     string          `json:"owner"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp int64           `json:"timestamp"` // Unix nano; 0 means "now"
}

// LevelStats are the O(1) depth-of-market aggregates of one price level.
type LevelStats struct {
	OrderCount int64           `json:"order_count"`
	TotalValue decimal.Decimal `json:"total_value"` // sum of available quantity at the level
}

// BookStats contains usage statistics for both sides of the book.
type BookStats struct {
	AskLevelCount int64
	AskOrderCount int64
	BidLevelCount int64
	BidOrderCount int64
}

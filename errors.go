package engine

import "errors"

var (
	ErrInvalidPrice    = errors.New("price must be greater than zero")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidParam    = errors.New("the param is invalid")
	ErrOrderIDExists   = errors.New("order id already exists")
	ErrOrderNotFound   = errors.New("order id does not exist")
	ErrNotOrderOwner   = errors.New("caller is not the order owner")
	ErrShutdown        = errors.New("engine is shutting down")
	ErrTimeout         = errors.New("timeout")
	ErrEngineClosed    = errors.New("engine is closed")
)

// Structure-level errors. These surface through Book operations but are
// normally unreachable from the public API; the matching loop treats them
// as invariant violations.
var (
	errPriceNotFound     = errors.New("price level not found")
	errEmptyQueue        = errors.New("level queue is empty")
	errQueueItemExists   = errors.New("order is already queued")
	errQueueItemNotFound = errors.New("order is not in this queue")
)

// ErrSequenceGap is returned by AggregatedBook.Replay when an event arrives
// with a sequence id that skips over unseen events.
var ErrSequenceGap = errors.New("event sequence gap detected")

// ErrInsufficientFunds is returned by MemoryLedger when a transfer exceeds
// the payer's balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

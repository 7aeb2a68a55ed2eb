package engine

import (
	"github.com/shopspring/decimal"
)

// levelQueue holds every resting order at one exact price, in arrival order.
// The FIFO is intrusive: the next/prev links live on the Order records, so
// interior removal by order is O(1) with no per-node allocation.
//
// count and volume are redundant aggregates maintained on every mutation so
// depth-of-market queries stay O(1). volume is the sum of the available
// quantity of the queued orders.
type levelQueue struct {
	price  decimal.Decimal
	head   *Order
	tail   *Order
	count  int64
	volume decimal.Decimal
}

func newLevelQueue(price decimal.Decimal) *levelQueue {
	return &levelQueue{price: price}
}

// push appends the order to the tail of the queue. Orders already linked
// into a queue are rejected.
func (q *levelQueue) push(o *Order) error {
	if o == nil || o.queue != nil {
		return errQueueItemExists
	}

	o.prev = q.tail
	o.next = nil
	if q.tail != nil {
		q.tail.next = o
	}
	q.tail = o
	if q.head == nil {
		q.head = o
	}
	o.queue = q

	q.count++
	q.volume = q.volume.Add(o.Available)
	return nil
}

// remove splices the order out of the queue, wherever it sits. The queue is
// identified through the order's back link; a dangling neighbor link means
// the book is corrupted and is fatal.
func (q *levelQueue) remove(o *Order) error {
	if q.count == 0 {
		return errEmptyQueue
	}
	if o == nil || o.queue != q {
		return errQueueItemNotFound
	}

	if o.prev != nil {
		if o.prev.next != o {
			panic("level queue: dangling prev link")
		}
		o.prev.next = o.next
	} else {
		if q.head != o {
			panic("level queue: head does not match first order")
		}
		q.head = o.next
	}

	if o.next != nil {
		if o.next.prev != o {
			panic("level queue: dangling next link")
		}
		o.next.prev = o.prev
	} else {
		if q.tail != o {
			panic("level queue: tail does not match last order")
		}
		q.tail = o.prev
	}

	o.next = nil
	o.prev = nil
	o.queue = nil

	q.count--
	q.volume = q.volume.Sub(o.Available)
	return nil
}

// first returns the oldest order at this price without removing it.
func (q *levelQueue) first() *Order {
	return q.head
}

func (q *levelQueue) isEmpty() bool {
	return q.count == 0
}

func (q *levelQueue) contains(o *Order) bool {
	return o != nil && o.queue == q
}

// length walks the links; used by invariant checks, not the hot path.
func (q *levelQueue) length() int64 {
	var n int64
	for o := q.head; o != nil; o = o.next {
		n++
	}
	return n
}

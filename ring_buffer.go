package engine

import (
	"context"
	"runtime"
	"sync/atomic"
)

// EventHandler consumes entries drained from a RingBuffer.
type EventHandler[T any] interface {
	OnEvent(event T)
}

// RingBuffer is a lock-free MPSC ring buffer. Multiple producers claim
// slots with a CAS on the producer sequence and mark them visible through
// the published array; a single consumer goroutine drains slots in order.
type RingBuffer[T any] struct {
	// Padding keeps the two sequences on separate cache lines.
	_                [56]byte
	producerSequence atomic.Int64
	_                [56]byte
	consumerSequence atomic.Int64
	_                [56]byte

	buffer     []T
	bufferMask int64
	capacity   int64

	// published[i] holds the sequence last written into slot i.
	published []int64

	handler EventHandler[T]

	isShutdown atomic.Bool
}

// NewRingBuffer creates a ring buffer with the given capacity, which must
// be a power of two.
func NewRingBuffer[T any](capacity int64, handler EventHandler[T]) *RingBuffer[T] {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		panic("capacity must be a power of 2")
	}

	rb := &RingBuffer[T]{
		buffer:     make([]T, capacity),
		published:  make([]int64, capacity),
		capacity:   capacity,
		bufferMask: capacity - 1,
		handler:    handler,
	}

	rb.producerSequence.Store(-1)
	rb.consumerSequence.Store(-1)

	for i := range rb.published {
		atomic.StoreInt64(&rb.published[i], -1)
	}

	return rb
}

// Publish claims a slot, writes the entry and makes it visible to the
// consumer. Safe for concurrent producers. Entries published after
// Shutdown are dropped.
func (rb *RingBuffer[T]) Publish(event T) {
	if rb.isShutdown.Load() {
		return
	}

	var nextSeq int64
	for {
		currentProducerSeq := rb.producerSequence.Load()
		nextSeq = currentProducerSeq + 1

		// The producer may not lap the consumer.
		wrapPoint := nextSeq - rb.capacity
		consumerSeq := rb.consumerSequence.Load()

		if wrapPoint > consumerSeq {
			runtime.Gosched()
			continue
		}

		if rb.producerSequence.CompareAndSwap(currentProducerSeq, nextSeq) {
			break
		}
		runtime.Gosched()
	}

	index := nextSeq & rb.bufferMask
	rb.buffer[index] = event

	// Publishing the sequence makes the slot visible to the consumer.
	atomic.StoreInt64(&rb.published[index], nextSeq)
}

// Start launches the consumer goroutine.
func (rb *RingBuffer[T]) Start() {
	go rb.consumerLoop()
}

// Shutdown stops accepting new entries and waits until the consumer has
// drained everything already claimed, or the context expires.
func (rb *RingBuffer[T]) Shutdown(ctx context.Context) error {
	rb.isShutdown.Store(true)

	for {
		select {
		case <-ctx.Done():
			return ErrTimeout
		default:
			if rb.ConsumerSequence() >= rb.ProducerSequence() {
				return nil
			}
			runtime.Gosched()
		}
	}
}

func (rb *RingBuffer[T]) consumerLoop() {
	nextConsumerSeq := rb.consumerSequence.Load() + 1

	for {
		availableSeq := rb.producerSequence.Load()

		if rb.isShutdown.Load() {
			rb.drainRemaining(nextConsumerSeq)
			return
		}

		processed := false
		for nextConsumerSeq <= availableSeq {
			index := nextConsumerSeq & rb.bufferMask

			// A claimed slot may not be written yet; spin until published.
			for atomic.LoadInt64(&rb.published[index]) != nextConsumerSeq {
				runtime.Gosched()
			}

			event := rb.buffer[index]
			rb.handler.OnEvent(event)

			rb.consumerSequence.Store(nextConsumerSeq)
			nextConsumerSeq++
			processed = true
		}

		if !processed {
			runtime.Gosched()
		}
	}
}

func (rb *RingBuffer[T]) drainRemaining(nextConsumerSeq int64) {
	availableSeq := rb.producerSequence.Load()

	for nextConsumerSeq <= availableSeq {
		index := nextConsumerSeq & rb.bufferMask

		for atomic.LoadInt64(&rb.published[index]) != nextConsumerSeq {
			runtime.Gosched()
		}

		event := rb.buffer[index]
		rb.handler.OnEvent(event)

		rb.consumerSequence.Store(nextConsumerSeq)
		nextConsumerSeq++
	}
}

// ConsumerSequence returns the last sequence the consumer has processed.
func (rb *RingBuffer[T]) ConsumerSequence() int64 {
	return rb.consumerSequence.Load()
}

// ProducerSequence returns the last sequence a producer has claimed.
func (rb *RingBuffer[T]) ProducerSequence() int64 {
	return rb.producerSequence.Load()
}

// Pending returns the number of claimed but unprocessed entries.
func (rb *RingBuffer[T]) Pending() int64 {
	return rb.producerSequence.Load() - rb.consumerSequence.Load()
}

// AsyncPublisher decouples event delivery from the matching loop by
// pushing cloned events through a RingBuffer to a downstream Publisher.
type AsyncPublisher struct {
	ring *RingBuffer[*BookEvent]
	next Publisher
}

// NewAsyncPublisher wraps next with a ring buffer of the given capacity
// (a power of two). Call Start before publishing and Shutdown to drain.
func NewAsyncPublisher(capacity int64, next Publisher) *AsyncPublisher {
	p := &AsyncPublisher{next: next}
	p.ring = NewRingBuffer[*BookEvent](capacity, asyncHandler{next: next})
	return p
}

type asyncHandler struct {
	next Publisher
}

func (h asyncHandler) OnEvent(ev *BookEvent) {
	h.next.Publish(ev)
}

// Publish clones the events and enqueues them. Cloning is required
// because the caller recycles events after Publish returns.
func (p *AsyncPublisher) Publish(events ...*BookEvent) {
	for _, ev := range events {
		cpy := new(BookEvent)
		*cpy = *ev
		p.ring.Publish(cpy)
	}
}

// Start launches the delivery goroutine.
func (p *AsyncPublisher) Start() {
	p.ring.Start()
}

// Shutdown drains pending events and stops delivery.
func (p *AsyncPublisher) Shutdown(ctx context.Context) error {
	return p.ring.Shutdown(ctx)
}

// Pending returns the number of undelivered events.
func (p *AsyncPublisher) Pending() int64 {
	return p.ring.Pending()
}

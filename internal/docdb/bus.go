package docdb

import (
	"sync"
)

// Handler receives a non-empty, ordered sequence of change records once per
// delivered batch.
type Handler func(records []ChangeRecord)

// Subscription identifies a registered handler.
type Subscription uint64

// BatchID identifies an open batch.
type BatchID uint64

type subscriber struct {
	id      Subscription
	handler Handler
}

// Bus buffers and delivers change notifications.
//
// While any batch is open, records accumulate in mutation order and are
// delivered as one sequence when the last open batch closes. Delivery is
// serialized: a single caller drains the queue at a time, so handlers may
// write to the database themselves and still observe records in commit order.
type Bus struct {
	mu          sync.Mutex
	subscribers []subscriber
	nextSub     Subscription

	open      map[BatchID]int // batch -> len(pending) when it opened
	nextBatch BatchID
	pending   []ChangeRecord

	queue    [][]ChangeRecord
	draining bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{open: make(map[BatchID]int)}
}

// Subscribe registers a handler. Handlers run in subscription order.
func (b *Bus) Subscribe(h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	b.subscribers = append(b.subscribers, subscriber{id: b.nextSub, handler: h})
	return b.nextSub
}

// Unsubscribe removes a handler. It returns false if the subscription was not
// registered.
func (b *Bus) Unsubscribe(s Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.id == s {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// BeginBatch opens a batch. Batches are reference counted.
func (b *Bus) BeginBatch() BatchID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextBatch++
	b.open[b.nextBatch] = len(b.pending)
	return b.nextBatch
}

// EndBatch closes a batch. Buffered records are delivered only when this was
// the last open batch.
func (b *Bus) EndBatch(id BatchID) error {
	b.mu.Lock()
	if _, ok := b.open[id]; !ok {
		b.mu.Unlock()
		return ErrUnknownBatch
	}
	delete(b.open, id)
	if len(b.open) == 0 && len(b.pending) > 0 {
		b.queue = append(b.queue, b.pending)
		b.pending = nil
	}
	b.mu.Unlock()

	b.drain()
	return nil
}

// AbortBatch closes a batch and drops every record buffered since it
// opened. Records buffered earlier by enclosing batches are kept.
func (b *Bus) AbortBatch(id BatchID) error {
	b.mu.Lock()
	start, ok := b.open[id]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownBatch
	}
	delete(b.open, id)
	if start < len(b.pending) {
		clear(b.pending[start:])
		b.pending = b.pending[:start]
	}
	if len(b.open) == 0 && len(b.pending) > 0 {
		b.queue = append(b.queue, b.pending)
		b.pending = nil
	}
	b.mu.Unlock()

	b.drain()
	return nil
}

// OpenBatches returns the number of batches not yet closed.
func (b *Bus) OpenBatches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

// enqueue records the result of one committed mutation. Callers hold the
// database write lock so queue order matches commit order.
func (b *Bus) enqueue(records []ChangeRecord) {
	if len(records) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.open) > 0 {
		b.pending = append(b.pending, records...)
		return
	}
	b.queue = append(b.queue, records)
}

// drain delivers queued sequences unless another caller is already doing so.
func (b *Bus) drain() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 {
		records := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]

		subs := make([]subscriber, len(b.subscribers))
		copy(subs, b.subscribers)
		b.mu.Unlock()

		for _, sub := range subs {
			sub.handler(records)
		}

		b.mu.Lock()
	}

	b.draining = false
	b.mu.Unlock()
}

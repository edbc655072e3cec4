package streammux

import "sync"

// DeliveryBuffer is the per-stream finite-or-terminated ordered sequence:
// the engine calls Deliver in the order payloads arrive, and a consumer
// drains them with Next in that same order. Close terminates
// the sequence so a blocked consumer learns of stream end rather than
// waiting forever.
type DeliveryBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

// NewDeliveryBuffer returns an empty, open buffer.
func NewDeliveryBuffer() *DeliveryBuffer {
	b := &DeliveryBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Deliver appends bytes to the buffer in call order. Deliver after Close
// is a no-op: a finalized sequence never grows.
func (b *DeliveryBuffer) Deliver(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.items = append(b.items, payload)
	b.cond.Signal()
}

// Close terminates the sequence. Safe to call more than once.
func (b *DeliveryBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Next blocks until an item is available or the buffer has been closed
// and drained, returning (payload, true) or (nil, false) respectively.
func (b *DeliveryBuffer) Next() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.items) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.items) == 0 {
		return nil, false
	}
	item := b.items[0]
	b.items = b.items[1:]
	return item, true
}

// TryNext is the non-blocking form of Next: it reports whether an item
// was immediately available without waiting for Close.
func (b *DeliveryBuffer) TryNext() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	item := b.items[0]
	b.items = b.items[1:]
	return item, true
}

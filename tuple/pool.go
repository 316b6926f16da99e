package tuple

import "sync"

// Pool is a per-emitter recycling free-list of Batch shells. An emitter drains
// this pool before allocating a fresh batch; the pool is torn down with the
// emitter (in Go terms: simply dropped, there is nothing to release explicitly
// since the backing arrays are garbage collected).
//
// This is the idiomatic-Go stand-in for WindFlow's MPMC_Ptr_Queue recycling
// queue (original_source/ppis/WindFlow/wf/keyby_emitter.hpp): sync.Pool already
// gives lock-free-ish, concurrency-safe reuse without a hand-rolled ring buffer.
type Pool[T any] struct {
	pool sync.Pool
}

// NewPool creates an empty recycling pool for batches of the given capacity hint.
func NewPool[T any](capacityHint int) *Pool[T] {
	p := &Pool[T]{}
	p.pool.New = func() any {
		return &Batch[T]{
			Payloads:    make([]T, 0, capacityHint),
			Timestamps:  make([]uint64, 0, capacityHint),
			Identifiers: make([]uint64, 0, capacityHint),
		}
	}
	return p
}

// Get returns a reset Batch shell, reusing a recycled one when available.
func (p *Pool[T]) Get() *Batch[T] {
	b := p.pool.Get().(*Batch[T])
	b.Reset()
	return b
}

// Put returns a Batch shell to the pool for reuse. The caller must not touch
// b after calling Put: ownership transfers back to the pool.
func (p *Pool[T]) Put(b *Batch[T]) {
	if b == nil {
		return
	}
	p.pool.Put(b)
}

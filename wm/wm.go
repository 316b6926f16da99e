// Package wm implements the watermark manager: per-replica tracking of the
// minimum watermark across a replica's input channels, and the three
// execution-mode policies that govern how those channels are merged into the
// single ordered stream a replica's worker loop consumes.
//
// Grounded on pipe/processing.go's startProcessing worker loop — the shape of
// a goroutine pulling from a channel under a context/done signal — generalised
// from "one input channel" to "N input channels, merged under a policy."
package wm

import (
	"context"

	"go.uber.org/atomic"

	"github.com/parastream/parastream/tuple"
)

// Mode selects the ordering/watermark discipline of a replica's input merge.
type Mode int

const (
	// Default: no ordering; channels are drained FIFO, whichever has input
	// ready first. Upstream watermarks may reflect wall-clock estimates.
	Default Mode = iota
	// Deterministic: inputs are merged in non-decreasing (timestamp,
	// channel-index) order; a replica blocks on a channel until its
	// watermark has advanced past the smallest outstanding candidate.
	Deterministic
	// Probabilistic: like Deterministic but a channel is considered "past"
	// once its watermark exceeds candidate-timestamp minus a configured
	// slack, trading strict order for lower latency.
	Probabilistic
)

// Manager tracks the minimum watermark across a replica's n input channels.
// Manager is safe for concurrent use: each channel's watermark cell is
// updated by exactly one reader goroutine (per merge policy below), but
// Current may be read concurrently by the replica's firing checks.
type Manager struct {
	wms []atomic.Uint64
}

// NewManager creates a Manager tracking nIn input channels, all initialised
// to watermark 0.
func NewManager(nIn int) *Manager {
	m := &Manager{wms: make([]atomic.Uint64, nIn)}
	return m
}

// Observe records watermark w arriving on channel i. It is the caller's
// responsibility to call this for every envelope (payload or punctuation)
// received on channel i, in arrival order, before relying on Current to
// reflect that arrival.
func (m *Manager) Observe(i int, w uint64) {
	// A per-channel watermark sequence is non-decreasing (spec §3); a
	// regression here is an upstream bug, not a condition to paper over.
	if prev := m.wms[i].Load(); w < prev {
		panic("wm: watermark regression on input channel")
	}
	m.wms[i].Store(w)
}

// Current returns the minimum watermark across all input channels: the
// replica's current input watermark, per spec §4.3.
func (m *Manager) Current() uint64 {
	min := tuple.Inf
	for i := range m.wms {
		if v := m.wms[i].Load(); v < min {
			min = v
		}
	}
	return min
}

// At returns the last observed watermark for channel i.
func (m *Manager) At(i int) uint64 {
	return m.wms[i].Load()
}

// NumChannels returns the number of tracked input channels.
func (m *Manager) NumChannels() int { return len(m.wms) }

// Merge multiplexes nIn input channels into a single output channel of
// envelopes tagged with their originating channel index, applying mode's
// ordering discipline. The returned channel closes once every input channel
// has closed (or ctx is cancelled). The Manager's watermark cells are updated
// as part of the merge, in the same goroutine that reads each channel for
// Default mode, or in the single merging goroutine for Deterministic and
// Probabilistic mode.
func Merge[T any](ctx context.Context, ins []<-chan tuple.Single[T], m *Manager, mode Mode, slack uint64) <-chan Tagged[T] {
	switch mode {
	case Deterministic:
		return mergeOrdered(ctx, ins, m, 0)
	case Probabilistic:
		return mergeOrdered(ctx, ins, m, slack)
	default:
		return mergeFIFO(ctx, ins, m)
	}
}

// Tagged pairs an envelope with the index of the input channel it arrived on.
type Tagged[T any] struct {
	Envelope tuple.Single[T]
	Channel  int
}

// mergeFIFO implements Mode Default: each input channel is drained by its own
// goroutine, all feeding one shared output channel; no cross-channel order is
// imposed.
func mergeFIFO[T any](ctx context.Context, ins []<-chan tuple.Single[T], m *Manager) <-chan Tagged[T] {
	out := make(chan Tagged[T])
	done := make(chan struct{})
	remaining := atomic.NewInt32(int32(len(ins)))

	for i, in := range ins {
		go func(i int, in <-chan tuple.Single[T]) {
			defer func() {
				if remaining.Dec() == 0 {
					close(done)
				}
			}()
		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case env, ok := <-in:
					if !ok {
						break loop
					}
					m.Observe(i, env.Watermark)
					select {
					case out <- Tagged[T]{Envelope: env, Channel: i}:
					case <-ctx.Done():
						break loop
					}
				}
			}
		}(i, in)
	}

	go func() {
		<-done
		close(out)
	}()

	return out
}

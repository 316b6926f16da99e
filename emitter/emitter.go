// Package emitter implements the output side of a replica: routing a stream of
// envelopes to one or more destination channels under one of four modes
// (Forward, Broadcast, KeyBy, Reshuffle), with optional batching and
// watermark-driven punctuation generation on quiet destinations.
//
// Grounded on channel.Route / channel.Broadcast / channel.Merge (the
// stateless fan-out/fan-in primitives) and pipe.Distributor (the dynamic,
// matcher-routed multi-destination fan-out whose per-destination channel
// table is KeyBy's direct ancestor), generalised from "route a value" to
// "route an envelope while keeping every destination's watermark monotone."
package emitter

import (
	"time"

	atomicpkg "go.uber.org/atomic"

	"github.com/parastream/parastream/tuple"
)

// Mode identifies a routing variant.
type Mode int

const (
	ModeForward Mode = iota
	ModeBroadcast
	ModeKeyBy
	ModeReshuffle
)

// WF_DEFAULT_WM_AMOUNT and WF_DEFAULT_WM_INTERVAL_USEC's compiled-in defaults
// (overridable via wfconfig at graph-assembly time). Mirrors
// original_source/ppis/WindFlow/wf/keyby_emitter.hpp's sampling cadence.
const (
	DefaultWatermarkAmount   = 64
	DefaultWatermarkInterval = 10 * time.Millisecond
)

// Config configures punctuation-sampling cadence and batching for an Emitter.
type Config struct {
	// BatchSize: 0 means per-tuple emission; >0 enables batching up to this
	// many payloads per destination before a batch is cut.
	BatchSize int

	// WatermarkAmount is the number of received envelopes between
	// punctuation-sampling checks (KeyBy/Broadcast/Reshuffle only).
	WatermarkAmount uint64

	// WatermarkInterval is the minimum wall-clock gap between two
	// punctuation-sampling checks.
	WatermarkInterval time.Duration

	// Now returns the current time; overridable in tests. Defaults to
	// time.Now.
	Now func() time.Time
}

func (c Config) parse() Config {
	if c.WatermarkAmount == 0 {
		c.WatermarkAmount = DefaultWatermarkAmount
	}
	if c.WatermarkInterval <= 0 {
		c.WatermarkInterval = DefaultWatermarkInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Destination is a single downstream channel an Emitter writes to.
type Destination[T any] chan<- tuple.Single[T]

// Emitter routes envelopes from one upstream replica to its destinations.
// Emitter is not safe for concurrent use by multiple goroutines: per the
// spec's concurrency model, an emitter executes inline in its owning
// replica's single goroutine.
type Emitter[T any] struct {
	mode  Mode
	dests []Destination[T]
	cfg   Config

	keyOf   func(T) uint64 // precomputed hash of the extracted key (KeyBy only)
	rrNext  int            // next destination for Reshuffle
	pool    *tuple.Pool[T]
	batches []*tuple.Batch[T] // per-destination in-flight batch (len(dests), nil when BatchSize==0)

	received  atomicpkg.Uint64
	lastPunct time.Time
	delivered []atomicpkg.Int64 // per-destination delivery counters since last sample
	lastSent  []atomicpkg.Uint64 // per-destination last-sent watermark, for the monotonicity assertion
}

// New creates an Emitter in the given mode writing to dests. keyOf is only
// consulted in ModeKeyBy; it must return a stable hash of the routing key for
// a payload (see KeyOf / the emitter/keyby.go helpers for how callers derive
// it with xxhash+rendezvous).
func New[T any](mode Mode, dests []Destination[T], keyOf func(T) uint64, cfg Config) *Emitter[T] {
	cfg = cfg.parse()
	e := &Emitter[T]{
		mode:      mode,
		dests:     dests,
		cfg:       cfg,
		keyOf:     keyOf,
		lastPunct: cfg.Now(),
		delivered: make([]atomicpkg.Int64, len(dests)),
		lastSent:  make([]atomicpkg.Uint64, len(dests)),
	}
	if cfg.BatchSize > 0 {
		e.pool = tuple.NewPool[T](cfg.BatchSize)
		e.batches = make([]*tuple.Batch[T], len(dests))
	}
	return e
}

// NumDestinations returns the number of configured destinations.
func (e *Emitter[T]) NumDestinations() int { return len(e.dests) }

// Emit routes one payload envelope according to the emitter's mode.
func (e *Emitter[T]) Emit(payload T, timestamp, watermark, identifier uint64) {
	e.maybeSamplePunctuation(watermark)

	switch e.mode {
	case ModeForward:
		e.sendOrBatch(0, payload, timestamp, watermark, identifier)
	case ModeBroadcast:
		for d := range e.dests {
			e.sendOrBatch(d, payload, timestamp, watermark, identifier)
		}
	case ModeKeyBy:
		d := int(e.keyOf(payload) % uint64(len(e.dests)))
		e.sendOrBatch(d, payload, timestamp, watermark, identifier)
	case ModeReshuffle:
		d := e.rrNext
		e.rrNext = (e.rrNext + 1) % len(e.dests)
		e.sendOrBatch(d, payload, timestamp, watermark, identifier)
	}
}

// Punctuate propagates a watermark-only envelope to every destination,
// flushing each destination's partially filled batch first so a punctuation
// never overtakes payloads that causally precede it
// (original_source/.../wf/keyby_emitter.hpp's propagate_punctuation).
func (e *Emitter[T]) Punctuate(watermark uint64) {
	e.FlushAll()
	for d := range e.dests {
		e.sendPunctuation(d, watermark)
	}
}

// Flush forces out the partially filled batch (if any) for destination d.
func (e *Emitter[T]) Flush(d int) {
	if e.batches == nil || e.batches[d] == nil || e.batches[d].Len() == 0 {
		return
	}
	e.deliverBatch(d, e.batches[d])
	e.batches[d] = nil
}

// FlushAll flushes every destination's in-flight batch.
func (e *Emitter[T]) FlushAll() {
	if e.batches == nil {
		return
	}
	for d := range e.dests {
		e.Flush(d)
	}
}

// Close flushes all destinations and closes every output channel, signalling
// end-of-stream downstream. Close must be called exactly once, after the
// owning replica has drained its input.
func (e *Emitter[T]) Close() {
	e.FlushAll()
	for _, d := range e.dests {
		close(d)
	}
}

func (e *Emitter[T]) sendOrBatch(d int, payload T, timestamp, watermark, identifier uint64) {
	e.delivered[d].Add(1)
	if e.batches == nil {
		e.send(d, tuple.Of(payload, timestamp, watermark, identifier))
		return
	}
	if e.batches[d] == nil {
		e.batches[d] = e.pool.Get()
	}
	b := e.batches[d]
	if b.Len() == 0 {
		b.Watermark = watermark
	}
	b.Append(payload, timestamp, identifier)
	if b.Len() >= e.cfg.BatchSize {
		e.deliverBatch(d, b)
		e.batches[d] = nil
	}
}

func (e *Emitter[T]) deliverBatch(d int, b *tuple.Batch[T]) {
	for i, p := range b.Payloads {
		e.send(d, tuple.Of(p, b.Timestamps[i], b.Watermark, b.Identifiers[i]))
	}
	e.pool.Put(b)
}

func (e *Emitter[T]) send(d int, env tuple.Single[T]) {
	e.assertMonotone(d, env.Watermark)
	e.dests[d] <- env
}

func (e *Emitter[T]) sendPunctuation(d int, watermark uint64) {
	e.assertMonotone(d, watermark)
	e.dests[d] <- tuple.Punctuation[T](watermark)
}

func (e *Emitter[T]) assertMonotone(d int, watermark uint64) {
	last := e.lastSent[d].Load()
	if watermark < last {
		panic("emitter: watermark regression on destination channel")
	}
	e.lastSent[d].Store(watermark)
}

// maybeSamplePunctuation implements the KeyBy/Broadcast/Reshuffle
// punctuation-generation sampling described in spec §4.2: every
// WatermarkAmount envelopes, if WatermarkInterval has elapsed since the last
// sample, every destination with zero deliveries since the previous sample
// gets a punctuation; destinations with deliveries just have their counter
// reset. Forward mode never needs synthetic punctuations: its one
// destination already sees every payload's watermark directly.
func (e *Emitter[T]) maybeSamplePunctuation(currentWatermark uint64) {
	if e.mode == ModeForward {
		return
	}
	n := e.received.Add(1)
	if n%e.cfg.WatermarkAmount != 0 {
		return
	}
	now := e.cfg.Now()
	if now.Sub(e.lastPunct) < e.cfg.WatermarkInterval {
		return
	}
	e.lastPunct = now

	for d := range e.dests {
		if e.delivered[d].Load() == 0 {
			e.Flush(d)
			e.sendPunctuation(d, currentWatermark)
		} else {
			e.delivered[d].Store(0)
		}
	}
}

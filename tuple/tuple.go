// Package tuple implements the message substrate: the envelope types that carry
// payloads between replicas, and the per-emitter recycling pool that reclaims
// their storage.
//
// Single and Batch are the two envelope shapes a replica ever sees on its input
// channel. A punctuation envelope carries no payload; it exists only to advance
// the watermark of the channel it travels on. Within any one channel the
// sequence of observed watermarks is non-decreasing — every constructor and
// mutator in this package preserves that invariant by construction, never by
// convention.
package tuple

import "math"

// Inf is the watermark value a Source emits in its final punctuation: no
// future tuple can ever have a smaller timestamp.
const Inf uint64 = math.MaxUint64

// Single is the envelope for one payload travelling on one channel.
type Single[T any] struct {
	Payload       T
	Timestamp     uint64
	Watermark     uint64
	IsPunctuation bool
	Identifier    uint64
}

// Punctuation builds a payload-less envelope that only advances watermark.
func Punctuation[T any](watermark uint64) Single[T] {
	return Single[T]{Watermark: watermark, IsPunctuation: true}
}

// Of builds a payload envelope.
func Of[T any](payload T, timestamp, watermark, identifier uint64) Single[T] {
	return Single[T]{
		Payload:    payload,
		Timestamp:  timestamp,
		Watermark:  watermark,
		Identifier: identifier,
	}
}

// Batch is a bounded sequence of payloads sharing one wire, each retaining its
// own timestamp and identifier. Slots do not keep their own watermark: the
// single Watermark below is delivered with every slot.
type Batch[T any] struct {
	Payloads    []T
	Timestamps  []uint64
	Identifiers []uint64
	// Watermark is the watermark attached to the batch as a whole: the
	// envelope's progress guarantee applies to every slot in Payloads.
	Watermark uint64
}

// Len returns the number of payloads in the batch.
func (b *Batch[T]) Len() int { return len(b.Payloads) }

// Append adds one payload/timestamp/identifier triple to the batch.
func (b *Batch[T]) Append(payload T, timestamp, identifier uint64) {
	b.Payloads = append(b.Payloads, payload)
	b.Timestamps = append(b.Timestamps, timestamp)
	b.Identifiers = append(b.Identifiers, identifier)
}

// Reset empties the batch for reuse without releasing its backing arrays.
func (b *Batch[T]) Reset() {
	b.Payloads = b.Payloads[:0]
	b.Timestamps = b.Timestamps[:0]
	b.Identifiers = b.Identifiers[:0]
	b.Watermark = 0
}

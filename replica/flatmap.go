package replica

import (
	"context"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/tuple"
	"github.com/parastream/parastream/wm"
)

// Shipper lets a FlatMapFunc emit zero, one, or many outputs per input
// payload incrementally, rather than building and returning a slice.
// Grounded on original_source/ppis/WindFlow/wf/shipper.hpp's push-as-you-go
// interface for variadic-output operators.
type Shipper[Out any] struct {
	em            *emitter.Emitter[Out]
	ts, watermark uint64
	identifier    uint64
}

// Ship emits payload, inheriting the timestamp, watermark, and identifier of
// the input envelope currently being processed.
func (s *Shipper[Out]) Ship(payload Out) {
	s.em.Emit(payload, s.ts, s.watermark, s.identifier)
}

// FlatMapFunc processes one input payload, shipping any number of outputs
// through sh.
type FlatMapFunc[In, Out any] func(payload In, sh *Shipper[Out])

// RunFlatMap merges ins under mode/slack and invokes fn once per payload
// envelope, with sh pre-loaded with that envelope's timestamp/watermark/
// identifier. Punctuations propagate directly; em is closed once every
// input channel has closed.
func RunFlatMap[In, Out any](
	ctx context.Context,
	ins []<-chan tuple.Single[In],
	wmMgr *wm.Manager,
	mode wm.Mode,
	slack uint64,
	fn FlatMapFunc[In, Out],
	em *emitter.Emitter[Out],
) {
	defer em.Close()

	sh := &Shipper[Out]{em: em}
	for tg := range wm.Merge(ctx, ins, wmMgr, mode, slack) {
		if tg.Envelope.IsPunctuation {
			em.Punctuate(wmMgr.Current())
			continue
		}
		sh.ts = tg.Envelope.Timestamp
		sh.watermark = wmMgr.Current()
		sh.identifier = tg.Envelope.Identifier
		fn(tg.Envelope.Payload, sh)
	}
}

package replica

import (
	"context"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/tuple"
	"github.com/parastream/parastream/wm"
)

// MapFunc transforms one payload. keep is false to drop it (a Filter
// replica is a Map replica whose fn only ever changes keep, never the
// payload's type or value).
type MapFunc[In, Out any] func(In) (Out, bool)

// RunMap merges ins under mode/slack, applies fn to every payload envelope,
// forwards a punctuation on every incoming punctuation, and closes em once
// every input channel has closed.
func RunMap[In, Out any](
	ctx context.Context,
	ins []<-chan tuple.Single[In],
	wmMgr *wm.Manager,
	mode wm.Mode,
	slack uint64,
	fn MapFunc[In, Out],
	em *emitter.Emitter[Out],
) {
	defer em.Close()

	for tg := range wm.Merge(ctx, ins, wmMgr, mode, slack) {
		if tg.Envelope.IsPunctuation {
			em.Punctuate(wmMgr.Current())
			continue
		}
		if out, keep := fn(tg.Envelope.Payload); keep {
			em.Emit(out, tg.Envelope.Timestamp, wmMgr.Current(), tg.Envelope.Identifier)
		}
	}
}

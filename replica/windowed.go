package replica

import (
	"context"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/tuple"
	"github.com/parastream/parastream/window"
	"github.com/parastream/parastream/wm"
)

// Windower is satisfied by window.Keyed and window.Paned: anything that
// assigns a payload to its owning windows and fires completed ones, either
// immediately (CB, from Add) or as the watermark advances (TB, from
// Advance).
type Windower[K comparable, T, A any] interface {
	Add(key K, payload T, ts uint64) []window.Result[K, A]
	Advance(watermark uint64) []window.Result[K, A]
}

// RunWindowed merges ins under mode/slack, routes each payload into w via
// keyOf, and emits a finalize(result) for every window w fires — on arrival
// for CB windows and on every watermark advance (including the one implied
// by an incoming punctuation) for TB windows.
func RunWindowed[K comparable, In, A, Out any](
	ctx context.Context,
	ins []<-chan tuple.Single[In],
	wmMgr *wm.Manager,
	mode wm.Mode,
	slack uint64,
	keyOf func(In) K,
	w Windower[K, In, A],
	finalize func(window.Result[K, A]) Out,
	em *emitter.Emitter[Out],
) {
	defer em.Close()

	emit := func(results []window.Result[K, A]) {
		for _, r := range results {
			em.Emit(finalize(r), r.End, wmMgr.Current(), 0)
		}
	}

	for tg := range wm.Merge(ctx, ins, wmMgr, mode, slack) {
		if tg.Envelope.IsPunctuation {
			emit(w.Advance(wmMgr.Current()))
			em.Punctuate(wmMgr.Current())
			continue
		}
		emit(w.Add(keyOf(tg.Envelope.Payload), tg.Envelope.Payload, tg.Envelope.Timestamp))
		emit(w.Advance(wmMgr.Current()))
	}
}

package replica

import (
	"context"

	"go.uber.org/zap"

	"github.com/parastream/parastream/tuple"
	"github.com/parastream/parastream/wm"
)

// SinkFunc consumes one payload, reporting delivery failure. ok is false
// exactly once, after the input has closed and every payload has been
// delivered, with a zero-value payload — the hook a sink uses to flush or
// emit a final record (spec §4.1's "invoke with an empty optional").
type SinkFunc[In any] func(payload In, ok bool) error

// RunSink merges ins under mode/slack and invokes fn on every payload
// envelope, logging (not retrying) any error it returns. A sink has no
// emitter: it is the terminal replica of a graph. Once every input channel
// has closed, fn is invoked once more with ok=false before RunSink returns.
func RunSink[In any](
	ctx context.Context,
	ins []<-chan tuple.Single[In],
	wmMgr *wm.Manager,
	mode wm.Mode,
	slack uint64,
	fn SinkFunc[In],
	log *zap.Logger,
) {
	call := func(payload In, ok bool) {
		if err := fn(payload, ok); err != nil && log != nil {
			log.Error("sink delivery failed", zap.Error(err))
		}
	}

	for tg := range wm.Merge(ctx, ins, wmMgr, mode, slack) {
		if tg.Envelope.IsPunctuation {
			continue
		}
		call(tg.Envelope.Payload, true)
	}

	var zero In
	call(zero, false)
}

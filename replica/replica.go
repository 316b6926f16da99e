// Package replica implements the worker-loop contract every operator
// replica runs under: a source replica generates payloads and assigns them
// identifiers; every other replica kind merges its input channels under a
// wm.Manager/wm.Merge policy, applies one user-supplied callable per
// payload envelope, and forwards the result through an emitter.Emitter — a
// punctuation envelope updates the watermark manager only and is never
// handed to user code (spec §4.1, §4.3).
//
// Grounded on pipe/processing.go's startProcessing: a goroutine pulling
// from a channel under ctx cancellation, invoking one ProcessFunc per item
// and an ErrorHandler on failure, generalised here from "N identical
// workers sharing one ProcessFunc" to "one worker per operator kind, each
// invoking a differently shaped user callable." The Source replica's
// generate-until-exhausted loop is grounded on pipe/generator.go's
// GeneratePipe.Generate.
package replica

import (
	"context"

	"go.uber.org/zap"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/tuple"
)

// SourceFunc produces one payload per call, assigning its own event-time
// timestamp and watermark. ok is false once the source is exhausted; err is
// logged and the call retried (the generator is expected to make progress
// on its own cadence — a hard failure should itself return ok=false).
type SourceFunc[Out any] func(ctx context.Context) (payload Out, timestamp, watermark uint64, ok bool, err error)

// RunSource drives a source replica to completion: it calls gen until ok is
// false or ctx is cancelled, emitting every produced payload with a
// monotonically increasing identifier. On ordinary exhaustion (not ctx
// cancellation) it emits a final punctuation at watermark tuple.Inf before
// closing em, so downstream time-based windows still open at end-of-stream
// fire (spec §4.1's "final punctuation with watermark infinity").
func RunSource[Out any](ctx context.Context, gen SourceFunc[Out], em *emitter.Emitter[Out], log *zap.Logger) {
	defer em.Close()

	var id uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, ts, watermark, ok, err := gen(ctx)
		if err != nil {
			if log != nil {
				log.Error("source generate failed", zap.Error(err))
			}
			continue
		}
		if !ok {
			em.Punctuate(tuple.Inf)
			return
		}
		em.Emit(payload, ts, watermark, id)
		id++
	}
}

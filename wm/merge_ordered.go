package wm

import (
	"context"

	"github.com/parastream/parastream/tuple"
)

// mergeOrdered implements Mode Deterministic (slack == 0) and Probabilistic
// (slack > 0): a single goroutine holds one pending envelope per still-open
// input channel and always releases the one with the smallest
// (timestamp, channel-index) among channels considered "settled" — a channel
// without its own pending candidate is settled once its watermark clears
// (candidate timestamp - slack), meaning it cannot still produce something
// smaller. This is the numaproj/numaflow sorted-window-list technique
// (ordering by a time key with a stable tie-break) applied to input channels
// instead of windows.
func mergeOrdered[T any](ctx context.Context, ins []<-chan tuple.Single[T], m *Manager, slack uint64) <-chan Tagged[T] {
	out := make(chan Tagged[T])

	go func() {
		defer close(out)

		n := len(ins)
		open := make([]bool, n)
		pending := make([]*tuple.Single[T], n)
		for i := range ins {
			open[i] = true
		}

		// fetch blocks channel i until it has a non-punctuation envelope
		// buffered in pending[i], closes, or ctx is cancelled (returns
		// false). Watermarks — including those carried by punctuations —
		// are observed as they arrive either way.
		fetch := func(i int) bool {
			for open[i] && pending[i] == nil {
				select {
				case <-ctx.Done():
					return false
				case env, ok := <-ins[i]:
					if !ok {
						open[i] = false
						return true
					}
					m.Observe(i, env.Watermark)
					if !env.IsPunctuation {
						e := env
						pending[i] = &e
					}
				}
			}
			return true
		}

		// fetchNonBlocking opportunistically drains a single already-buffered
		// envelope from channel i into pending[i] without waiting, so a
		// channel with nothing ready yet is left open with pending[i] == nil —
		// letting the blocking-channel check below treat it as genuinely
		// unsettled instead of resolving it via an eager blocking read on
		// every iteration.
		fetchNonBlocking := func(i int) {
			select {
			case env, ok := <-ins[i]:
				if !ok {
					open[i] = false
					return
				}
				m.Observe(i, env.Watermark)
				if !env.IsPunctuation {
					e := env
					pending[i] = &e
				}
			default:
			}
		}

		for {
			anyOpen := false
			for i := range ins {
				if !open[i] {
					continue
				}
				anyOpen = true
				if pending[i] == nil {
					fetchNonBlocking(i)
				}
			}
			if !anyOpen {
				return
			}

			best := -1
			for i := range ins {
				if pending[i] == nil {
					continue
				}
				if best == -1 || pending[i].Timestamp < pending[best].Timestamp {
					best = i
				}
			}
			if best == -1 {
				// Nothing buffered on any channel; a real wait is unavoidable.
				for i := range ins {
					if open[i] {
						if !fetch(i) {
							return
						}
						break
					}
				}
				continue
			}

			threshold := uint64(0)
			if pending[best].Timestamp > slack {
				threshold = pending[best].Timestamp - slack
			}

			blocking := -1
			for j := range ins {
				if j == best || !open[j] || pending[j] != nil {
					continue
				}
				if m.At(j) < threshold {
					blocking = j
					break
				}
			}
			if blocking != -1 {
				if !fetch(blocking) {
					return
				}
				continue
			}

			env := *pending[best]
			pending[best] = nil
			select {
			case out <- Tagged[T]{Envelope: env, Channel: best}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

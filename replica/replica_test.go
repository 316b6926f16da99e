package replica_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/replica"
	"github.com/parastream/parastream/tuple"
	"github.com/parastream/parastream/window"
	"github.com/parastream/parastream/wm"
)

func collect[T any](ch <-chan tuple.Single[T]) []tuple.Single[T] {
	var out []tuple.Single[T]
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func TestRunSourceEmitsUntilExhausted(t *testing.T) {
	values := []int{1, 2, 3}
	i := 0
	gen := func(ctx context.Context) (int, uint64, uint64, bool, error) {
		if i >= len(values) {
			return 0, 0, 0, false, nil
		}
		v := values[i]
		ts := uint64(i)
		i++
		return v, ts, ts, true, nil
	}

	out := make(chan tuple.Single[int], 10)
	em := emitter.New(emitter.ModeForward, []emitter.Destination[int]{out}, nil, emitter.Config{})
	replica.RunSource(context.Background(), gen, em, nil)

	got := collect(out)
	require.Len(t, got, 4)
	for idx, env := range got[:3] {
		assert.Equal(t, values[idx], env.Payload)
		assert.Equal(t, uint64(idx), env.Identifier)
	}
	assert.True(t, got[3].IsPunctuation)
	assert.Equal(t, tuple.Inf, got[3].Watermark)
}

func TestRunMapTransformsAndFiltersAndPropagatesPunctuation(t *testing.T) {
	in := make(chan tuple.Single[int], 10)
	out := make(chan tuple.Single[string], 10)

	in <- tuple.Of(1, 1, 1, 0)
	in <- tuple.Of(2, 2, 2, 0)
	in <- tuple.Of(3, 3, 3, 0)
	in <- tuple.Punctuation[int](3)
	close(in)

	em := emitter.New(emitter.ModeForward, []emitter.Destination[string]{out}, nil, emitter.Config{})
	fn := func(v int) (string, bool) {
		if v%2 == 0 {
			return "", false
		}
		return "odd", true
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ins := []<-chan tuple.Single[int]{in}
		replica.RunMap(context.Background(), ins, wm.NewManager(1), wm.Default, 0, fn, em)
	}()
	wg.Wait()

	got := collect(out)
	var punctuations, payloads int
	for _, env := range got {
		if env.IsPunctuation {
			punctuations++
		} else {
			payloads++
			assert.Equal(t, "odd", env.Payload)
		}
	}
	assert.Equal(t, 2, payloads)
	assert.Equal(t, 1, punctuations)
}

func TestRunFlatMapShipsMultipleOutputsPerInput(t *testing.T) {
	in := make(chan tuple.Single[int], 10)
	in <- tuple.Of(3, 1, 1, 0)
	close(in)

	out := make(chan tuple.Single[int], 10)
	em := emitter.New(emitter.ModeForward, []emitter.Destination[int]{out}, nil, emitter.Config{})
	fn := func(v int, sh *replica.Shipper[int]) {
		for i := 0; i < v; i++ {
			sh.Ship(i)
		}
	}

	ins := []<-chan tuple.Single[int]{in}
	replica.RunFlatMap(context.Background(), ins, wm.NewManager(1), wm.Default, 0, fn, em)

	got := collect(out)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{got[0].Payload, got[1].Payload, got[2].Payload})
}

func TestRunWindowedFinalizesFiredWindows(t *testing.T) {
	in := make(chan tuple.Single[int], 20)
	for v := 1; v <= 4; v++ {
		in <- tuple.Of(v, uint64(v), uint64(v), 0)
	}
	close(in)

	out := make(chan tuple.Single[int], 10)
	em := emitter.New(emitter.ModeForward, []emitter.Destination[int]{out}, nil, emitter.Config{})
	agg := window.Aggregator[int, int]{
		Zero:    func() int { return 0 },
		Lift:    func(v int) int { return v },
		Combine: func(a, b int) int { return a + b },
	}
	k := window.NewKeyed[int, int, int](window.Spec{Kind: window.CountBased, Len: 4, Slide: 4}, agg)

	ins := []<-chan tuple.Single[int]{in}
	replica.RunWindowed[int, int, int, int](
		context.Background(), ins, wm.NewManager(1), wm.Default, 0,
		func(int) int { return 0 }, k,
		func(r window.Result[int, int]) int { return r.Value },
		em,
	)

	got := collect(out)
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].Payload)
}

func TestRunSinkInvokesFnAndSkipsPunctuation(t *testing.T) {
	in := make(chan tuple.Single[int], 10)
	in <- tuple.Of(1, 1, 1, 0)
	in <- tuple.Punctuation[int](1)
	close(in)

	var got []int
	var ended bool
	fn := func(v int, ok bool) error {
		if !ok {
			ended = true
			return nil
		}
		got = append(got, v)
		return nil
	}

	ins := []<-chan tuple.Single[int]{in}
	replica.RunSink(context.Background(), ins, wm.NewManager(1), wm.Default, 0, fn, nil)

	assert.Equal(t, []int{1}, got)
	assert.True(t, ended)
}

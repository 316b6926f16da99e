package wm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parastream/parastream/tuple"
	"github.com/parastream/parastream/wm"
)

func TestManagerCurrentIsMinAcrossChannels(t *testing.T) {
	m := wm.NewManager(3)
	assert.Equal(t, uint64(0), m.Current())

	m.Observe(0, 10)
	m.Observe(1, 5)
	m.Observe(2, 20)
	assert.Equal(t, uint64(5), m.Current())
	assert.Equal(t, uint64(10), m.At(0))
}

func TestManagerObservePanicsOnRegression(t *testing.T) {
	m := wm.NewManager(1)
	m.Observe(0, 10)
	assert.Panics(t, func() {
		m.Observe(0, 9)
	})
}

func send[T any](ch chan tuple.Single[T], vals ...tuple.Single[T]) {
	for _, v := range vals {
		ch <- v
	}
	close(ch)
}

func TestMergeFIFODrainsEveryChannel(t *testing.T) {
	a := make(chan tuple.Single[int])
	b := make(chan tuple.Single[int])
	go send(a, tuple.Of(1, 1, 1, 0), tuple.Of(2, 2, 2, 0))
	go send(b, tuple.Of(3, 1, 1, 0))

	m := wm.NewManager(2)
	ins := []<-chan tuple.Single[int]{a, b}
	out := wm.Merge(context.Background(), ins, m, wm.Default, 0)

	var got []int
	for tg := range out {
		got = append(got, tg.Envelope.Payload)
	}
	assert.ElementsMatch(t, []int{1, 2, 3}, got)
}

func TestMergeDeterministicOrdersByTimestamp(t *testing.T) {
	a := make(chan tuple.Single[int])
	b := make(chan tuple.Single[int])
	go send(a,
		tuple.Of(10, 10, 10, 0),
		tuple.Of(30, 30, 30, 0),
		tuple.Punctuation[int](100),
	)
	go send(b,
		tuple.Of(20, 20, 20, 0),
		tuple.Of(40, 40, 40, 0),
		tuple.Punctuation[int](100),
	)

	m := wm.NewManager(2)
	ins := []<-chan tuple.Single[int]{a, b}
	out := wm.Merge(context.Background(), ins, m, wm.Deterministic, 0)

	var got []int
	for tg := range out {
		got = append(got, tg.Envelope.Payload)
	}
	require.Equal(t, []int{10, 20, 30, 40}, got)
}

func TestMergeDeterministicIsReproducibleAcrossRuns(t *testing.T) {
	run := func() []int {
		a := make(chan tuple.Single[int])
		b := make(chan tuple.Single[int])
		c := make(chan tuple.Single[int])
		go send(a, tuple.Of(1, 1, 1, 0), tuple.Of(4, 4, 4, 0), tuple.Of(7, 7, 7, 0))
		go send(b, tuple.Of(2, 2, 2, 0), tuple.Of(5, 5, 5, 0))
		go send(c, tuple.Of(3, 3, 3, 0), tuple.Of(6, 6, 6, 0), tuple.Of(8, 8, 8, 0))

		m := wm.NewManager(3)
		ins := []<-chan tuple.Single[int]{a, b, c}
		out := wm.Merge(context.Background(), ins, m, wm.Deterministic, 0)

		var got []int
		for tg := range out {
			got = append(got, tg.Envelope.Payload)
		}
		return got
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, first)
}

// TestMergeProbabilisticReleasesAheadOfStrictSettlement exercises the case a
// deterministic-style eager fetch gets wrong: channel b has advanced its
// watermark via a punctuation but has no payload buffered. Under slack, b's
// watermark alone should be enough to clear the release threshold for a's
// candidate — a must release without the merge goroutine ever blocking on b
// for a genuine payload. Both channels are pre-loaded before Merge starts so
// the race is eliminated: if the merge loop ever force-fetches a blocking
// read from b before computing the best candidate, this test hangs instead
// of completing.
func TestMergeProbabilisticReleasesAheadOfStrictSettlement(t *testing.T) {
	a := make(chan tuple.Single[int], 1)
	b := make(chan tuple.Single[int], 1)
	a <- tuple.Of(10, 10, 10, 0)
	b <- tuple.Punctuation[int](20)

	m := wm.NewManager(2)
	ins := []<-chan tuple.Single[int]{a, b}
	out := wm.Merge(context.Background(), ins, m, wm.Probabilistic, 5)

	tg, ok := <-out
	require.True(t, ok, "a's tuple must release once b's watermark clears the slack threshold")
	assert.Equal(t, 10, tg.Envelope.Payload)
	assert.Equal(t, 0, tg.Channel)

	close(a)
	close(b)
	for range out {
	}
}

func TestMergeClosesWhenContextCancelled(t *testing.T) {
	a := make(chan tuple.Single[int])
	ctx, cancel := context.WithCancel(context.Background())
	m := wm.NewManager(1)
	ins := []<-chan tuple.Single[int]{a}
	out := wm.Merge(ctx, ins, m, wm.Deterministic, 0)

	cancel()
	_, ok := <-out
	assert.False(t, ok)
}

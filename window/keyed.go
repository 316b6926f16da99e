package window

import "sort"

type winAcc[T, A any] struct {
	id         ID
	start, end uint64
	value      A
	received   uint64 // CB only: items delivered so far
}

type keyState[T, A any] struct {
	count          uint64                   // CB: per-key arrival counter
	open           []*winAcc[T, A]          // CB: open windows in creation order
	openTB         map[uint64]*winAcc[T, A] // TB: open windows by start
	closedBoundary uint64                   // TB: largest end of any window already fired for this key
}

// tbEntry pairs a TB window with its key, kept in a list sorted by end time
// across all keys so Advance can fire in non-decreasing end-time order
// (spec §4.4) without re-sorting every key's windows from scratch.
type tbEntry[K comparable, T, A any] struct {
	key K
	win *winAcc[T, A]
}

// Keyed implements per-key Keyed_Windows: CB windows fire as soon as their
// win_len-th tuple arrives (via Add's return value); TB windows fire when
// Advance is called with a watermark that has reached window.end + lateness,
// in non-decreasing end-time order across all keys.
type Keyed[K comparable, T, A any] struct {
	spec    Spec
	agg     Aggregator[T, A]
	states  map[K]*keyState[T, A]
	tbOrder []*tbEntry[K, T, A] // TB only: all open windows across keys, sorted by end
	ignored uint64              // TB only: tuples that arrived after every window they could belong to had fired

	// phase shifts the first window's boundary away from zero: used by
	// NewParallel to give replica r of a Parallel_Windows stage the window
	// subset with (id mod P) == r at a coarsened slide, without a separate
	// per-tuple ownership filter.
	phase uint64
}

// NewKeyed creates a Keyed windowing engine for one windowed operator
// replica. Callers must have validated spec beforehand (see Spec.Validate).
func NewKeyed[K comparable, T, A any](spec Spec, agg Aggregator[T, A]) *Keyed[K, T, A] {
	return &Keyed[K, T, A]{
		spec:   spec,
		agg:    agg,
		states: make(map[K]*keyState[T, A]),
	}
}

func (k *Keyed[K, T, A]) stateFor(key K) *keyState[T, A] {
	ks, ok := k.states[key]
	if !ok {
		ks = &keyState[T, A]{}
		if k.spec.Kind == TimeBased {
			ks.openTB = make(map[uint64]*winAcc[T, A])
		}
		k.states[key] = ks
	}
	return ks
}

// Add routes payload (with event-time ts) into every open window it belongs
// to, creating new windows at the tail as needed. For CB windows, Add
// returns every window that just received its win_len-th tuple (fired
// immediately, per spec §4.3). For TB windows, Add never fires anything
// directly — call Advance as the replica's watermark moves forward.
func (k *Keyed[K, T, A]) Add(key K, payload T, ts uint64) []Result[K, A] {
	ks := k.stateFor(key)
	if k.spec.Kind == CountBased {
		return k.addCB(key, ks, payload)
	}
	k.addTB(key, ks, payload, ts)
	return nil
}

func (k *Keyed[K, T, A]) addCB(key K, ks *keyState[T, A], payload T) []Result[K, A] {
	ks.count++
	c := ks.count

	// window id i starts at arrival i*slide + 1 + phase
	if c > k.phase && (c-1-k.phase)%k.spec.Slide == 0 {
		ks.open = append(ks.open, &winAcc[T, A]{
			id:    ID((c - 1 - k.phase) / k.spec.Slide),
			start: c,
			end:   c + k.spec.Len,
			value: k.agg.Zero(),
		})
	}

	var fired []Result[K, A]
	live := ks.open[:0]
	for _, w := range ks.open {
		w.value = k.agg.add(w.value, payload)
		w.received++
		if w.received == k.spec.Len {
			fired = append(fired, Result[K, A]{Key: key, ID: w.id, Start: w.start, End: w.end, Value: w.value})
			continue
		}
		live = append(live, w)
	}
	ks.open = live
	return fired
}

func (k *Keyed[K, T, A]) addTB(key K, ks *keyState[T, A], payload T, ts uint64) {
	slide := k.spec.Slide
	if ts < k.phase {
		return
	}
	start := ((ts-k.phase)/slide)*slide + k.phase
	end := start + k.spec.Len

	delivered, covered := false, false
	for start <= ts && end > ts {
		covered = true
		if end > ks.closedBoundary {
			w, ok := ks.openTB[start]
			if !ok {
				w = &winAcc[T, A]{id: ID((start - k.phase) / slide), start: start, end: end, value: k.agg.Zero()}
				ks.openTB[start] = w
				k.insertTB(key, w)
			}
			w.value = k.agg.add(w.value, payload)
			w.received++
			delivered = true
		}
		if start < slide+k.phase {
			break
		}
		start -= slide
		end -= slide
	}
	if covered && !delivered {
		k.ignored++
	}
}

func (k *Keyed[K, T, A]) insertTB(key K, w *winAcc[T, A]) {
	i := sort.Search(len(k.tbOrder), func(i int) bool { return k.tbOrder[i].win.end >= w.end })
	k.tbOrder = append(k.tbOrder, nil)
	copy(k.tbOrder[i+1:], k.tbOrder[i:])
	k.tbOrder[i] = &tbEntry[K, T, A]{key: key, win: w}
}

// Advance fires every TB window whose end+lateness has been reached by
// watermark, in non-decreasing end-time order, removing them from the open
// set. No-op for CB windows (they fire on arrival in Add).
func (k *Keyed[K, T, A]) Advance(watermark uint64) []Result[K, A] {
	var fired []Result[K, A]
	i := 0
	for i < len(k.tbOrder) {
		e := k.tbOrder[i]
		if watermark < e.win.end+k.spec.Lateness {
			break
		}
		fired = append(fired, Result[K, A]{Key: e.key, ID: e.win.id, Start: e.win.start, End: e.win.end, Value: e.win.value})
		ks := k.states[e.key]
		delete(ks.openTB, e.win.start)
		if e.win.end > ks.closedBoundary {
			ks.closedBoundary = e.win.end
		}
		i++
	}
	k.tbOrder = k.tbOrder[i:]
	return fired
}

// NumIgnored returns the count of TB tuples dropped because every window
// they could have belonged to had already fired (spec §4.4, §8's
// getNumIgnoredTuples scenario).
func (k *Keyed[K, T, A]) NumIgnored() uint64 { return k.ignored }

package window

import lru "github.com/hashicorp/golang-lru/v2"

// defaultMaxKeys bounds a Paned pane table when the caller doesn't size one
// explicitly, mirroring channel/groupby.go's MaxConcurrentGroups cardinality
// bound rather than truly unlimited per-key state.
const defaultMaxKeys = 4096

// paneState is one key's WLQ-side accumulator: the FFAT of panes pushed so
// far, how many panes it has seen, and the End timestamp of the most recent
// one (needed to label a window fired early by eviction rather than by a
// slide).
type paneState[A any] struct {
	tree      *FFAT[A]
	paneCount int
	lastEnd   uint64
}

// Paned implements Paned_Windows: a two-stage pipeline where the PLQ (Pane
// Level Query) computes tumbling partial aggregates on panes of width
// gcd(win_len, slide_len), and the WLQ (Window Level Query) combines
// panesPerWindow consecutive panes — via an FFAT per key — into the final
// sliding-window result every panesPerSlide panes (spec §4.4).
//
// The WLQ's per-key table is a bounded LRU (github.com/hashicorp/golang-lru/v2)
// rather than an unbounded map: unlike groupby.go's single hand-rolled
// MaxConcurrentGroups slice, eviction here must still produce a valid (if
// early) window result for the evicted key, so the eviction callback folds
// whatever panes that key had accumulated into a Result exactly as a slide
// would, instead of discarding them. A high-cardinality keyspace degrades to
// shorter windows for its least-recently-touched keys rather than losing
// their tuples.
type Paned[K comparable, T, A any] struct {
	agg            Aggregator[T, A]
	paneWidth      uint64
	panesPerWindow int
	panesPerSlide  int

	plq     *Keyed[K, T, A]
	state   *lru.Cache[K, *paneState[A]]
	evicted []Result[K, A]
}

// NewPaned builds the PLQ/WLQ pipeline for spec. maxKeys bounds the WLQ
// stage's per-key pane table; 0 falls back to defaultMaxKeys.
func NewPaned[K comparable, T, A any](spec Spec, agg Aggregator[T, A], maxKeys int) *Paned[K, T, A] {
	pane := gcd(spec.Len, spec.Slide)
	plqSpec := Spec{Kind: spec.Kind, Len: pane, Slide: pane, Lateness: spec.Lateness}

	p := &Paned[K, T, A]{
		agg:            agg,
		paneWidth:      pane,
		panesPerWindow: int(spec.Len / pane),
		panesPerSlide:  int(spec.Slide / pane),
		plq:            NewKeyed[K, T, A](plqSpec, agg),
	}
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	cache, err := lru.NewWithEvict[K, *paneState[A]](maxKeys, p.onEvict)
	if err != nil {
		panic("window: invalid paned pane-table size")
	}
	p.state = cache
	return p
}

// onEvict is the LRU's eviction callback: it folds an evicted key's
// not-yet-fired panes into a Result spanning exactly what that key had
// accumulated, so cardinality pressure shortens a key's windows instead of
// dropping its tuples outright.
func (p *Paned[K, T, A]) onEvict(key K, st *paneState[A]) {
	if st.tree.Len() == 0 {
		return
	}
	n := st.tree.Len()
	value := st.tree.RangeCombine(0, n)
	p.evicted = append(p.evicted, Result[K, A]{
		Key:   key,
		ID:    ID(st.paneCount),
		Start: st.lastEnd - p.paneWidth*uint64(n),
		End:   st.lastEnd,
		Value: value,
	})
}

// Add feeds one payload through the PLQ stage, combining any panes it
// completes through the WLQ stage.
func (p *Paned[K, T, A]) Add(key K, payload T, ts uint64) []Result[K, A] {
	return p.consume(key, p.plq.Add(key, payload, ts))
}

// Advance drives the PLQ stage's watermark (TB only), combining any panes it
// fires as a result.
func (p *Paned[K, T, A]) Advance(watermark uint64) []Result[K, A] {
	byKey := make(map[K][]Result[K, A])
	for _, r := range p.plq.Advance(watermark) {
		byKey[r.Key] = append(byKey[r.Key], r)
	}
	var fired []Result[K, A]
	for key, panes := range byKey {
		fired = append(fired, p.consume(key, panes)...)
	}
	return fired
}

func (p *Paned[K, T, A]) consume(key K, panes []Result[K, A]) []Result[K, A] {
	if len(panes) == 0 {
		return nil
	}
	st, ok := p.state.Get(key)
	if !ok {
		st = &paneState[A]{tree: NewFFAT[A](2*p.panesPerWindow, p.agg.Zero(), p.agg.Combine)}
		p.state.Add(key, st)
	}

	var fired []Result[K, A]
	for _, pane := range panes {
		if st.tree.Len() == st.tree.cap {
			st.tree.Evict(p.panesPerSlide)
		}
		st.tree.Push(pane.Value)
		st.paneCount++
		st.lastEnd = pane.End

		n := st.paneCount
		if n >= p.panesPerWindow && (n-p.panesPerWindow)%p.panesPerSlide == 0 {
			value := st.tree.RangeCombine(st.tree.Len()-p.panesPerWindow, st.tree.Len())
			start := pane.End - p.paneWidth*uint64(p.panesPerWindow)
			fired = append(fired, Result[K, A]{
				Key:   key,
				ID:    ID(n / p.panesPerSlide),
				Start: start,
				End:   pane.End,
				Value: value,
			})
			st.tree.Evict(p.panesPerSlide)
		}
	}

	if len(p.evicted) > 0 {
		fired = append(p.evicted, fired...)
		p.evicted = nil
	}
	return fired
}

// NumIgnored forwards the PLQ stage's ignored-tuple count (TB only).
func (p *Paned[K, T, A]) NumIgnored() uint64 { return p.plq.NumIgnored() }

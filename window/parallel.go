package window

// NewParallel configures a Keyed engine for one of P replicas of a
// Parallel_Windows stage: replica replicaIndex owns exactly the windows w
// with (w.id mod P) == replicaIndex, at the coarsened effective slide
// P*spec.Slide (spec §4.4). Because CB window ids increase by exactly one
// per slide step and TB window ids increase by exactly one per slide in time,
// configuring Slide as P*spec.Slide and phase-shifting the first window's
// boundary by replicaIndex*spec.Slide produces precisely that owned subset
// directly — no separate per-tuple ownership filter is needed, matching
// original_source/ppis/WindFlow/wf/parallel_windows.hpp's approach of giving
// each replica its own coarsened Keyed_Windows instance fed by a broadcast of
// the full input.
func NewParallel[K comparable, T, A any](spec Spec, agg Aggregator[T, A], replicaIndex, numReplicas int) *Keyed[K, T, A] {
	effective := spec
	effective.Slide = spec.Slide * uint64(numReplicas)

	k := NewKeyed[K, T, A](effective, agg)
	k.phase = spec.Slide * uint64(replicaIndex)
	return k
}

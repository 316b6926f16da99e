package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/op"
	"github.com/parastream/parastream/replica"
	"github.com/parastream/parastream/wfconfig"
	"github.com/parastream/parastream/wm"
)

func identity[T any](v T) (T, bool) { return v, true }

// Split fans mp out into numBranches same-typed MultiPipes, each receiving
// only the tuples classify routes to it. Every upstream replica's output is
// partitioned exactly like KeyBy routing, with classify's result standing in
// for the destination index instead of a rendezvous hash (spec §4.5's Split
// primitive). Select picks one branch; every branch not Selected is simply
// left unresolved and its tuples dropped once the upstream replicas close.
func Split[T any](mp *MultiPipe[T], cfg op.Config, numBranches int, classify func(T) int) ([]*MultiPipe[T], error) {
	g := mp.g
	if err := wfconfig.LoadOperator(cfg.Name, &cfg); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	if err := cfg.Validate(false); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	if numBranches <= 0 {
		return nil, configErr(cfg.Name, fmt.Errorf("split requires at least one branch"))
	}

	keyOf := func(v T) uint64 {
		b := classify(v)
		if b < 0 || b >= numBranches {
			b = 0
		}
		return uint64(b)
	}

	ins := resolve(g, mp, numBranches, emitter.ModeKeyBy, keyOf, emitterConfig(cfg.OutputBatchSize))

	branches := make([]*MultiPipe[T], numBranches)
	for b := 0; b < numBranches; b++ {
		branchIns := ins[b]
		stage := replicaStage[T]{
			parallelism: 1,
			start: func(ctx context.Context, _ int, em *emitter.Emitter[T]) {
				wmMgr := wm.NewManager(len(branchIns))
				replica.RunMap[T, T](ctx, branchIns, wmMgr, g.cfg.ExecutionMode.wmMode(), g.cfg.Slack, identity[T], em)
			},
		}
		branches[b] = &MultiPipe[T]{g: g, name: fmt.Sprintf("%s[%d]", cfg.Name, b), stages: []replicaStage[T]{stage}}
	}
	return branches, nil
}

// Select picks the i-th branch returned by Split.
func Select[T any](branches []*MultiPipe[T], i int) (*MultiPipe[T], error) {
	if i < 0 || i >= len(branches) {
		return nil, fmt.Errorf("%w: select index %d out of range [0,%d)", ErrConfiguration, i, len(branches))
	}
	return branches[i], nil
}

// Merge combines several same-typed MultiPipes into one frontier: their
// stage groups are concatenated, not started — the next Chain/ChainSink call
// resolves the combined frontier against its own edge shape, same as any
// other MultiPipe (spec §4.5's Merge primitive).
func Merge[T any](mps ...*MultiPipe[T]) (*MultiPipe[T], error) {
	if len(mps) == 0 {
		return nil, fmt.Errorf("%w: merge requires at least one input", ErrConfiguration)
	}
	g := mps[0].g
	var stages []replicaStage[T]
	names := make([]string, 0, len(mps))
	for _, mp := range mps {
		if mp.g != g {
			return nil, fmt.Errorf("%w: merge inputs belong to different graphs", ErrConfiguration)
		}
		stages = append(stages, mp.stages...)
		names = append(names, mp.name)
	}
	return &MultiPipe[T]{g: g, name: strings.Join(names, "+"), stages: stages}, nil
}

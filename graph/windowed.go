package graph

import (
	"context"
	"errors"
	"strconv"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/op"
	"github.com/parastream/parastream/replica"
	"github.com/parastream/parastream/stats"
	"github.com/parastream/parastream/wfconfig"
	"github.com/parastream/parastream/window"
	"github.com/parastream/parastream/wm"
)

var errParallelWindowsNoKeyBy = errors.New("parallel_windows operators do not take with_key_by; ownership is split by replica index instead")

func windowTypeName(k window.Kind) string {
	if k == window.TimeBased {
		return "TB"
	}
	return "CB"
}

func windowStatsRecord(cfg op.Config, opType string, q int) stats.Record {
	spec := cfg.WindowSpec()
	return stats.Record{
		OperatorName: cfg.Name, OperatorType: opType, IsTerminated: true, IsWindowed: true,
		WindowType: windowTypeName(spec.Kind), WindowLength: spec.Len, WindowSlide: spec.Slide,
		Parallelism: q, OutputBatchSize: cfg.OutputBatchSize,
	}
}

func instrumentKeyOf[In any, K comparable](keyOf func(In) K, c *stats.ReplicaCounters, exp *stats.PrometheusExporter, opName string, replicaIdx int) func(In) K {
	label := strconv.Itoa(replicaIdx)
	return func(in In) K {
		c.InputsReceived++
		if exp != nil {
			exp.ObserveInput(opName, label)
		}
		return keyOf(in)
	}
}

func instrumentWindowFinalize[K comparable, A, Out any](finalize func(window.Result[K, A]) Out, c *stats.ReplicaCounters, exp *stats.PrometheusExporter, opName string, replicaIdx int) func(window.Result[K, A]) Out {
	label := strconv.Itoa(replicaIdx)
	return func(r window.Result[K, A]) Out {
		c.OutputsSent++
		if exp != nil {
			exp.ObserveOutput(opName, label)
		}
		return finalize(r)
	}
}

// ChainWindowed appends a Keyed_Windows operator (spec §4.4): keyOf
// partitions the substream, and cfg must route KeyBy at parallelism > 1 so
// every key's tuples land on the replica holding its window state.
func ChainWindowed[In any, K comparable, A, Out any](
	mp *MultiPipe[In],
	cfg op.Config,
	keyOf func(In) K,
	agg window.Aggregator[In, A],
	finalize func(window.Result[K, A]) Out,
) (*MultiPipe[Out], error) {
	g := mp.g
	if err := wfconfig.LoadOperator(cfg.Name, &cfg); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	if err := cfg.Validate(true); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	q := cfg.Parallelism
	mode := routeMode(mp.parallelism(), q, cfg)
	hashKeyOf := keyHasherFor[In](cfg, q)

	ins := resolve(g, mp, q, mode, hashKeyOf, emitterConfig(cfg.OutputBatchSize))

	counters := make([]*stats.ReplicaCounters, q)
	spec := cfg.WindowSpec()

	stage := replicaStage[Out]{
		parallelism: q,
		start: func(ctx context.Context, i int, em *emitter.Emitter[Out]) {
			counters[i] = &stats.ReplicaCounters{}
			wmMgr := wm.NewManager(len(ins[i]))
			w := window.NewKeyed[K, In, A](spec, agg)
			keyOf := instrumentKeyOf(keyOf, counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			finalize := instrumentWindowFinalize(finalize, counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			replica.RunWindowed[K, In, A, Out](
				ctx, ins[i], wmMgr, g.cfg.ExecutionMode.wmMode(), g.cfg.Slack,
				keyOf, w, finalize, em,
			)
			if cfg.Closing != nil {
				cfg.Closing()
			}
		},
	}

	g.registerStats(func() stats.Record {
		return stats.Finalize(windowStatsRecord(cfg, "keyed_windows", q), counters)
	})

	return &MultiPipe[Out]{g: g, name: cfg.Name, stages: []replicaStage[Out]{stage}}, nil
}

// ChainParallelWindowed appends a Parallel_Windows operator (spec §4.4):
// input is broadcast to every replica, each replica owns windows w with
// (w.id mod parallelism) == replica_index at an effective slide of
// parallelism*slide_len, and cfg must NOT set KeyBy (routing is forced to
// Broadcast whenever parallelism > 1; see routeMode).
func ChainParallelWindowed[In any, K comparable, A, Out any](
	mp *MultiPipe[In],
	cfg op.Config,
	keyOf func(In) K,
	agg window.Aggregator[In, A],
	finalize func(window.Result[K, A]) Out,
) (*MultiPipe[Out], error) {
	g := mp.g
	if err := wfconfig.LoadOperator(cfg.Name, &cfg); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	if err := cfg.Validate(false); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	if cfg.Routing == op.RoutingKeyBy {
		return nil, configErr(cfg.Name, errParallelWindowsNoKeyBy)
	}
	q := cfg.Parallelism
	mode := routeMode(mp.parallelism(), q, cfg)

	ins := resolve(g, mp, q, mode, nil, emitterConfig(cfg.OutputBatchSize))

	counters := make([]*stats.ReplicaCounters, q)
	spec := cfg.WindowSpec()

	stage := replicaStage[Out]{
		parallelism: q,
		start: func(ctx context.Context, i int, em *emitter.Emitter[Out]) {
			counters[i] = &stats.ReplicaCounters{}
			wmMgr := wm.NewManager(len(ins[i]))
			w := window.NewParallel[K, In, A](spec, agg, i, q)
			keyOf := instrumentKeyOf(keyOf, counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			finalize := instrumentWindowFinalize(finalize, counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			replica.RunWindowed[K, In, A, Out](
				ctx, ins[i], wmMgr, g.cfg.ExecutionMode.wmMode(), g.cfg.Slack,
				keyOf, w, finalize, em,
			)
			if cfg.Closing != nil {
				cfg.Closing()
			}
		},
	}

	g.registerStats(func() stats.Record {
		return stats.Finalize(windowStatsRecord(cfg, "parallel_windows", q), counters)
	})

	return &MultiPipe[Out]{g: g, name: cfg.Name, stages: []replicaStage[Out]{stage}}, nil
}

// ChainPanedWindowed appends a Paned_Windows operator (spec §4.4): a
// PLQ -> WLQ two-stage pipeline collapsed into a single replica.Windower via
// window.Paned. Neither level is split across replicas as a
// Parallel_Windows: each replica runs both levels for the keys routed to it.
func ChainPanedWindowed[In any, K comparable, A, Out any](
	mp *MultiPipe[In],
	cfg op.Config,
	keyOf func(In) K,
	agg window.Aggregator[In, A],
	finalize func(window.Result[K, A]) Out,
) (*MultiPipe[Out], error) {
	g := mp.g
	if err := wfconfig.LoadOperator(cfg.Name, &cfg); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	if err := cfg.Validate(true); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	q := cfg.Parallelism
	mode := routeMode(mp.parallelism(), q, cfg)
	hashKeyOf := keyHasherFor[In](cfg, q)

	ins := resolve(g, mp, q, mode, hashKeyOf, emitterConfig(cfg.OutputBatchSize))

	counters := make([]*stats.ReplicaCounters, q)
	spec := cfg.WindowSpec()

	stage := replicaStage[Out]{
		parallelism: q,
		start: func(ctx context.Context, i int, em *emitter.Emitter[Out]) {
			counters[i] = &stats.ReplicaCounters{}
			wmMgr := wm.NewManager(len(ins[i]))
			w := window.NewPaned[K, In, A](spec, agg, cfg.MaxKeys)
			keyOf := instrumentKeyOf(keyOf, counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			finalize := instrumentWindowFinalize(finalize, counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			replica.RunWindowed[K, In, A, Out](
				ctx, ins[i], wmMgr, g.cfg.ExecutionMode.wmMode(), g.cfg.Slack,
				keyOf, w, finalize, em,
			)
			if cfg.Closing != nil {
				cfg.Closing()
			}
		},
	}

	g.registerStats(func() stats.Record {
		return stats.Finalize(windowStatsRecord(cfg, "paned_windows", q), counters)
	})

	return &MultiPipe[Out]{g: g, name: cfg.Name, stages: []replicaStage[Out]{stage}}, nil
}

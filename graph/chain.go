package graph

import (
	"context"
	"strconv"
	"time"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/op"
	"github.com/parastream/parastream/replica"
	"github.com/parastream/parastream/stats"
	"github.com/parastream/parastream/wfconfig"
	"github.com/parastream/parastream/wm"
)

// keyHasherFor resolves cfg's KeyHasherFactory (set by op.WithKeyBy, which
// closed over the concrete In/K types at call time) against numDests, or
// returns nil when cfg.Routing isn't RoutingKeyBy.
func keyHasherFor[In any](cfg op.Config, numDests int) func(In) uint64 {
	if cfg.Routing != op.RoutingKeyBy {
		return nil
	}
	h, ok := cfg.KeyHasherFactory(numDests).(func(In) uint64)
	if !ok {
		panic("graph: with_key_by's key type does not match the operator's payload type")
	}
	return h
}

// Chain appends a Map/Filter operator: fn returns (output, keep); keep=false
// drops the tuple (a Filter is a Map with In==Out whose fn only ever
// changes keep).
func Chain[In, Out any](mp *MultiPipe[In], cfg op.Config, fn replica.MapFunc[In, Out]) (*MultiPipe[Out], error) {
	g := mp.g
	if err := wfconfig.LoadOperator(cfg.Name, &cfg); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	if err := cfg.Validate(false); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	q := cfg.Parallelism
	mode := routeMode(mp.parallelism(), q, cfg)
	keyOf := keyHasherFor[In](cfg, q)

	ins := resolve(g, mp, q, mode, keyOf, emitterConfig(cfg.OutputBatchSize))

	counters := make([]*stats.ReplicaCounters, q)

	stage := replicaStage[Out]{
		parallelism: q,
		start: func(ctx context.Context, i int, em *emitter.Emitter[Out]) {
			counters[i] = &stats.ReplicaCounters{}
			wmMgr := wm.NewManager(len(ins[i]))
			fn := instrumentMap(fn, counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			replica.RunMap(ctx, ins[i], wmMgr, g.cfg.ExecutionMode.wmMode(), g.cfg.Slack, fn, em)
			if cfg.Closing != nil {
				cfg.Closing()
			}
		},
	}

	g.registerStats(func() stats.Record {
		rec := stats.Record{OperatorName: cfg.Name, OperatorType: "map", IsTerminated: true, Parallelism: q, OutputBatchSize: cfg.OutputBatchSize}
		return stats.Finalize(rec, counters)
	})

	return &MultiPipe[Out]{g: g, name: cfg.Name, stages: []replicaStage[Out]{stage}}, nil
}

// ChainFlatMap appends a FlatMap operator: fn ships zero, one, or many
// outputs per input via the Shipper handle.
func ChainFlatMap[In, Out any](mp *MultiPipe[In], cfg op.Config, fn replica.FlatMapFunc[In, Out]) (*MultiPipe[Out], error) {
	g := mp.g
	if err := wfconfig.LoadOperator(cfg.Name, &cfg); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	if err := cfg.Validate(false); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	q := cfg.Parallelism
	mode := routeMode(mp.parallelism(), q, cfg)
	keyOf := keyHasherFor[In](cfg, q)

	ins := resolve(g, mp, q, mode, keyOf, emitterConfig(cfg.OutputBatchSize))

	counters := make([]*stats.ReplicaCounters, q)

	stage := replicaStage[Out]{
		parallelism: q,
		start: func(ctx context.Context, i int, em *emitter.Emitter[Out]) {
			counters[i] = &stats.ReplicaCounters{}
			wmMgr := wm.NewManager(len(ins[i]))
			fn := instrumentFlatMap(fn, counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			replica.RunFlatMap(ctx, ins[i], wmMgr, g.cfg.ExecutionMode.wmMode(), g.cfg.Slack, fn, em)
			if cfg.Closing != nil {
				cfg.Closing()
			}
		},
	}

	g.registerStats(func() stats.Record {
		rec := stats.Record{OperatorName: cfg.Name, OperatorType: "flatmap", IsTerminated: true, Parallelism: q, OutputBatchSize: cfg.OutputBatchSize}
		return stats.Finalize(rec, counters)
	})

	return &MultiPipe[Out]{g: g, name: cfg.Name, stages: []replicaStage[Out]{stage}}, nil
}

func instrumentMap[In, Out any](fn replica.MapFunc[In, Out], c *stats.ReplicaCounters, exp *stats.PrometheusExporter, opName string, replicaIdx int) replica.MapFunc[In, Out] {
	label := strconv.Itoa(replicaIdx)
	return func(in In) (Out, bool) {
		c.InputsReceived++
		if exp != nil {
			exp.ObserveInput(opName, label)
		}
		start := time.Now()
		out, keep := fn(in)
		d := time.Since(start)
		c.Observe(d)
		if exp != nil {
			exp.ObserveServiceTimeMicros(opName, label, float64(d.Microseconds()))
		}
		if keep {
			c.OutputsSent++
			if exp != nil {
				exp.ObserveOutput(opName, label)
			}
		}
		return out, keep
	}
}

// instrumentFlatMap counts inputs and service time; Shipper has no output
// hook to count per-Ship calls against, so OutputsSent (and its Prometheus
// counterpart) is not counted for FlatMap replicas and stays zero.
func instrumentFlatMap[In, Out any](fn replica.FlatMapFunc[In, Out], c *stats.ReplicaCounters, exp *stats.PrometheusExporter, opName string, replicaIdx int) replica.FlatMapFunc[In, Out] {
	label := strconv.Itoa(replicaIdx)
	return func(payload In, sh *replica.Shipper[Out]) {
		c.InputsReceived++
		if exp != nil {
			exp.ObserveInput(opName, label)
		}
		start := time.Now()
		fn(payload, sh)
		d := time.Since(start)
		c.Observe(d)
		if exp != nil {
			exp.ObserveServiceTimeMicros(opName, label, float64(d.Microseconds()))
		}
	}
}

package graph

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/op"
	"github.com/parastream/parastream/replica"
	"github.com/parastream/parastream/stats"
	"github.com/parastream/parastream/wfconfig"
)

func zapFields(opName, opType string) []zap.Field {
	return []zap.Field{zap.String("operator", opName), zap.String("operator_type", opType)}
}

// AddSource starts a new source-rooted MultiPipe. genFactory builds one
// independent generator per replica (replica index in [0, cfg.Parallelism)),
// since a source has no upstream state to partition.
func AddSource[Out any](g *Graph, cfg op.Config, genFactory func(replicaIndex int) replica.SourceFunc[Out]) (*MultiPipe[Out], error) {
	if err := wfconfig.LoadOperator(cfg.Name, &cfg); err != nil {
		return nil, configErr(cfg.Name, err)
	}
	if err := cfg.Validate(false); err != nil {
		return nil, configErr(cfg.Name, err)
	}

	counters := make([]*stats.ReplicaCounters, cfg.Parallelism)
	for i := range counters {
		counters[i] = &stats.ReplicaCounters{}
	}
	log := g.cfg.Logger.With(zapFields(cfg.Name, "source")...)

	stage := replicaStage[Out]{
		parallelism: cfg.Parallelism,
		start: func(ctx context.Context, i int, em *emitter.Emitter[Out]) {
			gen := instrumentSource(genFactory(i), counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			replica.RunSource(ctx, gen, em, log)
			if cfg.Closing != nil {
				cfg.Closing()
			}
		},
	}

	g.registerStats(func() stats.Record {
		rec := stats.Record{
			OperatorName: cfg.Name, OperatorType: "source", IsTerminated: true,
			Parallelism: cfg.Parallelism, OutputBatchSize: cfg.OutputBatchSize,
		}
		return stats.Finalize(rec, counters)
	})

	return &MultiPipe[Out]{g: g, name: cfg.Name, stages: []replicaStage[Out]{stage}}, nil
}

// instrumentSource wraps gen so every produced payload updates c.OutputsSent.
func instrumentSource[Out any](gen replica.SourceFunc[Out], c *stats.ReplicaCounters, exp *stats.PrometheusExporter, opName string, replicaIdx int) replica.SourceFunc[Out] {
	label := strconv.Itoa(replicaIdx)
	return func(ctx context.Context) (Out, uint64, uint64, bool, error) {
		payload, ts, wm, ok, err := gen(ctx)
		if ok {
			c.OutputsSent++
			if exp != nil {
				exp.ObserveOutput(opName, label)
			}
		}
		return payload, ts, wm, ok, err
	}
}

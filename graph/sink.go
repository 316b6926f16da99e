package graph

import (
	"strconv"
	"time"

	"github.com/parastream/parastream/op"
	"github.com/parastream/parastream/replica"
	"github.com/parastream/parastream/stats"
	"github.com/parastream/parastream/wfconfig"
	"github.com/parastream/parastream/wm"
)

// ChainSink appends a terminal Sink operator and starts its replicas
// directly against g.wg: a sink produces no further MultiPipe, since it has
// no output edge for the next Chain/Split call to resolve against.
func ChainSink[In any](mp *MultiPipe[In], cfg op.Config, fn replica.SinkFunc[In]) error {
	g := mp.g
	if err := wfconfig.LoadOperator(cfg.Name, &cfg); err != nil {
		return configErr(cfg.Name, err)
	}
	if err := cfg.Validate(false); err != nil {
		return configErr(cfg.Name, err)
	}
	q := cfg.Parallelism
	mode := routeMode(mp.parallelism(), q, cfg)
	keyOf := keyHasherFor[In](cfg, q)

	ins := resolve(g, mp, q, mode, keyOf, emitterConfig(0))

	counters := make([]*stats.ReplicaCounters, q)
	log := g.cfg.Logger.With(zapFields(cfg.Name, "sink")...)

	for i := 0; i < q; i++ {
		counters[i] = &stats.ReplicaCounters{}
		g.wg.Add(1)
		go func(i int) {
			defer g.wg.Done()
			wmMgr := wm.NewManager(len(ins[i]))
			sinkFn := instrumentSink(fn, counters[i], g.cfg.PrometheusExporter, cfg.Name, i)
			replica.RunSink(g.ctx, ins[i], wmMgr, g.cfg.ExecutionMode.wmMode(), g.cfg.Slack, sinkFn, log)
			if cfg.Closing != nil {
				cfg.Closing()
			}
		}(i)
	}

	g.registerStats(func() stats.Record {
		rec := stats.Record{OperatorName: cfg.Name, OperatorType: "sink", IsTerminated: true, Parallelism: q, OutputBatchSize: cfg.OutputBatchSize}
		return stats.Finalize(rec, counters)
	})

	return nil
}

func instrumentSink[In any](fn replica.SinkFunc[In], c *stats.ReplicaCounters, exp *stats.PrometheusExporter, opName string, replicaIdx int) replica.SinkFunc[In] {
	label := strconv.Itoa(replicaIdx)
	return func(payload In, ok bool) error {
		if !ok {
			return fn(payload, ok)
		}
		c.InputsReceived++
		if exp != nil {
			exp.ObserveInput(opName, label)
		}
		start := time.Now()
		err := fn(payload, ok)
		d := time.Since(start)
		c.Observe(d)
		if exp != nil {
			exp.ObserveServiceTimeMicros(opName, label, float64(d.Microseconds()))
		}
		return err
	}
}

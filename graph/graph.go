// Package graph implements the PipeGraph/MultiPipe assembly DSL: AddSource,
// Chain, ChainFlatMap, ChainWindowed, ChainSink, Split, Select, Merge, Run.
// It owns the wiring decision spec §4.5 assigns to the assembler — which
// emitter.Mode connects one stage's replicas to the next — and starts every
// replica's goroutine, collecting per-operator statistics once Run returns.
//
// Grounded on pipe/pipe.go's Apply/appliedPipe composition (gluing one
// Pipe[In,Inter]'s output to a Pipe[Inter,Out]'s input) generalised from
// "one producer, one consumer" to "P producers, Q consumers, fanned
// according to a routing mode"; pipe/merger.go and pipe/fanin.go (dynamic
// AddInput, sync.WaitGroup-gated close) for Merge; pipe/distributor.go's
// per-destination channel table for Split/Select.
package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/op"
	"github.com/parastream/parastream/stats"
	"github.com/parastream/parastream/tuple"
	"github.com/parastream/parastream/wfconfig"
	"github.com/parastream/parastream/wm"
)

// ExecutionMode selects the graph-wide input-merge/ordering discipline every
// replica's watermark manager runs under (spec §4.3, §6).
type ExecutionMode int

const (
	Default ExecutionMode = iota
	Deterministic
	Probabilistic
)

func (m ExecutionMode) wmMode() wm.Mode {
	switch m {
	case Deterministic:
		return wm.Deterministic
	case Probabilistic:
		return wm.Probabilistic
	default:
		return wm.Default
	}
}

// TimePolicy selects whether a source's timestamp defaults to ingress time
// (wall-clock at generation) or is entirely event-time, user-supplied.
// Carried for diagnostic/statistics purposes; SourceFunc always supplies its
// own timestamp regardless (spec §4.1).
type TimePolicy int

const (
	IngressTime TimePolicy = iota
	EventTime
)

// ErrConfiguration wraps a graph-assembly-time configuration error (spec §7
// item 1): parallelism=0, win_len=0, slide_len=0, lateness on CB, quantum
// non-divisor, keyby required but absent at parallelism>1.
var ErrConfiguration = errors.New("graph: configuration error")

func configErr(opName string, err error) error {
	return fmt.Errorf("%w: op %q: %v", ErrConfiguration, opName, err)
}

// Config configures a Graph's run-wide concerns: the execution mode, time
// policy, probabilistic slack, logging, and statistics output.
type Config struct {
	Name          string
	ExecutionMode ExecutionMode
	TimePolicy    TimePolicy

	// Slack is the PROBABILISTIC mode bound (spec §9's open question,
	// resolved per DESIGN.md: a tunable, defaulting to 0).
	Slack uint64

	Logger *zap.Logger

	// EnableStats makes Run write one JSON stats file per operator (spec
	// §6) after every replica terminates, into StatsDir, or into WF_LOG_DIR
	// / "./log" when StatsDir is empty. Without EnableStats nothing is
	// written, whatever StatsDir holds.
	EnableStats bool
	StatsDir    string

	// PrometheusExporter, if set, receives the same per-replica counter
	// updates the JSON stats file does, live, as each replica processes
	// tuples — for callers that already serve a /metrics endpoint and want
	// this graph's counters exposed alongside it instead of only at
	// shutdown.
	PrometheusExporter *stats.PrometheusExporter
}

// Graph owns the set of source-rooted MultiPipes, starts every replica's
// goroutine as the DSL wires them, and blocks in Run until all terminal
// sinks have drained.
type Graph struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	finalizers  []func() stats.Record
}

// New creates a Graph. Run must be called exactly once, after every source
// has been chained to a terminal sink. Every log line this Graph's replicas
// emit carries a fresh run_id, so concurrent runs in the same process (or
// across aggregated log output) stay attributable.
func New(cfg Config) *Graph {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Logger = cfg.Logger.With(zap.String("run_id", uuid.NewString()))
	ctx, cancel := context.WithCancel(context.Background())
	return &Graph{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Run blocks until every replica started by the DSL has terminated (every
// source exhausted, every downstream drained and closed), then, if
// EnableStats is set, writes one statistics file per operator.
func (g *Graph) Run() error {
	g.wg.Wait()
	g.cancel()

	if !g.cfg.EnableStats {
		return nil
	}
	dir := g.cfg.StatsDir
	if dir == "" {
		dir = stats.LogDir(os.Getenv("WF_LOG_DIR"))
	}
	pid := os.Getpid()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, finalize := range g.finalizers {
		rec := finalize()
		if err := stats.Write(dir, pid, rec.OperatorName, rec); err != nil {
			return err
		}
	}
	return nil
}

// registerStats records a finalizer invoked once, after Run's wg.Wait, to
// build the operator's statistics.Record from its replicas' counters —
// deferred so the counters reflect their final, post-termination values.
func (g *Graph) registerStats(finalize func() stats.Record) {
	if !g.cfg.EnableStats {
		return
	}
	g.mu.Lock()
	g.finalizers = append(g.finalizers, finalize)
	g.mu.Unlock()
}

// replicaStage is one already-described, not-yet-started operator (or
// operator fragment, in Merge's case one of several) whose goroutines are
// launched only once the next edge's shape is known — the emitter each
// replica writes through cannot be built until the downstream parallelism
// and routing mode are decided.
type replicaStage[T any] struct {
	parallelism int
	start       func(ctx context.Context, localIndex int, em *emitter.Emitter[T])
}

// MultiPipe is the current frontier of a dataflow graph under construction:
// one or more groups of not-yet-started replicas that will together produce
// envelopes of T. Chain/ChainFlatMap/ChainWindowed/ChainSink/Split resolve
// it against the next edge's shape; Merge combines several frontiers of the
// same type into one.
type MultiPipe[T any] struct {
	g      *Graph
	name   string
	stages []replicaStage[T]
}

func (mp *MultiPipe[T]) parallelism() int {
	n := 0
	for _, s := range mp.stages {
		n += s.parallelism
	}
	return n
}

// routeMode implements spec §4.5's assembler precedence: explicit KeyBy
// first, then Broadcast for an unkeyed windowed operator receiving parallel
// input (Parallel_Windows), then Forward when parallelism matches exactly,
// else Reshuffle.
func routeMode(p, q int, cfg op.Config) emitter.Mode {
	switch {
	case cfg.Routing == op.RoutingKeyBy:
		return emitter.ModeKeyBy
	case cfg.HasWindow && q > 1:
		return emitter.ModeBroadcast
	case p == q:
		return emitter.ModeForward
	default:
		return emitter.ModeReshuffle
	}
}

// wiring is the channel fan between P upstream replicas and Q downstream
// replicas for one edge. Forward mode (p==q, no partitioning) installs a
// direct one-to-one connection per spec §4.5; every other mode fans every
// upstream replica out to every downstream replica, matching the emitter's
// own per-mode destination count.
type wiring[T any] struct {
	upstreamDests [][]emitter.Destination[T] // [p] -> this upstream replica's destination list
	downstreamIns [][]<-chan tuple.Single[T] // [q] -> this downstream replica's input list
}

func wire[T any](p, q int, mode emitter.Mode, bufSize int) wiring[T] {
	w := wiring[T]{
		upstreamDests: make([][]emitter.Destination[T], p),
		downstreamIns: make([][]<-chan tuple.Single[T], q),
	}
	if mode == emitter.ModeForward {
		for i := 0; i < p; i++ {
			ch := make(chan tuple.Single[T], bufSize)
			w.upstreamDests[i] = []emitter.Destination[T]{ch}
			w.downstreamIns[i] = []<-chan tuple.Single[T]{ch}
		}
		return w
	}

	chans := make([][]chan tuple.Single[T], p)
	for i := range chans {
		chans[i] = make([]chan tuple.Single[T], q)
		for j := range chans[i] {
			chans[i][j] = make(chan tuple.Single[T], bufSize)
		}
	}
	for i := 0; i < p; i++ {
		dests := make([]emitter.Destination[T], q)
		for j := 0; j < q; j++ {
			dests[j] = chans[i][j]
		}
		w.upstreamDests[i] = dests
	}
	for j := 0; j < q; j++ {
		ins := make([]<-chan tuple.Single[T], p)
		for i := 0; i < p; i++ {
			ins[i] = chans[i][j]
		}
		w.downstreamIns[j] = ins
	}
	return w
}

// resolve starts every replica of mp's stage groups, building each one an
// Emitter with destinations chosen by mode/keyOf, and returns the Q lists of
// input channels the next stage should merge under.
func resolve[T any](g *Graph, mp *MultiPipe[T], q int, mode emitter.Mode, keyOf func(T) uint64, ecfg emitter.Config) [][]<-chan tuple.Single[T] {
	p := mp.parallelism()
	w := wire[T](p, q, mode, 64)

	global := 0
	for _, stage := range mp.stages {
		for local := 0; local < stage.parallelism; local++ {
			em := emitter.New(mode, w.upstreamDests[global], keyOf, ecfg)
			g.wg.Add(1)
			go func(stage replicaStage[T], local int, em *emitter.Emitter[T]) {
				defer g.wg.Done()
				stage.start(g.ctx, local, em)
			}(stage, local, em)
			global++
		}
	}
	return w.downstreamIns
}

func emitterConfig(batchSize int) emitter.Config {
	var d wfconfig.Defaults
	_ = wfconfig.LoadDefaults(&d)
	cfg := emitter.Config{BatchSize: batchSize}
	if d.DefaultWMAmount > 0 {
		cfg.WatermarkAmount = d.DefaultWMAmount
	}
	if d.DefaultWMIntervalUsec > 0 {
		cfg.WatermarkInterval = time.Duration(d.DefaultWMIntervalUsec) * time.Microsecond
	}
	return cfg
}

// Package op implements the fluent per-operator builder options of spec
// §6's table: with_name, with_parallelism, with_key_by,
// with_output_batch_size, with_cb_windows/with_tb_windows, with_lateness,
// with_closing. Every operator kind in the graph package builds one Config
// and validates it at assembly time (spec §7 item 1).
//
// Grounded on pipe/processing.go's Config + Config.parse() defaulting
// pattern and pipe/autoscale.go's AutoscaleConfig.parse() zero-value
// defaulting idiom, generalised from "one concurrency/buffering config" to
// "name, parallelism, routing, batching, and windowing config per operator
// kind."
package op

import (
	"errors"
	"fmt"

	"github.com/parastream/parastream/emitter"
	"github.com/parastream/parastream/window"
)

// RoutingKind selects how a multi-destination operator routes its output
// (spec §4.5); Auto lets the graph package pick Forward/Broadcast/Reshuffle
// based on the edge shape, only ever overridden by WithKeyBy.
type RoutingKind int

const (
	RoutingAuto RoutingKind = iota
	RoutingKeyBy
)

// Config is the assembled configuration of one operator, built via
// With* options passed to graph builder calls.
type Config struct {
	Name        string
	Parallelism int

	Routing RoutingKind

	// KeyHasherFactory builds the payload-to-destination hasher once the
	// graph package knows the downstream replica count; set by WithKeyBy,
	// which closes over the concrete In/K types WithKeyBy was instantiated
	// with so the graph package never needs to learn K.
	KeyHasherFactory func(numDests int) any

	OutputBatchSize int

	Window       window.Spec
	HasWindow    bool
	Lateness     uint64
	HasLateness  bool

	// MaxKeys bounds a Paned_Windows operator's WLQ pane-table cardinality
	// (window.NewPaned); 0 lets window pick its own default. Other window
	// kinds ignore it.
	MaxKeys int

	Closing func()
}

// Option mutates a Config being built.
type Option func(*Config)

// New assembles a Config from opts, applying spec §6's defaults
// (parallelism 1; Name stays empty unless WithName sets it).
func New(opts ...Option) Config {
	cfg := Config{Parallelism: 1}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

func WithParallelism(n int) Option {
	return func(c *Config) { c.Parallelism = n }
}

// WithKeyBy switches input routing to KeyBy using keyOf(payload) -> key. The
// actual rendezvous-hashing KeyHasher is built lazily by the graph package
// once it knows the downstream replica count (see Config.KeyHasherFactory).
func WithKeyBy[In any, K comparable](keyOf func(In) K) Option {
	return func(c *Config) {
		c.Routing = RoutingKeyBy
		c.KeyHasherFactory = func(numDests int) any {
			return (func(In) uint64)(emitter.KeyBy[In, K](keyOf, numDests))
		}
	}
}

func WithOutputBatchSize(n int) Option {
	return func(c *Config) { c.OutputBatchSize = n }
}

func WithCBWindows(winLen, slideLen uint64) Option {
	return func(c *Config) {
		c.HasWindow = true
		c.Window = window.Spec{Kind: window.CountBased, Len: winLen, Slide: slideLen}
	}
}

func WithTBWindows(winLen, slideLen uint64, quantum ...uint64) Option {
	return func(c *Config) {
		c.HasWindow = true
		spec := window.Spec{Kind: window.TimeBased, Len: winLen, Slide: slideLen}
		if len(quantum) > 0 {
			spec.Quantum = quantum[0]
		}
		c.Window = spec
	}
}

func WithLateness(l uint64) Option {
	return func(c *Config) {
		c.HasLateness = true
		c.Lateness = l
	}
}

// WithMaxKeys bounds a Paned_Windows operator's WLQ pane-table cardinality.
func WithMaxKeys(n int) Option {
	return func(c *Config) { c.MaxKeys = n }
}

func WithClosing(fn func()) Option {
	return func(c *Config) { c.Closing = fn }
}

// WindowSpec returns the operator's window.Spec with WithLateness folded in.
func (c Config) WindowSpec() window.Spec {
	spec := c.Window
	if c.HasLateness {
		spec.Lateness = c.Lateness
	}
	return spec
}

// Validate reports the graph-assembly-time configuration errors of spec §7
// item 1 that are determinable from a Config in isolation (parallelism=0;
// lateness set without TB windows; lateness on CB windows; window spec
// errors). keybyRequired lets the graph package additionally enforce
// "keyby required but absent at parallelism>1" for operator kinds where
// per-key state (windowed/aggregator) makes that a hard requirement.
func (c Config) Validate(keybyRequired bool) error {
	if c.Parallelism <= 0 {
		return fmt.Errorf("op %q: parallelism must be greater than zero", c.Name)
	}
	if keybyRequired && c.Parallelism > 1 && c.Routing != RoutingKeyBy {
		return fmt.Errorf("op %q: with_key_by is required at parallelism > 1", c.Name)
	}
	if c.HasLateness && (!c.HasWindow || c.Window.Kind != window.TimeBased) {
		return fmt.Errorf("op %q: with_lateness only applies to time-based window operators", c.Name)
	}
	if c.HasWindow {
		if err := c.WindowSpec().Validate(); err != nil {
			return fmt.Errorf("op %q: %w", c.Name, err)
		}
	}
	if c.OutputBatchSize < 0 {
		return errors.New("op: output batch size must be >= 0")
	}
	return nil
}

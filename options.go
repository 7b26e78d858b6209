package reactor

import "time"

// runtimeOptions holds resolved configuration for a Runtime, following the
// options-functor idiom go-eventloop uses for its own loopOptions/LoopOption.
type runtimeOptions struct {
	workers   int
	realtime  bool
	stpOffset time.Duration
	sink      Sink
	clock     Clock
	keepAlive bool
}

// RuntimeOption configures a Runtime at construction time, via New.
type RuntimeOption interface {
	applyRuntime(*runtimeOptions)
}

type runtimeOptionFunc func(*runtimeOptions)

func (f runtimeOptionFunc) applyRuntime(o *runtimeOptions) { f(o) }

// WithWorkers sets the size of the worker pool dispatching reactions.
// Defaults to runtime.NumCPU() if n <= 0.
func WithWorkers(n int) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) { o.workers = n })
}

// WithRealtime enables realtime dispatch (§4.5): before executing a tag, the
// scheduler waits for physical time to reach tag.Time+stpOffset. Disabled by
// default, which runs the graph as-fast-as-possible -- the mode used by
// deterministic tests (§8's scenarios all assume as-fast-as-possible unless
// noted).
func WithRealtime(enabled bool) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) { o.realtime = enabled })
}

// WithKeepAlive controls what happens when the event queue drains to empty
// with no stop tag pending: disabled (the default), the Runtime treats that
// as natural termination and Run returns; enabled, it instead blocks and
// waits for more events, the Go analogue of the reference implementation's
// --keepalive flag for graphs whose only event sources are externally
// triggered physical actions.
func WithKeepAlive(enabled bool) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) { o.keepAlive = enabled })
}

// WithSTPOffset sets the safe-to-process offset applied in realtime mode.
func WithSTPOffset(d time.Duration) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) { o.stpOffset = d })
}

// WithSink attaches a Sink that receives every tracepoint the scheduler
// emits. Defaults to NopSink{}; see NewLogSink for the reference structured
// logging implementation.
func WithSink(sink Sink) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) {
		if sink != nil {
			o.sink = sink
		}
	})
}

// WithClock overrides the physical clock; intended for deterministic tests
// that need to control physical_now() independently of wall-clock time.
func WithClock(c Clock) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) {
		if c != nil {
			o.clock = c
		}
	})
}

func resolveRuntimeOptions(opts []RuntimeOption) *runtimeOptions {
	cfg := &runtimeOptions{
		sink:  NopSink{},
		clock: systemClock{},
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.applyRuntime(cfg)
	}
	return cfg
}

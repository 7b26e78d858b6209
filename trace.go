package reactor

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// EventType enumerates the tracepoint kinds the scheduler emits. The core
// never opens files or formats records -- it only makes these calls; a Sink
// decides whether and how to persist them. This mirrors reactor-c's
// tracepoint() surface (see include/core/trace.h) flattened into a single
// Go enum.
type EventType int

const (
	EventReactionStarts EventType = iota
	EventReactionEnds
	EventScheduleCalled
	EventActionMITRejected
	EventReactionDeadlineMissed
	EventAdvanceLogicalTime
	EventWorkerWaitStarts
	EventWorkerWaitEnds
	EventSchedulerShuttingDown
	EventDestructorPanic
	EventReactionPanic
)

func (e EventType) String() string {
	switch e {
	case EventReactionStarts:
		return "reaction_starts"
	case EventReactionEnds:
		return "reaction_ends"
	case EventScheduleCalled:
		return "schedule_called"
	case EventActionMITRejected:
		return "action_mit_rejected"
	case EventReactionDeadlineMissed:
		return "reaction_deadline_missed"
	case EventAdvanceLogicalTime:
		return "advance_logical_time"
	case EventWorkerWaitStarts:
		return "worker_wait_starts"
	case EventWorkerWaitEnds:
		return "worker_wait_ends"
	case EventSchedulerShuttingDown:
		return "scheduler_shutting_down"
	case EventDestructorPanic:
		return "destructor_panic"
	case EventReactionPanic:
		return "reaction_panic"
	default:
		return "unknown"
	}
}

// Tracepoint is the payload passed to a Sink for every tracepoint call. The
// fields mirror §4.8: not every field is meaningful for every EventType (for
// instance PhysicalTime is only set for tracepoints with a physical-time
// component), left zero-valued otherwise.
type Tracepoint struct {
	Type            EventType
	Reactor         string
	Tag             Tag
	Worker          int
	Src             string
	Dst             string
	PhysicalTime    time.Time
	Trigger         string
	ExtraDelay      time.Duration
	IsIntervalStart bool
}

// Sink is the abstract trace consumer described in §4.8. The core depends
// only on this interface; a concrete binary trace writer is an external
// collaborator, out of scope for this package.
type Sink interface {
	Tracepoint(tp Tracepoint)
}

// NopSink discards every tracepoint. It is the zero-overhead default for
// embedders that don't want tracing, and for tests.
type NopSink struct{}

// Tracepoint implements Sink.
func (NopSink) Tracepoint(Tracepoint) {}

// logSink is the reference Sink implementation: it renders tracepoints as
// structured logiface events over a stumpy-backed zero-allocation JSON
// writer, the same wiring idiom used by sql/export's
// *logiface.Logger[logiface.Event] field elsewhere in this author's module
// collection. reaction_deadline_missed and action_mit_rejected tracepoints
// -- the two kinds most likely to repeat at high frequency under a
// misbehaving reactor graph -- are additionally capped per-reactor by a
// go-catrate sliding-window limiter, so a flapping deadline doesn't flood
// the log; the underlying scheduling decision is unaffected, only its
// logging is throttled.
type logSink struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

// NewLogSink returns a Sink that logs tracepoints through logiface, backed
// by stumpy, at the given minimum level. Noisy tracepoint kinds are capped
// at 20 per reactor per second, and 200 per reactor per minute.
func NewLogSink(level logiface.Level, opts ...stumpy.Option) Sink {
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(opts...),
		stumpy.L.WithLevel(level),
	).Logger()

	limiter := catrate.NewLimiter(map[time.Duration]int{
		time.Second: 20,
		time.Minute: 200,
	})

	return &logSink{logger: logger, limiter: limiter}
}

func (s *logSink) Tracepoint(tp Tracepoint) {
	if s.rateLimited(tp) {
		return
	}

	b := s.builderFor(tp)
	if b == nil {
		return
	}
	b.Str(`reactor`, tp.Reactor).
		Int64(`tag_time`, tp.Tag.Time).
		Uint64(`tag_microstep`, uint64(tp.Tag.Microstep)).
		Int(`worker`, tp.Worker)
	if tp.Trigger != "" {
		b.Str(`trigger`, tp.Trigger)
	}
	if tp.Src != "" {
		b.Str(`src`, tp.Src)
	}
	if tp.Dst != "" {
		b.Str(`dst`, tp.Dst)
	}
	if tp.ExtraDelay != 0 {
		b.Dur(`extra_delay`, tp.ExtraDelay)
	}
	if !tp.PhysicalTime.IsZero() {
		b.Time(`physical_time`, tp.PhysicalTime)
	}
	b.Log(tp.Type.String())
}

// rateLimited reports whether tp should be dropped by the noisy-tracepoint
// limiter. EventActionMITRejected, EventReactionDeadlineMissed,
// EventDestructorPanic and EventReactionPanic are subject to it; all other
// tracepoint kinds are always logged.
func (s *logSink) rateLimited(tp Tracepoint) bool {
	switch tp.Type {
	case EventActionMITRejected, EventReactionDeadlineMissed, EventDestructorPanic, EventReactionPanic:
	default:
		return false
	}
	_, ok := s.limiter.Allow(tp.Reactor + "/" + tp.Type.String())
	return !ok
}

func (s *logSink) builderFor(tp Tracepoint) *logiface.Builder[logiface.Event] {
	switch tp.Type {
	case EventReactionDeadlineMissed, EventActionMITRejected, EventDestructorPanic, EventReactionPanic:
		return s.logger.Warning()
	case EventSchedulerShuttingDown:
		return s.logger.Notice()
	default:
		return s.logger.Debug()
	}
}

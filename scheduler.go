package reactor

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// stepTracker tracks, for the batch of reactions queued at a single logical
// step, which (chain bit, level) combinations still have unfinished work --
// the bookkeeping DISPATCH consults so a worker never starts a reaction
// ahead of a lower-level reaction it shares a chain with, while still
// letting chain-disjoint reactions at any level run concurrently (§4.5,
// §9). Not safe for concurrent use; callers hold Runtime.mu.
type stepTracker struct {
	total, done    int
	pendingByLevel [64]map[int]int
}

func newStepTracker() *stepTracker {
	t := &stepTracker{}
	for i := range t.pendingByLevel {
		t.pendingByLevel[i] = make(map[int]int)
	}
	return t
}

func (t *stepTracker) add(r *Reaction) {
	t.total++
	for b := 0; b < 64; b++ {
		if r.ChainMask&(1<<uint(b)) != 0 {
			t.pendingByLevel[b][r.Level]++
		}
	}
}

// ready reports whether every other reaction sharing a chain bit with r, at
// a strictly lower level, has already completed.
func (t *stepTracker) ready(r *Reaction) bool {
	for b := 0; b < 64; b++ {
		if r.ChainMask&(1<<uint(b)) == 0 {
			continue
		}
		for lvl, n := range t.pendingByLevel[b] {
			if n > 0 && lvl < r.Level {
				return false
			}
		}
	}
	return true
}

func (t *stepTracker) complete(r *Reaction) {
	t.done++
	for b := 0; b < 64; b++ {
		if r.ChainMask&(1<<uint(b)) != 0 {
			t.pendingByLevel[b][r.Level]--
		}
	}
}

func (t *stepTracker) allDone() bool { return t.done >= t.total }

// Runtime is the scheduler core: it owns the event and reaction queues, the
// token store, and the worker pool that dispatches reactions for each
// logical step, implementing the STARTUP/ADVANCE/EXECUTE/DISPATCH/
// FINISH_STEP cycle of §4.5. A Runtime is built once via New and run once
// via Run; it is not restartable after it terminates, mirroring the
// reference implementation's one-shot process lifecycle.
type Runtime struct {
	opts    *runtimeOptions
	clock   Clock
	sink    Sink
	tokens  *TokenStore
	metrics *Metrics
	state   *fastState

	mu           sync.Mutex
	cond         *sync.Cond
	events       *eventQueue
	reactions    *reactionQueue
	tracker      *stepTracker
	presentPorts []*Port

	triggers []*Trigger

	tag        Tag
	stopTag    Tag
	epoch      time.Time
	shutdownAt bool
}

// New constructs a Runtime. WithWorkers, WithRealtime, WithSTPOffset,
// WithSink, and WithClock configure it; see options.go.
func New(opts ...RuntimeOption) *Runtime {
	cfg := resolveRuntimeOptions(opts)
	if cfg.workers <= 0 {
		cfg.workers = runtime.NumCPU()
	}
	rt := &Runtime{
		opts:      cfg,
		clock:     cfg.clock,
		sink:      cfg.sink,
		metrics:   newMetrics(),
		events:    newEventQueue(),
		reactions: newReactionQueue(),
		state:     newFastState(),
		stopTag:   ForeverTag,
	}
	rt.tokens = NewTokenStore(cfg.sink)
	rt.cond = sync.NewCond(&rt.mu)
	return rt
}

// Tokens returns the Runtime's TokenStore, for code generated outside this
// package that needs to Create/Ref/Unref tokens directly (e.g. a port's
// initial allocation before Run is called).
func (rt *Runtime) Tokens() *TokenStore { return rt.tokens }

// Metrics returns the Runtime's latency metrics; see metrics.go.
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// markPortPresent registers p on the current step's present-port set, drained
// by FINISH_STEP at the end of the step (§4.5, §4.6). Called by
// ReactionCtx.SetPort; exported only through that wrapper, since a port set
// outside a running step has no step to be released at.
func (rt *Runtime) markPortPresent(p *Port) {
	rt.mu.Lock()
	rt.presentPorts = append(rt.presentPorts, p)
	rt.mu.Unlock()
}

// State returns the Runtime's current lifecycle state.
func (rt *Runtime) State() RunState { return rt.state.Load() }

// InitializeTriggerObjects registers the static trigger graph with the
// Runtime, the Go analogue of the reference implementation's generated
// _lf_initialize_trigger_objects(). It must be called before Run.
func (rt *Runtime) InitializeTriggerObjects(triggers ...*Trigger) {
	rt.triggers = append(rt.triggers, triggers...)
}

// StartTimers seeds the event queue with each registered timer's first
// firing, at the tag (timer.Offset, 0). It must be called before Run, and
// after InitializeTriggerObjects.
func (rt *Runtime) StartTimers() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, trig := range rt.triggers {
		if trig.Kind != KindTimer {
			continue
		}
		rt.events.PushEvent(&Event{Trigger: trig, Tag: Tag{Time: int64(trig.Offset)}})
	}
}

// physicalLag returns how far physical time has drifted past tag's logical
// time, relative to the Runtime's epoch (the physical instant Run started,
// which tag.Time == 0 denotes). Used by both CheckDeadline and dispatch so
// the two always agree on what "missed" means.
func (rt *Runtime) physicalLag(tag Tag) time.Duration {
	elapsed := rt.clock.Now().Sub(rt.epoch)
	return elapsed - time.Duration(tag.Time)
}

// RequestStop arranges for the Runtime to run one final logical step (the
// next tag strictly after the current one) and then terminate, the Go
// analogue of the reference implementation's request_stop(). Safe to call
// from any goroutine, including from within a running reaction.
func (rt *Runtime) RequestStop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.state.TryTransition(StateRunning, StateStopping)
	candidate := rt.tag.Delay(0)
	if candidate.Before(rt.stopTag) {
		rt.stopTag = candidate
	}
	rt.cond.Broadcast()
}

// Run drives the Runtime to completion: it processes logical steps in tag
// order until the event queue is exhausted with no pending stop tag, the
// configured stop tag is reached, or ctx is canceled. It returns
// ErrRuntimeAlreadyRunning if called more than once on the same Runtime.
func (rt *Runtime) Run(ctx context.Context) error {
	if !rt.state.TryTransition(StateNotStarted, StateRunning) {
		return ErrRuntimeAlreadyRunning
	}
	rt.epoch = rt.clock.Now()
	defer rt.state.Store(StateTerminated)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			rt.RequestStop()
		case <-stopWatch:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(rt.opts.workers)
	for w := 0; w < rt.opts.workers; w++ {
		go rt.worker(w, &wg)
	}

	rt.runLoop(ctx)

	rt.mu.Lock()
	rt.shutdownAt = true
	rt.cond.Broadcast()
	rt.mu.Unlock()
	wg.Wait()

	rt.sink.Tracepoint(Tracepoint{Type: EventSchedulerShuttingDown, Tag: rt.tag})
	return nil
}

// runLoop implements ADVANCE/EXECUTE/FINISH_STEP; DISPATCH is implemented by
// the worker goroutines pulling from rt.reactions via nextReaction.
func (rt *Runtime) runLoop(ctx context.Context) {
	for {
		rt.mu.Lock()
		for rt.events.Len() == 0 && !rt.shutdownAt {
			if rt.state.Load() == StateStopping || !rt.opts.keepAlive {
				// No stop tag was ever reached, but nothing remains to
				// process and the Runtime isn't configured to wait on
				// externally-triggered physical actions: natural
				// termination (see WithKeepAlive).
				rt.mu.Unlock()
				return
			}
			rt.cond.Wait()
			if ctx.Err() != nil {
				rt.mu.Unlock()
				return
			}
		}
		if rt.shutdownAt {
			// TerminateExecution: no further logical steps.
			rt.mu.Unlock()
			return
		}

		next := rt.events.PeekMin()
		if next.Tag.After(rt.stopTag) {
			rt.mu.Unlock()
			return
		}

		step := next.Tag
		rt.tag = step
		rt.sink.Tracepoint(Tracepoint{Type: EventAdvanceLogicalTime, Tag: step})

		if rt.opts.realtime {
			rt.mu.Unlock()
			rt.waitUntilSafeToProcess(ctx, step)
			rt.mu.Lock()
		}

		tracker := newStepTracker()
		rt.tracker = tracker
		now := rt.clock.Now()
		for {
			ev := rt.events.PeekMin()
			if ev == nil || !ev.Tag.Equal(step) {
				break
			}
			rt.events.PopMin()
			for _, reaction := range ev.Trigger.Reactions {
				reaction.queuedAt = now
				rt.reactions.PushReaction(reaction)
				tracker.add(reaction)
			}
			if ev.Trigger.Kind == KindTimer && ev.Trigger.Period > 0 {
				rt.events.PushEvent(&Event{Trigger: ev.Trigger, Tag: step.Add(ev.Trigger.Period)})
			}
		}

		if tracker.total == 0 {
			// A timer/action fired with no attached reactions; nothing to
			// dispatch, advance straight to the next tag.
			rt.tracker = nil
			rt.mu.Unlock()
			continue
		}

		rt.cond.Broadcast()
		for !tracker.allDone() {
			rt.cond.Wait()
		}

		// FINISH_STEP: release every port set during this step (§4.5, §4.6)
		// before advancing, so invariant 6 (is_present is false at the start
		// of any tag) holds for the next ADVANCE.
		for _, p := range rt.presentPorts {
			resetPort(rt.tokens, p)
		}
		rt.presentPorts = rt.presentPorts[:0]

		stop := step.Equal(rt.stopTag)
		rt.tracker = nil
		rt.mu.Unlock()
		if stop {
			return
		}
	}
}

// waitUntilSafeToProcess blocks until physical time reaches the tag's
// logical time plus the configured safe-to-process offset, implementing
// realtime dispatch mode (WithRealtime). Returns early if ctx is canceled.
func (rt *Runtime) waitUntilSafeToProcess(ctx context.Context, tag Tag) {
	target := rt.epoch.Add(time.Duration(tag.Time) + rt.opts.stpOffset)
	d := target.Sub(rt.clock.Now())
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// worker runs the DISPATCH loop: pull the next ready reaction and execute
// it, respecting the level/chain-mask ordering tracked by stepTracker.
func (rt *Runtime) worker(id int, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		r := rt.nextReaction()
		if r == nil {
			return
		}
		rt.dispatch(id, r)
	}
}

// nextReaction blocks until a ready reaction is available, the current step
// has nothing left to offer this worker, or the Runtime is shutting down
// (in which case it returns nil to let the worker exit).
func (rt *Runtime) nextReaction() *Reaction {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for {
		if rt.tracker != nil {
			if r := rt.reactions.PopReady(rt.tracker.ready); r != nil {
				r.Status = StatusRunning
				return r
			}
		}
		if rt.shutdownAt {
			return nil
		}
		rt.cond.Wait()
	}
}

// dispatch executes one reaction's body (and, on a missed deadline, its
// deadline handler) and records latency metrics, per §4.7.
func (rt *Runtime) dispatch(workerID int, r *Reaction) {
	rt.mu.Lock()
	tag := rt.tag
	rt.mu.Unlock()

	now := rt.clock.Now()
	rt.metrics.recordDispatch(now.Sub(r.queuedAt))

	reactorName := ""
	if r.Self != nil {
		reactorName = r.Self.Name
	}

	rt.sink.Tracepoint(Tracepoint{Type: EventReactionStarts, Reactor: reactorName, Tag: tag, Worker: workerID, Trigger: r.Name, PhysicalTime: now})

	ctx := &ReactionCtx{rt: rt, reaction: r, tag: tag, worker: workerID}

	missed := false
	if r.Deadline > 0 {
		lag := rt.physicalLag(tag)
		missed = lag > r.Deadline
		rt.metrics.recordDeadlineLag(lag, missed)
		if missed {
			rt.sink.Tracepoint(Tracepoint{Type: EventReactionDeadlineMissed, Reactor: reactorName, Tag: tag, Worker: workerID, Trigger: r.Name})
		}
	}

	switch {
	case missed && r.DeadlineHandler != nil && r.DeadlineHandlerReplaces:
		rt.runHandler(r.DeadlineHandler, ctx, reactorName, workerID)
	case missed && r.DeadlineHandler != nil:
		rt.runHandler(r.DeadlineHandler, ctx, reactorName, workerID)
		rt.runHandler(r.Body, ctx, reactorName, workerID)
	default:
		rt.runHandler(r.Body, ctx, reactorName, workerID)
	}

	rt.sink.Tracepoint(Tracepoint{Type: EventReactionEnds, Reactor: reactorName, Tag: tag, Worker: workerID, Trigger: r.Name})

	rt.mu.Lock()
	r.Status = StatusInactive
	rt.tracker.complete(r)
	rt.cond.Broadcast()
	rt.mu.Unlock()
}

// runHandler invokes fn, recovering any panic and reporting it through the
// sink rather than letting it take down a worker goroutine -- the same
// call-site recovery discipline TokenStore.runGuarded applies to destructor
// panics.
func (rt *Runtime) runHandler(fn Handler, ctx *ReactionCtx, reactorName string, workerID int) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			rt.sink.Tracepoint(Tracepoint{
				Type:    EventReactionPanic,
				Reactor: reactorName,
				Tag:     ctx.tag,
				Worker:  workerID,
				Trigger: ctx.reaction.Name,
				Dst:     panicMessage(r),
			})
		}
	}()
	fn(ctx)
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return stringifyPanic(r)
}

func stringifyPanic(r any) string {
	type stringer interface{ String() string }
	if s, ok := r.(stringer); ok {
		return s.String()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "panic"
}

// classifySchedule applies §4.4 step 1's fail-fast conditions, plus the
// out-of-reaction-context check, ahead of any tag computation: Misuse for a
// logical action scheduled without an active reaction context (a
// code-generation bug the runtime cannot recover from), Rejected for a null
// trigger or a stop-requested call with a nonzero extra_delay, Accepted
// otherwise. The remaining Rejected condition -- the computed tag exceeding
// stop_tag -- can only be evaluated once the tag is known, and is applied
// separately in schedule.
func (rt *Runtime) classifySchedule(trig *Trigger, extraDelay time.Duration, ctx *ReactionCtx) scheduleOutcome {
	if ctx == nil && trig != nil && trig.Kind != KindPhysicalAction {
		return outcomeMisuse
	}
	if trig == nil {
		return outcomeRejected
	}
	if rt.state.Load() == StateStopping && extraDelay > 0 {
		return outcomeRejected
	}
	return outcomeAccepted
}

// schedule implements §4.4: classify fail-fast/misuse conditions, compute
// the intended tag, enforce MIT, and enqueue an event. ctx is the active
// ReactionCtx for an in-reaction call (ReactionCtx.Schedule), or nil for an
// external physical-action schedule (SchedulePhysical). Every rejection
// path unrefs tok (if non-nil), matching the reference-balance invariant
// that a dropped schedule still owns the token it was handed.
func (rt *Runtime) schedule(trig *Trigger, extraDelay time.Duration, tok *Token, ctx *ReactionCtx) (int64, error) {
	switch rt.classifySchedule(trig, extraDelay, ctx) {
	case outcomeMisuse:
		panic(ErrOutOfReactionSchedule)
	case outcomeRejected:
		if tok != nil {
			rt.tokens.Unref(tok)
		}
		return 0, nil
	}

	if rt.state.Load() == StateTerminated {
		if tok != nil {
			rt.tokens.Unref(tok)
		}
		return 0, ErrRuntimeTerminated
	}

	isPhysical := trig.Kind == KindPhysicalAction
	var base Tag
	if ctx != nil {
		base = ctx.tag
	} else {
		base = Tag{Time: int64(rt.clock.Now().Sub(rt.epoch))}
	}
	intended := rt.computeIntendedTag(trig, base, extraDelay, isPhysical)

	rt.mu.Lock()
	if intended.After(rt.stopTag) {
		rt.mu.Unlock()
		if tok != nil {
			rt.tokens.Unref(tok)
		}
		return 0, nil
	}
	trig.mu.Lock()

	tag, accepted := trig.applyMIT(rt.events, intended)
	if !accepted {
		trig.mu.Unlock()
		rt.mu.Unlock()
		if tok != nil {
			rt.tokens.Unref(tok)
		}
		reactorName := ""
		if ctx != nil && ctx.reaction.Self != nil {
			reactorName = ctx.reaction.Self.Name
		}
		rt.sink.Tracepoint(Tracepoint{Type: EventActionMITRejected, Reactor: reactorName, Trigger: trig.Name, Tag: tag, ExtraDelay: extraDelay})
		return 0, nil
	}
	trig.lastTag, trig.hasLast = tag, true

	if trig.Policy == PolicyReplace {
		if existing := rt.events.FindPending(trig); existing != nil {
			if existing.Token != tok {
				rt.tokens.Unref(existing.Token)
			}
			existing.Token = tok
			trig.mu.Unlock()
			rt.mu.Unlock()
			rt.sink.Tracepoint(Tracepoint{Type: EventScheduleCalled, Trigger: trig.Name, Tag: tag, ExtraDelay: extraDelay})
			return int64(existing.seq), nil
		}
	}
	trig.mu.Unlock()

	ev := &Event{Trigger: trig, Tag: tag, Token: tok}
	rt.events.PushEvent(ev)
	rt.cond.Broadcast()
	rt.mu.Unlock()

	rt.sink.Tracepoint(Tracepoint{Type: EventScheduleCalled, Trigger: trig.Name, Tag: tag, ExtraDelay: extraDelay})
	return int64(ev.seq), nil
}

// SchedulePhysical schedules trig from outside any reaction invocation --
// the entry point an external input thread (e.g. a sensor callback or
// network listener) uses to inject a physical action. It panics with
// ErrOutOfReactionSchedule if trig is not a physical action: logical actions
// may only be scheduled from within a reaction, via ReactionCtx.Schedule.
func (rt *Runtime) SchedulePhysical(trig *Trigger, extraDelay time.Duration, tok *Token) (int64, error) {
	return rt.schedule(trig, extraDelay, tok, nil)
}

// TriggerShutdownReactions enqueues every reaction registered against
// shutdown-kind triggers (reactions with no ordinary trigger, meant to run
// once at program end) to execute in a final logical step at the current
// stop tag. It is the Go analogue of the reference implementation's
// _lf_trigger_shutdown_reactions, intended to be called once RequestStop
// has fixed a stop tag (directly, or via the event queue draining).
func (rt *Runtime) TriggerShutdownReactions(reactions ...*Reaction) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopTag.IsForever() {
		rt.stopTag = rt.tag.Delay(0)
	}
	shutdown := NewTrigger("shutdown", KindLogicalAction)
	shutdown.Reactions = reactions
	rt.events.PushEvent(&Event{Trigger: shutdown, Tag: rt.stopTag})
	rt.cond.Broadcast()
}

// TerminateExecution forces immediate termination without running any
// further logical steps, including any pending shutdown reactions. It is
// the Go analogue of the reference implementation's abrupt
// lf_terminate_execution, for host-detected fatal conditions rather than a
// clean stop_tag-bounded shutdown (use RequestStop for that).
func (rt *Runtime) TerminateExecution() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.state.Store(StateTerminated)
	rt.shutdownAt = true
	rt.cond.Broadcast()
}

package reactor

import (
	"sync"
	"time"
)

// TriggerKind distinguishes the four sources of events described in §3.
type TriggerKind int

const (
	KindTimer TriggerKind = iota
	KindLogicalAction
	KindPhysicalAction
	KindPort
)

// MITPolicy selects the behavior applied when a trigger is scheduled faster
// than its minimum interarrival time; see §4.4 step 4.
type MITPolicy int

const (
	// PolicyDrop rejects the offending schedule call outright.
	PolicyDrop MITPolicy = iota
	// PolicyDefer pushes the event out to last_tag+mit instead of rejecting.
	PolicyDefer
	// PolicyReplace swaps the token of any already-pending event for this
	// trigger in place, rather than creating a second event.
	PolicyReplace
)

// Trigger is the static descriptor for an input-event source: a timer, a
// logical or physical action, or a port. The scheduler mutates only
// lastTag (under the scheduler lock and the trigger's own mu, for every kind);
// every other field is set once at graph-construction time by the (external)
// code generator.
type Trigger struct {
	Name string
	Kind TriggerKind

	// Offset is the minimum delay applied to every schedule call against
	// this trigger (for timers, the first-firing offset).
	Offset time.Duration
	// Period is the timer re-firing interval; zero means "fires once".
	Period time.Duration
	// MIT is the minimum interarrival time enforced per §4.4; zero disables
	// enforcement entirely (every schedule call is accepted).
	MIT time.Duration
	// Policy governs MIT-violation handling.
	Policy MITPolicy
	// Shape is the token recycle-pool key for payloads carried by this
	// trigger (see TokenStore.Create).
	Shape string

	// Reactions lists every reaction that should be enqueued when this
	// trigger's event fires.
	Reactions []*Reaction
	// Port is set only for KindPort triggers, linking to the backing Port.
	Port *Port

	mu      sync.Mutex
	lastTag Tag
	hasLast bool
}

// NewTrigger returns a Trigger with the given name and kind; other fields
// are typically set via direct struct literal by the code generator, since
// they are purely declarative graph data.
func NewTrigger(name string, kind TriggerKind) *Trigger {
	return &Trigger{Name: name, Kind: kind}
}

// scheduleOutcome is the three-way result taxonomy from §7.
type scheduleOutcome int

const (
	outcomeAccepted scheduleOutcome = iota
	outcomeRejected
	outcomeMisuse
)

// computeIntendedTag applies §4.4 steps 2-3: base is the reaction's current
// tag for logical triggers, or physical "now" for physical ones. "now" is
// always expressed in the same nanoseconds-since-epoch frame as every other
// Tag (physicalLag, timers); epoch is the physical instant Run started.
func (rt *Runtime) computeIntendedTag(trig *Trigger, base Tag, extraDelay time.Duration, isPhysical bool) Tag {
	intended := base.Delay(trig.Offset + extraDelay)
	if isPhysical {
		now := int64(rt.clock.Now().Sub(rt.epoch))
		intended = Tag{Time: max(now, intended.Time)}
	}
	return intended
}

// applyMIT implements §4.4 step 4. It must be called with trig.mu held. It
// returns the (possibly adjusted) tag to use, whether the call is accepted,
// and -- for PolicyReplace with no pending event -- falls back to DROP
// semantics, matching the spec's explicit fallback.
func (trig *Trigger) applyMIT(q *eventQueue, intended Tag) (Tag, bool) {
	if trig.MIT <= 0 || !trig.hasLast {
		return intended, true
	}
	gap := intended.Sub(trig.lastTag)
	if gap >= trig.MIT {
		return intended, true
	}
	switch trig.Policy {
	case PolicyDefer:
		return trig.lastTag.Add(trig.MIT), true
	case PolicyReplace:
		if q.FindPending(trig) != nil {
			return trig.lastTag, true
		}
		return intended, false
	default: // PolicyDrop
		return intended, false
	}
}

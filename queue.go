package reactor

import "container/heap"

// Event is an entry in the event queue: a trigger fired at a tag, carrying
// an optional token payload. next is a chain link for coalesced events of
// the same trigger at the same tag; nothing in this package sets or reads it
// (REPLACE swaps the pending event's token in place instead).
type Event struct {
	Trigger *Trigger
	Tag     Tag
	Token   *Token
	next    *Event

	seq int
	idx int // heap index, for O(log n) Remove
}

// eventQueue is a min-heap of *Event ordered by (Tag, seq), the same
// container/heap-backed min-heap idiom go-eventloop's timerHeap uses for its
// own timer scheduling, generalized from a single time.Time key to the
// two-component Tag.
type eventQueue struct {
	items []*Event
	seq   int
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	heap.Init(q)
	return q
}

func (q *eventQueue) Len() int { return len(q.items) }

func (q *eventQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if c := a.Tag.Compare(b.Tag); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

func (q *eventQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].idx = i
	q.items[j].idx = j
}

func (q *eventQueue) Push(x any) {
	e := x.(*Event)
	e.idx = len(q.items)
	q.items = append(q.items, e)
}

func (q *eventQueue) Pop() any {
	old := q.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.idx = -1
	q.items = old[:n-1]
	return e
}

// PushEvent inserts e, assigning it a monotonic sequence number for stable
// tie-breaking among equal tags.
func (q *eventQueue) PushEvent(e *Event) {
	q.seq++
	e.seq = q.seq
	heap.Push(q, e)
}

// PeekMin returns the minimum-tag event without removing it, or nil if the
// queue is empty.
func (q *eventQueue) PeekMin() *Event {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// PopMin removes and returns the minimum-tag event, or nil if empty.
func (q *eventQueue) PopMin() *Event {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*Event)
}

// Remove removes e from the queue in O(log n), using its stored heap index.
// It is a no-op if e is not currently in this queue.
func (q *eventQueue) Remove(e *Event) {
	if e.idx < 0 || e.idx >= len(q.items) || q.items[e.idx] != e {
		return
	}
	heap.Remove(q, e.idx)
}

// FindPending returns the latest-tagged currently-queued event for trigger,
// if any -- used by the REPLACE MIT policy to locate the event at the
// trigger's last_tag, whose token should be swapped in place, per §4.4 step 4.
func (q *eventQueue) FindPending(trig *Trigger) *Event {
	var found *Event
	for _, e := range q.items {
		if e.Trigger == trig && (found == nil || e.Tag.After(found.Tag)) {
			found = e
		}
	}
	return found
}

// reactionIndex is the composite dispatch priority described in §4.3 and §9:
// the high 48 bits hold the reaction's deadline (nanoseconds, clamped to fit),
// the low 16 bits hold its topological level. Smaller indexes run first,
// implementing earliest-deadline-first with level as a tiebreaker. This
// layout is a documented contract, not an implementation detail, precisely
// so the comparator can later be replaced by a structured-tuple comparison
// without touching callers.
type reactionIndex uint64

const reactionLevelBits = 16
const reactionLevelMask = (1 << reactionLevelBits) - 1
const maxReactionLevel = reactionLevelMask

func makeReactionIndex(deadlineNanos int64, level int) reactionIndex {
	if level < 0 {
		level = 0
	}
	if level > maxReactionLevel {
		level = maxReactionLevel
	}
	const maxDeadline = 1<<(64-reactionLevelBits) - 1
	if deadlineNanos < 0 {
		deadlineNanos = 0
	}
	d := uint64(deadlineNanos)
	if d > maxDeadline {
		d = maxDeadline
	}
	return reactionIndex(d<<reactionLevelBits | uint64(level&reactionLevelMask))
}

// reactionQueue is a min-heap of *Reaction ordered by (index, seq).
type reactionQueue struct {
	items []*Reaction
	seq   int
}

func newReactionQueue() *reactionQueue {
	q := &reactionQueue{}
	heap.Init(q)
	return q
}

func (q *reactionQueue) Len() int { return len(q.items) }

func (q *reactionQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.index != b.index {
		return a.index < b.index
	}
	return a.seq < b.seq
}

func (q *reactionQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].heapIdx = i
	q.items[j].heapIdx = j
}

func (q *reactionQueue) Push(x any) {
	r := x.(*Reaction)
	r.heapIdx = len(q.items)
	q.items = append(q.items, r)
}

func (q *reactionQueue) Pop() any {
	old := q.items
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIdx = -1
	q.items = old[:n-1]
	return r
}

// PushReaction enqueues r, recomputing its index from its current Deadline
// and Level, and assigning a fresh sequence number.
func (q *reactionQueue) PushReaction(r *Reaction) {
	q.seq++
	r.seq = q.seq
	r.index = makeReactionIndex(int64(r.Deadline), r.Level)
	r.Status = StatusQueued
	heap.Push(q, r)
}

// PopMin removes and returns the lowest-index reaction, or nil if empty.
func (q *reactionQueue) PopMin() *Reaction {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*Reaction)
}

func (q *reactionQueue) PeekMin() *Reaction {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// PopReady scans the queue for the highest-priority (lowest index) reaction
// for which ready returns true, removes it, and returns it. It returns nil
// if no queued reaction is currently ready -- used by dispatch to honor the
// level/chain-mask dependency ordering described in §4.5 and §9, which the
// heap's (deadline, level) priority alone does not encode: a reaction low in
// priority order may still be the only one ready to run if everything ahead
// of it is blocked on an incomplete lower-level reaction sharing a chain.
//
// A linear scan is acceptable here: the queue only ever holds the reactions
// belonging to a single logical step, which in practice is a small working
// set relative to the whole reactor graph.
func (q *reactionQueue) PopReady(ready func(*Reaction) bool) *Reaction {
	best := -1
	for i, r := range q.items {
		if !ready(r) {
			continue
		}
		if best == -1 || q.Less(i, best) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	return heap.Remove(q, best).(*Reaction)
}

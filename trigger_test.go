package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrigger_ApplyMIT_NoEnforcementWhenZero(t *testing.T) {
	trig := NewTrigger("a", KindLogicalAction)
	q := newEventQueue()
	tag, ok := trig.applyMIT(q, Tag{Time: int64(5 * time.Millisecond)})
	require.True(t, ok)
	require.Equal(t, int64(5*time.Millisecond), tag.Time)
}

func TestTrigger_ApplyMIT_FirstCallAlwaysAccepted(t *testing.T) {
	trig := NewTrigger("a", KindLogicalAction)
	trig.MIT = time.Millisecond
	q := newEventQueue()
	tag, ok := trig.applyMIT(q, Tag{Time: int64(time.Microsecond)})
	require.True(t, ok)
	require.Equal(t, int64(time.Microsecond), tag.Time)
}

func TestTrigger_ApplyMIT_Drop(t *testing.T) {
	trig := NewTrigger("a", KindLogicalAction)
	trig.MIT = time.Millisecond
	trig.Policy = PolicyDrop
	trig.lastTag = Tag{Time: 0}
	trig.hasLast = true

	q := newEventQueue()
	_, ok := trig.applyMIT(q, Tag{Time: int64(500 * time.Microsecond)})
	require.False(t, ok)
}

func TestTrigger_ApplyMIT_Defer(t *testing.T) {
	trig := NewTrigger("a", KindLogicalAction)
	trig.MIT = time.Millisecond
	trig.Policy = PolicyDefer
	trig.lastTag = Tag{Time: 0}
	trig.hasLast = true

	q := newEventQueue()
	tag, ok := trig.applyMIT(q, Tag{Time: int64(500 * time.Microsecond)})
	require.True(t, ok)
	require.Equal(t, int64(time.Millisecond), tag.Time)
}

func TestTrigger_ApplyMIT_ReplaceFallsBackToDropWhenNothingPending(t *testing.T) {
	trig := NewTrigger("a", KindLogicalAction)
	trig.MIT = time.Millisecond
	trig.Policy = PolicyReplace
	trig.lastTag = Tag{Time: 0}
	trig.hasLast = true

	q := newEventQueue()
	_, ok := trig.applyMIT(q, Tag{Time: int64(500 * time.Microsecond)})
	require.False(t, ok)
}

func TestTrigger_ApplyMIT_ReplaceReusesPendingTag(t *testing.T) {
	trig := NewTrigger("a", KindLogicalAction)
	trig.MIT = time.Millisecond
	trig.Policy = PolicyReplace
	trig.lastTag = Tag{Time: int64(2 * time.Millisecond)}
	trig.hasLast = true

	q := newEventQueue()
	q.PushEvent(&Event{Trigger: trig, Tag: trig.lastTag})

	tag, ok := trig.applyMIT(q, Tag{Time: int64(2*time.Millisecond + 100)})
	require.True(t, ok)
	require.Equal(t, trig.lastTag, tag)
}

func TestRuntime_ComputeIntendedTag_LogicalOffsetOnly(t *testing.T) {
	rt := New(WithClock(newManualClock(time.Unix(0, 0))))
	trig := NewTrigger("a", KindLogicalAction)
	trig.Offset = 10 * time.Millisecond

	intended := rt.computeIntendedTag(trig, Tag{Time: int64(time.Millisecond)}, 0, false)
	require.Equal(t, int64(11*time.Millisecond), intended.Time)
}

func TestRuntime_ComputeIntendedTag_PhysicalClampsToNow(t *testing.T) {
	clk := newManualClock(time.Unix(0, int64(100*time.Millisecond)))
	rt := New(WithClock(clk))
	rt.epoch = time.Unix(0, 0) // simulates Run having started at logical tag 0
	trig := NewTrigger("p", KindPhysicalAction)

	intended := rt.computeIntendedTag(trig, ZeroTag, 0, true)
	require.Equal(t, int64(100*time.Millisecond), intended.Time)
}

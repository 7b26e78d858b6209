package reactor

import (
	"fmt"
	"math"
	"time"
)

// Forever is the sentinel time value meaning "no upper bound". It is the
// saturating ceiling for all tag arithmetic.
const Forever int64 = math.MaxInt64

// Tag is the logical ordering coordinate attached to every event and to the
// scheduler's notion of "now". Tags are totally ordered, lexicographically,
// by (Time, Microstep).
type Tag struct {
	// Time is nanoseconds since the runtime's logical epoch (start time).
	Time int64
	// Microstep distinguishes successive events at the same Time.
	Microstep uint32
}

// ZeroTag is the tag of the first logical instant, (0, 0).
var ZeroTag = Tag{}

// NewTag returns the tag (t, microstep).
func NewTag(t int64, microstep uint32) Tag {
	return Tag{Time: t, Microstep: microstep}
}

// ForeverTag is the tag representing "never", used as an absent stop_tag.
var ForeverTag = Tag{Time: Forever}

// Compare returns -1, 0, or 1 as a orders before, equal to, or after b.
func (a Tag) Compare(b Tag) int {
	switch {
	case a.Time < b.Time:
		return -1
	case a.Time > b.Time:
		return 1
	case a.Microstep < b.Microstep:
		return -1
	case a.Microstep > b.Microstep:
		return 1
	default:
		return 0
	}
}

// Before reports whether a orders strictly before b.
func (a Tag) Before(b Tag) bool { return a.Compare(b) < 0 }

// After reports whether a orders strictly after b.
func (a Tag) After(b Tag) bool { return a.Compare(b) > 0 }

// Equal reports whether a and b are the same tag.
func (a Tag) Equal(b Tag) bool { return a == b }

// Add returns a tag whose Time is advanced by delay nanoseconds, saturating
// at Forever, with Microstep reset to zero. A negative delay is treated as
// zero advance (callers are expected to validate delays upstream).
func (a Tag) Add(delay time.Duration) Tag {
	if delay <= 0 {
		return Tag{Time: a.Time, Microstep: a.Microstep}
	}
	return Tag{Time: addSaturating(a.Time, int64(delay))}
}

// Delay implements tag_delay: a zero-or-negative delay yields the same
// instant with the microstep incremented (a "superdense" step); a positive
// delay yields (Time+delay, 0).
func (a Tag) Delay(delay time.Duration) Tag {
	if delay > 0 {
		return Tag{Time: addSaturating(a.Time, int64(delay))}
	}
	return Tag{Time: a.Time, Microstep: a.Microstep + 1}
}

// Sub returns a-b as a duration, saturating at the representable range. Used
// only for MIT comparisons, where both operands are finite in practice.
func (a Tag) Sub(b Tag) time.Duration {
	if a.Time == Forever && b.Time != Forever {
		return time.Duration(math.MaxInt64)
	}
	d := a.Time - b.Time
	return time.Duration(d)
}

// IsForever reports whether the tag carries the "no upper bound" sentinel.
func (a Tag) IsForever() bool { return a.Time == Forever }

func (a Tag) String() string {
	if a.IsForever() {
		return "(forever)"
	}
	return fmt.Sprintf("(%s,%d)", time.Duration(a.Time), a.Microstep)
}

func addSaturating(base, delta int64) int64 {
	if delta > 0 && base > Forever-delta {
		return Forever
	}
	if delta < 0 && base < math.MinInt64-delta {
		return math.MinInt64
	}
	return base + delta
}

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTag_Compare(t *testing.T) {
	a := NewTag(10, 0)
	b := NewTag(10, 1)
	c := NewTag(20, 0)

	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, -1, a.Compare(c))
	require.Equal(t, 0, a.Compare(a))
	require.True(t, a.Before(b))
	require.True(t, c.After(b))
}

func TestTag_Delay(t *testing.T) {
	base := NewTag(100, 5)

	require.Equal(t, NewTag(100, 6), base.Delay(0))
	require.Equal(t, NewTag(100, 6), base.Delay(-1))
	require.Equal(t, NewTag(150, 0), base.Delay(50))
}

func TestTag_Add_SaturatesAtForever(t *testing.T) {
	base := NewTag(Forever-10, 0)
	got := base.Add(100)
	require.True(t, got.IsForever())
	require.Equal(t, Forever, got.Time)
}

func TestTag_Add_ZeroOrNegativeKeepsMicrostep(t *testing.T) {
	base := NewTag(10, 3)
	require.Equal(t, base, base.Add(0))
	require.Equal(t, base, base.Add(-5))
}

func TestTag_Sub(t *testing.T) {
	a := NewTag(int64(20*time.Millisecond), 0)
	b := NewTag(int64(10*time.Millisecond), 0)
	require.Equal(t, 10*time.Millisecond, a.Sub(b))
}

func TestForeverTag(t *testing.T) {
	require.True(t, ForeverTag.IsForever())
	require.True(t, ForeverTag.After(NewTag(1<<40, 0)))
}

package reactor

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatencyQuantiles_ConvergesOnUniformDistribution(t *testing.T) {
	q := newLatencyQuantiles(0.5, 0.9, 0.99)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 20000; i++ {
		q.Observe(rng.Float64() * 1000)
	}

	require.InDelta(t, 500, q.Quantile(0), 40)
	require.InDelta(t, 900, q.Quantile(1), 40)
	require.InDelta(t, 990, q.Quantile(2), 40)
	require.Equal(t, 20000, q.Count())
}

func TestLatencyQuantiles_FewSamples(t *testing.T) {
	q := newLatencyQuantiles(0.5)
	q.Observe(10)
	q.Observe(20)
	q.Observe(30)

	require.Equal(t, 3, q.Count())
	require.Equal(t, float64(20), q.Mean())
	require.Equal(t, float64(30), q.Max())
}

func TestMetrics_RecordDispatchAndDeadlineLag(t *testing.T) {
	m := newMetrics()

	m.recordDispatch(5 * time.Millisecond)
	m.recordDispatch(10 * time.Millisecond)
	m.recordDeadlineLag(2*time.Millisecond, false)
	m.recordDeadlineLag(20*time.Millisecond, true)

	require.EqualValues(t, 2, m.ReactionsDispatched())
	require.EqualValues(t, 1, m.DeadlinesMissed())

	snap := m.DispatchLatency()
	require.Equal(t, 2, snap.Count)

	dsnap := m.DeadlineLag()
	require.Equal(t, 2, dsnap.Count)
}

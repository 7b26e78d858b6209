package reactor

import "math"

// streamingQuantile implements the P² algorithm for streaming quantile
// estimation: O(1) per-observation update and O(1) quantile retrieval,
// without storing the observations themselves. Used by Metrics to track
// reaction dispatch and deadline-handler latency distributions without
// allocating per-sample (§4.7: deadline latency metrics are "purely
// observational" and must not add overhead proportional to reaction rate).
//
// Reference: Jain, R. and Chlamtac, I. (1985). "The P² Algorithm for Dynamic
// Calculation of Quantiles and Histograms Without Storing Observations".
// Communications of the ACM, 28(10), pp. 1076-1085.
//
// Not thread-safe; callers serialize access (Metrics does, via a mutex).
type streamingQuantile struct {
	target float64 // the quantile being tracked, in [0,1]

	height [5]float64 // marker heights (current quantile estimates per marker)
	pos    [5]int     // marker positions
	desPos [5]float64 // desired (ideal, fractional) marker positions
	posInc [5]float64 // increments applied to desPos per observation

	seeded bool
	count  int
	seed   [5]float64 // buffers the first 5 observations before seeding
}

func newStreamingQuantile(target float64) *streamingQuantile {
	if target < 0 {
		target = 0
	}
	if target > 1 {
		target = 1
	}
	return &streamingQuantile{
		target: target,
		posInc: [5]float64{0, target / 2, target, (1 + target) / 2, 1},
	}
}

// Observe records one latency sample.
func (sq *streamingQuantile) Observe(x float64) {
	sq.count++

	if sq.count <= 5 {
		sq.seed[sq.count-1] = x
		if sq.count == 5 {
			sq.seedMarkers()
		}
		return
	}

	var k int
	switch {
	case x < sq.height[0]:
		sq.height[0] = x
		k = 0
	case x >= sq.height[4]:
		sq.height[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if sq.height[k] <= x && x < sq.height[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		sq.pos[i]++
	}
	for i := 0; i < 5; i++ {
		sq.desPos[i] += sq.posInc[i]
	}

	for i := 1; i < 4; i++ {
		d := sq.desPos[i] - float64(sq.pos[i])
		if (d >= 1 && sq.pos[i+1]-sq.pos[i] > 1) || (d <= -1 && sq.pos[i-1]-sq.pos[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			adjusted := sq.parabolicAdjust(i, sign)
			if sq.height[i-1] < adjusted && adjusted < sq.height[i+1] {
				sq.height[i] = adjusted
			} else {
				sq.height[i] = sq.linearAdjust(i, sign)
			}
			sq.pos[i] += sign
		}
	}
}

func (sq *streamingQuantile) seedMarkers() {
	insertionSort5(&sq.seed)
	for i := 0; i < 5; i++ {
		sq.height[i] = sq.seed[i]
		sq.pos[i] = i
	}
	sq.desPos = [5]float64{0, 2 * sq.target, 4 * sq.target, 2 + 2*sq.target, 4}
	sq.seeded = true
}

func (sq *streamingQuantile) parabolicAdjust(i, d int) float64 {
	df := float64(d)
	ni := float64(sq.pos[i])
	niPrev := float64(sq.pos[i-1])
	niNext := float64(sq.pos[i+1])

	term1 := df / (niNext - niPrev)
	term2 := (ni - niPrev + df) * (sq.height[i+1] - sq.height[i]) / (niNext - ni)
	term3 := (niNext - ni - df) * (sq.height[i] - sq.height[i-1]) / (ni - niPrev)
	return sq.height[i] + term1*(term2+term3)
}

func (sq *streamingQuantile) linearAdjust(i, d int) float64 {
	if d == 1 {
		return sq.height[i] + (sq.height[i+1]-sq.height[i])/float64(sq.pos[i+1]-sq.pos[i])
	}
	return sq.height[i] - (sq.height[i]-sq.height[i-1])/float64(sq.pos[i]-sq.pos[i-1])
}

// Value returns the current quantile estimate.
func (sq *streamingQuantile) Value() float64 {
	if sq.count == 0 {
		return 0
	}
	if sq.count < 5 {
		sorted := sq.seed
		insertionSortN(sorted[:sq.count])
		idx := int(float64(sq.count-1) * sq.target)
		if idx >= sq.count {
			idx = sq.count - 1
		}
		return sorted[idx]
	}
	return sq.height[2]
}

func insertionSort5(a *[5]float64) { insertionSortN(a[:]) }

func insertionSortN(a []float64) {
	for i := 1; i < len(a); i++ {
		key := a[i]
		j := i - 1
		for j >= 0 && a[j] > key {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = key
	}
}

// latencyQuantiles tracks several target quantiles (e.g. P50/P90/P95/P99)
// over the same stream of observations, plus running sum/count/max, used by
// Metrics for both reaction-dispatch and deadline-handler latency.
//
// Not thread-safe; Metrics guards access with a mutex.
type latencyQuantiles struct {
	tracked []*streamingQuantile
	sum     float64
	count   int
	max     float64
}

func newLatencyQuantiles(targets ...float64) *latencyQuantiles {
	m := &latencyQuantiles{
		tracked: make([]*streamingQuantile, len(targets)),
		max:     -math.MaxFloat64,
	}
	for i, p := range targets {
		m.tracked[i] = newStreamingQuantile(p)
	}
	return m
}

func (m *latencyQuantiles) Observe(x float64) {
	m.count++
	m.sum += x
	if x > m.max {
		m.max = x
	}
	for _, t := range m.tracked {
		t.Observe(x)
	}
}

func (m *latencyQuantiles) Quantile(i int) float64 {
	if i < 0 || i >= len(m.tracked) {
		return 0
	}
	return m.tracked[i].Value()
}

func (m *latencyQuantiles) Count() int { return m.count }

func (m *latencyQuantiles) Sum() float64 { return m.sum }

func (m *latencyQuantiles) Max() float64 {
	if m.count == 0 {
		return 0
	}
	return m.max
}

func (m *latencyQuantiles) Mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

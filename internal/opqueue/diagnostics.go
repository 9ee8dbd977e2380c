package opqueue

import (
	"sort"
	"sync"
)

// reservoirSize bounds how many wait/exec-time samples are kept for
// percentile estimation. A fixed-size reservoir avoids unbounded memory on
// a long-running player without requiring an external metrics dependency
// (see DESIGN.md: metrics export belongs to the host application, so this
// package keeps a queryable snapshot rather than wiring a metrics client).
const reservoirSize = 512

// reservoir is a simple fixed-capacity ring used for percentile sampling:
// once full, each new sample overwrites the oldest. Not a statistically
// unbiased reservoir sample (that would require random eviction); a ring is
// the right tradeoff here since recent latency is what diagnostics callers
// care about, not a uniform sample over the player's whole lifetime.
type reservoir struct {
	samples []float64
	next    int
	full    bool
}

func newReservoir() *reservoir {
	return &reservoir{samples: make([]float64, reservoirSize)}
}

func (r *reservoir) add(v float64) {
	r.samples[r.next] = v
	r.next = (r.next + 1) % reservoirSize
	if r.next == 0 {
		r.full = true
	}
}

func (r *reservoir) percentiles() (p50, p95, p99 float64) {
	n := r.next
	if r.full {
		n = reservoirSize
	}
	if n == 0 {
		return 0, 0, 0
	}
	sorted := append([]float64(nil), r.samples[:n]...)
	sort.Float64s(sorted)
	pick := func(p float64) float64 {
		idx := int(p * float64(n-1))
		return sorted[idx]
	}
	return pick(0.50), pick(0.95), pick(0.99)
}

// Snapshot is a point-in-time diagnostics read, per §4.6's "Optional
// diagnostics surface".
type Snapshot struct {
	QueueDepthCurrent int
	QueueDepthPeak    int

	WaitP50Ms, WaitP95Ms, WaitP99Ms float64
	ExecP50Ms, ExecP95Ms, ExecP99Ms float64

	TotalCancellations uint64
	TotalExecuted       uint64
	UtilizationRate     float64 // fraction of elapsed wall time spent executing an operation
}

// diagnostics accumulates the data behind Snapshot. It guards its own
// fields with mu, so its methods do not rely on the queue's mutex.
type diagnostics struct {
	mu sync.Mutex

	depthCurrent int
	depthPeak    int

	wait *reservoir
	exec *reservoir

	cancellations uint64
	executed      uint64

	busyNanos  int64
	totalNanos int64
}

func newDiagnostics() *diagnostics {
	return &diagnostics{wait: newReservoir(), exec: newReservoir()}
}

func (d *diagnostics) setDepth(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depthCurrent = n
	if n > d.depthPeak {
		d.depthPeak = n
	}
}

func (d *diagnostics) recordWaitMs(ms float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wait.add(ms)
}

func (d *diagnostics) recordExecMs(ms float64, busyNanos int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exec.add(ms)
	d.executed++
	d.busyNanos += busyNanos
}

func (d *diagnostics) recordCancellation() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancellations++
}

func (d *diagnostics) recordElapsed(nanos int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totalNanos += nanos
}

func (d *diagnostics) snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	wp50, wp95, wp99 := d.wait.percentiles()
	ep50, ep95, ep99 := d.exec.percentiles()

	var util float64
	if d.totalNanos > 0 {
		util = float64(d.busyNanos) / float64(d.totalNanos)
	}

	return Snapshot{
		QueueDepthCurrent:   d.depthCurrent,
		QueueDepthPeak:      d.depthPeak,
		WaitP50Ms:           wp50,
		WaitP95Ms:           wp95,
		WaitP99Ms:           wp99,
		ExecP50Ms:           ep50,
		ExecP95Ms:           ep95,
		ExecP99Ms:           ep99,
		TotalCancellations:  d.cancellations,
		TotalExecuted:       d.executed,
		UtilizationRate:     util,
	}
}

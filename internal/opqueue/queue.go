// Package opqueue implements the Operation Queue (§4.6): a single-consumer
// cooperative queue that serializes every external command against the
// Main Playback Core and Overlay Voice, consults the Player Lifecycle State
// Machine before running each one, and supports Critical-priority
// preemption plus skip-command rate limiting.
package opqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duskcairn/meditationplayer/internal/lifecycle"
	"github.com/duskcairn/meditationplayer/internal/logging"
)

// Priority is the level a submitted Operation carries.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// Errors returned by Submit/the operation's result.
var (
	ErrInvalidState = errors.New("opqueue: operation not permitted in current lifecycle state")
	ErrRateLimited  = errors.New("opqueue: rate limited by a recent request with the same collapse key")
	ErrCancelled    = errors.New("opqueue: cancelled by a higher-priority operation")
	ErrClosed       = errors.New("opqueue: queue is closed")
)

// collapseWindow is the rate-limiting window for collapsible operations
// (§4.6: "consecutive user-initiated skip commands separated by < 500 ms
// are collapsed").
const collapseWindow = 500 * time.Millisecond

// Operation is one unit of work submitted to the queue.
type Operation struct {
	ID       uuid.UUID
	Kind     string
	Priority Priority

	// Event is checked against the lifecycle machine before Run executes;
	// if illegal, Run never runs and Submit's result is ErrInvalidState.
	Event lifecycle.Event

	// CollapseKey groups rate-limited operations (e.g. "skip"); empty means
	// no collapsing applies.
	CollapseKey string
	// AllowCollapse: true means a newer submission with the same
	// CollapseKey inside collapseWindow cancels the earlier one and wins.
	// false means the newer submission is itself rejected with
	// ErrRateLimited instead.
	AllowCollapse bool

	// Run does the actual work, observing ctx for cooperative cancellation
	// (Critical preemption or Cancel/Close).
	Run func(ctx context.Context) error
}

type pendingOp struct {
	op         Operation
	enqueuedAt time.Time
	seq        int64
	resultCh   chan error

	mu     sync.Mutex
	cancel context.CancelFunc // set once the op starts running
}

// priorityHeap orders pendingOps by Priority (higher first), then by
// arrival order (seq ascending) within the same priority.
type priorityHeap []*pendingOp

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].op.Priority != h[j].op.Priority {
		return h[i].op.Priority > h[j].op.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*pendingOp)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the single-consumer cooperative operation queue.
type Queue struct {
	log       logging.Logger
	lifecycle *lifecycle.Machine

	mu         sync.Mutex
	pending    priorityHeap
	nextSeq    int64
	running    *pendingOp
	lastSubmit map[string]*pendingOp
	closed     bool
	wakeCh     chan struct{}

	diag *diagnostics
}

// New returns a Queue consulting m before running every operation.
func New(log logging.Logger, m *lifecycle.Machine) *Queue {
	q := &Queue{
		log:        log,
		lifecycle:  m,
		lastSubmit: make(map[string]*pendingOp),
		wakeCh:     make(chan struct{}, 1),
		diag:       newDiagnostics(),
	}
	heap.Init(&q.pending)
	go q.run()
	return q
}

// Submit enqueues op and blocks until it has been executed, cancelled, or
// rejected, returning whatever error resulted (nil on success).
func (q *Queue) Submit(op Operation) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	p := &pendingOp{op: op, enqueuedAt: time.Now(), resultCh: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	if op.CollapseKey != "" {
		if prior, ok := q.lastSubmit[op.CollapseKey]; ok && time.Since(prior.enqueuedAt) < collapseWindow {
			if !op.AllowCollapse {
				q.mu.Unlock()
				return ErrRateLimited
			}
			q.cancelLocked(prior)
		}
		q.lastSubmit[op.CollapseKey] = p
	}

	p.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.pending, p)
	q.diag.setDepth(q.pending.Len())

	if op.Priority == Critical && q.running != nil {
		q.cancelLocked(q.running)
	}
	q.mu.Unlock()

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}

	return <-p.resultCh
}

// cancelLocked requests cooperative cancellation of p. Called with q.mu
// held. If p hasn't started running yet, it is simply removed from the
// heap and failed with ErrCancelled; Run never executes for it.
func (q *Queue) cancelLocked(p *pendingOp) {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	if idx := q.indexOfLocked(p); idx >= 0 {
		heap.Remove(&q.pending, idx)
		q.diag.setDepth(q.pending.Len())
		q.diag.recordCancellation()
		select {
		case p.resultCh <- ErrCancelled:
		default:
		}
	}
}

func (q *Queue) indexOfLocked(p *pendingOp) int {
	for i, o := range q.pending {
		if o == p {
			return i
		}
	}
	return -1
}

// run is the single cooperative worker goroutine.
func (q *Queue) run() {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if q.pending.Len() == 0 {
			q.mu.Unlock()
			<-q.wakeCh
			continue
		}
		p := heap.Pop(&q.pending).(*pendingOp)
		q.diag.setDepth(q.pending.Len())
		waitMs := float64(time.Since(p.enqueuedAt).Microseconds()) / 1000
		q.diag.recordWaitMs(waitMs)

		if q.lifecycle != nil && !q.lifecycle.CanApply(p.op.Event) {
			q.mu.Unlock()
			q.log.Warn().Str("kind", p.op.Kind).Str("event", p.op.Event.String()).Msg("operation rejected: invalid lifecycle state")
			p.resultCh <- ErrInvalidState
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.mu.Lock()
		p.cancel = cancel
		p.mu.Unlock()
		q.running = p
		q.mu.Unlock()

		start := time.Now()
		err := p.op.Run(ctx)
		elapsed := time.Since(start)
		cancel()

		q.mu.Lock()
		q.running = nil
		q.diag.recordExecMs(float64(elapsed.Microseconds())/1000, elapsed.Nanoseconds())
		q.diag.recordElapsed(elapsed.Nanoseconds())
		if errors.Is(ctx.Err(), context.Canceled) && err == nil {
			err = ErrCancelled
			q.diag.recordCancellation()
		}
		q.mu.Unlock()

		p.resultCh <- err
	}
}

// Snapshot returns the current diagnostics surface.
func (q *Queue) Snapshot() Snapshot {
	return q.diag.snapshot()
}

// Close stops accepting new operations and cancels the in-flight one.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.running != nil {
		q.cancelLocked(q.running)
	}
	for q.pending.Len() > 0 {
		p := heap.Pop(&q.pending).(*pendingOp)
		select {
		case p.resultCh <- ErrClosed:
		default:
		}
	}
	q.mu.Unlock()

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

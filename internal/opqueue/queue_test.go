package opqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/duskcairn/meditationplayer/internal/lifecycle"
	"github.com/duskcairn/meditationplayer/internal/logging"
)

func newTestQueue() *Queue {
	m := lifecycle.New()
	m.Apply(lifecycle.Start, nil) // -> Preparing
	m.Apply(lifecycle.Start, nil) // -> Playing
	return New(logging.Discard(), m)
}

func TestSubmitExecutesInOrder(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	var mu sync.Mutex
	var order []int
	run := func(n int) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		n := i
		go func() {
			defer wg.Done()
			err := q.Submit(Operation{Kind: "t", Priority: Normal, Event: lifecycle.Pause, Run: run(n)})
			if err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
		time.Sleep(5 * time.Millisecond) // keep submission order deterministic
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("order = %v, want 3 entries", order)
	}
	for i, n := range order {
		if n != i {
			t.Fatalf("order = %v, want [0 1 2]", order)
		}
	}
}

func TestInvalidStateRejectedWithoutRunning(t *testing.T) {
	q := newTestQueue() // lifecycle is Playing
	defer q.Close()

	ran := false
	err := q.Submit(Operation{
		Kind:     "resume",
		Priority: Normal,
		Event:    lifecycle.Resume, // illegal from Playing
		Run: func(ctx context.Context) error {
			ran = true
			return nil
		},
	})
	if err != ErrInvalidState {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if ran {
		t.Error("Run should not have executed for an illegal transition")
	}
}

func TestCriticalPreemptsRunning(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	started := make(chan struct{})
	longOpErr := make(chan error, 1)
	go func() {
		longOpErr <- q.Submit(Operation{
			Kind:     "long",
			Priority: Normal,
			Event:    lifecycle.Pause,
			Run: func(ctx context.Context) error {
				close(started)
				<-ctx.Done()
				return ctx.Err()
			},
		})
	}()
	<-started

	criticalRan := false
	err := q.Submit(Operation{
		Kind:     "stop",
		Priority: Critical,
		Event:    lifecycle.Stop,
		Run: func(ctx context.Context) error {
			criticalRan = true
			return nil
		},
	})
	if err != nil {
		t.Fatalf("critical Submit err = %v", err)
	}
	if !criticalRan {
		t.Error("critical operation should have run")
	}

	if got := <-longOpErr; !errors.Is(got, context.Canceled) && got != ErrCancelled {
		t.Errorf("preempted op result = %v, want context.Canceled or ErrCancelled", got)
	}
}

func TestCollapsingRateLimitsSkips(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	block := make(chan struct{})
	go q.Submit(Operation{
		Kind: "occupy", Priority: Normal, Event: lifecycle.Pause,
		Run: func(ctx context.Context) error { <-block; return nil },
	})
	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Submit(Operation{
			Kind: "skip", Priority: Normal, Event: lifecycle.Pause,
			CollapseKey: "skip", AllowCollapse: false,
			Run: func(ctx context.Context) error { return nil },
		})
	}()
	time.Sleep(5 * time.Millisecond)

	err := q.Submit(Operation{
		Kind: "skip", Priority: Normal, Event: lifecycle.Pause,
		CollapseKey: "skip", AllowCollapse: false,
		Run: func(ctx context.Context) error { return nil },
	})
	if err != ErrRateLimited {
		t.Fatalf("second rapid skip = %v, want ErrRateLimited", err)
	}
	close(block)
	wg.Wait()
}

func TestDiagnosticsSnapshotTracksExecutions(t *testing.T) {
	q := newTestQueue()
	defer q.Close()

	for i := 0; i < 5; i++ {
		q.Submit(Operation{
			Kind: "t", Priority: Normal, Event: lifecycle.Pause,
			Run: func(ctx context.Context) error { return nil },
		})
	}
	snap := q.Snapshot()
	if snap.TotalExecuted != 5 {
		t.Errorf("TotalExecuted = %d, want 5", snap.TotalExecuted)
	}
}

func TestCloseRejectsFurtherSubmissions(t *testing.T) {
	q := newTestQueue()
	q.Close()
	err := q.Submit(Operation{Kind: "t", Priority: Normal, Event: lifecycle.Pause, Run: func(ctx context.Context) error { return nil }})
	if err != ErrClosed {
		t.Fatalf("Submit after Close = %v, want ErrClosed", err)
	}
}

package fade

import (
	"sync"
	"testing"
	"time"

	"github.com/duskcairn/meditationplayer/internal/logging"
)

type recordingGain struct {
	mu     sync.Mutex
	values []float64
}

func (g *recordingGain) SetGain(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values = append(g.values, v)
}

func (g *recordingGain) last() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.values) == 0 {
		return -1
	}
	return g.values[len(g.values)-1]
}

func TestFadeZeroDurationSetsInstantly(t *testing.T) {
	e := New(logging.Discard())
	g := &recordingGain{}
	task := e.Fade(g, 0, 1, 0, Linear)
	if err := task.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := g.last(); got != 1 {
		t.Errorf("gain = %v, want 1", got)
	}
}

func TestFadeNoopWhenFromEqualsTo(t *testing.T) {
	e := New(logging.Discard())
	g := &recordingGain{}
	task := e.Fade(g, 0.5, 0.5, 5*time.Second, EqualPower)
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("no-op fade did not complete immediately")
	}
}

func TestFadeReachesTarget(t *testing.T) {
	e := New(logging.Discard())
	g := &recordingGain{}
	task := e.Fade(g, 0, 1, 30*time.Millisecond, Linear)
	if err := task.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := g.last(); got != 1 {
		t.Errorf("final gain = %v, want 1", got)
	}
}

func TestFadeCancelFreezesGain(t *testing.T) {
	e := New(logging.Discard())
	g := &recordingGain{}
	task := e.Fade(g, 0, 1, 2*time.Second, Linear)

	time.Sleep(40 * time.Millisecond) // let a few ticks land
	task.Cancel()
	if err := task.Wait(); err != ErrCancelled {
		t.Fatalf("Wait() = %v, want ErrCancelled", err)
	}

	frozen := g.last()
	if frozen <= 0 || frozen >= 1 {
		t.Errorf("gain after cancel = %v, want strictly between 0 and 1 (not snapped)", frozen)
	}

	// Gain must not change after cancellation is observed.
	time.Sleep(30 * time.Millisecond)
	if got := g.last(); got != frozen {
		t.Errorf("gain changed after cancel: %v -> %v", frozen, got)
	}
}

func TestCrossfadeComplementary(t *testing.T) {
	e := New(logging.Discard())
	gf, gt := &recordingGain{}, &recordingGain{}
	task := e.Crossfade(gf, gt, 30*time.Millisecond, EqualPower)
	if err := task.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := gf.last(); got > 1e-6 {
		t.Errorf("from-gain at completion = %v, want ~0", got)
	}
	if got := gt.last(); got < 1-1e-6 {
		t.Errorf("to-gain at completion = %v, want ~1", got)
	}
}

func TestCrossfadeFromResumesAtProgress(t *testing.T) {
	e := New(logging.Discard())
	gf, gt := &recordingGain{}, &recordingGain{}
	// Resume from the midpoint with a short remaining duration; should reach
	// the endpoints quickly and never go backwards.
	task := e.CrossfadeFrom(gf, gt, 20*time.Millisecond, EqualPower, 0.5)
	if err := task.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := gf.last(); got > 1e-6 {
		t.Errorf("from-gain at completion = %v, want ~0", got)
	}
	if got := gt.last(); got < 1-1e-6 {
		t.Errorf("to-gain at completion = %v, want ~1", got)
	}
}

func TestCrossfadeZeroDuration(t *testing.T) {
	e := New(logging.Discard())
	gf, gt := &recordingGain{}, &recordingGain{}
	task := e.Crossfade(gf, gt, 0, Linear)
	if err := task.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if gf.last() != 0 || gt.last() != 1 {
		t.Errorf("zero-duration crossfade gains = (%v, %v), want (0, 1)", gf.last(), gt.last())
	}
}

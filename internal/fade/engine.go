package fade

import (
	"sync/atomic"
	"time"

	"github.com/duskcairn/meditationplayer/internal/logging"
)

// tickInterval is the software ramp rate: at least 100 Hz, matching the
// cancellation-observation requirement in the fade engine's contract.
const tickInterval = 10 * time.Millisecond

// GainSetter is anything the Fade Engine can drive a ramp across. Voices and
// the master gain on the Audio Host Adapter both satisfy it.
type GainSetter interface {
	SetGain(value float64)
}

// Task is a single in-flight fade or crossfade. It is safe to Cancel from
// any goroutine; Cancel is idempotent.
type Task struct {
	done     chan struct{}
	cancel   atomic.Bool
	progress atomic.Uint64 // math.Float64bits of the last-published progress u ∈ [0,1]
	err      error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Cancel requests cooperative cancellation. The ramp's gain(s) are left at
// whatever value the last completed tick set them to — never snapped to the
// target. Cancel returns immediately; call Wait to block until the ramp's
// goroutine has actually observed the cancellation and exited.
func (t *Task) Cancel() {
	t.cancel.Store(true)
}

// Wait blocks until the ramp completes or is cancelled, returning
// ErrCancelled in the latter case and nil on normal completion.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Done returns a channel closed when the ramp finishes or is cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Progress returns the most recently published u ∈ [0, 1] for this task.
// Safe for concurrent use; used to drive CrossfadeProgress events.
func (t *Task) Progress() float64 {
	return float64frombits(t.progress.Load())
}

func (t *Task) publish(u float64) {
	t.progress.Store(float64bits(u))
}

// Engine drives fade and crossfade ramps at tickInterval, cooperatively
// cancellable at every tick. It owns no gain state itself — every ramp
// writes directly to the GainSetter(s) it was given.
type Engine struct {
	log logging.Logger
}

// New returns a Fade Engine that logs through log.
func New(log logging.Logger) *Engine {
	return &Engine{log: log}
}

// Fade ramps gain from `from` to `to` over duration along curve, starting a
// background goroutine and returning immediately. duration <= 0 sets `to`
// instantly and returns a Task that is already done. from == to is a no-op
// that still sets the value (idempotent) and returns an already-done Task.
func (e *Engine) Fade(gain GainSetter, from, to float64, duration time.Duration, curve Curve) *Task {
	t := newTask()
	if duration <= 0 {
		gain.SetGain(to)
		t.publish(1)
		close(t.done)
		return t
	}
	if from == to {
		gain.SetGain(to)
		t.publish(1)
		close(t.done)
		return t
	}

	go e.runFade(t, gain, from, to, duration, curve)
	return t
}

func (e *Engine) runFade(t *Task, gain GainSetter, from, to float64, duration time.Duration, curve Curve) {
	defer close(t.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	start := time.Now()
	for range ticker.C {
		if t.cancel.Load() {
			t.err = ErrCancelled
			return
		}
		elapsed := time.Since(start)
		u := float64(elapsed) / float64(duration)
		if u >= 1 {
			gain.SetGain(to)
			t.publish(1)
			return
		}
		// Linear interpolation between from and to, reparameterized by the
		// curve's fade-in shape so direction-agnostic callers (plain Fade,
		// as opposed to the paired Crossfade) still get the requested shape.
		var v float64
		if to >= from {
			v = from + (to-from)*FadeIn(curve, u)
		} else {
			v = from - (from-to)*(1-FadeOut(curve, u))
		}
		gain.SetGain(clampGain(v))
		t.publish(u)
	}
}

// Crossfade drives paired envelopes on gainFrom and gainTo simultaneously
// over duration: gainFrom follows FadeOut, gainTo follows FadeIn, both
// computed from the same progress value every tick so invariant (I1) is
// structural rather than incidental.
func (e *Engine) Crossfade(gainFrom, gainTo GainSetter, duration time.Duration, curve Curve) *Task {
	t := newTask()
	if duration <= 0 {
		gainFrom.SetGain(0)
		gainTo.SetGain(1)
		t.publish(1)
		close(t.done)
		return t
	}

	go e.runCrossfade(t, gainFrom, gainTo, duration, curve)
	return t
}

// CrossfadeFrom is like Crossfade but resumes from an already-elapsed
// progress (used by Pause/Resume, §4.3, to restart with the remaining
// samples as the new duration while preserving curve identity).
func (e *Engine) CrossfadeFrom(gainFrom, gainTo GainSetter, remaining time.Duration, curve Curve, startProgress float64) *Task {
	t := newTask()
	if remaining <= 0 {
		gainFrom.SetGain(FadeOut(curve, 1))
		gainTo.SetGain(FadeIn(curve, 1))
		t.publish(1)
		close(t.done)
		return t
	}
	go e.runCrossfadeFrom(t, gainFrom, gainTo, remaining, curve, startProgress)
	return t
}

func (e *Engine) runCrossfade(t *Task, gainFrom, gainTo GainSetter, duration time.Duration, curve Curve) {
	e.runCrossfadeFrom(t, gainFrom, gainTo, duration, curve, 0)
}

func (e *Engine) runCrossfadeFrom(t *Task, gainFrom, gainTo GainSetter, remaining time.Duration, curve Curve, startProgress float64) {
	defer close(t.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	start := time.Now()
	span := 1 - startProgress
	for range ticker.C {
		if t.cancel.Load() {
			t.err = ErrCancelled
			return
		}
		elapsed := time.Since(start)
		frac := float64(elapsed) / float64(remaining)
		if frac >= 1 {
			gainFrom.SetGain(FadeOut(curve, 1))
			gainTo.SetGain(FadeIn(curve, 1))
			t.publish(1)
			return
		}
		u := startProgress + frac*span
		gainFrom.SetGain(clampGain(FadeOut(curve, u)))
		gainTo.SetGain(clampGain(FadeIn(curve, u)))
		t.publish(u)
	}
}

func clampGain(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

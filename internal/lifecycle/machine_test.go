package lifecycle

import (
	"errors"
	"testing"
)

func TestInitialStateIsIdle(t *testing.T) {
	m := New()
	if got := m.State(); got != Idle {
		t.Errorf("initial state = %v, want Idle", got)
	}
}

func TestHappyPathTransitions(t *testing.T) {
	m := New()
	steps := []struct {
		event Event
		want  State
	}{
		{Start, Preparing},
		{Start, Playing},
		{Pause, Paused},
		{Resume, Playing},
		{Stop, FadingOut},
		{FadeOutDone, Finished},
	}
	for _, s := range steps {
		got, err := m.Apply(s.event, nil)
		if err != nil {
			t.Fatalf("Apply(%v) from %v: unexpected error %v", s.event, m.State(), err)
		}
		if got != s.want {
			t.Errorf("Apply(%v) = %v, want %v", s.event, got, s.want)
		}
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	m := New() // Idle
	if m.CanApply(Pause) {
		t.Fatal("CanApply(Pause) from Idle should be false")
	}
	before := m.State()
	_, err := m.Apply(Pause, nil)
	var illegal *ErrIllegalTransition
	if !errors.As(err, &illegal) {
		t.Fatalf("Apply(Pause) err = %v, want *ErrIllegalTransition", err)
	}
	if m.State() != before {
		t.Errorf("state mutated after illegal transition: %v -> %v", before, m.State())
	}
}

func TestErrorTransitionRecordsCause(t *testing.T) {
	m := New()
	cause := errors.New("boom")
	got, err := m.Apply(Error, cause)
	if err != nil {
		t.Fatalf("Apply(Error) returned %v", err)
	}
	if got != Failed {
		t.Fatalf("state = %v, want Failed", got)
	}
	if m.Err() != cause {
		t.Errorf("Err() = %v, want %v", m.Err(), cause)
	}
}

func TestFailedRecoversOnLoad(t *testing.T) {
	m := New()
	m.Apply(Error, errors.New("boom"))
	got, err := m.Apply(Load, nil)
	if err != nil {
		t.Fatalf("Apply(Load) from Failed: %v", err)
	}
	if got != Preparing {
		t.Errorf("state = %v, want Preparing", got)
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v, want nil after recovery", m.Err())
	}
}

func TestEveryStateHasAtLeastOneLegalEvent(t *testing.T) {
	for s := Idle; s <= Failed; s++ {
		found := false
		for e := Load; e <= FadeOutDone; e++ {
			if (&Machine{state: s}).CanApply(e) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("state %v has no legal outgoing event", s)
		}
	}
}

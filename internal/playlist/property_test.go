package playlist

import (
	"testing"

	"pgregory.net/rapid"
)

// TestRepeatsNeverExceedLimit is property P5: repeats_completed never
// exceeds repeat_limit when one is set, across arbitrary sequences of
// advances.
func TestRepeatsNeverExceedLimit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "n")
		limit := rapid.IntRange(0, 10).Draw(rt, "limit")
		steps := rapid.IntRange(0, 50).Draw(rt, "steps")
		mode := RepeatMode(rapid.IntRange(int(Off), int(Playlist)).Draw(rt, "mode"))

		p := New(mode, &limit)
		if err := p.Load(tracks(n)); err != nil {
			rt.Fatal(err)
		}

		for i := 0; i < steps; i++ {
			d := p.Advance()
			if p.RepeatsCompleted() > limit {
				rt.Fatalf("repeats_completed=%d exceeds limit=%d after %d advances (decision=%+v)",
					p.RepeatsCompleted(), limit, i+1, d)
			}
			if d.Finish {
				break
			}
		}
	})
}

// TestWhatPlaysNextNeverMutates is property P10: WhatPlaysNext is pure —
// calling it any number of times never changes current_index or
// repeats_completed, and its answer always equals what the following
// Advance() would produce.
func TestWhatPlaysNextNeverMutates(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "n")
		mode := RepeatMode(rapid.IntRange(int(Off), int(Playlist)).Draw(rt, "mode"))
		p := New(mode, nil)
		if err := p.Load(tracks(n)); err != nil {
			rt.Fatal(err)
		}

		previews := rapid.IntRange(1, 5).Draw(rt, "previews")
		var first Decision
		for i := 0; i < previews; i++ {
			before := Decision{NextIndex: p.CurrentIndex()}
			d := p.WhatPlaysNext()
			if i == 0 {
				first = d
			} else if d != first {
				rt.Fatalf("WhatPlaysNext not idempotent: %+v vs %+v", d, first)
			}
			if p.CurrentIndex() != before.NextIndex {
				rt.Fatalf("WhatPlaysNext mutated current_index: %d -> %d", before.NextIndex, p.CurrentIndex())
			}
		}

		actual := p.Advance()
		if actual != first {
			rt.Fatalf("Advance() = %+v, want %+v (from WhatPlaysNext)", actual, first)
		}
	})
}

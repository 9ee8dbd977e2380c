package fade

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

// TestComplementaryEnvelopes is property P3: for the active curve, the pair
// of envelopes produced across the full sweep of u satisfies the curve's
// pair identity to a tolerance of 1e-3.
func TestComplementaryEnvelopes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		curve := Curve(rapid.IntRange(int(Linear), int(SCurve)).Draw(rt, "curve"))
		u := rapid.Float64Range(0, 1).Draw(rt, "u")

		out := FadeOut(curve, u)
		in := FadeIn(curve, u)

		switch curve {
		case Linear, Logarithmic:
			if math.Abs(out+in-1) > 1e-3 {
				rt.Fatalf("%s: out+in = %v, want ~1 (out=%v in=%v u=%v)", curve, out+in, out, in, u)
			}
		case EqualPower:
			if math.Abs(out*out+in*in-1) > 1e-3 {
				rt.Fatalf("%s: out^2+in^2 = %v, want ~1 (out=%v in=%v u=%v)", curve, out*out+in*in, out, in, u)
			}
		default: // Exponential, SCurve: monotone, not necessarily summing to 1
			if out < -1e-9 || out > 1+1e-9 || in < -1e-9 || in > 1+1e-9 {
				rt.Fatalf("%s: envelope out of [0,1]: out=%v in=%v u=%v", curve, out, in, u)
			}
		}
	})
}

// TestMonotoneEnvelopes is part of P3's "otherwise monotone" clause: FadeOut
// must be non-increasing and FadeIn non-decreasing as u grows, for every
// curve.
func TestMonotoneEnvelopes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		curve := Curve(rapid.IntRange(int(Linear), int(SCurve)).Draw(rt, "curve"))
		u1 := rapid.Float64Range(0, 1).Draw(rt, "u1")
		u2 := rapid.Float64Range(0, 1).Draw(rt, "u2")
		if u1 > u2 {
			u1, u2 = u2, u1
		}

		if FadeOut(curve, u1) < FadeOut(curve, u2)-1e-9 {
			rt.Fatalf("%s: FadeOut not monotone non-increasing: u1=%v->%v u2=%v->%v",
				curve, u1, FadeOut(curve, u1), u2, FadeOut(curve, u2))
		}
		if FadeIn(curve, u1) > FadeIn(curve, u2)+1e-9 {
			rt.Fatalf("%s: FadeIn not monotone non-decreasing: u1=%v->%v u2=%v->%v",
				curve, u1, FadeIn(curve, u1), u2, FadeIn(curve, u2))
		}
	})
}

// TestGainBound is property P2, restricted to the pure curve functions: the
// envelope value is always within [0, 1] regardless of input.
func TestGainBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		curve := Curve(rapid.IntRange(int(Linear), int(SCurve)).Draw(rt, "curve"))
		u := rapid.Float64Range(-1, 2).Draw(rt, "u")

		if out := FadeOut(curve, u); out < 0 || out > 1 {
			rt.Fatalf("%s: FadeOut(%v) = %v out of [0,1]", curve, u, out)
		}
		if in := FadeIn(curve, u); in < 0 || in > 1 {
			rt.Fatalf("%s: FadeIn(%v) = %v out of [0,1]", curve, u, in)
		}
	})
}

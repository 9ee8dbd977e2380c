package fade

import (
	"errors"
	"math"
)

// ErrCancelled is returned by Task.Wait when the ramp was cancelled before
// reaching its target.
var ErrCancelled = errors.New("fade: cancelled")

func float64bits(v float64) uint64 { return math.Float64bits(v) }

func float64frombits(b uint64) float64 { return math.Float64frombits(b) }

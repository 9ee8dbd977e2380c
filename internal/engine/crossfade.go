package engine

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/duskcairn/meditationplayer/internal/fade"
	"github.com/duskcairn/meditationplayer/internal/hostaudio"
)

// CrossfadePhase is the lifecycle of one in-flight crossfade, published at
// ≥10 Hz on the CrossfadeProgress event surface (§4.3 step 5).
type CrossfadePhase int

const (
	PhasePreparing CrossfadePhase = iota
	PhaseFading
	PhaseSwitching
	PhaseCleanup
	PhaseIdle
)

func (p CrossfadePhase) String() string {
	switch p {
	case PhasePreparing:
		return "preparing"
	case PhaseFading:
		return "fading"
	case PhaseSwitching:
		return "switching"
	case PhaseCleanup:
		return "cleanup"
	case PhaseIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// CrossfadeProgress is one sample published on the CrossfadeProgress
// surface.
type CrossfadeProgress struct {
	SessionID uuid.UUID
	Phase     CrossfadePhase
	Progress  float64 // u ∈ [0,1]; meaningful only during PhaseFading
}

// crossfadeSession is the active-crossfade record owned exclusively by the
// core (§3's CrossfadeSession). At most one may be in flight at a time; the
// core enforces that by only ever holding one in its session field.
type crossfadeSession struct {
	id           uuid.UUID
	fromVoice    *mainVoice
	toVoice      *mainVoice
	totalSamples int64
	startedAt    int64
	curve        fade.Curve

	task *fade.Task

	cancelled atomic.Bool
}

func newCrossfadeSession(from, to *mainVoice, totalSamples, startedAt int64, curve fade.Curve) *crossfadeSession {
	return &crossfadeSession{
		id:           uuid.New(),
		fromVoice:    from,
		toVoice:      to,
		totalSamples: totalSamples,
		startedAt:    startedAt,
		curve:        curve,
	}
}

// sampleFramesFor converts a time.Duration to a sample-frame count at
// sampleRate, used when converting configured durations into the
// CrossfadeSession's total_samples field (§3).
func sampleFramesFor(d time.Duration, sampleRate int) int64 {
	return int64(d.Seconds() * float64(sampleRate))
}

// adaptedCrossfadeDuration implements §4.3's "Adapted crossfade duration":
// min(configured, track_duration * 0.4). trackDuration <= 0 (unknown)
// leaves the configured duration untouched.
func adaptedCrossfadeDuration(configured time.Duration, trackDuration float64) time.Duration {
	if trackDuration <= 0 {
		return configured
	}
	ceiling := time.Duration(trackDuration * 0.4 * float64(time.Second))
	if ceiling < configured {
		return ceiling
	}
	return configured
}

// hostGain adapts an Adapter+GainID pair to fade.GainSetter, used for
// master-gain fades (stop's fade-out) where there is no mainVoice involved.
type hostGain struct {
	adapter hostaudio.Adapter
	id      hostaudio.GainID
}

func (g hostGain) SetGain(value float64) { g.adapter.SetGain(g.id, value) }

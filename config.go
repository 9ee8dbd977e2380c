package meditationplayer

import (
	"time"

	"github.com/duskcairn/meditationplayer/internal/playlist"
)

// PlayerConfiguration is the construction-time-and-updatable configuration
// of §3. Clamp-don't-error is the rule for the numeric fields the teacher's
// own AudioEngine.SetVolume/SetBitrate/SetPacketLoss clamp rather than
// reject; InvalidParameter is reserved for repeat_limit, the one field
// normalize rejects rather than clamps (a time.Duration crossfade can never
// be NaN or infinite, so there is nothing to reject there).
type PlayerConfiguration struct {
	CrossfadeDuration time.Duration
	FadeCurve         FadeCurve
	RepeatMode        RepeatMode
	RepeatLimit       *int
	Volume            float64
	MixWithOthers     bool
	AudioSessionMode  AudioSessionMode
}

// DefaultConfiguration returns §3's defaults: 10s crossfade, Linear curve,
// repeat off, full volume, managed session.
func DefaultConfiguration() PlayerConfiguration {
	return PlayerConfiguration{
		CrossfadeDuration: 10 * time.Second,
		FadeCurve:         FadeLinear,
		RepeatMode:        RepeatOff,
		Volume:            1,
		AudioSessionMode:  SessionManaged,
	}
}

// FadeInDefault returns the derived read-only fade_in_default field: 30% of
// the (already-validated) crossfade duration.
func (c PlayerConfiguration) FadeInDefault() time.Duration {
	return time.Duration(float64(c.CrossfadeDuration) * 0.3)
}

// normalize applies §6's explicit validation rules, clamping where the
// rule says clamp and rejecting with InvalidParameter where it says reject.
func (c PlayerConfiguration) normalize() (PlayerConfiguration, error) {
	out := c

	// §6's "reject NaN/Infinity" rule targets a floating-point
	// crossfade_duration; expressed as time.Duration (an int64 count of
	// nanoseconds) that value can never be NaN or infinite, so the rule is
	// satisfied structurally and only the clamp half applies here.
	switch {
	case out.CrossfadeDuration < time.Second:
		out.CrossfadeDuration = time.Second
	case out.CrossfadeDuration > 30*time.Second:
		out.CrossfadeDuration = 30 * time.Second
	}

	if !out.FadeCurve.Valid() {
		out.FadeCurve = FadeLinear
	}

	out.Volume = clampUnit(out.Volume)

	if out.RepeatLimit != nil && *out.RepeatLimit < 1 {
		return PlayerConfiguration{}, invalidParameter("repeat_limit")
	}

	return out, nil
}

// toPlaylistMode is a readability alias; RepeatMode is already
// playlist.RepeatMode under the hood (see types.go), kept for symmetry with
// the other to* conversions a Go reader would expect at this boundary.
func (c PlayerConfiguration) toPlaylistMode() playlist.RepeatMode {
	return c.RepeatMode
}

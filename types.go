package meditationplayer

import (
	"github.com/duskcairn/meditationplayer/internal/engine"
	"github.com/duskcairn/meditationplayer/internal/events"
	"github.com/duskcairn/meditationplayer/internal/fade"
	"github.com/duskcairn/meditationplayer/internal/lifecycle"
	"github.com/duskcairn/meditationplayer/internal/overlay"
	"github.com/duskcairn/meditationplayer/internal/playlist"
)

// Track is an immutable record describing one playable item (§3).
type Track = playlist.Track

// RepeatMode controls the advance rule (§4.4).
type RepeatMode = playlist.RepeatMode

const (
	RepeatOff         = playlist.Off
	RepeatSingleTrack = playlist.SingleTrack
	RepeatPlaylist    = playlist.Playlist
)

// FadeCurve selects the shape of a fade-out/fade-in pair (§4.2).
type FadeCurve = fade.Curve

const (
	FadeLinear      = fade.Linear
	FadeEqualPower  = fade.EqualPower
	FadeLogarithmic = fade.Logarithmic
	FadeExponential = fade.Exponential
	FadeSCurve      = fade.SCurve
)

// LifecycleState is one of the Player Lifecycle State Machine's states
// (§4.7), published on StateStream.
type LifecycleState = lifecycle.State

const (
	StateIdle      = lifecycle.Idle
	StatePreparing = lifecycle.Preparing
	StatePlaying   = lifecycle.Playing
	StatePaused    = lifecycle.Paused
	StateFadingOut = lifecycle.FadingOut
	StateFinished  = lifecycle.Finished
	StateFailed    = lifecycle.Failed
)

// Position is published on PositionStream (§4.8).
type Position = engine.Position

// CrossfadeProgress is published on CrossfadeProgressStream (§4.3 step 5).
type CrossfadeProgress = engine.CrossfadeProgress

// CrossfadePhase is one phase of an in-flight crossfade.
type CrossfadePhase = engine.CrossfadePhase

const (
	CrossfadePreparing = engine.PhasePreparing
	CrossfadeFading    = engine.PhaseFading
	CrossfadeSwitching = engine.PhaseSwitching
	CrossfadeCleanup   = engine.PhaseCleanup
	CrossfadeIdle      = engine.PhaseIdle
)

// EventLogEntry is one record on EventLogStream (§3.1's supplemented
// EventLogEntry, §4.8 item 5).
type EventLogEntry = events.LogEntry

// EventLevel is the severity of an EventLogEntry.
type EventLevel = events.Level

const (
	EventInfo      = events.Info
	EventWarning   = events.Warning
	EventError     = events.ErrorLevel
	EventRecovered = events.Recovered
)

// OverlayState is one of the Overlay Voice's states (§4.5/§3).
type OverlayState = overlay.State

const (
	OverlayIdle      = overlay.Idle
	OverlayPreparing = overlay.Preparing
	OverlayPlaying   = overlay.Playing
	OverlayPaused    = overlay.Paused
	OverlayStopping  = overlay.Stopping
)

// OverlayLoopMode selects how many times a started overlay track repeats.
type OverlayLoopMode = overlay.LoopMode

const (
	OverlayLoopOnce     = overlay.LoopOnce
	OverlayLoopCount    = overlay.LoopCount
	OverlayLoopInfinite = overlay.LoopInfinite
)

// OverlayConfiguration is the OverlayConfiguration of §4.5.
type OverlayConfiguration = overlay.Configuration

// PlaylistSnapshot is a read-only view of the Playlist Manager's state,
// returned by Player.Playlist().
type PlaylistSnapshot struct {
	Tracks           []Track
	CurrentIndex     int
	RepeatMode       RepeatMode
	RepeatLimit      *int
	RepeatsCompleted int
}

// AudioSessionMode mirrors PlayerConfiguration.audio_session_mode (§3).
type AudioSessionMode int

const (
	SessionManaged AudioSessionMode = iota
	SessionExternal
)

// clampUnit clamps v to [0, 1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

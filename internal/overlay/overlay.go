// Package overlay implements the Overlay Voice (§4.5): a single independent
// looping voice for ambient beds, bells and timers, layered on top of
// whatever the Main Playback Core is doing without ever touching it.
//
// It is grounded on the teacher's client/notification.go PlayNotification:
// a dedicated goroutine owns one voice and reads commands off its own
// channel rather than sharing the app's main dispatch path, generalized
// here from "play a short tone once" to "loop an arbitrary track N times,
// Infinite times, or once, with optional inter-loop silence and either a
// play-once or a per-loop fade envelope." Driving it from its own
// goroutine and channel — never the shared Operation Queue — is what makes
// isolation from the main voices (I5) mechanically true rather than just
// conventionally true.
package overlay

import (
	"errors"
	"sync"
	"time"

	"github.com/duskcairn/meditationplayer/internal/events"
	"github.com/duskcairn/meditationplayer/internal/fade"
	"github.com/duskcairn/meditationplayer/internal/hostaudio"
	"github.com/duskcairn/meditationplayer/internal/logging"
	"github.com/duskcairn/meditationplayer/internal/playlist"
)

// State is the overlay's own lifecycle (§4.5), entirely independent of the
// Player Lifecycle State Machine that governs the main voices.
type State int

const (
	Idle State = iota
	Preparing
	Playing
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// LoopMode selects how many times a started track repeats.
type LoopMode int

const (
	LoopOnce LoopMode = iota
	LoopCount
	LoopInfinite
)

// Configuration is the OverlayConfiguration of §4.5.
type Configuration struct {
	LoopMode LoopMode
	// Count is the number of iterations when LoopMode == LoopCount; must
	// be >= 1. Ignored for LoopOnce and LoopInfinite.
	Count int

	LoopDelay time.Duration

	Volume float64

	FadeInDuration  time.Duration
	FadeOutDuration time.Duration
	FadeCurve       fade.Curve

	// ApplyFadeOnEachLoop: false means the fade-in only opens the first
	// iteration and the fade-out only closes the last one, with silent
	// hard cuts between the loops in between. true means every single
	// iteration gets its own fade-in and fade-out, useful for a bell or
	// chime separated by LoopDelay rather than a continuous bed.
	ApplyFadeOnEachLoop bool
}

// Loader resolves a playlist.Track into decoded PCM and its duration in
// seconds, mirroring the Main Playback Core's loader contract but kept as
// its own type so this package never needs to import internal/engine.
type Loader func(track playlist.Track) (hostaudio.PCM, float64, error)

// Errors returned by Voice's operations.
var (
	ErrInvalidState = errors.New("overlay: operation not legal from the current state")
	ErrLoadFailed   = errors.New("overlay: failed to load track")
)

// pollInterval is how often the loop driver checks the host render clock
// for a finished buffer. It only ever reads RenderTimeNow and re-submits a
// command to the single worker goroutine; it never mutates state itself.
const pollInterval = 20 * time.Millisecond

type loopSession struct {
	stop chan struct{}
}

// Voice is the Overlay Voice. It owns hostaudio.VoiceOverlay exclusively and
// every mutation of its state happens on a single worker goroutine reading
// from cmdCh, so no mutex is needed for the fields below — they are only
// ever touched from inside that goroutine.
type Voice struct {
	log     logging.Logger
	adapter hostaudio.Adapter
	fader   *fade.Engine
	loader  Loader

	cmdCh  chan func()
	closed chan struct{}
	wg     sync.WaitGroup

	// Owned exclusively by the worker goroutine.
	state                 State
	cfg                   Configuration
	track                 *playlist.Track
	pcm                   hostaudio.PCM
	scheduledFrame        int64
	loopsStarted          int
	fadedOutThisIteration bool
	gain                  float64
	session               *loopSession

	StateEvents *events.DistinctBroadcaster[State]
}

// New returns a Voice driven by its own goroutine, ready to Start.
func New(log logging.Logger, adapter hostaudio.Adapter, loader Loader) *Voice {
	v := &Voice{
		log:         log,
		adapter:     adapter,
		fader:       fade.New(log),
		loader:      loader,
		cmdCh:       make(chan func()),
		closed:      make(chan struct{}),
		StateEvents: events.NewDistinctBroadcaster[State](),
	}
	v.wg.Add(1)
	go v.run()
	return v
}

func (v *Voice) run() {
	defer v.wg.Done()
	for {
		select {
		case <-v.closed:
			return
		case cmd := <-v.cmdCh:
			cmd()
		}
	}
}

// submit hands fn to the worker goroutine and blocks until it has run.
// Every exported operation goes through this, which is the single point of
// serialization that keeps the overlay's state machine race-free without a
// mutex.
func (v *Voice) submit(fn func()) {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case v.cmdCh <- wrapped:
	case <-v.closed:
		return
	}
	select {
	case <-done:
	case <-v.closed:
	}
}

func (v *Voice) setState(s State) {
	v.state = s
	v.StateEvents.Publish(s)
}

// gain adapter for hostaudio.GainOverlay, tracking the last value set so
// Stop/Replace can fade out from wherever the gain actually is rather than
// assuming it sits at cfg.Volume.
func (v *Voice) gainSetter() fade.GainSetter {
	return overlayGain{v: v}
}

type overlayGain struct{ v *Voice }

func (g overlayGain) SetGain(value float64) {
	g.v.gain = value
	g.v.adapter.SetGain(hostaudio.GainOverlay, value)
}

// State returns the overlay's current state.
func (v *Voice) State() State {
	var s State
	v.submit(func() { s = v.state })
	return s
}

// Start begins playing track under cfg. Legal only from Idle; every
// command runs to completion on the single worker goroutine before the
// next one starts, so Stopping is never the state a subsequent Start
// actually observes.
func (v *Voice) Start(track playlist.Track, cfg Configuration) error {
	var retErr error
	v.submit(func() { retErr = v.startLocked(track, cfg) })
	return retErr
}

func (v *Voice) startLocked(track playlist.Track, cfg Configuration) error {
	if v.state != Idle {
		return ErrInvalidState
	}
	if cfg.Volume < 0 {
		cfg.Volume = 0
	}
	if cfg.Volume > 1 {
		cfg.Volume = 1
	}
	if cfg.LoopMode == LoopCount && cfg.Count < 1 {
		cfg.Count = 1
	}

	v.setState(Preparing)
	pcm, duration, err := v.loader(track)
	if err != nil {
		v.log.Warn().Err(err).Str("source", track.Source).Msg("overlay: load failed")
		v.setState(Idle)
		return ErrLoadFailed
	}
	track.Duration = duration

	v.track = &track
	v.pcm = pcm
	v.cfg = cfg
	v.loopsStarted = 1
	v.fadedOutThisIteration = false

	v.scheduleLoopLocked(true)
	v.setState(Playing)

	sess := &loopSession{stop: make(chan struct{})}
	v.session = sess
	v.wg.Add(1)
	go v.runLoopDriver(sess)
	return nil
}

// scheduleLoopLocked schedules the current PCM buffer on the overlay voice
// starting lead_frames ahead of the render clock, applying a fade-in only
// when this is the first iteration or the configuration asks for one on
// every loop.
func (v *Voice) scheduleLoopLocked(isFirst bool) {
	start := v.adapter.RenderTimeNow() + v.adapter.LeadFrames()
	if err := v.adapter.ScheduleBuffer(hostaudio.VoiceOverlay, v.pcm, start); err != nil {
		v.log.Warn().Err(err).Msg("overlay: schedule buffer failed")
	}
	v.scheduledFrame = start

	if isFirst || v.cfg.ApplyFadeOnEachLoop {
		v.fader.Fade(v.gainSetter(), 0, v.cfg.Volume, v.cfg.FadeInDuration, v.cfg.FadeCurve)
	} else {
		v.gainSetter().SetGain(v.cfg.Volume)
	}
}

func (v *Voice) isFinalLoopLocked() bool {
	switch v.cfg.LoopMode {
	case LoopOnce:
		return true
	case LoopCount:
		return v.loopsStarted >= v.cfg.Count
	default: // LoopInfinite
		return false
	}
}

// runLoopDriver polls the host render clock at pollInterval and submits a
// boundary check to the worker goroutine on every tick. It never mutates
// Voice state directly — checkLoopBoundary does, serialized with every
// other command through submit.
func (v *Voice) runLoopDriver(sess *loopSession) {
	defer v.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.stop:
			return
		case <-v.closed:
			return
		case <-ticker.C:
			v.submit(func() { v.checkLoopBoundaryLocked(sess) })
		}
	}
}

// checkLoopBoundaryLocked runs on the worker goroutine. It detects whether
// the currently-scheduled buffer (plus any configured inter-loop silence)
// has elapsed on the render clock, and either re-schedules the next
// iteration or, on the final iteration, stops the voice and returns to
// Idle.
func (v *Voice) checkLoopBoundaryLocked(sess *loopSession) {
	if v.state != Playing || v.session != sess {
		return
	}
	now := v.adapter.RenderTimeNow()
	bufferEnd := v.scheduledFrame + int64(v.pcm.Frames)
	if now < bufferEnd {
		return
	}

	isFinal := v.isFinalLoopLocked()
	if !v.fadedOutThisIteration && (v.cfg.ApplyFadeOnEachLoop || isFinal) {
		v.fader.Fade(v.gainSetter(), v.cfg.Volume, 0, v.cfg.FadeOutDuration, v.cfg.FadeCurve)
		v.fadedOutThisIteration = true
	}

	if isFinal {
		v.adapter.StopVoice(hostaudio.VoiceOverlay)
		v.session = nil
		v.setState(Idle)
		return
	}

	delayFrames := int64(v.cfg.LoopDelay.Seconds() * float64(v.adapter.SampleRate()))
	if now < bufferEnd+delayFrames {
		return
	}

	v.loopsStarted++
	v.fadedOutThisIteration = false
	v.scheduleLoopLocked(false)
}

// Stop halts playback immediately (after a fade-out) and returns to Idle.
// Idempotent: calling it while already Idle is a no-op.
func (v *Voice) Stop() error {
	var retErr error
	v.submit(func() { retErr = v.stopLocked() })
	return retErr
}

func (v *Voice) stopLocked() error {
	if v.state == Idle {
		return nil
	}
	v.setState(Stopping)
	v.stopSessionLocked()

	task := v.fader.Fade(v.gainSetter(), v.gain, 0, v.cfg.FadeOutDuration, v.cfg.FadeCurve)
	task.Wait()
	v.adapter.StopVoice(hostaudio.VoiceOverlay)
	v.setState(Idle)
	return nil
}

func (v *Voice) stopSessionLocked() {
	if v.session != nil {
		close(v.session.stop)
		v.session = nil
	}
}

// Pause silences the overlay without releasing its scheduled buffer. Legal
// only from Playing.
//
// The Audio Host Adapter contract has no hardware-pause primitive (only
// ScheduleBuffer/StopVoice/SetGain), the same limitation the Main Playback
// Core lives with for the main voices: Pause mutes gain but the
// already-scheduled buffer keeps advancing on the render clock underneath.
// A long pause can therefore make the overlay's next Resume land mid- or
// past- the current iteration's natural boundary; checkLoopBoundaryLocked
// simply treats that as "already finished" and advances or stops on the
// next tick, which is the same fidelity tradeoff §4.3 already accepts for
// the main crossfade voices.
func (v *Voice) Pause() error {
	var retErr error
	v.submit(func() { retErr = v.pauseLocked() })
	return retErr
}

func (v *Voice) pauseLocked() error {
	if v.state != Playing {
		return ErrInvalidState
	}
	v.setState(Paused)
	v.gainSetter().SetGain(0)
	return nil
}

// Resume restores playback after Pause. Legal only from Paused.
func (v *Voice) Resume() error {
	var retErr error
	v.submit(func() { retErr = v.resumeLocked() })
	return retErr
}

func (v *Voice) resumeLocked() error {
	if v.state != Paused {
		return ErrInvalidState
	}
	v.setState(Playing)
	v.gainSetter().SetGain(v.cfg.Volume)
	return nil
}

// Replace swaps in a new track in place: a brief fade-out, a buffer swap,
// then a fade-in, restarting the loop bookkeeping against the new track's
// configured loop count. Legal from Playing or Paused.
func (v *Voice) Replace(track playlist.Track) error {
	var retErr error
	v.submit(func() { retErr = v.replaceLocked(track) })
	return retErr
}

func (v *Voice) replaceLocked(track playlist.Track) error {
	if v.state != Playing && v.state != Paused {
		return ErrInvalidState
	}
	v.stopSessionLocked()

	task := v.fader.Fade(v.gainSetter(), v.gain, 0, v.cfg.FadeOutDuration, v.cfg.FadeCurve)
	task.Wait()
	v.adapter.StopVoice(hostaudio.VoiceOverlay)

	pcm, duration, err := v.loader(track)
	if err != nil {
		v.log.Warn().Err(err).Str("source", track.Source).Msg("overlay: replace load failed")
		v.setState(Idle)
		return ErrLoadFailed
	}
	track.Duration = duration
	v.track = &track
	v.pcm = pcm
	v.loopsStarted = 1
	v.fadedOutThisIteration = false

	v.scheduleLoopLocked(true)
	v.setState(Playing)

	sess := &loopSession{stop: make(chan struct{})}
	v.session = sess
	v.wg.Add(1)
	go v.runLoopDriver(sess)
	return nil
}

// SetVolume sets the overlay's target volume, clamped to [0, 1]. Applied
// immediately if currently Playing; otherwise only cfg.Volume is updated,
// taking effect on the next Resume or loop iteration. Start replaces it
// with the Volume of its own Configuration.
func (v *Voice) SetVolume(value float64) {
	v.submit(func() { v.setVolumeLocked(value) })
}

func (v *Voice) setVolumeLocked(value float64) {
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	v.cfg.Volume = value
	if v.state == Playing {
		v.gainSetter().SetGain(value)
	}
}

// CurrentTrack returns the track currently loaded, or nil if Idle.
func (v *Voice) CurrentTrack() *playlist.Track {
	var t *playlist.Track
	v.submit(func() {
		if v.track != nil && v.state != Idle {
			c := *v.track
			t = &c
		}
	})
	return t
}

// Close tears the voice down: it stops the worker goroutine and any
// in-flight loop driver, and closes the State event surface. Safe to call
// once; further operations after Close are no-ops.
func (v *Voice) Close() {
	select {
	case <-v.closed:
		return
	default:
	}
	close(v.closed)
	v.wg.Wait()
	v.StateEvents.Close()
}

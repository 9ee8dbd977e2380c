// Package engine implements the Main Playback Core (§4.3): the two main
// voices, their shared CrossfadeSession, auto-advance/loop detection, and
// the failure/recovery semantics around host and session disruptions.
package engine

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duskcairn/meditationplayer/internal/events"
	"github.com/duskcairn/meditationplayer/internal/fade"
	"github.com/duskcairn/meditationplayer/internal/hostaudio"
	"github.com/duskcairn/meditationplayer/internal/lifecycle"
	"github.com/duskcairn/meditationplayer/internal/logging"
	"github.com/duskcairn/meditationplayer/internal/playlist"
	"github.com/duskcairn/meditationplayer/internal/session"
)

// Errors returned by Core operations, in addition to lifecycle's
// ErrIllegalTransition (surfaced to callers as InvalidState).
var (
	ErrEmptyPlaylist  = playlist.ErrEmptyPlaylist
	ErrFileLoadFailed = errors.New("engine: file load failed")
	ErrRateLimited    = errors.New("engine: rate limited")
	ErrRecoveryFailed = errors.New("engine: host engine reset recovery failed")
)

// skipCollapseWindow is the engine-level rate limit on skip_to_next, per
// §4.3 ("rejections return RateLimited if the previous skip completed less
// than 500 ms ago").
const skipCollapseWindow = 500 * time.Millisecond

// seekFadeDefault is the default seek-with-fade duration (§4.3).
const seekFadeDefault = 100 * time.Millisecond

// positionTickInterval drives the 2 Hz position/auto-advance tick.
const positionTickInterval = 500 * time.Millisecond

// Loader resolves a Track's PCM and duration. The core has no opinion on
// decoding format; the root Player supplies one backed by internal/decode
// (or a test fixture).
type Loader func(t playlist.Track) (hostaudio.PCM, float64, error)

// Config is the subset of PlayerConfiguration the core needs, expressed in
// engine-native types so this package never imports the root package.
type Config struct {
	CrossfadeDuration time.Duration
	FadeCurve         fade.Curve
	Volume            float64
}

// Position is published on the Position event surface.
type Position struct {
	CurrentTime float64
	Duration    float64
}

// Core is the Main Playback Core.
type Core struct {
	log     logging.Logger
	adapter hostaudio.Adapter
	fader   *fade.Engine
	lc      *lifecycle.Machine
	list    *playlist.Playlist
	loader  Loader
	sess    session.Adapter

	mu        sync.Mutex
	cfg       Config
	voices    [2]*mainVoice
	activeIdx int
	xfade     *crossfadeSession
	lastSkip  time.Time

	masterVolume atomic.Uint64 // math.Float64bits

	closed chan struct{}
	wg     sync.WaitGroup

	StateEvents     *events.DistinctBroadcaster[lifecycle.State]
	PositionEvents  *events.Broadcaster[Position]
	TrackEvents     *events.Broadcaster[playlist.Track]
	CrossfadeEvents *events.Broadcaster[CrossfadeProgress]
	Log             *events.LogRing
}

// New constructs a Core. It owns voices[0]/[1] for the rest of its life and
// spawns the position/auto-advance tick goroutine immediately.
func New(log logging.Logger, adapter hostaudio.Adapter, lc *lifecycle.Machine, list *playlist.Playlist, loader Loader, sess session.Adapter, cfg Config) *Core {
	c := &Core{
		log:     log,
		adapter: adapter,
		fader:   fade.New(log),
		lc:      lc,
		list:    list,
		loader:  loader,
		sess:    sess,
		cfg:     cfg,
		closed:  make(chan struct{}),

		StateEvents:     events.NewDistinctBroadcaster[lifecycle.State](),
		PositionEvents:  events.NewBroadcaster[Position](),
		TrackEvents:     events.NewBroadcaster[playlist.Track](),
		CrossfadeEvents: events.NewBroadcaster[CrossfadeProgress](),
		Log:             events.NewLogRing(),
	}
	c.voices[0] = newMainVoice(hostaudio.VoiceA, hostaudio.GainVoiceA)
	c.voices[1] = newMainVoice(hostaudio.VoiceB, hostaudio.GainVoiceB)
	c.masterVolume.Store(math.Float64bits(cfg.Volume))
	c.adapter.SetGain(hostaudio.GainMaster, cfg.Volume)

	c.StateEvents.Publish(c.lc.State())

	if sess != nil {
		sess.Observe(c)
	}

	c.wg.Add(1)
	go c.tickLoop()
	return c
}

func (c *Core) active() *mainVoice   { return c.voices[c.activeIdx] }
func (c *Core) inactive() *mainVoice { return c.voices[1-c.activeIdx] }

func (c *Core) publishState() {
	c.StateEvents.Publish(c.lc.State())
}

func (c *Core) applyEvent(ev lifecycle.Event, cause error) error {
	_, err := c.lc.Apply(ev, cause)
	c.publishState()
	return err
}

// loadTrackInto resolves and schedules-free-loads a track's PCM into v,
// without scheduling playback.
func (c *Core) loadTrackInto(v *mainVoice, t playlist.Track) error {
	pcm, duration, err := c.loader(t)
	if err != nil {
		return ErrFileLoadFailed
	}
	t.Duration = duration
	v.setLoaded(&t, pcm)
	return nil
}

// PlaylistSnapshot is a read-only view of the playlist's navigation state,
// safe to call concurrently with any in-flight operation since it takes the
// same mutex every mutating Core method does.
type PlaylistSnapshot struct {
	Tracks           []playlist.Track
	CurrentIndex     int
	RepeatsCompleted int
}

// Snapshot returns the current playlist's read-only state.
func (c *Core) Snapshot() PlaylistSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PlaylistSnapshot{
		Tracks:           c.list.Tracks(),
		CurrentIndex:     c.list.CurrentIndex(),
		RepeatsCompleted: c.list.RepeatsCompleted(),
	}
}

// CurrentTrack returns the currently active track, if any.
func (c *Core) CurrentTrack() (playlist.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Current()
}

// LoadPlaylist is §4.3's load_playlist.
func (c *Core) LoadPlaylist(tracks []playlist.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(tracks) == 0 {
		return ErrEmptyPlaylist
	}
	if err := c.list.Load(tracks); err != nil {
		return err
	}

	head, _ := c.list.Current()
	if err := c.loadTrackInto(c.inactive(), head); err != nil {
		return err
	}
	c.active().bind(c.adapter).SetGain(0)
	c.TrackEvents.Publish(head)
	return nil
}

// StartPlaying is §4.3's start_playing. Transitions Idle→Preparing→Playing,
// or Paused/Finished→Playing directly, matching the lifecycle table.
func (c *Core) StartPlaying(fadeInDuration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.list.Len() == 0 {
		return ErrEmptyPlaylist
	}

	fromIdle := c.lc.State() == lifecycle.Idle
	if fromIdle {
		if err := c.applyEvent(lifecycle.Start, nil); err != nil {
			return err
		}
	} else if ok := c.lc.CanApply(lifecycle.Start); !ok {
		return &lifecycle.ErrIllegalTransition{From: c.lc.State(), Event: lifecycle.Start}
	}

	// Swap the prepared (inactive) voice to active.
	c.activeIdx = 1 - c.activeIdx
	av := c.active()
	gain := av.bind(c.adapter)
	gain.SetGain(0)

	start := c.adapter.RenderTimeNow() + c.adapter.LeadFrames()
	if err := c.adapter.ScheduleBuffer(av.id, av.pcm, start); err != nil {
		c.applyEvent(lifecycle.Error, ErrFileLoadFailed)
		return ErrFileLoadFailed
	}
	av.lastScheduledFrame = start

	c.fader.Fade(gain, 0, c.currentVolumeLocked(), fadeInDuration, c.cfg.FadeCurve)

	return c.applyEvent(lifecycle.Start, nil)
}

func (c *Core) currentVolumeLocked() float64 {
	return math.Float64frombits(c.masterVolume.Load())
}

// Pause is §4.3's pause. Per the formal transition table (§4.7), pause is
// only legal from Playing — not from FadingOut, despite the component
// prose listing both; the table is the Operation Queue's authority for
// InvalidState rejection, so that's what this implements (see DESIGN.md).
func (c *Core) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lc.CanApply(lifecycle.Pause) {
		return &lifecycle.ErrIllegalTransition{From: c.lc.State(), Event: lifecycle.Pause}
	}

	if s := c.xfade; s != nil {
		s.cancelled.Store(true)
		if s.task != nil {
			s.task.Cancel()
			s.task.Wait()
		}
	}

	for _, v := range c.voices {
		v.mu.Lock()
		v.paused = true
		v.pausedAtFrame = c.adapter.RenderTimeNow()
		v.mu.Unlock()
	}

	return c.applyEvent(lifecycle.Pause, nil)
}

// Resume is §4.3's resume.
func (c *Core) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lc.CanApply(lifecycle.Resume) {
		return &lifecycle.ErrIllegalTransition{From: c.lc.State(), Event: lifecycle.Resume}
	}

	for _, v := range c.voices {
		v.mu.Lock()
		v.paused = false
		v.mu.Unlock()
	}

	if s := c.xfade; s != nil && s.cancelled.Load() {
		remaining := s.totalSamples - (c.adapter.RenderTimeNow() - s.startedAt)
		if remaining < 0 {
			remaining = 0
		}
		sampleRate := c.adapter.SampleRate()
		remDur := time.Duration(float64(remaining) / float64(sampleRate) * float64(time.Second))
		// Recover the progress u that produced the frozen toVoice gain by
		// inverting the active curve's FadeIn, not by assuming linearity
		// (1-gain only inverts Linear; every other curve needs its own
		// inverse, so this recovers u the same way regardless of curve,
		// preserving curve identity and avoiding a gain discontinuity).
		startProgress := fade.InvertFadeIn(s.curve, s.toVoice.currentGain())
		task := c.fader.CrossfadeFrom(s.fromVoice.bind(c.adapter), s.toVoice.bind(c.adapter), remDur, s.curve, startProgress)
		s.task = task
		s.cancelled.Store(false)
	}

	return c.applyEvent(lifecycle.Resume, nil)
}

// Stop is §4.3's stop.
func (c *Core) Stop(fadeOutDuration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lc.CanApply(lifecycle.Stop) {
		return &lifecycle.ErrIllegalTransition{From: c.lc.State(), Event: lifecycle.Stop}
	}

	if s := c.xfade; s != nil {
		s.cancelled.Store(true)
		if s.task != nil {
			s.task.Cancel()
			s.task.Wait()
		}
		c.xfade = nil
	}

	if err := c.applyEvent(lifecycle.Stop, nil); err != nil {
		return err
	}

	master := hostGain{adapter: c.adapter, id: hostaudio.GainMaster}
	task := c.fader.Fade(master, c.currentVolumeLocked(), 0, fadeOutDuration, c.cfg.FadeCurve)
	task.Wait()

	for _, v := range c.voices {
		c.adapter.StopVoice(v.id)
		v.clearLoaded()
	}

	// Stop only passes through FadingOut when it started from Playing; every
	// other origin state already lands on Finished directly (§4.7), and
	// FadeOutDone has no legal transition from anywhere but FadingOut.
	if c.lc.State() == lifecycle.FadingOut {
		return c.applyEvent(lifecycle.FadeOutDone, nil)
	}
	return nil
}

// seekWithFade implements the shared machinery behind skip_forward,
// skip_backward, and seek (§4.3): fade active voice to 0, reschedule its
// buffer at the new sample frame, fade back in.
func (c *Core) seekWithFade(newFrame int64, fadeDuration time.Duration) error {
	av := c.active()
	gain := av.bind(c.adapter)

	out := c.fader.Fade(gain, av.currentGain(), 0, fadeDuration, c.cfg.FadeCurve)
	out.Wait()

	if err := c.adapter.ScheduleBuffer(av.id, av.pcm, newFrame); err != nil {
		return ErrFileLoadFailed
	}
	av.lastScheduledFrame = newFrame

	in := c.fader.Fade(gain, 0, c.currentVolumeLocked(), fadeDuration, c.cfg.FadeCurve)
	in.Wait()
	return nil
}

// SkipForward moves the active track's position forward by interval,
// clamped to [0, track_duration].
func (c *Core) SkipForward(interval time.Duration) error {
	return c.skipBy(interval)
}

// SkipBackward moves the active track's position backward by interval.
func (c *Core) SkipBackward(interval time.Duration) error {
	return c.skipBy(-interval)
}

func (c *Core) skipBy(delta time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	av := c.active()
	sampleRate := c.adapter.SampleRate()
	nowFrame := c.adapter.RenderTimeNow()
	currentFrame := nowFrame - av.lastScheduledFrame
	deltaFrames := int64(delta.Seconds() * float64(sampleRate))
	target := currentFrame + deltaFrames
	if target < 0 {
		target = 0
	}
	if track := av.currentTrack(); track != nil && track.Duration > 0 {
		maxFrame := int64(track.Duration * float64(sampleRate))
		if target > maxFrame {
			target = maxFrame
		}
	}

	return c.seekWithFade(nowFrame-target, seekFadeDefault)
}

// Seek is skip with an explicit fade duration, to an absolute position.
func (c *Core) Seek(to time.Duration, fadeDuration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	av := c.active()
	sampleRate := c.adapter.SampleRate()
	targetFrame := int64(to.Seconds() * float64(sampleRate))
	newScheduleFrame := c.adapter.RenderTimeNow() - targetFrame
	return c.seekWithFade(newScheduleFrame, fadeDuration)
}

// SkipToNext is §4.3's skip_to_next: cancels any in-flight crossfade and
// crossfades to the playlist's next track, rate-limited to one per 500 ms.
func (c *Core) SkipToNext() error {
	c.mu.Lock()
	if time.Since(c.lastSkip) < skipCollapseWindow && !c.lastSkip.IsZero() {
		c.mu.Unlock()
		return ErrRateLimited
	}
	c.lastSkip = time.Now()

	if s := c.xfade; s != nil {
		s.cancelled.Store(true)
		if s.task != nil {
			s.task.Cancel()
		}
		c.xfade = nil
	}

	d := c.list.Advance()
	if d.Finish {
		c.mu.Unlock()
		return c.Stop(c.cfg.CrossfadeDuration)
	}
	track, err := c.list.JumpTo(d.NextIndex)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.performCrossfade(track, c.cfg.CrossfadeDuration)
}

// SkipToPrevious moves to the previous playlist entry and crossfades to it,
// bypassing repeat-mode rules (explicit user intent, not an auto-advance
// decision) and sharing SkipToNext's rate limit. Unlike SkipToPrevious,
// SkipToNext picks its target through the playlist's Advance rule, so repeat
// mode does apply to it.
func (c *Core) SkipToPrevious() error {
	c.mu.Lock()
	if time.Since(c.lastSkip) < skipCollapseWindow && !c.lastSkip.IsZero() {
		c.mu.Unlock()
		return ErrRateLimited
	}
	c.lastSkip = time.Now()

	if s := c.xfade; s != nil {
		s.cancelled.Store(true)
		if s.task != nil {
			s.task.Cancel()
		}
		c.xfade = nil
	}

	track, err := c.list.SkipToPrevious()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.performCrossfade(track, c.cfg.CrossfadeDuration)
}

// JumpTo moves directly to index and crossfades to it.
func (c *Core) JumpTo(index int) error {
	c.mu.Lock()
	if s := c.xfade; s != nil {
		s.cancelled.Store(true)
		if s.task != nil {
			s.task.Cancel()
		}
		c.xfade = nil
	}

	track, err := c.list.JumpTo(index)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.performCrossfade(track, c.cfg.CrossfadeDuration)
}

// SwapPlaylist is §4.3's swap_playlist.
func (c *Core) SwapPlaylist(tracks []playlist.Track, crossfadeDuration time.Duration) error {
	c.mu.Lock()
	playing := c.lc.State() == lifecycle.Playing
	c.mu.Unlock()

	if !playing {
		return c.LoadPlaylist(tracks)
	}

	c.mu.Lock()
	// Open Question #1 resolution (DESIGN.md): a swap arriving during a
	// pending crossfade cancels it and restarts the crossfade against the
	// new head, rather than queuing behind it.
	if s := c.xfade; s != nil {
		s.cancelled.Store(true)
		if s.task != nil {
			s.task.Cancel()
		}
		c.xfade = nil
	}
	if err := c.list.Load(tracks); err != nil {
		c.mu.Unlock()
		return err
	}
	head, _ := c.list.Current()
	c.mu.Unlock()

	return c.performCrossfade(head, crossfadeDuration)
}

// performCrossfade is §4.3's "Performing a crossfade".
func (c *Core) performCrossfade(next playlist.Track, duration time.Duration) error {
	c.mu.Lock()
	from := c.active()
	to := c.inactive()

	c.CrossfadeEvents.Publish(CrossfadeProgress{Phase: PhasePreparing})
	if err := c.loadTrackInto(to, next); err != nil {
		c.mu.Unlock()
		c.applyEvent(lifecycle.Error, ErrFileLoadFailed)
		c.Log.Append(events.LogEntry{Level: events.ErrorLevel, Message: "file load failed during crossfade", At: nowStamp()})
		return ErrFileLoadFailed
	}

	adapted := adaptedCrossfadeDuration(duration, next.Duration)
	sampleRate := c.adapter.SampleRate()
	startFrame := c.adapter.RenderTimeNow() + c.adapter.LeadFrames()

	toGain := to.bind(c.adapter)
	toGain.SetGain(0)
	if err := c.adapter.ScheduleBuffer(to.id, to.pcm, startFrame); err != nil {
		c.mu.Unlock()
		c.applyEvent(lifecycle.Error, ErrFileLoadFailed)
		return ErrFileLoadFailed
	}
	to.lastScheduledFrame = startFrame

	sess := newCrossfadeSession(from, to, sampleFramesFor(adapted, sampleRate), startFrame, c.cfg.FadeCurve)
	c.xfade = sess
	c.mu.Unlock()

	c.CrossfadeEvents.Publish(CrossfadeProgress{SessionID: sess.id, Phase: PhaseFading})
	task := c.fader.Crossfade(from.bind(c.adapter), to.bind(c.adapter), adapted, sess.curve)
	sess.task = task

	go c.watchCrossfadeProgress(sess, task)

	if err := task.Wait(); err != nil {
		// Cancelled: gains left where they are; from_voice stays scheduled,
		// the next operation decides (per §4.3's cancellation note).
		return nil
	}

	c.mu.Lock()
	c.CrossfadeEvents.Publish(CrossfadeProgress{SessionID: sess.id, Phase: PhaseSwitching})
	c.adapter.StopVoice(from.id)
	from.clearLoaded()
	c.activeIdx = 1 - c.activeIdx
	c.xfade = nil
	c.TrackEvents.Publish(next)
	c.mu.Unlock()

	c.CrossfadeEvents.Publish(CrossfadeProgress{SessionID: sess.id, Phase: PhaseCleanup})
	c.CrossfadeEvents.Publish(CrossfadeProgress{SessionID: sess.id, Phase: PhaseIdle})
	return nil
}

// watchCrossfadeProgress polls the fade Task's published progress at ≥10 Hz
// and republishes it as CrossfadeProgress events until the task finishes.
func (c *Core) watchCrossfadeProgress(sess *crossfadeSession, task *fade.Task) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-task.Done():
			return
		case <-ticker.C:
			c.CrossfadeEvents.Publish(CrossfadeProgress{SessionID: sess.id, Phase: PhaseFading, Progress: task.Progress()})
		}
	}
}

// SetVolume is §4.3's set_volume.
func (c *Core) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.masterVolume.Store(math.Float64bits(v))
	c.adapter.SetGain(hostaudio.GainMaster, v)
}

// SetRepeatMode is §4.3's set_repeat_mode.
func (c *Core) SetRepeatMode(mode playlist.RepeatMode) {
	c.list.SetRepeatMode(mode)
}

// SetRepeatLimit updates the playlist's repeat bound.
func (c *Core) SetRepeatLimit(limit *int) {
	c.list.SetRepeatLimit(limit)
}

// tickLoop drives the 2 Hz position/auto-advance tick for as long as the
// Core is open.
func (c *Core) tickLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(positionTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Core) tick() {
	c.mu.Lock()
	if c.lc.State() != lifecycle.Playing {
		c.mu.Unlock()
		return
	}
	av := c.active()
	sampleRate := c.adapter.SampleRate()
	now := c.adapter.RenderTimeNow()
	currentTime := float64(now-av.lastScheduledFrame) / float64(sampleRate)
	if currentTime < 0 {
		currentTime = 0
	}
	track := av.currentTrack()
	duration := 0.0
	if track != nil {
		duration = track.Duration
	}
	c.mu.Unlock()

	c.PositionEvents.Publish(Position{CurrentTime: currentTime, Duration: duration})

	if duration <= 0 {
		return
	}
	remaining := duration - currentTime
	effective := adaptedCrossfadeDuration(c.cfg.CrossfadeDuration, duration)

	c.mu.Lock()
	inFlight := c.xfade != nil
	c.mu.Unlock()
	if inFlight || remaining > effective.Seconds() {
		return
	}

	c.mu.Lock()
	decision := c.list.WhatPlaysNext()
	c.mu.Unlock()

	if decision.Finish {
		c.Stop(c.cfg.CrossfadeDuration)
		return
	}

	c.mu.Lock()
	d := c.list.Advance() // commits the decision WhatPlaysNext only previewed
	next, err := c.list.JumpTo(d.NextIndex)
	c.mu.Unlock()
	if err != nil {
		return
	}
	go c.performCrossfade(next, c.cfg.CrossfadeDuration)
}

// OnInterruption satisfies session.Observer.
func (c *Core) OnInterruption(kind session.InterruptionKind) {
	c.Log.Append(events.LogEntry{Level: events.Warning, Message: "session interruption observed", At: nowStamp()})
}

// OnRouteChange satisfies session.Observer: §4.3's external-session-change
// self-heal — if Playing, re-assert the session and replay from the
// last-known position via seek-with-fade.
func (c *Core) OnRouteChange(reason session.RouteChangeReason) {
	c.mu.Lock()
	playing := c.lc.State() == lifecycle.Playing
	av := c.active()
	sampleRate := c.adapter.SampleRate()
	now := c.adapter.RenderTimeNow()
	currentFrame := now - av.lastScheduledFrame
	c.mu.Unlock()

	if !playing {
		return
	}
	if c.sess != nil {
		c.sess.Activate()
	}
	c.mu.Lock()
	c.seekWithFade(now-currentFrame, seekFadeDefault)
	c.mu.Unlock()
	c.Log.Append(events.LogEntry{Level: events.Recovered, Message: "self-healed after route change", At: nowStamp()})
}

// OnExternalReset satisfies session.Observer: the session-side trigger for
// §4.3's HostEngineReset recovery path, for platforms where the reset is
// detected by the Session Adapter (e.g. an OS audio-server restart) rather
// than by the Audio Host Adapter itself. Runs the recovery in its own
// goroutine so the adapter's notification path never blocks on it.
func (c *Core) OnExternalReset() {
	go c.HandleHostEngineReset()
}

// HandleHostEngineReset implements §4.3's HostEngineReset recovery path:
// re-create both voices, reload the current track at its last-known
// position, attempt resume. Fails to Failed after 2 attempts.
func (c *Core) HandleHostEngineReset() error {
	c.mu.Lock()
	c.applyEvent(lifecycle.Load, nil) // -> Preparing, the recovery state
	track := c.active().currentTrack()
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if err := c.adapter.Reset(); err != nil {
			lastErr = err
			continue
		}
		c.mu.Lock()
		// A failed prior attempt may have pushed the lifecycle past
		// Preparing (e.g. into Failed via StartPlaying's own Error path);
		// re-enter Preparing so this attempt's StartPlaying is legal.
		if c.lc.State() != lifecycle.Preparing {
			c.applyEvent(lifecycle.Load, nil)
		}
		if track != nil {
			// StartPlaying flips activeIdx and plays whatever sits in the
			// currently-inactive voice, same as the normal load->start path.
			if err := c.loadTrackInto(c.inactive(), *track); err != nil {
				lastErr = err
				c.mu.Unlock()
				continue
			}
		}
		c.mu.Unlock()

		if err := c.StartPlaying(0); err == nil {
			c.Log.Append(events.LogEntry{Level: events.Recovered, Message: "recovered from host engine reset", At: nowStamp()})
			return nil
		} else {
			lastErr = err
		}
	}

	c.applyEvent(lifecycle.Error, ErrRecoveryFailed)
	c.Log.Append(events.LogEntry{Level: events.ErrorLevel, Message: "host engine reset recovery failed: " + errString(lastErr), At: nowStamp()})
	return ErrRecoveryFailed
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

// nowStamp is factored out so tests can't accidentally depend on wall-clock
// values inside event assertions beyond "it was set".
func nowStamp() time.Time {
	return time.Now()
}

// Close stops the tick loop and the adapter.
func (c *Core) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	c.wg.Wait()
	c.StateEvents.Close()
	c.PositionEvents.Close()
	c.TrackEvents.Close()
	c.CrossfadeEvents.Close()
	c.Log.Close()
	return c.adapter.Close()
}


// Package meditationplayer is a dual-voice crossfading audio playback
// engine for meditation and ambient apps: two main voices that crossfade
// between playlist tracks, an independent looping overlay voice for beds
// and bells, and a lifecycle-gated operation queue serializing every
// command against both.
package meditationplayer

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/duskcairn/meditationplayer/internal/decode"
	"github.com/duskcairn/meditationplayer/internal/engine"
	"github.com/duskcairn/meditationplayer/internal/hostaudio"
	"github.com/duskcairn/meditationplayer/internal/lifecycle"
	"github.com/duskcairn/meditationplayer/internal/logging"
	"github.com/duskcairn/meditationplayer/internal/opqueue"
	"github.com/duskcairn/meditationplayer/internal/overlay"
	"github.com/duskcairn/meditationplayer/internal/playlist"
	"github.com/duskcairn/meditationplayer/internal/session"
)

// Option configures a Player at construction time.
type Option func(*options)

type options struct {
	log           logging.Logger
	session       session.Adapter
	loader        engine.Loader
	overlayLoader overlay.Loader
}

// WithLogger attaches a structured logger; defaults to a discard logger.
func WithLogger(log logging.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithSessionAdapter attaches a platform Session Adapter; defaults to
// session.NoopAdapter, appropriate for AudioSessionMode == SessionExternal
// or for tests.
func WithSessionAdapter(a session.Adapter) Option {
	return func(o *options) { o.session = a }
}

// WithLoader overrides the default file-backed MP3 loader used to resolve
// main-voice tracks.
func WithLoader(l engine.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithOverlayLoader overrides the default file-backed MP3 loader used to
// resolve overlay tracks.
func WithOverlayLoader(l overlay.Loader) Option {
	return func(o *options) { o.overlayLoader = l }
}

// Player is the public façade (§6): one struct exposing one exported
// method per logical operation, delegating internally to the Main Playback
// Core, the Overlay Voice, and the Operation Queue that serializes
// everything against the lifecycle machine — grounded on the teacher's
// App type's same one-struct-one-method-per-operation shape.
type Player struct {
	log     logging.Logger
	adapter hostaudio.Adapter
	sess    session.Adapter

	lc      *lifecycle.Machine
	list    *playlist.Playlist
	core    *engine.Core
	overlay *overlay.Voice
	queue   *opqueue.Queue

	mu     sync.Mutex
	cfg    PlayerConfiguration
	closed bool
}

// New constructs a Player against adapter, validating cfg per §6's rules.
func New(cfg PlayerConfiguration, adapter hostaudio.Adapter, opts ...Option) (*Player, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	o := options{log: logging.Discard(), session: session.NoopAdapter{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loader == nil {
		o.loader = defaultLoader()
	}
	if o.overlayLoader == nil {
		o.overlayLoader = defaultOverlayLoader()
	}

	lc := lifecycle.New()
	list := playlist.New(normalized.toPlaylistMode(), normalized.RepeatLimit)

	if normalized.AudioSessionMode == SessionManaged {
		if err := o.session.Configure(normalized.MixWithOthers); err != nil {
			return nil, &PlayerError{Err: ErrSessionConfigurationFailed, Kind: err.Error()}
		}
		if err := o.session.Activate(); err != nil {
			return nil, &PlayerError{Err: ErrSessionConfigurationFailed, Kind: err.Error()}
		}
	}

	core := engine.New(o.log, adapter, lc, list, o.loader, o.sess(), engine.Config{
		CrossfadeDuration: normalized.CrossfadeDuration,
		FadeCurve:         normalized.FadeCurve,
		Volume:            normalized.Volume,
	})

	p := &Player{
		log:     o.log,
		adapter: adapter,
		sess:    o.sess(),
		lc:      lc,
		list:    list,
		core:    core,
		overlay: overlay.New(o.log, adapter, o.overlayLoader),
		queue:   opqueue.New(o.log, lc),
		cfg:     normalized,
	}
	return p, nil
}

// sess is a tiny accessor so options can stay a plain struct without an
// exported field named the same as Player's.
func (o options) sess() session.Adapter { return o.session }

// defaultLoader resolves a Track.Source as a filesystem path to an MP3
// file, decoding it in full via internal/decode. Real host applications
// typically override this with WithLoader to stream instead of decoding
// entire files up front; this default exists so New works out of the box
// for the demo CLI and for tests against real fixtures.
func defaultLoader() engine.Loader {
	return func(t playlist.Track) (hostaudio.PCM, float64, error) {
		return loadMP3File(t.Source)
	}
}

func defaultOverlayLoader() overlay.Loader {
	return func(t playlist.Track) (hostaudio.PCM, float64, error) {
		return loadMP3File(t.Source)
	}
}

func loadMP3File(path string) (hostaudio.PCM, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return hostaudio.PCM{}, 0, err
	}
	defer f.Close()
	return decodeMP3(f)
}

func decodeMP3(r io.Reader) (hostaudio.PCM, float64, error) {
	result, err := decode.MP3(r)
	if err != nil {
		return hostaudio.PCM{}, 0, err
	}
	return hostaudio.PCM{Samples: result.Samples, Frames: len(result.Samples) / 2}, result.Duration, nil
}

// submit wraps fn as an opqueue.Operation guarded by ev, translating the
// queue's own sentinel errors into the public PlayerError set.
func (p *Player) submit(kind string, ev lifecycle.Event, collapseKey string, allowCollapse bool, fn func() error) error {
	err := p.queue.Submit(opqueue.Operation{
		Kind:          kind,
		Priority:      opqueue.Normal,
		Event:         ev,
		CollapseKey:   collapseKey,
		AllowCollapse: allowCollapse,
		Run: func(ctx context.Context) error {
			return fn()
		},
	})
	return translateQueueErr(kind, err)
}

func translateQueueErr(kind string, err error) error {
	switch err {
	case nil:
		return nil
	case opqueue.ErrInvalidState:
		return invalidState(kind)
	case opqueue.ErrRateLimited:
		return &PlayerError{Err: ErrRateLimited, Kind: kind}
	case opqueue.ErrCancelled:
		return &PlayerError{Err: ErrCancelled, Kind: kind}
	case opqueue.ErrClosed:
		return &PlayerError{Err: ErrClosed, Kind: kind}
	default:
		return err
	}
}

// UpdateConfiguration re-validates and stores cfg. Volume, repeat mode and
// repeat limit are passed to the Main Playback Core and take effect
// immediately. crossfade_duration and fade_curve are only stored: the Core
// keeps the values it was constructed with, while Configuration() reports
// the new ones.
func (p *Player) UpdateConfiguration(cfg PlayerConfiguration) error {
	normalized, err := cfg.normalize()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = normalized
	p.mu.Unlock()

	p.core.SetVolume(normalized.Volume)
	p.core.SetRepeatMode(normalized.RepeatMode)
	p.core.SetRepeatLimit(normalized.RepeatLimit)
	return nil
}

// Configuration returns the currently active configuration.
func (p *Player) Configuration() PlayerConfiguration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetVolume sets the master volume, clamped to [0, 1]. Takes effect
// immediately; not queued, since it never touches lifecycle state.
func (p *Player) SetVolume(v float64) error {
	p.mu.Lock()
	p.cfg.Volume = clampUnit(v)
	p.mu.Unlock()
	p.core.SetVolume(v)
	return nil
}

// SetRepeatMode updates the playlist's repeat mode, taking effect at the
// next advance decision.
func (p *Player) SetRepeatMode(mode RepeatMode) error {
	p.mu.Lock()
	p.cfg.RepeatMode = mode
	p.mu.Unlock()
	p.core.SetRepeatMode(mode)
	return nil
}

// LoadPlaylist replaces the playlist and prepares its head track. Legal
// from every lifecycle state except FadingOut (§4.7's Load column).
func (p *Player) LoadPlaylist(ctx context.Context, tracks []Track) error {
	return p.submit("load_playlist", lifecycle.Load, "", false, func() error {
		return translateCoreErr(p.core.LoadPlaylist(tracks))
	})
}

// SwapPlaylist replaces the playlist, crossfading to its head track if
// currently Playing, or simply loading it otherwise.
func (p *Player) SwapPlaylist(ctx context.Context, tracks []Track, crossfade time.Duration) error {
	return p.submit("swap_playlist", lifecycle.Load, "", false, func() error {
		return translateCoreErr(p.core.SwapPlaylist(tracks, crossfade))
	})
}

// Playlist returns a read-only snapshot of the current playlist.
func (p *Player) Playlist() PlaylistSnapshot {
	snap := p.core.Snapshot()
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlaylistSnapshot{
		Tracks:           snap.Tracks,
		CurrentIndex:     snap.CurrentIndex,
		RepeatMode:       p.cfg.RepeatMode,
		RepeatLimit:      p.cfg.RepeatLimit,
		RepeatsCompleted: snap.RepeatsCompleted,
	}
}

// CurrentTrackMetadata returns the currently active track, if any.
func (p *Player) CurrentTrackMetadata() (Track, bool) {
	return p.core.CurrentTrack()
}

// SkipToNext crossfades to the next playlist entry, rate-limited to one
// per 500 ms and collapsing consecutive rapid presses.
func (p *Player) SkipToNext(ctx context.Context) error {
	return p.submit("skip_to_next", lifecycle.AdvanceComplete, "skip", true, func() error {
		return translateCoreErr(p.core.SkipToNext())
	})
}

// SkipToPrevious crossfades to the previous playlist entry.
func (p *Player) SkipToPrevious(ctx context.Context) error {
	return p.submit("skip_to_previous", lifecycle.AdvanceComplete, "skip", true, func() error {
		return translateCoreErr(p.core.SkipToPrevious())
	})
}

// JumpTo crossfades directly to the track at index.
func (p *Player) JumpTo(ctx context.Context, index int) error {
	return p.submit("jump_to", lifecycle.AdvanceComplete, "skip", true, func() error {
		return translateCoreErr(p.core.JumpTo(index))
	})
}

// StartPlaying begins playback, requiring a non-empty playlist and
// lifecycle state Idle|Preparing|Paused|Finished (§4.3).
func (p *Player) StartPlaying(ctx context.Context, fadeIn time.Duration) error {
	return p.submit("start_playing", lifecycle.Start, "", false, func() error {
		return translateCoreErr(p.core.StartPlaying(fadeIn))
	})
}

// Pause freezes playback. Legal only from Playing (§4.7).
func (p *Player) Pause(ctx context.Context) error {
	return p.submit("pause", lifecycle.Pause, "", false, func() error {
		return translateCoreErr(p.core.Pause())
	})
}

// Resume continues playback after Pause.
func (p *Player) Resume(ctx context.Context) error {
	return p.submit("resume", lifecycle.Resume, "", false, func() error {
		return translateCoreErr(p.core.Resume())
	})
}

// Stop fades out and stops immediately, regardless of position in the
// current track. Legal from every lifecycle state except Idle.
func (p *Player) Stop(ctx context.Context, fadeOut time.Duration) error {
	return p.submit("stop", lifecycle.Stop, "", false, func() error {
		return translateCoreErr(p.core.Stop(fadeOut))
	})
}

// Finish is the same immediate fade-and-stop as Stop. §4.3's component
// design only ever documents one stop algorithm, never a distinct
// let-it-play-out variant for an explicit caller-invoked "finish", so this
// resolves that external-surface/component-design gap the same way item 7
// of DESIGN.md's Open Question log resolves the Pause/FadingOut one: by
// implementing exactly what §4.3 actually specifies rather than inventing
// new Core machinery the spec never describes.
func (p *Player) Finish(ctx context.Context, fadeOut time.Duration) error {
	return p.Stop(ctx, fadeOut)
}

// SkipForward moves the active track's position forward by interval.
func (p *Player) SkipForward(ctx context.Context, interval time.Duration) error {
	return p.submit("skip_forward", lifecycle.AdvanceComplete, "skip", true, func() error {
		return translateCoreErr(p.core.SkipForward(interval))
	})
}

// SkipBackward moves the active track's position backward by interval.
func (p *Player) SkipBackward(ctx context.Context, interval time.Duration) error {
	return p.submit("skip_backward", lifecycle.AdvanceComplete, "skip", true, func() error {
		return translateCoreErr(p.core.SkipBackward(interval))
	})
}

// Seek moves the active track to an absolute position.
func (p *Player) Seek(ctx context.Context, to, fade time.Duration) error {
	return p.submit("seek", lifecycle.AdvanceComplete, "skip", true, func() error {
		return translateCoreErr(p.core.Seek(to, fade))
	})
}

// StartOverlay begins the overlay voice. Never routed through the
// Operation Queue: the overlay is driven entirely by its own goroutine,
// which is what makes its isolation from the main voices (I5/P7)
// mechanically guaranteed rather than merely conventional.
func (p *Player) StartOverlay(ctx context.Context, track Track, cfg OverlayConfiguration) error {
	return translateOverlayErr(p.overlay.Start(track, cfg))
}

// StopOverlay halts the overlay voice.
func (p *Player) StopOverlay(ctx context.Context) error {
	return translateOverlayErr(p.overlay.Stop())
}

// PauseOverlay silences the overlay voice without releasing its buffer.
func (p *Player) PauseOverlay(ctx context.Context) error {
	return translateOverlayErr(p.overlay.Pause())
}

// ResumeOverlay restores the overlay voice after PauseOverlay.
func (p *Player) ResumeOverlay(ctx context.Context) error {
	return translateOverlayErr(p.overlay.Resume())
}

// ReplaceOverlay swaps in a new overlay track in place.
func (p *Player) ReplaceOverlay(ctx context.Context, track Track) error {
	return translateOverlayErr(p.overlay.Replace(track))
}

// SetOverlayVolume sets the overlay voice's target volume.
func (p *Player) SetOverlayVolume(v float64) error {
	p.overlay.SetVolume(v)
	return nil
}

// OverlayState returns the overlay voice's current state.
func (p *Player) OverlayState() OverlayState {
	return p.overlay.State()
}

// PauseAll pauses both the main voices and the overlay voice.
func (p *Player) PauseAll(ctx context.Context) error {
	mainErr := p.Pause(ctx)
	overlayErr := p.PauseOverlay(ctx)
	if mainErr != nil {
		return mainErr
	}
	if overlayErr != nil && p.overlay.State() != OverlayIdle {
		return overlayErr
	}
	return nil
}

// ResumeAll resumes both the main voices and the overlay voice.
func (p *Player) ResumeAll(ctx context.Context) error {
	mainErr := p.Resume(ctx)
	overlayErr := p.ResumeOverlay(ctx)
	if mainErr != nil {
		return mainErr
	}
	if overlayErr != nil && p.overlay.State() != OverlayIdle {
		return overlayErr
	}
	return nil
}

// StopAll stops both the main voices and the overlay voice.
func (p *Player) StopAll(ctx context.Context) error {
	mainErr := p.Stop(ctx, p.cfg.CrossfadeDuration)
	overlayErr := p.StopOverlay(ctx)
	if mainErr != nil {
		return mainErr
	}
	if overlayErr != nil && p.overlay.State() != OverlayIdle {
		return overlayErr
	}
	return nil
}

// Reset stops everything and tears the underlying audio streams down and
// back up via the Audio Host Adapter, the same recovery path
// HandleHostEngineReset uses for an externally-triggered host reset.
func (p *Player) Reset(ctx context.Context) error {
	_ = p.StopAll(ctx)
	return p.adapter.Reset()
}

// StateStream publishes every distinct lifecycle transition.
func (p *Player) StateStream() <-chan LifecycleState {
	return p.core.StateEvents.Subscribe(16).C()
}

// PositionStream publishes position ticks at the engine's tick rate.
func (p *Player) PositionStream() <-chan Position {
	return p.core.PositionEvents.Subscribe(16).C()
}

// TrackStream publishes the active track whenever it changes.
func (p *Player) TrackStream() <-chan Track {
	return p.core.TrackEvents.Subscribe(16).C()
}

// CrossfadeProgressStream publishes in-flight crossfade progress.
func (p *Player) CrossfadeProgressStream() <-chan CrossfadeProgress {
	return p.core.CrossfadeEvents.Subscribe(16).C()
}

// EventLogStream publishes the catch-all diagnostics log.
func (p *Player) EventLogStream() <-chan EventLogEntry {
	return p.core.Log.Subscribe(16).C()
}

// Close tears down the Operation Queue, the Overlay Voice, the Main
// Playback Core, and the Audio Host Adapter, in that order so no
// in-flight operation can observe a half-closed dependency.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.queue.Close()
	p.overlay.Close()
	return p.core.Close()
}

// translateCoreErr maps internal/engine sentinel errors onto the public
// PlayerError set.
func translateCoreErr(err error) error {
	switch err {
	case nil:
		return nil
	case engine.ErrEmptyPlaylist:
		return &PlayerError{Err: ErrEmptyPlaylist}
	case engine.ErrFileLoadFailed:
		return &PlayerError{Err: ErrFileLoadFailed}
	case engine.ErrRateLimited:
		return &PlayerError{Err: ErrRateLimited}
	case engine.ErrRecoveryFailed:
		return &PlayerError{Err: ErrHostEngineReset}
	case playlist.ErrNoNextTrack:
		return &PlayerError{Err: ErrNoNextTrack}
	case playlist.ErrNoPreviousTrack:
		return &PlayerError{Err: ErrNoPreviousTrack}
	case playlist.ErrIndexOutOfRange:
		return &PlayerError{Err: ErrIndexOutOfRange}
	default:
		if _, ok := err.(*lifecycle.ErrIllegalTransition); ok {
			return invalidState(err.Error())
		}
		return err
	}
}

// translateOverlayErr maps internal/overlay sentinel errors onto the
// public PlayerError set.
func translateOverlayErr(err error) error {
	switch err {
	case nil:
		return nil
	case overlay.ErrInvalidState:
		return invalidState("overlay")
	case overlay.ErrLoadFailed:
		return &PlayerError{Err: ErrFileLoadFailed}
	default:
		return err
	}
}

// Package playlist implements the Playlist Manager (§4.4): a pure data
// manager with no I/O that tracks an ordered sequence of tracks, a current
// index, and the repeat-mode bookkeeping that decides what plays next.
package playlist

import "errors"

// Track is an immutable record describing one playable item. Duration is
// resolved lazily by the decode/host layer; Unknown() reports whether it
// has been resolved yet.
type Track struct {
	Source        string
	Title         string
	Artist        string
	ArtworkHandle string
	Duration      float64 // seconds; < 0 means unknown
}

// Unknown reports whether Duration has not yet been resolved.
func (t Track) Unknown() bool {
	return t.Duration < 0
}

// RepeatMode controls the advance rule (§4.4's table).
type RepeatMode int

const (
	Off RepeatMode = iota
	SingleTrack
	Playlist
)

func (m RepeatMode) String() string {
	switch m {
	case Off:
		return "off"
	case SingleTrack:
		return "single_track"
	case Playlist:
		return "playlist"
	default:
		return "unknown"
	}
}

// Errors returned by navigation and load operations.
var (
	ErrEmptyPlaylist   = errors.New("playlist: empty")
	ErrNoNextTrack     = errors.New("playlist: no next track")
	ErrNoPreviousTrack = errors.New("playlist: no previous track")
	ErrIndexOutOfRange = errors.New("playlist: index out of range")
)

// Decision is what advance() or what_plays_next() concludes: either a
// concrete NextIndex to move to, or Finish (no next track).
type Decision struct {
	Finish    bool
	NextIndex int
}

// Playlist is a pure, non-concurrent data manager. Callers (the Main
// Playback Core, serialized through the Operation Queue per I6) are
// responsible for excluding concurrent access.
type Playlist struct {
	tracks           []Track
	currentIndex     int
	repeatMode       RepeatMode
	repeatLimit      *int // nil = unbounded
	repeatsCompleted int
}

// New returns an empty Playlist with the given repeat configuration.
func New(mode RepeatMode, limit *int) *Playlist {
	return &Playlist{repeatMode: mode, repeatLimit: limit}
}

// Load replaces the playlist contents, resetting current_index and
// repeats_completed to 0. Fails with ErrEmptyPlaylist if tracks is empty.
func (p *Playlist) Load(tracks []Track) error {
	if len(tracks) == 0 {
		return ErrEmptyPlaylist
	}
	p.tracks = append([]Track(nil), tracks...)
	p.currentIndex = 0
	p.repeatsCompleted = 0
	return nil
}

// Len returns the number of tracks.
func (p *Playlist) Len() int {
	return len(p.tracks)
}

// Tracks returns a copy of the full track list, for read-only snapshots.
func (p *Playlist) Tracks() []Track {
	return append([]Track(nil), p.tracks...)
}

// CurrentIndex returns the current index.
func (p *Playlist) CurrentIndex() int {
	return p.currentIndex
}

// RepeatsCompleted returns the current repeat counter.
func (p *Playlist) RepeatsCompleted() int {
	return p.repeatsCompleted
}

// SetRepeatMode takes effect at the next advance decision (§4.3's
// set_repeat_mode: immediate assignment, deferred effect).
func (p *Playlist) SetRepeatMode(mode RepeatMode) {
	p.repeatMode = mode
}

// SetRepeatLimit sets (or clears, with nil) the bound on repeats_completed.
func (p *Playlist) SetRepeatLimit(limit *int) {
	p.repeatLimit = limit
}

// Current returns the track at current_index, or false if the playlist is
// empty.
func (p *Playlist) Current() (Track, bool) {
	if len(p.tracks) == 0 {
		return Track{}, false
	}
	return p.tracks[p.currentIndex], true
}

// Advance computes the next step per the repeat-mode table and, unless
// Finish, mutates current_index and repeats_completed.
func (p *Playlist) Advance() Decision {
	return p.decide(true)
}

// WhatPlaysNext previews the same rule Advance would apply, without any
// side effect. It is the non-mutating twin the auto-advance trigger polls,
// and is guaranteed by construction (both call decide) to agree with
// Advance (property: decision purity).
func (p *Playlist) WhatPlaysNext() Decision {
	return p.decide(false)
}

// decide implements the repeat-mode table in §4.4. When mutate is false it
// computes the identical decision without writing currentIndex or
// repeatsCompleted, which is what makes Advance and WhatPlaysNext provably
// consistent: there is exactly one place the rule is expressed.
func (p *Playlist) decide(mutate bool) Decision {
	n := len(p.tracks)
	if n == 0 {
		return Decision{Finish: true}
	}

	atEnd := p.currentIndex == n-1
	var nextIndex int
	var wouldRepeat bool

	switch p.repeatMode {
	case Off:
		if atEnd {
			return Decision{Finish: true}
		}
		nextIndex = p.currentIndex + 1
	case SingleTrack:
		nextIndex = p.currentIndex
		wouldRepeat = true
	case Playlist:
		if atEnd {
			nextIndex = 0
			wouldRepeat = true
		} else {
			nextIndex = p.currentIndex + 1
		}
	default:
		if atEnd {
			return Decision{Finish: true}
		}
		nextIndex = p.currentIndex + 1
	}

	if wouldRepeat && p.repeatLimit != nil && p.repeatsCompleted+1 > *p.repeatLimit {
		return Decision{Finish: true}
	}

	if mutate {
		p.currentIndex = nextIndex
		if wouldRepeat {
			p.repeatsCompleted++
		}
	}
	return Decision{NextIndex: nextIndex}
}

// SkipToNext moves to current_index+1, bypassing repeat-mode rules (user
// intent, not an auto-advance). Fails with ErrNoNextTrack at the last
// track, whatever the repeat mode.
func (p *Playlist) SkipToNext() (Track, error) {
	if len(p.tracks) == 0 {
		return Track{}, ErrEmptyPlaylist
	}
	if p.currentIndex >= len(p.tracks)-1 {
		return Track{}, ErrNoNextTrack
	}
	p.currentIndex++
	return p.tracks[p.currentIndex], nil
}

// SkipToPrevious moves to current_index-1. Fails with ErrNoPreviousTrack at
// the head of the playlist.
func (p *Playlist) SkipToPrevious() (Track, error) {
	if len(p.tracks) == 0 {
		return Track{}, ErrEmptyPlaylist
	}
	if p.currentIndex <= 0 {
		return Track{}, ErrNoPreviousTrack
	}
	p.currentIndex--
	return p.tracks[p.currentIndex], nil
}

// JumpTo moves directly to index, failing with ErrIndexOutOfRange if it is
// not within [0, Len).
func (p *Playlist) JumpTo(index int) (Track, error) {
	if index < 0 || index >= len(p.tracks) {
		return Track{}, ErrIndexOutOfRange
	}
	p.currentIndex = index
	return p.tracks[index], nil
}

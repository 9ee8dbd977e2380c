package engine

import (
	"sync"

	"github.com/duskcairn/meditationplayer/internal/hostaudio"
	"github.com/duskcairn/meditationplayer/internal/playlist"
)

// mainVoice is one of the two main-player VoiceHandles (§3's VoiceHandle):
// allocated once at engine construction, tracks are loaded into and out of
// it, and it is never reallocated during the engine's lifetime.
type mainVoice struct {
	mu sync.Mutex

	id     hostaudio.Voice
	gainID hostaudio.GainID

	loaded             *playlist.Track
	pcm                hostaudio.PCM
	lastScheduledFrame int64

	paused        bool
	pausedAtFrame int64
	gain          float64
}

func newMainVoice(id hostaudio.Voice, gainID hostaudio.GainID) *mainVoice {
	return &mainVoice{id: id, gainID: gainID}
}

// gainFunc adapts a plain function to fade.GainSetter.
type gainFunc func(value float64)

func (f gainFunc) SetGain(value float64) { f(value) }

// bind returns a fade.GainSetter that routes the ramp engine's writes
// straight to the adapter while remembering the last value for Pause's
// "frozen_gain" bookkeeping.
func (v *mainVoice) bind(adapter hostaudio.Adapter) gainFunc {
	return func(value float64) {
		v.mu.Lock()
		v.gain = value
		v.mu.Unlock()
		adapter.SetGain(v.gainID, value)
	}
}

func (v *mainVoice) currentGain() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gain
}

func (v *mainVoice) setLoaded(t *playlist.Track, pcm hostaudio.PCM) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loaded = t
	v.pcm = pcm
}

func (v *mainVoice) clearLoaded() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loaded = nil
	v.pcm = hostaudio.PCM{}
}

func (v *mainVoice) currentTrack() *playlist.Track {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loaded
}

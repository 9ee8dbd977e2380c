package overlay

import (
	"errors"
	"testing"
	"time"

	"github.com/duskcairn/meditationplayer/internal/fade"
	"github.com/duskcairn/meditationplayer/internal/hostaudio"
	"github.com/duskcairn/meditationplayer/internal/logging"
	"github.com/duskcairn/meditationplayer/internal/playlist"
)

const testSampleRate = 44100

func fixedPCM(seconds float64) hostaudio.PCM {
	frames := int(seconds * testSampleRate)
	return hostaudio.PCM{Samples: make([]float32, frames), Frames: frames}
}

func fakeLoader(duration float64, failOn string) Loader {
	return func(track playlist.Track) (hostaudio.PCM, float64, error) {
		if track.Source == failOn {
			return hostaudio.PCM{}, 0, errors.New("boom")
		}
		return fixedPCM(duration), duration, nil
	}
}

func newTestVoice(t *testing.T, loader Loader) (*Voice, *hostaudio.FakeAdapter) {
	t.Helper()
	adapter := hostaudio.NewFakeAdapter(testSampleRate)
	v := New(logging.Discard(), adapter, loader)
	t.Cleanup(v.Close)
	return v, adapter
}

func waitForState(t *testing.T, v *Voice, want State, deadline time.Duration) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if v.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %v, stuck at %v", want, v.State())
}

func TestStartTransitionsIdleToPlaying(t *testing.T) {
	v, _ := newTestVoice(t, fakeLoader(2, ""))
	cfg := Configuration{LoopMode: LoopOnce, Volume: 0.8, FadeCurve: fade.Linear}
	if err := v.Start(playlist.Track{Source: "bed.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := v.State(); got != Playing {
		t.Fatalf("state = %v, want Playing", got)
	}
}

func TestStartRejectsWhenNotIdle(t *testing.T) {
	v, _ := newTestVoice(t, fakeLoader(2, ""))
	cfg := Configuration{LoopMode: LoopOnce, Volume: 0.5}
	if err := v.Start(playlist.Track{Source: "bed.wav"}, cfg); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := v.Start(playlist.Track{Source: "bed2.wav"}, cfg); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Start = %v, want ErrInvalidState", err)
	}
}

func TestStartSurfacesLoaderFailure(t *testing.T) {
	v, _ := newTestVoice(t, fakeLoader(2, "bad.wav"))
	cfg := Configuration{LoopMode: LoopOnce, Volume: 0.5}
	if err := v.Start(playlist.Track{Source: "bad.wav"}, cfg); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("Start = %v, want ErrLoadFailed", err)
	}
	if got := v.State(); got != Idle {
		t.Fatalf("state after failed load = %v, want Idle", got)
	}
}

func TestPauseOnlyLegalFromPlaying(t *testing.T) {
	v, _ := newTestVoice(t, fakeLoader(2, ""))
	if err := v.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Pause from Idle = %v, want ErrInvalidState", err)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	v, adapter := newTestVoice(t, fakeLoader(2, ""))
	cfg := Configuration{LoopMode: LoopInfinite, Volume: 0.6}
	if err := v.Start(playlist.Track{Source: "bed.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := v.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := v.State(); got != Paused {
		t.Fatalf("state = %v, want Paused", got)
	}
	if g := adapter.Gain(hostaudio.GainOverlay); g != 0 {
		t.Fatalf("gain while paused = %v, want 0", g)
	}
	if err := v.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := v.State(); got != Playing {
		t.Fatalf("state = %v, want Playing", got)
	}
	if g := adapter.Gain(hostaudio.GainOverlay); g != 0.6 {
		t.Fatalf("gain after resume = %v, want 0.6", g)
	}
}

func TestStopIsIdempotentFromIdle(t *testing.T) {
	v, _ := newTestVoice(t, fakeLoader(2, ""))
	if err := v.Stop(); err != nil {
		t.Fatalf("Stop from Idle: %v", err)
	}
	if got := v.State(); got != Idle {
		t.Fatalf("state = %v, want Idle", got)
	}
}

func TestStopFromPlayingReturnsToIdle(t *testing.T) {
	v, adapter := newTestVoice(t, fakeLoader(2, ""))
	cfg := Configuration{LoopMode: LoopInfinite, Volume: 0.7}
	if err := v.Start(playlist.Track{Source: "bed.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := v.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := v.State(); got != Idle {
		t.Fatalf("state = %v, want Idle", got)
	}
	if adapter.StoppedCount(hostaudio.VoiceOverlay) != 1 {
		t.Fatalf("StoppedCount = %d, want 1", adapter.StoppedCount(hostaudio.VoiceOverlay))
	}
}

func TestLoopOnceStopsAfterSingleIteration(t *testing.T) {
	v, adapter := newTestVoice(t, fakeLoader(1, ""))
	cfg := Configuration{LoopMode: LoopOnce, Volume: 0.5}
	if err := v.Start(playlist.Track{Source: "chime.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	adapter.Advance(int64(1.1 * testSampleRate))
	waitForState(t, v, Idle, 3*time.Second)
	if adapter.StoppedCount(hostaudio.VoiceOverlay) != 1 {
		t.Fatalf("StoppedCount = %d, want 1", adapter.StoppedCount(hostaudio.VoiceOverlay))
	}
	if len(adapter.ScheduledCalls()) != 1 {
		t.Fatalf("scheduled calls = %d, want 1", len(adapter.ScheduledCalls()))
	}
}

func TestLoopCountRepeatsExactlyN(t *testing.T) {
	v, adapter := newTestVoice(t, fakeLoader(1, ""))
	cfg := Configuration{LoopMode: LoopCount, Count: 3, Volume: 0.5}
	if err := v.Start(playlist.Track{Source: "bell.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		adapter.Advance(int64(1.1 * testSampleRate))
		time.Sleep(50 * time.Millisecond)
	}
	waitForState(t, v, Idle, 3*time.Second)
	if got := len(adapter.ScheduledCalls()); got != 3 {
		t.Fatalf("scheduled calls = %d, want 3", got)
	}
}

func TestLoopInfiniteKeepsReschedulingUntilStopped(t *testing.T) {
	v, adapter := newTestVoice(t, fakeLoader(1, ""))
	cfg := Configuration{LoopMode: LoopInfinite, Volume: 0.5}
	if err := v.Start(playlist.Track{Source: "bed.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		adapter.Advance(int64(1.1 * testSampleRate))
		time.Sleep(50 * time.Millisecond)
	}
	if got := len(adapter.ScheduledCalls()); got < 3 {
		t.Fatalf("scheduled calls = %d, want at least 3", got)
	}
	if got := v.State(); got != Playing {
		t.Fatalf("state = %v, want still Playing", got)
	}
	if err := v.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestReplaceSwapsTrackAndKeepsPlaying(t *testing.T) {
	v, adapter := newTestVoice(t, fakeLoader(5, ""))
	cfg := Configuration{LoopMode: LoopInfinite, Volume: 0.4}
	if err := v.Start(playlist.Track{Source: "bed1.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := v.Replace(playlist.Track{Source: "bed2.wav"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got := v.State(); got != Playing {
		t.Fatalf("state after replace = %v, want Playing", got)
	}
	track := v.CurrentTrack()
	if track == nil || track.Source != "bed2.wav" {
		t.Fatalf("current track = %+v, want bed2.wav", track)
	}
	if adapter.StoppedCount(hostaudio.VoiceOverlay) != 1 {
		t.Fatalf("StoppedCount = %d, want 1 (stopped old buffer before swap)", adapter.StoppedCount(hostaudio.VoiceOverlay))
	}
}

func TestReplaceRejectedFromIdle(t *testing.T) {
	v, _ := newTestVoice(t, fakeLoader(5, ""))
	if err := v.Replace(playlist.Track{Source: "bed2.wav"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Replace from Idle = %v, want ErrInvalidState", err)
	}
}

func TestSetVolumeClampsAndAppliesImmediatelyWhilePlaying(t *testing.T) {
	v, adapter := newTestVoice(t, fakeLoader(2, ""))
	cfg := Configuration{LoopMode: LoopInfinite, Volume: 0.5}
	if err := v.Start(playlist.Track{Source: "bed.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	v.SetVolume(1.5)
	if g := adapter.Gain(hostaudio.GainOverlay); g != 1 {
		t.Fatalf("gain = %v, want clamped to 1", g)
	}
	v.SetVolume(-1)
	if g := adapter.Gain(hostaudio.GainOverlay); g != 0 {
		t.Fatalf("gain = %v, want clamped to 0", g)
	}
}

func TestStateEventsPublishDistinctTransitions(t *testing.T) {
	v, adapter := newTestVoice(t, fakeLoader(1, ""))
	sub := v.StateEvents.Subscribe(8)
	defer sub.Unsubscribe()

	cfg := Configuration{LoopMode: LoopOnce, Volume: 0.5}
	if err := v.Start(playlist.Track{Source: "bed.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	adapter.Advance(int64(1.1 * testSampleRate))
	waitForState(t, v, Idle, 3*time.Second)

	var seen []State
	draining := true
	for draining {
		select {
		case s := <-sub.C():
			seen = append(seen, s)
		default:
			draining = false
		}
	}
	want := []State{Preparing, Playing, Idle}
	if len(seen) != len(want) {
		t.Fatalf("seen %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen %v, want %v", seen, want)
		}
	}
}

// TestOverlayNeverTouchesMainGainIDs is the isolation guarantee (I5/P7):
// nothing the overlay voice does should ever set a main-voice gain or stop
// a main voice, since it only ever addresses hostaudio.VoiceOverlay /
// hostaudio.GainOverlay.
func TestOverlayNeverTouchesMainGainIDs(t *testing.T) {
	v, adapter := newTestVoice(t, fakeLoader(1, ""))
	cfg := Configuration{LoopMode: LoopCount, Count: 2, Volume: 0.9, ApplyFadeOnEachLoop: true,
		FadeInDuration: 10 * time.Millisecond, FadeOutDuration: 10 * time.Millisecond}
	if err := v.Start(playlist.Track{Source: "bell.wav"}, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := v.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := v.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	adapter.Advance(int64(1.1 * testSampleRate))
	time.Sleep(50 * time.Millisecond)
	if err := v.Replace(playlist.Track{Source: "bell2.wav"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := v.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	for _, call := range adapter.ScheduledCalls() {
		if call.Voice != hostaudio.VoiceOverlay {
			t.Fatalf("scheduled on voice %v, want only VoiceOverlay", call.Voice)
		}
	}
	if adapter.StoppedCount(hostaudio.VoiceA) != 0 || adapter.StoppedCount(hostaudio.VoiceB) != 0 {
		t.Fatalf("overlay stopped a main voice: A=%d B=%d",
			adapter.StoppedCount(hostaudio.VoiceA), adapter.StoppedCount(hostaudio.VoiceB))
	}
	if adapter.Gain(hostaudio.GainVoiceA) != 0 || adapter.Gain(hostaudio.GainVoiceB) != 0 || adapter.Gain(hostaudio.GainMaster) != 0 {
		t.Fatalf("overlay touched a main gain: A=%v B=%v Master=%v",
			adapter.Gain(hostaudio.GainVoiceA), adapter.Gain(hostaudio.GainVoiceB), adapter.Gain(hostaudio.GainMaster))
	}
}

func TestCloseStopsWorkerAndClosesEventSurface(t *testing.T) {
	adapter := hostaudio.NewFakeAdapter(testSampleRate)
	v := New(logging.Discard(), adapter, fakeLoader(1, ""))
	if err := v.Start(playlist.Track{Source: "bed.wav"}, Configuration{LoopMode: LoopInfinite, Volume: 0.5}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	v.Close()

	sub := v.StateEvents.Subscribe(1)
	if _, ok := <-sub.C(); ok {
		t.Fatalf("subscribing after Close should see an already-closed channel")
	}
}

package hostaudio

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/duskcairn/meditationplayer/internal/logging"
)

const (
	defaultSampleRate      = 44100
	defaultFramesPerBuffer = 1024
	defaultLeadFrames      = 2048 // ~46 ms @ 44.1 kHz, per §4.3 step 2
	channels               = 2
)

// voiceSlot holds one voice's scheduled buffer and current gain, read from
// the portaudio callback and written from the engine goroutine. gain is
// atomic; the buffer fields are guarded by mu, which the callback holds only
// for one renderInto call.
type voiceSlot struct {
	mu         sync.Mutex
	pcm        []float32
	startFrame int64
	cursor     int // index into pcm, in frames, of the next sample to render
	active     bool

	gain atomic.Uint64 // math.Float64bits
}

func newVoiceSlot(initialGain float64) *voiceSlot {
	s := &voiceSlot{}
	s.gain.Store(math.Float64bits(initialGain))
	return s
}

func (s *voiceSlot) setGain(v float64) {
	s.gain.Store(math.Float64bits(v))
}

func (s *voiceSlot) getGain() float64 {
	return math.Float64frombits(s.gain.Load())
}

func (s *voiceSlot) schedule(pcm []float32, startFrame int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcm = pcm
	s.startFrame = startFrame
	s.cursor = 0
	s.active = true
}

func (s *voiceSlot) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcm = nil
	s.cursor = 0
	s.active = false
}

// renderInto adds this voice's contribution for the block starting at
// renderStart (in frames) into out, which holds frameCount*channels
// interleaved float32 samples. Must not allocate or block.
func (s *voiceSlot) renderInto(out []float32, renderStart int64, frameCount int, gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.pcm == nil {
		return
	}
	for i := 0; i < frameCount; i++ {
		absFrame := renderStart + int64(i)
		if absFrame < s.startFrame {
			continue
		}
		idx := int(absFrame-s.startFrame) * channels
		if idx < 0 || idx+channels > len(s.pcm) {
			continue
		}
		for c := 0; c < channels; c++ {
			out[i*channels+c] += s.pcm[idx+c] * float32(gain)
		}
	}
	// Advance cursor past this block so future bookkeeping (e.g. completion
	// detection) can tell whether the buffer ran out; position itself is
	// always derived from absFrame-startFrame, not from cursor.
	last := renderStart + int64(frameCount) - s.startFrame
	if last > 0 {
		s.cursor = int(last)
	}
}

// PortaudioAdapter is the real Audio Host Adapter, backed by a single
// stereo output stream mixing the three fixed voices in its callback. The
// shape — one struct owning the stream plus atomic/mutex-guarded state
// touched from both the callback and engine goroutines — follows the
// teacher's AudioEngine (client/audio.go): atomic flags for anything the
// callback reads, a mutex only around slower-changing fields.
type PortaudioAdapter struct {
	log logging.Logger

	sampleRate      int
	framesPerBuffer int

	stream *portaudio.Stream

	voices     [3]*voiceSlot
	masterGain atomic.Uint64

	renderFrames atomic.Int64
	running      atomic.Bool
}

// NewPortaudioAdapter opens and starts a stereo output stream
// at sampleRate. A sampleRate of 0 uses defaultSampleRate.
func NewPortaudioAdapter(log logging.Logger, sampleRate int) (*PortaudioAdapter, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	a := &PortaudioAdapter{
		log:             log,
		sampleRate:      sampleRate,
		framesPerBuffer: defaultFramesPerBuffer,
	}
	a.voices[VoiceA] = newVoiceSlot(0)
	a.voices[VoiceB] = newVoiceSlot(0)
	a.voices[VoiceOverlay] = newVoiceSlot(0)
	a.masterGain.Store(math.Float64bits(1))

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), a.framesPerBuffer, a.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	a.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, err
	}
	a.running.Store(true)
	return a, nil
}

// callback is invoked by PortAudio on its own realtime thread. It must
// never allocate, log, or take a lock that the engine goroutine could hold
// for long — voiceSlot's mutex is held only for the duration of one
// renderInto call, mirroring the narrow critical sections in the teacher's
// capture/playback loops.
func (a *PortaudioAdapter) callback(out []float32) {
	for i := range out {
		out[i] = 0
	}
	frameCount := len(out) / channels
	renderStart := a.renderFrames.Load()

	master := math.Float64frombits(a.masterGain.Load())
	for _, v := range a.voices {
		v.renderInto(out, renderStart, frameCount, v.getGain()*master)
	}
	for i := range out {
		if out[i] > 1 {
			out[i] = 1
		} else if out[i] < -1 {
			out[i] = -1
		}
	}

	a.renderFrames.Add(int64(frameCount))
}

func (a *PortaudioAdapter) ScheduleBuffer(voice Voice, pcm PCM, atSampleFrame int64) error {
	if int(voice) < 0 || int(voice) >= len(a.voices) {
		return ErrVoiceNotReady
	}
	if pcm.Samples == nil {
		return ErrBufferSchedulingFailed
	}
	a.voices[voice].schedule(pcm.Samples, atSampleFrame)
	return nil
}

func (a *PortaudioAdapter) StopVoice(voice Voice) {
	if int(voice) < 0 || int(voice) >= len(a.voices) {
		return
	}
	a.voices[voice].stop()
}

func (a *PortaudioAdapter) SetGain(gain GainID, value float64) {
	switch gain {
	case GainVoiceA:
		a.voices[VoiceA].setGain(value)
	case GainVoiceB:
		a.voices[VoiceB].setGain(value)
	case GainOverlay:
		a.voices[VoiceOverlay].setGain(value)
	case GainMaster:
		a.masterGain.Store(math.Float64bits(value))
	}
}

// RampGain is implemented as an immediate set: the Fade Engine drives all
// audible ramps in software at ≥100 Hz (§4.2), so the hardware-ramp
// optimization this hook exists for is not required for correctness here.
func (a *PortaudioAdapter) RampGain(gain GainID, from, to float64, duration time.Duration) {
	a.SetGain(gain, to)
}

func (a *PortaudioAdapter) RenderTimeNow() int64 {
	return a.renderFrames.Load()
}

func (a *PortaudioAdapter) SampleRate() int {
	return a.sampleRate
}

func (a *PortaudioAdapter) LeadFrames() int64 {
	return defaultLeadFrames
}

// Reset re-creates the output stream in place, used by HostEngineReset
// recovery (§4.3).
func (a *PortaudioAdapter) Reset() error {
	if a.stream != nil {
		a.stream.Stop()
		a.stream.Close()
	}
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(a.sampleRate), a.framesPerBuffer, a.callback)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}
	a.stream = stream
	a.renderFrames.Store(0)
	for _, v := range a.voices {
		v.stop()
	}
	return nil
}

func (a *PortaudioAdapter) Close() error {
	if !a.running.CompareAndSwap(true, false) {
		return nil
	}
	var err error
	if a.stream != nil {
		if e := a.stream.Stop(); e != nil {
			err = e
		}
		if e := a.stream.Close(); e != nil {
			err = e
		}
	}
	portaudio.Terminate()
	return err
}

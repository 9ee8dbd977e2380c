// Package decode provides a convenience PCM loader for demo and test
// fixtures. Decoding an entire track into memory up front is outside the
// engine's core scope (the Audio Host Adapter is the thing that actually
// schedules PCM), but something has to turn an MP3 file into the float32
// buffers the engine's voices play — this package is that something,
// grounded on the one real-world decoder the retrieval pack carries.
package decode

import (
	"errors"
	"io"
	"math"

	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedChannelLayout names a decoded stream whose channel count
// cannot be interleaved into stereo. MP3 never returns it: go-mp3 always
// decodes to 16-bit stereo.
var ErrUnsupportedChannelLayout = errors.New("decode: unsupported channel layout")

// Result is a fully-decoded track: interleaved stereo float32 PCM at
// SampleRate, plus the resolved duration the Playlist Manager's lazily-
// resolved Track.Duration field is filled in from.
type Result struct {
	Samples    []float32
	SampleRate int
	Duration   float64 // seconds
}

// MP3 decodes all of r as an MP3 stream into stereo float32 PCM. go-mp3
// always produces 16-bit signed stereo PCM internally; this just converts
// its byte stream into the normalized float32 samples the rest of the
// engine works in.
func MP3(r io.Reader) (Result, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return Result{}, err
	}

	const bytesPerSample = 2 // int16
	const channels = 2

	raw, err := io.ReadAll(dec)
	if err != nil {
		return Result{}, err
	}
	if len(raw)%(bytesPerSample*channels) != 0 {
		raw = raw[:len(raw)-len(raw)%(bytesPerSample*channels)]
	}

	frameCount := len(raw) / (bytesPerSample * channels)
	samples := make([]float32, frameCount*channels)
	for i := 0; i < frameCount*channels; i++ {
		lo := raw[i*bytesPerSample]
		hi := raw[i*bytesPerSample+1]
		v := int16(uint16(lo) | uint16(hi)<<8)
		samples[i] = float32(v) / 32768.0
	}

	sampleRate := dec.SampleRate()
	duration := 0.0
	if sampleRate > 0 {
		duration = float64(frameCount) / float64(sampleRate)
	}

	return Result{
		Samples:    samples,
		SampleRate: sampleRate,
		Duration:   duration,
	}, nil
}

// RMS computes the root-mean-square level of samples, used by tests to
// assert a decoded fixture is non-silent. Mirrors the RMS-based level
// metering the teacher's vad package performs on captured audio.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

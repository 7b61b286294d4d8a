package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyInput         = errors.New("no waveforms to concatenate")
	ErrSampleRateMismatch = errors.New("waveforms have different sample rates")
)

// Waveform is mono audio as normalized float samples in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration reports the playback length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Concatenate joins waveforms end to end in the given order. All inputs must
// share one sample rate. Joins are sample exact: no cross-fade and no padding.
func Concatenate(waveforms []Waveform) (Waveform, error) {
	if len(waveforms) == 0 {
		return Waveform{}, ErrEmptyInput
	}
	rate := waveforms[0].SampleRate
	total := 0
	for i, w := range waveforms {
		if w.SampleRate != rate {
			return Waveform{}, fmt.Errorf("%w: segment %d is %d Hz, expected %d Hz", ErrSampleRateMismatch, i, w.SampleRate, rate)
		}
		total += len(w.Samples)
	}
	samples := make([]float32, 0, total)
	for _, w := range waveforms {
		samples = append(samples, w.Samples...)
	}
	return Waveform{Samples: samples, SampleRate: rate}, nil
}

// FromPCM16 decodes little-endian signed 16-bit PCM. Interleaved multi-channel
// input is averaged down to mono.
func FromPCM16(pcm []byte, sampleRate, channels int) (Waveform, error) {
	if channels <= 0 {
		channels = 1
	}
	frameSize := 2 * channels
	if len(pcm)%frameSize != 0 {
		return Waveform{}, fmt.Errorf("pcm payload not aligned to %d-byte frames", frameSize)
	}
	frames := len(pcm) / frameSize
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
		}
		samples[i] = sum / float32(channels)
	}
	return Waveform{Samples: samples, SampleRate: sampleRate}, nil
}

func toInt16(s float32) int {
	switch {
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	default:
		return int(s * 32767)
	}
}

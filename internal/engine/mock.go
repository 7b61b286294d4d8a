package engine

import (
	"context"
	"errors"
	"math"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-tts/internal/audio"
)

type mockSynth struct {
	sampleRate int
	delay      time.Duration
}

// NewMockSynth returns an engine that renders a quiet tone lasting 10ms per
// character of input.
func NewMockSynth(sampleRate int, delay time.Duration) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, delay: delay}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (audio.Waveform, error) {
	if req.Text == "" {
		return audio.Waveform{}, errors.New("mock synth: empty text")
	}
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return audio.Waveform{}, ctx.Err()
		case <-time.After(m.delay):
		}
	}

	n := utf8.RuneCountInString(req.Text) * m.sampleRate / 100
	if req.Speed > 0 {
		n = int(float64(n) / req.Speed)
	}
	if n < 1 {
		n = 1
	}
	samples := make([]float32, n)
	step := 2 * math.Pi * 220 / float64(m.sampleRate)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(step*float64(i)))
	}
	return audio.Waveform{Samples: samples, SampleRate: m.sampleRate}, nil
}

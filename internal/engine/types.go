package engine

import (
	"context"

	"github.com/loqalabs/loqa-tts/internal/audio"
)

// Request contains one chunk of text plus the resolved voice parameters.
type Request struct {
	Text string
	// Speaker selects a fixed speaker on multi-speaker preset engines.
	Speaker string
	// ReferenceAudio is the voice sample path for cloning engines.
	ReferenceAudio string
	Language       string
	Speed          float64
}

// Synthesizer is the contract for producing audio from one chunk of text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (audio.Waveform, error)
}

// SynthesizerFunc adapts a function to the Synthesizer interface.
type SynthesizerFunc func(ctx context.Context, req Request) (audio.Waveform, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, req Request) (audio.Waveform, error) {
	return f(ctx, req)
}

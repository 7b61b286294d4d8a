package engine

import (
	"context"

	"github.com/loqalabs/loqa-tts/internal/audio"
)

type serialized struct {
	slot chan struct{}
	next Synthesizer
}

// Serialize allows at most one in-flight call to next. Neural engines loaded
// in one process are not reentrant, so every caller of a backend shares the slot.
func Serialize(next Synthesizer) Synthesizer {
	return &serialized{slot: make(chan struct{}, 1), next: next}
}

func (s *serialized) Synthesize(ctx context.Context, req Request) (audio.Waveform, error) {
	select {
	case s.slot <- struct{}{}:
		defer func() { <-s.slot }()
	case <-ctx.Done():
		return audio.Waveform{}, ctx.Err()
	}
	return s.next.Synthesize(ctx, req)
}

package engine

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
)

// FromConfig builds the engine for one backend and wraps it in a single
// concurrency slot.
func FromConfig(cfg config.EngineConfig) (Synthesizer, error) {
	var synth Synthesizer
	switch cfg.Mode {
	case "mock", "":
		synth = NewMockSynth(cfg.SampleRate, 0)
	case "exec":
		s, err := NewExecSynth(cfg.Command, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		synth = s
	case "http":
		synth = NewHTTPSynth(cfg.Endpoint, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
	return Serialize(synth), nil
}

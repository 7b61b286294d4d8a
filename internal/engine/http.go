package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
)

const maxResponseBytes = 256 << 20

type httpSynth struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSynth talks to a Coqui-style TTS server exposing GET /api/tts and
// answering with a WAV file.
func NewHTTPSynth(endpoint string, timeout time.Duration) Synthesizer {
	return &httpSynth{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *httpSynth) Synthesize(ctx context.Context, req Request) (audio.Waveform, error) {
	query := url.Values{}
	query.Set("text", req.Text)
	if req.Speaker != "" {
		query.Set("speaker_id", req.Speaker)
	}
	if req.ReferenceAudio != "" {
		query.Set("speaker_wav", req.ReferenceAudio)
	}
	if req.Language != "" {
		query.Set("language_id", req.Language)
	}
	if req.Speed > 0 {
		query.Set("speed", fmt.Sprintf("%g", req.Speed))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"/api/tts?"+query.Encode(), nil)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return audio.Waveform{}, fmt.Errorf("tts server returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to read tts audio: %w", err)
	}
	wf, err := audio.ParseWAV(body)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to decode tts audio: %w", err)
	}
	return wf, nil
}

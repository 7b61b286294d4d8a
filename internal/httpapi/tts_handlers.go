package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/synth"
)

type synthesizeRequest struct {
	Text          string `json:"text"`
	Language      string `json:"language"`
	VoiceID       string `json:"voice_id"`
	ProgressToken string `json:"progress_token"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var files []string
	if entries, err := os.ReadDir(s.deps.Catalog.VoiceDir()); err == nil {
		for _, e := range entries {
			files = append(files, e.Name())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "running",
		"files":  files,
	})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var body synthesizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body.")
		return
	}

	h := s.deps.Progress.Begin(body.ProgressToken)
	w.Header().Set("X-Progress-Token", h.Token())

	res, err := s.deps.Synth.Synthesize(r.Context(), synth.Request{
		Text:     body.Text,
		Language: body.Language,
		VoiceID:  body.VoiceID,
	}, h)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	data, err := audio.WAVBytes(res.Waveform)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Voice-Id", res.VoiceID)
	w.Header().Set("X-Chunk-Count", strconv.Itoa(res.Chunks))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleLatestProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Progress.Latest())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	state, ok := s.deps.Progress.Get(r.PathValue("token"))
	if !ok {
		writeError(w, http.StatusNotFound, "progress_not_found", "Unknown progress token.")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

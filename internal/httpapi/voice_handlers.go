package httpapi

import (
	"net/http"

	"github.com/loqalabs/loqa-tts/internal/voicestore"
)

type customVoiceView struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	FilePath string `json:"file_path"`
}

type cloneResponse struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.deps.Voices.List(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	custom := make(map[string]customVoiceView, len(voices))
	for _, v := range voices {
		custom[v.ID] = customVoiceView{Name: v.Name, Language: v.Language, FilePath: v.FilePath}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"presets": s.deps.Catalog.Presets(),
		"custom":  custom,
	})
}

func (s *Server) handleCloneVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "No audio file uploaded.")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "No audio file uploaded.")
		return
	}

	v, err := s.deps.Voices.Register(r.Context(), voicestore.Upload{
		Filename: header.Filename,
		Name:     r.FormValue("name"),
		Language: r.FormValue("language"),
		Data:     file,
	})
	if err != nil {
		s.log.Error("failed to save uploaded voice", slogError(err))
		writeError(w, http.StatusInternalServerError, "internal", "Failed to save uploaded audio file.")
		return
	}
	writeJSON(w, http.StatusOK, cloneResponse{VoiceID: v.ID, Name: v.Name, Language: v.Language})
}

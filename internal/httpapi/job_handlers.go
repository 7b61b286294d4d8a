package httpapi

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"
)

type submitJobRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req submitJobRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "No text file uploaded.")
			return
		}
		defer file.Close()
		if !strings.HasSuffix(strings.ToLower(header.Filename), ".txt") {
			writeError(w, http.StatusBadRequest, "bad_request", "Only .txt files are supported.")
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		if !utf8.Valid(data) {
			writeError(w, http.StatusBadRequest, "bad_request", "Uploaded file is not valid UTF-8.")
			return
		}
		req.Text = string(data)
		req.Language = r.FormValue("language")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body.")
		return
	}
	if req.Language == "" {
		req.Language = r.URL.Query().Get("language")
	}
	if req.Language == "" {
		req.Language = s.jobLanguage
	}

	id, err := s.deps.Jobs.Submit(req.Text, req.Language)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: id})
}

func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Jobs.Progress(r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.Jobs.Result(r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
	http.ServeContent(w, r, "speech.wav", info.ModTime(), f)
}

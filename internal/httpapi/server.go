package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/jobs"
	"github.com/loqalabs/loqa-tts/internal/progress"
	"github.com/loqalabs/loqa-tts/internal/synth"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/loqalabs/loqa-tts/internal/voicestore"
	"golang.org/x/time/rate"
)

type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request, h *progress.Handle) (synth.Result, error)
}

type JobQueue interface {
	Submit(text, language string) (string, error)
	Progress(id string) (jobs.Snapshot, error)
	Result(id string) (string, error)
}

type VoiceStore interface {
	List(ctx context.Context) ([]voice.CustomVoice, error)
	Register(ctx context.Context, up voicestore.Upload) (voice.CustomVoice, error)
}

// Catalog exposes the preset table and voice directory.
type Catalog interface {
	Presets() []string
	VoiceDir() string
}

type Deps struct {
	Synth    Synthesizer
	Progress *progress.Tracker
	Jobs     JobQueue
	Voices   VoiceStore
	Catalog  Catalog
}

type Server struct {
	cfg      config.HTTPConfig
	deps     Deps
	log      *slog.Logger
	limiters map[string]*rate.Limiter
	mux      *http.ServeMux
	// jobLanguage is used when a job submission names no language.
	jobLanguage string
}

func New(cfg config.HTTPConfig, jobLanguage string, deps Deps, log *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		deps:        deps,
		log:         log.With(slog.String("component", "http-api")),
		mux:         http.NewServeMux(),
		jobLanguage: jobLanguage,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleStatus)

	s.mux.HandleFunc("POST /tts", s.limited("synthesize", s.handleSynthesize))
	s.mux.HandleFunc("GET /tts/progress", s.handleLatestProgress)
	s.mux.HandleFunc("GET /tts/progress/{token}", s.handleProgress)

	s.mux.HandleFunc("GET /voices", s.handleListVoices)
	s.mux.HandleFunc("POST /voices/clone", s.limited("clone", s.handleCloneVoice))

	s.mux.HandleFunc("POST /jobs", s.limited("jobs", s.handleSubmitJob))
	s.mux.HandleFunc("GET /jobs/{id}/progress", s.handleJobProgress)
	s.mux.HandleFunc("GET /jobs/{id}/result", s.handleJobResult)
	s.mux.HandleFunc("GET /jobs/{id}/events", s.handleJobEvents)

	// Paths served by the earlier job server.
	s.mux.HandleFunc("POST /start/", s.limited("jobs", s.handleSubmitJob))
	s.mux.HandleFunc("GET /progress/{id}", s.handleJobProgress)
	s.mux.HandleFunc("GET /result/{id}", s.handleJobResult)
}

// Handler returns the API with recovery and CORS applied.
func (s *Server) Handler() http.Handler {
	return s.withRecovery(withCORS(s.mux))
}

// limited applies the token bucket named by bucket. Routes naming the same
// bucket share it; distinct buckets never throttle each other.
func (s *Server) limited(bucket string, next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.RequestsPerSecond <= 0 {
		return next
	}
	if s.limiters == nil {
		s.limiters = make(map[string]*rate.Limiter)
	}
	limiter, ok := s.limiters[bucket]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
		s.limiters[bucket] = limiter
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, retry shortly.")
			return
		}
		next(w, r)
	}
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic", slog.Any("panic", rec), slog.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "X-Progress-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// writeFailure maps domain errors onto stable kinds. Unclassified causes are
// logged and never echoed.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, synth.ErrEmptyInput), errors.Is(err, jobs.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "empty_input", "Text is empty.")
	case errors.Is(err, voice.ErrVoiceNotFound):
		writeError(w, http.StatusNotFound, "voice_not_found", "Custom voice not found.")
	case errors.Is(err, voice.ErrReferenceAudioMissing):
		writeError(w, http.StatusNotFound, "reference_audio_missing", err.Error())
	case errors.Is(err, voice.ErrUnsupportedLanguage):
		writeError(w, http.StatusBadRequest, "unsupported_language", err.Error())
	case errors.Is(err, synth.ErrEngineFailure):
		writeError(w, http.StatusInternalServerError, "engine_failure", "Error generating speech.")
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job_not_found", "Job not found.")
	case errors.Is(err, jobs.ErrJobNotReady):
		writeError(w, http.StatusAccepted, "job_not_ready", "Job not finished yet.")
	case errors.Is(err, jobs.ErrJobFailed):
		writeError(w, http.StatusInternalServerError, "job_failed", "Job failed.")
	case errors.Is(err, jobs.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "queue_full", "Job queue is full, retry later.")
	case errors.Is(err, jobs.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Service is shutting down.")
	case errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Request body too large.")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "cancelled", "Request cancelled.")
	default:
		s.log.Error("request failed", slog.String("path", r.URL.Path), slogError(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

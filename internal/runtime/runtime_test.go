package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.Voices.BaseDir = base
	cfg.Voices.DBPath = filepath.Join(base, "voices.db")
	cfg.Jobs.ArtifactDir = filepath.Join(base, "jobs")
	return cfg
}

func TestSetupServesHealthAndAPI(t *testing.T) {
	rt := New(testConfig(t), newLogger())
	shutdown, metrics, err := setupTelemetry(rt.cfg, rt.logger)
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	handler, err := rt.setup(context.Background(), metrics)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(rt.teardown)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before start, got %d", rec.Code)
	}
	rt.ready.Store(true)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"text":"Hello world.","language":"en"}`)
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tts", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("tts: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "loqa_tts_requests") {
		t.Fatalf("expected tts metrics to be exported, got %d", rec.Code)
	}
}

func TestSetupWithEmbeddedBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = ""

	rt := New(cfg, newLogger())
	if _, err := rt.setup(context.Background(), nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(rt.teardown)
	if !rt.healthy() {
		t.Fatal("expected runtime with bus to be healthy")
	}
}

func TestSetupRejectsBadEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engines.Clone.Mode = "exec"
	cfg.Engines.Clone.Command = ""

	rt := New(cfg, newLogger())
	if _, err := rt.setup(context.Background(), nil); err == nil {
		t.Fatal("expected setup error")
	}
	rt.teardown()
}

func TestJobSpeakerResolvedAgainstBaseDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.SpeakerWAV = "samples/narrator.wav"
	if got, want := jobsConfig(cfg).SpeakerWAV, filepath.Join(cfg.Voices.BaseDir, "samples", "narrator.wav"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	abs := filepath.Join(t.TempDir(), "narrator.wav")
	cfg.Jobs.SpeakerWAV = abs
	if got := jobsConfig(cfg).SpeakerWAV; got != abs {
		t.Fatalf("absolute path must be kept, got %s", got)
	}
}

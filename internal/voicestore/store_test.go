package voicestore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.VoicesConfig {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default().Voices
	cfg.BaseDir = base
	cfg.DBPath = filepath.Join(base, "data", "voices.db")
	return cfg
}

func openStore(t *testing.T, cfg config.VoicesConfig) *Store {
	t.Helper()
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open voice store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSeedsBuiltinVoices(t *testing.T) {
	s := openStore(t, testConfig(t))
	voices, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(voices) != 3 {
		t.Fatalf("expected 3 builtin voices, got %d", len(voices))
	}
	v, ok, err := s.Lookup(context.Background(), "custom_deep_story_male")
	if err != nil || !ok {
		t.Fatalf("lookup builtin: ok=%v err=%v", ok, err)
	}
	if v.FilePath != "voices/deep_story_male.mp3" || v.Name != "Deep Story Male" {
		t.Fatalf("unexpected builtin %+v", v)
	}
	if _, ok, _ := s.Lookup(context.Background(), "custom_nope"); ok {
		t.Fatal("expected lookup miss")
	}
}

func TestRegisterUpload(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)
	s.newID = func() string { return "ab12cd34" }

	v, err := s.Register(context.Background(), Upload{
		Filename: "Sample.OGG",
		Language: " HI ",
		Data:     strings.NewReader("audio-bytes"),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if v.ID != "custom_ab12cd34" || v.Name != "Sample.OGG" || v.Language != "hi" {
		t.Fatalf("unexpected voice %+v", v)
	}
	if v.FilePath != filepath.Join("voices", "custom_ab12cd34.ogg") {
		t.Fatalf("unexpected file path %q", v.FilePath)
	}
	data, err := os.ReadFile(filepath.Join(cfg.BaseDir, v.FilePath))
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Fatalf("unexpected sample contents %q", data)
	}

	got, ok, err := s.Lookup(context.Background(), v.ID)
	if err != nil || !ok || got != v {
		t.Fatalf("lookup after register: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestRegisterDefaults(t *testing.T) {
	s := openStore(t, testConfig(t))
	s.newID = func() string { return "0000beef" }

	v, err := s.Register(context.Background(), Upload{Filename: "", Data: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if v.Name != "custom_0000beef" || v.Language != "en" || filepath.Ext(v.FilePath) != ".wav" {
		t.Fatalf("unexpected defaults %+v", v)
	}

	s.newID = func() string { return "0000cafe" }
	v, err = s.Register(context.Background(), Upload{Filename: "clip.exe", Name: "Grandpa", Data: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if v.Name != "Grandpa" || filepath.Ext(v.FilePath) != ".wav" {
		t.Fatalf("expected unknown extension mapped to .wav, got %+v", v)
	}
}

func TestImportLegacyOverridesBuiltin(t *testing.T) {
	cfg := testConfig(t)
	legacy := `{
  "custom_deep_story_female": {"file_path": "voices/renamed.wav", "name": "Renamed", "language": "EN"},
  "custom_1234abcd": {"file_path": "voices/custom_1234abcd.wav", "name": "Old Upload", "language": "hi"}
}`
	if err := os.WriteFile(filepath.Join(cfg.BaseDir, "custom_voices.json"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.LegacyRegistry = "custom_voices.json"

	s := openStore(t, cfg)
	voices, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(voices) != 4 {
		t.Fatalf("expected 4 voices, got %d", len(voices))
	}
	v, _, _ := s.Lookup(context.Background(), "custom_deep_story_female")
	if v.Name != "Renamed" || v.FilePath != "voices/renamed.wav" || v.Language != "en" {
		t.Fatalf("expected saved entry to win over builtin, got %+v", v)
	}
}

func TestReopenKeepsRegisteredVoices(t *testing.T) {
	cfg := testConfig(t)
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.newID = func() string { return "feedface" }
	if _, err := s.Register(context.Background(), Upload{Filename: "a.wav", Data: strings.NewReader("x")}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = s.Close()

	reopened := openStore(t, cfg)
	if _, ok, err := reopened.Lookup(context.Background(), "custom_feedface"); err != nil || !ok {
		t.Fatalf("expected voice to survive restart: ok=%v err=%v", ok, err)
	}
}

package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/config"
)

var (
	ErrVoiceNotFound         = errors.New("voice not found")
	ErrReferenceAudioMissing = errors.New("reference audio missing")
	ErrUnsupportedLanguage   = errors.New("language not supported by preset voices")
)

// ReferenceAudioMissingError reports a registered voice whose sample file is gone.
// Found lists the voice directory so operators can spot a misplaced upload.
type ReferenceAudioMissingError struct {
	VoiceID string
	Path    string
	Found   []string
}

func (e *ReferenceAudioMissingError) Error() string {
	return fmt.Sprintf("reference audio missing for %s: %s (found in dir: %s)", e.VoiceID, e.Path, strings.Join(e.Found, ", "))
}

func (e *ReferenceAudioMissingError) Is(target error) bool {
	return target == ErrReferenceAudioMissing
}

type Backend int

const (
	BackendPreset Backend = iota
	BackendClone
)

func (b Backend) String() string {
	if b == BackendClone {
		return "clone"
	}
	return "preset"
}

// CustomVoice is a reference-audio backed voice held by a Registry.
type CustomVoice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	FilePath string `json:"file_path"`
}

// Registry looks up custom voices by id.
type Registry interface {
	Lookup(ctx context.Context, id string) (CustomVoice, bool, error)
	List(ctx context.Context) ([]CustomVoice, error)
}

// Resolution is the routing outcome for one request.
type Resolution struct {
	Backend        Backend
	VoiceID        string
	Speaker        string
	ReferenceAudio string
	Language       string
}

type Router struct {
	cfg      config.VoicesConfig
	registry Registry
	log      *slog.Logger
}

func NewRouter(cfg config.VoicesConfig, registry Registry, log *slog.Logger) *Router {
	return &Router{
		cfg:      cfg,
		registry: registry,
		log:      log.With(slog.String("component", "voice-router")),
	}
}

// Resolve picks the backend for selector. Custom voices must exist with their
// sample on disk; unknown presets fall back to the configured default.
func (r *Router) Resolve(ctx context.Context, selector, language string) (Resolution, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		selector = r.cfg.DefaultPreset
	}
	lang := NormalizeLanguage(language)

	custom, ok, err := r.registry.Lookup(ctx, selector)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup voice %s: %w", selector, err)
	}
	if ok {
		path := ResolvePath(r.cfg.BaseDir, custom.FilePath)
		if _, err := os.Stat(path); err != nil {
			return Resolution{}, &ReferenceAudioMissingError{VoiceID: selector, Path: path, Found: r.listVoiceDir()}
		}
		return Resolution{
			Backend:        BackendClone,
			VoiceID:        selector,
			ReferenceAudio: path,
			Language:       lang,
		}, nil
	}
	if strings.HasPrefix(selector, r.cfg.CustomPrefix) {
		return Resolution{}, fmt.Errorf("%w: %s", ErrVoiceNotFound, selector)
	}

	if lang != r.cfg.PresetLanguage {
		return Resolution{}, fmt.Errorf("%w: %q (preset voices speak %q, use a custom voice instead)", ErrUnsupportedLanguage, lang, r.cfg.PresetLanguage)
	}
	speaker, ok := r.cfg.Presets[selector]
	if !ok {
		r.log.Debug("unknown preset, using default", slog.String("voice_id", selector), slog.String("default", r.cfg.DefaultPreset))
		selector = r.cfg.DefaultPreset
		speaker = r.cfg.Presets[selector]
	}
	return Resolution{
		Backend:  BackendPreset,
		VoiceID:  selector,
		Speaker:  speaker,
		Language: lang,
	}, nil
}

// Presets returns the preset ids in a stable order.
func (r *Router) Presets() []string {
	ids := make([]string, 0, len(r.cfg.Presets))
	for id := range r.cfg.Presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VoiceDir is the directory holding reference samples.
func (r *Router) VoiceDir() string {
	return ResolvePath(r.cfg.BaseDir, r.cfg.Directory)
}

func (r *Router) listVoiceDir() []string {
	entries, err := os.ReadDir(r.VoiceDir())
	if err != nil {
		return []string{"(error listing files)"}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// NormalizeLanguage lower-cases a language code, defaulting to en.
func NormalizeLanguage(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return "en"
	}
	return lang
}

// ResolvePath anchors relative voice paths at base.
func ResolvePath(base, path string) string {
	if filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

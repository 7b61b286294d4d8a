package voicestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/voice"
	_ "modernc.org/sqlite"
)

var allowedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
}

// Upload is a reference sample submitted for cloning.
type Upload struct {
	Filename string
	Name     string
	Language string
	Data     io.Reader
}

// Store is the SQLite-backed custom voice registry.
type Store struct {
	db    *sql.DB
	cfg   config.VoicesConfig
	log   *slog.Logger
	clock func() time.Time
	newID func() string
}

// Open prepares the registry database, seeds builtin voices and imports the
// legacy JSON registry when configured.
func Open(ctx context.Context, cfg config.VoicesConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.DBPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	if err := os.MkdirAll(voice.ResolvePath(cfg.BaseDir, cfg.Directory), 0o755); err != nil {
		return nil, fmt.Errorf("create voice dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		db:    db,
		cfg:   cfg,
		log:   log.With(slog.String("component", "voicestore")),
		clock: time.Now,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.LegacyRegistry != "" {
		n, err := s.ImportLegacy(ctx, voice.ResolvePath(cfg.BaseDir, cfg.LegacyRegistry))
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			s.log.Warn("legacy voice registry import failed", slogError(err))
		case n > 0:
			s.log.Info("imported legacy voices", slog.Int("count", n))
		}
	}
	if err := s.seedBuiltin(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS voices (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    language TEXT NOT NULL,
    file_path TEXT NOT NULL,
    builtin INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// seedBuiltin inserts shipped voices without touching rows saved earlier.
func (s *Store) seedBuiltin(ctx context.Context) error {
	for _, b := range s.cfg.Builtin {
		v := voice.CustomVoice{ID: b.ID, Name: b.Name, Language: voice.NormalizeLanguage(b.Language), FilePath: b.FilePath}
		if v.Name == "" {
			v.Name = v.ID
		}
		if err := s.insert(ctx, v, true, false); err != nil {
			return fmt.Errorf("seed voice %s: %w", b.ID, err)
		}
	}
	return nil
}

func (s *Store) insert(ctx context.Context, v voice.CustomVoice, builtin, replace bool) error {
	conflict := "DO NOTHING"
	if replace {
		conflict = "DO UPDATE SET name=excluded.name, language=excluded.language, file_path=excluded.file_path"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voices(id, name, language, file_path, builtin, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) `+conflict,
		v.ID, v.Name, v.Language, v.FilePath, builtin, s.clock().UTC())
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup implements voice.Registry.
func (s *Store) Lookup(ctx context.Context, id string) (voice.CustomVoice, bool, error) {
	var v voice.CustomVoice
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, language, file_path FROM voices WHERE id = ?`, id).
		Scan(&v.ID, &v.Name, &v.Language, &v.FilePath)
	if errors.Is(err, sql.ErrNoRows) {
		return voice.CustomVoice{}, false, nil
	}
	if err != nil {
		return voice.CustomVoice{}, false, err
	}
	return v, true, nil
}

// List returns every registered voice ordered by id.
func (s *Store) List(ctx context.Context) ([]voice.CustomVoice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, language, file_path FROM voices ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var voices []voice.CustomVoice
	for rows.Next() {
		var v voice.CustomVoice
		if err := rows.Scan(&v.ID, &v.Name, &v.Language, &v.FilePath); err != nil {
			return nil, err
		}
		voices = append(voices, v)
	}
	return voices, rows.Err()
}

// Register stores an uploaded sample under a fresh custom id.
func (s *Store) Register(ctx context.Context, up Upload) (voice.CustomVoice, error) {
	if up.Data == nil {
		return voice.CustomVoice{}, errors.New("no audio data uploaded")
	}
	ext := strings.ToLower(filepath.Ext(up.Filename))
	if !allowedExtensions[ext] {
		ext = ".wav"
	}
	id := s.cfg.CustomPrefix + s.newID()
	rel := filepath.Join(s.cfg.Directory, id+ext)
	dest := voice.ResolvePath(s.cfg.BaseDir, rel)

	f, err := os.Create(dest)
	if err != nil {
		return voice.CustomVoice{}, fmt.Errorf("create sample file: %w", err)
	}
	if _, err := io.Copy(f, up.Data); err != nil {
		f.Close()
		_ = os.Remove(dest)
		return voice.CustomVoice{}, fmt.Errorf("save uploaded audio: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return voice.CustomVoice{}, fmt.Errorf("save uploaded audio: %w", err)
	}

	name := strings.TrimSpace(up.Name)
	if name == "" {
		name = up.Filename
	}
	if name == "" {
		name = id
	}
	v := voice.CustomVoice{ID: id, Name: name, Language: voice.NormalizeLanguage(up.Language), FilePath: rel}
	if err := s.insert(ctx, v, false, true); err != nil {
		_ = os.Remove(dest)
		return voice.CustomVoice{}, fmt.Errorf("register voice: %w", err)
	}
	s.log.Info("registered custom voice", slog.String("voice_id", id), slog.String("file_path", rel))
	return v, nil
}

type legacyEntry struct {
	FilePath string `json:"file_path"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// ImportLegacy merges a JSON registry keyed by voice id. Imported entries
// replace existing rows of the same id.
func (s *Store) ImportLegacy(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var entries map[string]legacyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("parse legacy registry: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	count := 0
	for id, e := range entries {
		if id == "" || e.FilePath == "" {
			continue
		}
		name := e.Name
		if name == "" {
			name = id
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO voices(id, name, language, file_path, builtin, created_at)
			 VALUES(?, ?, ?, ?, 0, ?)
			 ON CONFLICT(id) DO UPDATE SET name=excluded.name, language=excluded.language, file_path=excluded.file_path`,
			id, name, voice.NormalizeLanguage(e.Language), e.FilePath, s.clock().UTC())
		if err != nil {
			return 0, fmt.Errorf("import voice %s: %w", id, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

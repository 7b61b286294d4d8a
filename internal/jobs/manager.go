package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/segment"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrEmptyInput  = errors.New("text is empty")
	ErrJobNotFound = errors.New("job not found")
	ErrJobNotReady = errors.New("job not finished yet")
	ErrJobFailed   = errors.New("job failed")
	ErrQueueFull   = errors.New("job queue is full")
	ErrClosed      = errors.New("job manager closed")
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

// Snapshot is a read-only view of a job.
type Snapshot struct {
	ID         string    `json:"job_id"`
	Status     Status    `json:"status"`
	Processed  int       `json:"processed"`
	Total      int       `json:"total"`
	Percent    int       `json:"percent"`
	Language   string    `json:"language"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

type job struct {
	id        string
	text      string
	language  string
	status    Status
	processed int
	total     int
	artifact  string
	created   time.Time
	finished  time.Time
	// done is closed once the job reaches a terminal status.
	done chan struct{}
}

func (j *job) snapshot() Snapshot {
	s := Snapshot{
		ID:         j.id,
		Status:     j.status,
		Processed:  j.processed,
		Total:      j.total,
		Language:   j.language,
		CreatedAt:  j.created,
		FinishedAt: j.finished,
	}
	if j.total > 0 {
		s.Percent = j.processed * 100 / j.total
	}
	return s
}

// Manager runs submitted jobs on a fixed worker pool. Each job's chunks are
// synthesized strictly in order.
type Manager struct {
	cfg    config.JobsConfig
	synth  engine.Synthesizer
	policy segment.Policy
	log    *slog.Logger

	submitMu  sync.Mutex
	mu        sync.RWMutex
	jobs      map[string]*job
	closed    bool
	observers []func(Snapshot)

	queue  chan *job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	clock func() time.Time
	newID func() string
}

func NewManager(parent context.Context, cfg config.JobsConfig, synth engine.Synthesizer, log *slog.Logger) (*Manager, error) {
	policy, err := segment.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		cfg:    cfg,
		synth:  synth,
		policy: policy,
		log:    log.With(slog.String("component", "job-manager")),
		jobs:   make(map[string]*job),
		queue:  make(chan *job, max(cfg.QueueSize, 1)),
		ctx:    ctx,
		cancel: cancel,
		clock:  time.Now,
		newID:  uuid.NewString,
	}
	if err := m.initMetrics(); err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
	}

	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	if cfg.SweepIntervalMS > 0 {
		m.wg.Add(1)
		go m.janitor(time.Duration(cfg.SweepIntervalMS) * time.Millisecond)
	}
	return m, nil
}

// OnUpdate registers fn to receive every job state change. Callbacks run on
// worker goroutines and must not block.
func (m *Manager) OnUpdate(fn func(Snapshot)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Submit queues text for background synthesis and returns the job id.
func (m *Manager) Submit(text, language string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = m.cfg.DefaultLanguage
	}

	// Only submitters send on the queue, so a free slot seen under submitMu
	// is still free when the job is handed over.
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if len(m.queue) == cap(m.queue) {
		m.mu.Unlock()
		return "", ErrQueueFull
	}
	j := &job{
		id:       m.newID(),
		text:     text,
		language: language,
		status:   StatusQueued,
		created:  m.clock().UTC(),
		done:     make(chan struct{}),
	}
	m.jobs[j.id] = j
	snap := j.snapshot()
	m.mu.Unlock()

	m.log.Info("job queued", slog.String("job_id", j.id), slog.String("language", language), slog.Int("chars", len(text)))
	// Observers see queued before any worker can report running.
	m.notify(snap)
	m.queue <- j
	return j.id, nil
}

func (m *Manager) Progress(id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// Result returns the path of the finished artifact.
func (m *Manager) Result(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return "", ErrJobNotFound
	}
	switch j.status {
	case StatusDone:
		return j.artifact, nil
	case StatusError:
		return "", ErrJobFailed
	default:
		return "", ErrJobNotReady
	}
}

// Wait blocks until the job is terminal or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return j.snapshot(), nil
}

// List returns every tracked job, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

// Close stops accepting jobs and waits for running ones to unwind.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case j := <-m.queue:
			m.run(j)
		}
	}
}

func (m *Manager) run(j *job) {
	chunks := segment.Split(j.text, m.cfg.MaxChars, m.policy)
	m.update(j, func(j *job) {
		j.status = StatusRunning
		j.total = len(chunks)
	})
	log := m.log.With(slog.String("job_id", j.id))
	log.Info("job started", slog.Int("chunks", len(chunks)))

	artifact, err := m.render(j, chunks, log)
	if err != nil {
		log.Warn("job failed", slogError(err))
		m.finish(j, StatusError, "")
		return
	}
	log.Info("job finished", slog.String("artifact", artifact))
	m.finish(j, StatusDone, artifact)
}

func (m *Manager) render(j *job, chunks []string, log *slog.Logger) (string, error) {
	if len(chunks) == 0 {
		return "", ErrEmptyInput
	}
	paths := make([]string, 0, len(chunks))
	defer func() {
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Debug("chunk cleanup failed", slog.String("path", p), slogError(err))
			}
		}
	}()

	for idx, chunk := range chunks {
		wf, err := m.synth.Synthesize(m.ctx, engine.Request{
			Text:           chunk,
			ReferenceAudio: m.cfg.SpeakerWAV,
			Language:       j.language,
		})
		if err != nil {
			return "", fmt.Errorf("chunk %d of %d: %w", idx+1, len(chunks), err)
		}
		path := filepath.Join(m.cfg.ArtifactDir, fmt.Sprintf("chunk_%s_%d.wav", j.id, idx))
		paths = append(paths, path)
		if err := audio.WriteFile(path, wf); err != nil {
			return "", fmt.Errorf("write chunk %d: %w", idx+1, err)
		}
		m.update(j, func(j *job) { j.processed = idx + 1 })
	}

	parts := make([]audio.Waveform, 0, len(paths))
	for _, p := range paths {
		wf, err := audio.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read chunk: %w", err)
		}
		parts = append(parts, wf)
	}
	merged, err := audio.Concatenate(parts)
	if err != nil {
		return "", fmt.Errorf("merge chunks: %w", err)
	}
	final := filepath.Join(m.cfg.ArtifactDir, fmt.Sprintf("final_%s.wav", j.id))
	if err := audio.WriteFile(final, merged); err != nil {
		_ = os.Remove(final)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return final, nil
}

func (m *Manager) update(j *job, mutate func(*job)) {
	m.mu.Lock()
	mutate(j)
	snap := j.snapshot()
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Manager) finish(j *job, status Status, artifact string) {
	m.mu.Lock()
	j.status = status
	j.artifact = artifact
	j.finished = m.clock().UTC()
	snap := j.snapshot()
	close(j.done)
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Manager) notify(s Snapshot) {
	m.mu.RLock()
	observers := slices.Clone(m.observers)
	m.mu.RUnlock()
	for _, fn := range observers {
		fn(s)
	}
}

func (m *Manager) janitor(every time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.clock()); n > 0 {
				m.log.Info("evicted finished jobs", slog.Int("count", n))
			}
		}
	}
}

// Sweep evicts finished jobs older than the retention window, then the oldest
// finished jobs beyond max_jobs. Queued and running jobs are never evicted.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var evicted []*job
	if m.cfg.RetentionMinutes > 0 {
		cutoff := now.Add(-time.Duration(m.cfg.RetentionMinutes) * time.Minute)
		for id, j := range m.jobs {
			if j.status.Terminal() && j.finished.Before(cutoff) {
				evicted = append(evicted, j)
				delete(m.jobs, id)
			}
		}
	}
	if m.cfg.MaxJobs > 0 && len(m.jobs) > m.cfg.MaxJobs {
		var finished []*job
		for _, j := range m.jobs {
			if j.status.Terminal() {
				finished = append(finished, j)
			}
		}
		sort.Slice(finished, func(a, b int) bool { return finished[a].finished.Before(finished[b].finished) })
		for _, j := range finished {
			if len(m.jobs) <= m.cfg.MaxJobs {
				break
			}
			evicted = append(evicted, j)
			delete(m.jobs, j.id)
		}
	}
	m.mu.Unlock()

	for _, j := range evicted {
		if j.artifact == "" {
			continue
		}
		if err := os.Remove(j.artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Warn("artifact cleanup failed", slog.String("job_id", j.id), slogError(err))
		}
	}
	return len(evicted)
}

func (m *Manager) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-tts/jobs")
	gauge, err := meter.Int64ObservableGauge("loqa.tts.jobs", metric.WithDescription("Tracked jobs by status"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		for status, n := range m.countByStatus() {
			obs.ObserveInt64(gauge, n, metric.WithAttributes(attribute.String("status", string(status))))
		}
		return nil
	}, gauge)
	return err
}

func (m *Manager) countByStatus() map[Status]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[Status]int64{StatusQueued: 0, StatusRunning: 0, StatusDone: 0, StatusError: 0}
	for _, j := range m.jobs {
		counts[j.status]++
	}
	return counts
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

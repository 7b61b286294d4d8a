package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/httpapi"
	"github.com/loqalabs/loqa-tts/internal/jobbus"
	"github.com/loqalabs/loqa-tts/internal/jobs"
	"github.com/loqalabs/loqa-tts/internal/natsserver"
	"github.com/loqalabs/loqa-tts/internal/progress"
	"github.com/loqalabs/loqa-tts/internal/synth"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/loqalabs/loqa-tts/internal/voicestore"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	voices   *voicestore.Store
	jobs     *jobs.Manager
	jobBus   *jobbus.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	handler, err := r.setup(ctx, metricHandler)
	if err != nil {
		r.teardown()
		r.closeTelemetry(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricHandler != nil && r.cfg.Telemetry.PrometheusBind != "" && r.cfg.Telemetry.PrometheusBind != addr {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.teardown()
	r.closeTelemetry(shutdownCtx)
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// setup opens storage, builds the engines and services, and returns the
// top-level HTTP handler.
func (r *Runtime) setup(ctx context.Context, metricHandler http.Handler) (http.Handler, error) {
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.embedded = srv
		if srv != nil {
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.bus = client
	}

	store, err := voicestore.Open(ctx, r.cfg.Voices, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open voice store: %w", err)
	}
	r.voices = store
	router := voice.NewRouter(r.cfg.Voices, store, r.logger)

	preset, err := engine.FromConfig(r.cfg.Engines.Preset)
	if err != nil {
		return nil, fmt.Errorf("preset engine: %w", err)
	}
	clone, err := engine.FromConfig(r.cfg.Engines.Clone)
	if err != nil {
		return nil, fmt.Errorf("clone engine: %w", err)
	}
	orchestrator := synth.New(r.cfg.Engines, router, preset, clone, r.logger)

	tracker, err := progress.NewTracker(r.cfg.Progress.Capacity)
	if err != nil {
		return nil, err
	}

	// Jobs share the clone engine slot with synchronous requests.
	manager, err := jobs.NewManager(ctx, jobsConfig(r.cfg), clone, r.logger)
	if err != nil {
		return nil, fmt.Errorf("start job manager: %w", err)
	}
	r.jobs = manager

	if r.bus != nil {
		svc := jobbus.NewService(ctx, r.bus, manager, r.logger)
		if err := svc.Start(); err != nil {
			return nil, fmt.Errorf("start job bus: %w", err)
		}
		r.jobBus = svc
	}

	api := httpapi.New(r.cfg.HTTP, r.cfg.Jobs.DefaultLanguage, httpapi.Deps{
		Synth:    orchestrator,
		Progress: tracker,
		Jobs:     manager,
		Voices:   store,
		Catalog:  router,
	}, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	mux.Handle("/", api.Handler())
	return mux, nil
}

func (r *Runtime) teardown() {
	if r.jobBus != nil {
		r.jobBus.Close()
	}
	if r.jobs != nil {
		r.jobs.Close()
	}
	if r.voices != nil {
		if err := r.voices.Close(); err != nil {
			r.logger.Error("voice store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) closeTelemetry(ctx context.Context) {
	if r.tracerClose == nil {
		return
	}
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) healthy() bool {
	if r.jobs == nil || !r.jobs.Healthy() {
		return false
	}
	if r.bus != nil && (r.jobBus == nil || !r.jobBus.Healthy()) {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// jobsConfig resolves the job speaker sample relative to the voices base dir,
// the same way custom voice files are resolved.
func jobsConfig(cfg config.Config) config.JobsConfig {
	jc := cfg.Jobs
	jc.SpeakerWAV = voice.ResolvePath(cfg.Voices.BaseDir, jc.SpeakerWAV)
	return jc
}

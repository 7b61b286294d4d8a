package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/progress"
	"github.com/loqalabs/loqa-tts/internal/segment"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrEmptyInput    = errors.New("text is empty")
	ErrEngineFailure = errors.New("speech synthesis failed")
)

// Resolver routes a voice selector to a backend.
type Resolver interface {
	Resolve(ctx context.Context, selector, language string) (voice.Resolution, error)
}

type Request struct {
	Text     string
	Language string
	VoiceID  string
}

type Result struct {
	Waveform audio.Waveform
	Chunks   int
	VoiceID  string
	Backend  voice.Backend
}

type backend struct {
	synth    engine.Synthesizer
	maxChars int
	speed    float64
}

// Orchestrator runs the synchronous chunk-by-chunk pipeline.
type Orchestrator struct {
	router   Resolver
	backends map[voice.Backend]backend
	log      *slog.Logger
	tracer   trace.Tracer

	requests metric.Int64Counter
	chunks   metric.Int64Counter
	duration metric.Float64Histogram
}

func New(cfg config.EnginesConfig, router Resolver, preset, clone engine.Synthesizer, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		router: router,
		backends: map[voice.Backend]backend{
			voice.BackendPreset: {synth: preset, maxChars: cfg.Preset.MaxChars, speed: cfg.Preset.Speed},
			voice.BackendClone:  {synth: clone, maxChars: cfg.Clone.MaxChars, speed: cfg.Clone.Speed},
		},
		log:    log.With(slog.String("component", "synth-orchestrator")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-tts/synth"),
	}
	if err := o.initMetrics(); err != nil {
		o.log.Warn("failed to initialize metrics", slogError(err))
	}
	return o
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-tts/synth")
	var err error
	if o.requests, err = meter.Int64Counter("loqa.tts.requests", metric.WithDescription("Synthesis requests by backend and outcome")); err != nil {
		return err
	}
	if o.chunks, err = meter.Int64Counter("loqa.tts.chunks", metric.WithDescription("Chunks sent to synthesis engines")); err != nil {
		return err
	}
	o.duration, err = meter.Float64Histogram("loqa.tts.synthesis.duration", metric.WithDescription("Synthesis request latency"), metric.WithUnit("s"))
	return err
}

// Synthesize renders req into one waveform, reporting chunk progress on h.
// Any chunk failure aborts the request without a partial result.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request, h *progress.Handle) (Result, error) {
	if h == nil {
		h = &progress.Handle{}
	}
	ctx, span := o.tracer.Start(ctx, "tts.synthesize")
	defer span.End()
	start := time.Now()

	res, err := o.synthesize(ctx, req, h, span)
	outcome := "ok"
	if err != nil {
		outcome = errorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	attrs := metric.WithAttributes(attribute.String("backend", res.Backend.String()), attribute.String("outcome", outcome))
	if o.requests != nil {
		o.requests.Add(ctx, 1, attrs)
	}
	if o.duration != nil {
		o.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return res, err
}

func (o *Orchestrator) synthesize(ctx context.Context, req Request, h *progress.Handle, span trace.Span) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, ErrEmptyInput
	}
	route, err := o.router.Resolve(ctx, req.VoiceID, req.Language)
	if err != nil {
		return Result{}, err
	}
	result := Result{VoiceID: route.VoiceID, Backend: route.Backend}
	be, ok := o.backends[route.Backend]
	if !ok || be.synth == nil {
		return result, fmt.Errorf("%w: no engine for %s backend", ErrEngineFailure, route.Backend)
	}

	chunks := segment.Split(req.Text, be.maxChars, segment.PolicySentence)
	if len(chunks) == 0 {
		return result, ErrEmptyInput
	}
	total := len(chunks)
	h.SetTotal(total)
	result.Chunks = total
	span.SetAttributes(
		attribute.String("tts.voice_id", route.VoiceID),
		attribute.String("tts.backend", route.Backend.String()),
		attribute.String("tts.language", route.Language),
		attribute.Int("tts.chunks", total),
	)

	parts := make([]audio.Waveform, 0, total)
	for i, chunk := range chunks {
		idx := i + 1
		h.Start(idx)
		o.log.Debug("synthesizing chunk", slog.Int("chunk", idx), slog.Int("total", total), slog.Int("chars", len(chunk)))
		wf, err := be.synth.Synthesize(ctx, engine.Request{
			Text:           chunk,
			Speaker:        route.Speaker,
			ReferenceAudio: route.ReferenceAudio,
			Language:       route.Language,
			Speed:          be.speed,
		})
		if o.chunks != nil {
			o.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", route.Backend.String())))
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			o.log.Warn("engine failed",
				slog.String("voice_id", route.VoiceID),
				slog.Int("chunk", idx),
				slog.Int("total", total),
				slogError(err))
			return result, fmt.Errorf("%w: chunk %d of %d", ErrEngineFailure, idx, total)
		}
		parts = append(parts, wf)
	}
	h.Complete()

	joined, err := audio.Concatenate(parts)
	if err != nil {
		o.log.Warn("assembling chunks failed", slog.String("voice_id", route.VoiceID), slogError(err))
		return result, fmt.Errorf("%w: assemble audio", ErrEngineFailure)
	}
	result.Waveform = joined
	return result, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, voice.ErrVoiceNotFound):
		return "voice_not_found"
	case errors.Is(err, voice.ErrReferenceAudioMissing):
		return "reference_audio_missing"
	case errors.Is(err, voice.ErrUnsupportedLanguage):
		return "unsupported_language"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "engine_failure"
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

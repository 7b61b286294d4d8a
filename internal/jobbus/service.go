package jobbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/jobs"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Queue is the slice of the job manager the bus transport needs.
type Queue interface {
	Submit(text, language string) (string, error)
	OnUpdate(fn func(jobs.Snapshot))
}

// Service accepts job submissions over NATS request/reply and broadcasts
// job status changes.
type Service struct {
	bus    *bus.Client
	queue  Queue
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	logger *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, queue Queue, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:    busClient,
		queue:  queue,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "job-bus")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectJobSubmit, s.handleSubmit)
	if err != nil {
		return err
	}
	s.sub = sub
	s.queue.OnUpdate(s.publishStatus)
	return nil
}

func (s *Service) Close() {
	s.closed.Store(true)
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool { return s.sub != nil && s.bus.Healthy() }

func (s *Service) handleSubmit(msg *nats.Msg) {
	var req protocol.JobSubmit
	var reply protocol.JobSubmitReply
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode job submission", slogError(err))
		reply = protocol.JobSubmitReply{Kind: "bad_request", Error: "invalid job submission"}
	} else if id, err := s.queue.Submit(req.Text, req.Language); err != nil {
		reply = protocol.JobSubmitReply{Kind: submitErrorKind(err), Error: err.Error()}
	} else {
		reply = protocol.JobSubmitReply{JobID: id}
		s.logger.Debug("job submitted over bus", slog.String("job_id", id))
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal job reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply to job submission", slogError(err))
	}
}

func (s *Service) publishStatus(snap jobs.Snapshot) {
	if s.closed.Load() {
		return
	}
	status := protocol.JobStatus{
		JobID:     snap.ID,
		Status:    string(snap.Status),
		Processed: snap.Processed,
		Total:     snap.Total,
		Percent:   snap.Percent,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to marshal job status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectJobStatus, data); err != nil {
		s.logger.Warn("failed to publish job status", slogError(err))
	}
}

func submitErrorKind(err error) string {
	switch {
	case errors.Is(err, jobs.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, jobs.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, jobs.ErrClosed):
		return "unavailable"
	default:
		return "internal"
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

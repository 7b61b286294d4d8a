package jobbus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/jobs"
	"github.com/loqalabs/loqa-tts/internal/natsserver"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	log := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestSubmitOverBus(t *testing.T) {
	client := startBus(t)

	cfg := config.Default().Jobs
	cfg.ArtifactDir = t.TempDir()
	cfg.SweepIntervalMS = 0
	eng := engine.SynthesizerFunc(func(ctx context.Context, req engine.Request) (audio.Waveform, error) {
		return audio.Waveform{Samples: make([]float32, 32), SampleRate: 16000}, nil
	})
	manager, err := jobs.NewManager(context.Background(), cfg, eng, newLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(manager.Close)

	svc := NewService(context.Background(), client, manager, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	statuses := make(chan *nats.Msg, 16)
	statusSub, err := client.Conn().ChanSubscribe(protocol.SubjectJobStatus, statuses)
	if err != nil {
		t.Fatalf("subscribe status: %v", err)
	}
	t.Cleanup(func() { _ = statusSub.Unsubscribe() })
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(protocol.JobSubmit{Text: "Ek do teen. Char paanch.", Language: "hi"})
	msg, err := client.Conn().Request(protocol.SubjectJobSubmit, payload, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply protocol.JobSubmitReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.JobID == "" || reply.Error != "" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case m := <-statuses:
			var status protocol.JobStatus
			if err := json.Unmarshal(m.Data, &status); err != nil {
				t.Fatalf("decode status: %v", err)
			}
			if status.JobID != reply.JobID {
				t.Fatalf("status for unexpected job %s", status.JobID)
			}
			if status.Status == string(jobs.StatusDone) {
				if status.Percent != 100 {
					t.Fatalf("expected 100%% on done, got %+v", status)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for done status")
		}
	}
}

func TestSubmitEmptyTextOverBus(t *testing.T) {
	client := startBus(t)
	queue := &stubQueue{err: jobs.ErrEmptyInput}
	svc := NewService(context.Background(), client, queue, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	payload, _ := json.Marshal(protocol.JobSubmit{Text: "  "})
	msg, err := client.Conn().Request(protocol.SubjectJobSubmit, payload, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply protocol.JobSubmitReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Kind != "empty_input" || reply.JobID != "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

type stubQueue struct {
	err error
}

func (q *stubQueue) Submit(text, language string) (string, error) { return "", q.err }

func (q *stubQueue) OnUpdate(func(jobs.Snapshot)) {}

package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/config"
)

func TestMockSynthLengthTracksText(t *testing.T) {
	synth := NewMockSynth(16000, 0)
	wf, err := synth.Synthesize(context.Background(), Request{Text: "Hello world."})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if wf.SampleRate != 16000 {
		t.Fatalf("unexpected rate %d", wf.SampleRate)
	}
	if len(wf.Samples) != 12*160 {
		t.Fatalf("expected %d samples, got %d", 12*160, len(wf.Samples))
	}

	fast, err := synth.Synthesize(context.Background(), Request{Text: "Hello world.", Speed: 2})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(fast.Samples) != len(wf.Samples)/2 {
		t.Fatalf("speed not applied: %d samples", len(fast.Samples))
	}

	if _, err := synth.Synthesize(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestMockSynthHonoursContext(t *testing.T) {
	synth := NewMockSynth(16000, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := synth.Synthesize(ctx, Request{Text: "hi"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSerializeAllowsOneCallAtATime(t *testing.T) {
	var inflight, peak atomic.Int32
	inner := SynthesizerFunc(func(ctx context.Context, req Request) (audio.Waveform, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return audio.Waveform{Samples: []float32{0}, SampleRate: 8000}, nil
	})
	synth := Serialize(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := synth.Synthesize(context.Background(), Request{Text: "x"}); err != nil {
				t.Errorf("synthesize: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("expected at most one concurrent call, saw %d", peak.Load())
	}
}

func TestSerializeGivesUpWhenContextEnds(t *testing.T) {
	release := make(chan struct{})
	inner := SynthesizerFunc(func(ctx context.Context, req Request) (audio.Waveform, error) {
		<-release
		return audio.Waveform{}, nil
	})
	synth := Serialize(inner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = synth.Synthesize(context.Background(), Request{Text: "first"})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := synth.Synthesize(ctx, Request{Text: "second"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)
	<-done
}

func TestExecSynth(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	script := filepath.Join(t.TempDir(), "tts.sh")
	body := "#!/bin/sh\ncat > /dev/null\necho '{\"pcm_base64\":\"AAD/fw==\",\"sample_rate\":24000,\"final\":true}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	synth, err := NewExecSynth(script, 22050)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	wf, err := synth.Synthesize(context.Background(), Request{Text: "hello", Language: "en"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if wf.SampleRate != 24000 {
		t.Fatalf("expected sample rate from response, got %d", wf.SampleRate)
	}
	if len(wf.Samples) != 2 || wf.Samples[0] != 0 || wf.Samples[1] <= 0.99 {
		t.Fatalf("unexpected samples %v", wf.Samples)
	}
}

func TestExecSynthCommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	synth, err := NewExecSynth(`sh -c "cat > /dev/null; echo boom >&2; exit 3"`, 22050)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	if _, err := synth.Synthesize(context.Background(), Request{Text: "hello"}); err == nil {
		t.Fatal("expected command failure")
	}
}

func TestNewExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth("   ", 22050); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestHTTPSynth(t *testing.T) {
	wav, err := audio.WAVBytes(audio.Waveform{Samples: []float32{0.1, 0.2, 0.3}, SampleRate: 24000})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("text") != "hola" || q.Get("language_id") != "es" || q.Get("speaker_wav") != "/voices/a.wav" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	synth := NewHTTPSynth(srv.URL+"/", 5*time.Second)
	wf, err := synth.Synthesize(context.Background(), Request{Text: "hola", Language: "es", ReferenceAudio: "/voices/a.wav"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if wf.SampleRate != 24000 || len(wf.Samples) != 3 {
		t.Fatalf("unexpected waveform %d samples @ %d Hz", len(wf.Samples), wf.SampleRate)
	}

	if _, err := synth.Synthesize(context.Background(), Request{Text: "other"}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestFromConfig(t *testing.T) {
	synth, err := FromConfig(config.EngineConfig{Mode: "mock", SampleRate: 8000})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if _, ok := synth.(*serialized); !ok {
		t.Fatalf("expected serialized engine, got %T", synth)
	}
	if _, err := FromConfig(config.EngineConfig{Mode: "grpc"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if _, err := FromConfig(config.EngineConfig{Mode: "exec"}); err == nil {
		t.Fatal("expected error for exec without command")
	}
}

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd        []string
	sampleRate int
}

type execRequest struct {
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker,omitempty"`
	SpeakerWAV string  `json:"speaker_wav,omitempty"`
	Language   string  `json:"language,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	SampleRate int     `json:"sample_rate"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Final      bool   `json:"final"`
}

// NewExecSynth runs command once per chunk. The request is written to stdin as
// JSON; the command answers with JSON lines carrying base64 16-bit PCM.
func NewExecSynth(command string, sampleRate int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (audio.Waveform, error) {
	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Speaker:    req.Speaker,
		SpeakerWAV: req.ReferenceAudio,
		Language:   req.Language,
		Speed:      req.Speed,
		SampleRate: e.sampleRate,
	})
	if err != nil {
		return audio.Waveform{}, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return audio.Waveform{}, err
	}
	if err := cmd.Start(); err != nil {
		return audio.Waveform{}, err
	}

	sampleRate := e.sampleRate
	channels := 1
	var pcm []byte
	final := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if final || len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return audio.Waveform{}, fmt.Errorf("decode tts response: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			cmd.Wait()
			return audio.Waveform{}, fmt.Errorf("decode tts pcm: %w", err)
		}
		if resp.SampleRate > 0 {
			sampleRate = resp.SampleRate
		}
		if resp.Channels > 0 {
			channels = resp.Channels
		}
		pcm = append(pcm, data...)
		final = resp.Final
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		return audio.Waveform{}, fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}
	if scanErr != nil {
		return audio.Waveform{}, scanErr
	}
	if len(pcm) == 0 {
		return audio.Waveform{}, fmt.Errorf("tts command produced no audio")
	}
	return audio.FromPCM16(pcm, sampleRate, channels)
}

package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// EncodeWAV writes the waveform as a 16-bit PCM mono WAV stream.
func EncodeWAV(w io.WriteSeeker, wf Waveform) error {
	if wf.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", wf.SampleRate)
	}
	data := make([]int, len(wf.Samples))
	for i, s := range wf.Samples {
		data[i] = toInt16(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: wf.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	enc := wav.NewEncoder(w, wf.SampleRate, bitDepth, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// DecodeWAV reads a PCM WAV stream into a mono waveform.
func DecodeWAV(r io.ReadSeeker) (Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Waveform{}, errors.New("invalid wav stream")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("read wav: %w", err)
	}
	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	scale := float32(int64(1) << (int(dec.BitDepth) - 1))
	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}
	return Waveform{Samples: samples, SampleRate: int(dec.SampleRate)}, nil
}

// WAVBytes encodes the waveform into an in-memory WAV file.
func WAVBytes(wf Waveform) ([]byte, error) {
	var buf seekBuffer
	if err := EncodeWAV(&buf, wf); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// ParseWAV decodes an in-memory WAV file.
func ParseWAV(data []byte) (Waveform, error) {
	return DecodeWAV(bytes.NewReader(data))
}

// WriteFile encodes the waveform into a WAV file at path.
func WriteFile(path string, wf Waveform) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	if err := EncodeWAV(file, wf); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (Waveform, error) {
	file, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("open wav file: %w", err)
	}
	defer file.Close()
	return DecodeWAV(file)
}

// seekBuffer is an in-memory io.WriteSeeker for the wav encoder, which seeks
// back to patch the RIFF header sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	b.pos = int(next)
	return next, nil
}

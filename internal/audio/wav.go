package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM = 1
	pcmBitDepth  = 16
)

var errNotPCM16 = errors.New("not a 16-bit PCM WAV")

// PCM is interleaved 16-bit audio held in memory
type PCM struct {
	Samples    []int // interleaved, one entry per channel per frame
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames
func (p *PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Duration returns the playback duration
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// WAVInfo describes a WAV file without holding its samples
type WAVInfo struct {
	SampleRate    int           `json:"sample_rate"`
	Channels      int           `json:"channels"`
	BitsPerSample int           `json:"bits_per_sample"`
	Duration      time.Duration `json:"duration"`
}

// DecodeWAV decodes a 16-bit PCM WAV stream
func DecodeWAV(r io.ReadSeeker) (*PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %w", errNotPCM16)
	}

	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("unsupported audio format %d: %w", dec.WavAudioFormat, errNotPCM16)
	}

	if dec.BitDepth != pcmBitDepth {
		return nil, fmt.Errorf("unsupported bit depth %d: %w", dec.BitDepth, errNotPCM16)
	}

	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV header: %d channels at %d Hz", dec.NumChans, dec.SampleRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV samples: %w", err)
	}

	return &PCM{
		Samples:    buf.Data,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}

// ReadWAVFile decodes the 16-bit PCM WAV file at path
func ReadWAVFile(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return DecodeWAV(f)
}

// WriteWAVFile writes pcm to path as a 16-bit PCM WAV file
func WriteWAVFile(path string, pcm *PCM) error {
	if pcm.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", pcm.SampleRate)
	}

	if pcm.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", pcm.Channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, pcm.SampleRate, pcmBitDepth, pcm.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: pcm.Channels, SampleRate: pcm.SampleRate},
		Data:           pcm.Samples,
		SourceBitDepth: pcmBitDepth,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to write WAV samples: %w", err)
	}

	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}

	return f.Close()
}

// ReadWAVInfo extracts metadata from the WAV file at path
func ReadWAVInfo(path string) (*WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}

	duration, err := dec.Duration()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV duration: %w", err)
	}

	return &WAVInfo{
		SampleRate:    int(dec.SampleRate),
		Channels:      int(dec.NumChans),
		BitsPerSample: int(dec.BitDepth),
		Duration:      duration,
	}, nil
}

// isWAVHeader reports whether data starts with a RIFF/WAVE header
func isWAVHeader(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ClipInfo describes a delivered clip
type ClipInfo struct {
	Path        string        `json:"path"`
	SampleRate  int           `json:"sample_rate"`
	Channels    int           `json:"channels"`
	RawDuration time.Duration `json:"raw_duration"`
	Silence     time.Duration `json:"silence"`
	Duration    time.Duration `json:"duration"`
}

// PostProcessor pads synthesized audio with trailing silence and encodes the
// public clip. Each call adds the silence again, so it must run once per clip.
type PostProcessor struct {
	transcoder Transcoder
	silence    time.Duration
	logger     *slog.Logger
}

// NewPostProcessor creates a post-processor appending silence to every clip
func NewPostProcessor(transcoder Transcoder, silence time.Duration, logger *slog.Logger) (*PostProcessor, error) {
	if transcoder == nil {
		return nil, fmt.Errorf("transcoder cannot be nil")
	}

	if silence < 0 {
		return nil, fmt.Errorf("silence cannot be negative, got %s", silence)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostProcessor{
		transcoder: transcoder,
		silence:    silence,
		logger:     logger.With(slog.String("component", "post_processor")),
	}, nil
}

// Process appends the configured silence to the audio at raw and encodes the
// result to out. Every failure wraps ErrEncode.
func (p *PostProcessor) Process(ctx context.Context, raw, out string) (*ClipInfo, error) {
	workDir := filepath.Dir(raw)

	pcm, err := p.readRaw(ctx, raw, workDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncode, filepath.Base(raw), err)
	}

	rawDuration := pcm.Duration()
	padded := AppendSilence(pcm, p.silence)

	tmp, err := os.CreateTemp(workDir, "padded_*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := WriteWAVFile(tmpPath, padded); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	if err := p.transcoder.Encode(ctx, tmpPath, out); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncode, filepath.Base(out), err)
	}

	info := &ClipInfo{
		Path:        out,
		SampleRate:  padded.SampleRate,
		Channels:    padded.Channels,
		RawDuration: rawDuration,
		Silence:     p.silence,
		Duration:    padded.Duration(),
	}

	p.logger.Debug("Clip encoded",
		slog.String("raw", raw),
		slog.String("output", out),
		slog.Duration("raw_duration", rawDuration),
		slog.Duration("duration", info.Duration),
	)

	return info, nil
}

// readRaw decodes engine output, converting it first when the engine did not
// produce 16-bit PCM WAV.
func (p *PostProcessor) readRaw(ctx context.Context, raw, workDir string) (*PCM, error) {
	pcm, err := ReadWAVFile(raw)
	if err == nil {
		return pcm, nil
	}

	tmp, terr := os.CreateTemp(workDir, "decoded_*.wav")
	if terr != nil {
		return nil, terr
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if derr := p.transcoder.Decode(ctx, raw, tmpPath, 0, 0); derr != nil {
		return nil, fmt.Errorf("%v; transcoding failed: %w", err, derr)
	}

	return ReadWAVFile(tmpPath)
}

// Silence returns the trailing silence appended to every clip
func (p *PostProcessor) Silence() time.Duration {
	return p.silence
}

// AppendSilence returns a copy of pcm followed by d of digital silence
func AppendSilence(pcm *PCM, d time.Duration) *PCM {
	frames := int(int64(d) * int64(pcm.SampleRate) / int64(time.Second))
	samples := make([]int, len(pcm.Samples), len(pcm.Samples)+frames*pcm.Channels)
	copy(samples, pcm.Samples)
	samples = append(samples, make([]int, frames*pcm.Channels)...)

	return &PCM{Samples: samples, SampleRate: pcm.SampleRate, Channels: pcm.Channels}
}

package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrDecode marks input that cannot be parsed as audio.
	ErrDecode = errors.New("audio decode failed")

	// ErrEncode marks failures producing the delivered clip.
	ErrEncode = errors.New("audio encode failed")

	// ErrTranscoderUnavailable marks a transcoder that could not be started.
	// It is a server fault, never a property of the input.
	ErrTranscoderUnavailable = errors.New("transcoder unavailable")
)

// NormalizedAudio is the canonical reference recording handed to the engine
type NormalizedAudio struct {
	Path         string        `json:"path"`
	SampleRate   int           `json:"sample_rate"`
	Channels     int           `json:"channels"`
	Duration     time.Duration `json:"duration"`
	SourceFormat string        `json:"source_format"`
	SourceRate   int           `json:"source_rate"`
	SourceChans  int           `json:"source_channels"`
	Gain         float64       `json:"gain"`
	Samples      []int         `json:"-"`
}

// Normalizer converts arbitrary uploads into mono, fixed-rate,
// peak-normalized WAV files
type Normalizer struct {
	transcoder Transcoder
	sampleRate int
	headroomDB float64
	logger     *slog.Logger
}

// NewNormalizer creates a normalizer producing sampleRate mono audio whose
// peak sits headroomDB below full scale.
func NewNormalizer(transcoder Transcoder, sampleRate int, headroomDB float64, logger *slog.Logger) (*Normalizer, error) {
	if transcoder == nil {
		return nil, fmt.Errorf("transcoder cannot be nil")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if headroomDB < 0 {
		return nil, fmt.Errorf("headroom cannot be negative, got %f", headroomDB)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Normalizer{
		transcoder: transcoder,
		sampleRate: sampleRate,
		headroomDB: headroomDB,
		logger:     logger.With(slog.String("component", "normalizer")),
	}, nil
}

// Normalize reads src and writes the normalized WAV to dst. Input that cannot
// be decoded fails with ErrDecode.
func (n *Normalizer) Normalize(ctx context.Context, src, dst string) (*NormalizedAudio, error) {
	format, err := SniffFile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	declared := strings.TrimPrefix(strings.ToLower(filepath.Ext(src)), ".")
	if format != FormatUnknown && declared != "" && declared != format {
		n.logger.Warn("Upload content does not match its extension",
			slog.String("path", src),
			slog.String("extension", declared),
			slog.String("content", format),
		)
	}

	pcm, err := n.decode(ctx, src, dst, format)
	if errors.Is(err, ErrTranscoderUnavailable) {
		return nil, fmt.Errorf("failed to convert %s (%s): %w", filepath.Base(src), format, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %w", ErrDecode, filepath.Base(src), format, err)
	}

	if pcm.Frames() == 0 {
		return nil, fmt.Errorf("%w: %s contains no audio samples", ErrDecode, filepath.Base(src))
	}

	sourceRate, sourceChans := pcm.SampleRate, pcm.Channels

	mono := Downmix(pcm)
	resampled, err := Resample(mono, n.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to resample %s: %w", filepath.Base(src), err)
	}

	// Downmix may alias the decoded buffer; normalize a private copy.
	samples := make([]int, len(resampled.Samples))
	copy(samples, resampled.Samples)
	gain := NormalizePeak(samples, n.headroomDB)

	out := &PCM{Samples: samples, SampleRate: n.sampleRate, Channels: 1}
	if err := WriteWAVFile(dst, out); err != nil {
		return nil, fmt.Errorf("failed to write normalized audio %s: %w", dst, err)
	}

	normalized := &NormalizedAudio{
		Path:         dst,
		SampleRate:   out.SampleRate,
		Channels:     out.Channels,
		Duration:     out.Duration(),
		SourceFormat: format,
		SourceRate:   sourceRate,
		SourceChans:  sourceChans,
		Gain:         gain,
		Samples:      samples,
	}

	n.logger.Debug("Reference audio normalized",
		slog.String("source", src),
		slog.String("destination", dst),
		slog.String("source_format", format),
		slog.Int("source_rate", sourceRate),
		slog.Int("source_channels", sourceChans),
		slog.Duration("duration", normalized.Duration),
		slog.Float64("gain", gain),
	)

	return normalized, nil
}

// decode reads 16-bit PCM WAV directly and hands everything else to the
// transcoder, which writes an intermediate WAV at dst.
func (n *Normalizer) decode(ctx context.Context, src, dst, format string) (*PCM, error) {
	if format == FormatWAV {
		pcm, err := ReadWAVFile(src)
		if err == nil {
			return pcm, nil
		}
		if !errors.Is(err, errNotPCM16) {
			return nil, err
		}
	}

	if err := n.transcoder.Decode(ctx, src, dst, n.sampleRate, 1); err != nil {
		return nil, err
	}

	return ReadWAVFile(dst)
}

// SampleRate returns the output sample rate
func (n *Normalizer) SampleRate() int {
	return n.sampleRate
}

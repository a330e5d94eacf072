package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Transcoder converts between container formats
type Transcoder interface {
	// Decode converts src to a 16-bit PCM WAV at dst. A zero sampleRate or
	// channels keeps the source value.
	Decode(ctx context.Context, src, dst string, sampleRate, channels int) error

	// Encode converts the WAV at src to the format implied by dst's extension.
	Encode(ctx context.Context, src, dst string) error
}

// FFmpeg is a Transcoder backed by the ffmpeg binary
type FFmpeg struct {
	path       string
	mp3Quality int
}

// NewFFmpeg creates a transcoder running the binary at path (looked up in PATH
// when it has no directory component).
func NewFFmpeg(path string, mp3Quality int) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{path: path, mp3Quality: mp3Quality}
}

// Available reports an error when the binary cannot be found
func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.path); err != nil {
		return fmt.Errorf("ffmpeg not available at %q: %w", f.path, err)
	}
	return nil
}

// Decode implements Transcoder
func (f *FFmpeg) Decode(ctx context.Context, src, dst string, sampleRate, channels int) error {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y", "-i", src, "-vn"}
	if sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(sampleRate))
	}
	if channels > 0 {
		args = append(args, "-ac", strconv.Itoa(channels))
	}
	args = append(args, "-acodec", "pcm_s16le", "-f", "wav", dst)

	return f.run(ctx, args)
}

// Encode implements Transcoder
func (f *FFmpeg) Encode(ctx context.Context, src, dst string) error {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y", "-i", src, "-vn"}

	switch ext := strings.ToLower(filepath.Ext(dst)); ext {
	case ".mp3":
		args = append(args, "-codec:a", "libmp3lame", "-q:a", strconv.Itoa(f.mp3Quality))
	case ".wav":
		args = append(args, "-acodec", "pcm_s16le")
	case ".ogg":
		args = append(args, "-codec:a", "libopus")
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}
	args = append(args, dst)

	return f.run(ctx, args)
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Env = []string{}
	out, err := cmd.CombinedOutput()
	// Lookup failures surface as exec.Error, a bad explicit path as fs.PathError.
	var execErr *exec.Error
	var pathErr *fs.PathError
	if errors.As(err, &execErr) || errors.As(err, &pathErr) {
		return fmt.Errorf("%w: %w", ErrTranscoderUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

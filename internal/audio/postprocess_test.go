package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendSilence(t *testing.T) {
	pcm := &PCM{Samples: []int{1, 2, 3, 4}, SampleRate: 4, Channels: 2}
	padded := AppendSilence(pcm, 500*time.Millisecond)

	if padded.Frames() != 4 {
		t.Fatalf("Expected 4 frames, got %d", padded.Frames())
	}
	for i, s := range []int{1, 2, 3, 4, 0, 0, 0, 0} {
		if padded.Samples[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, padded.Samples[i])
		}
	}
	if len(pcm.Samples) != 4 {
		t.Error("Expected input to be left untouched")
	}
}

func TestPostProcessAddsSilence(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "synth.wav")
	out := filepath.Join(dir, "voice_clone.wav")
	writeTone(t, raw, 22050, 1, 2*time.Second, 8000)

	p, err := NewPostProcessor(&stubTranscoder{}, 1500*time.Millisecond, discardLogger())
	if err != nil {
		t.Fatalf("NewPostProcessor failed: %v", err)
	}

	info, err := p.Process(context.Background(), raw, out)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if info.RawDuration != 2*time.Second {
		t.Errorf("Expected raw duration 2s, got %s", info.RawDuration)
	}
	if info.Duration != 3500*time.Millisecond {
		t.Errorf("Expected duration 3.5s, got %s", info.Duration)
	}

	pcm, err := ReadWAVFile(out)
	if err != nil {
		t.Fatalf("ReadWAVFile failed: %v", err)
	}
	if pcm.Duration() != 3500*time.Millisecond {
		t.Errorf("Expected encoded duration 3.5s, got %s", pcm.Duration())
	}

	tail := pcm.Samples[len(pcm.Samples)-int(1.5*22050):]
	if Peak(tail) != 0 {
		t.Error("Expected trailing samples to be silent")
	}

	// Temporary padded files must not be left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "padded_") {
			t.Errorf("Temporary file %s left behind", e.Name())
		}
	}
}

func TestPostProcessChainedIsAdditive(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "synth.wav")
	once := filepath.Join(dir, "once.wav")
	twice := filepath.Join(dir, "twice.wav")
	writeTone(t, raw, 16000, 1, time.Second, 8000)

	p, err := NewPostProcessor(&stubTranscoder{}, time.Second, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	first, err := p.Process(context.Background(), raw, once)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Process(context.Background(), once, twice)
	if err != nil {
		t.Fatal(err)
	}

	if first.Duration != 2*time.Second {
		t.Errorf("Expected 2s after one pass, got %s", first.Duration)
	}
	if second.Duration != 3*time.Second {
		t.Errorf("Expected 3s after two passes, got %s", second.Duration)
	}
}

func TestPostProcessIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "synth.wav")
	writeTone(t, raw, 16000, 1, 500*time.Millisecond, 8000)

	p, err := NewPostProcessor(&stubTranscoder{}, time.Second, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	if _, err := p.Process(context.Background(), raw, a); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Process(context.Background(), raw, b); err != nil {
		t.Fatal(err)
	}

	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	if string(da) != string(db) {
		t.Error("Expected identical output for identical input")
	}
}

func TestPostProcessErrors(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "synth.wav")
	writeTone(t, raw, 16000, 1, 200*time.Millisecond, 8000)

	garbage := filepath.Join(dir, "garbage.wav")
	if err := os.WriteFile(garbage, []byte("not audio"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		raw        string
		transcoder *stubTranscoder
	}{
		{"encoder failure", raw, &stubTranscoder{encodeErr: errors.New("libmp3lame missing")}},
		{"unreadable raw output", garbage, &stubTranscoder{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPostProcessor(tt.transcoder, time.Second, discardLogger())
			if err != nil {
				t.Fatal(err)
			}
			_, err = p.Process(context.Background(), tt.raw, filepath.Join(dir, "out.mp3"))
			if !errors.Is(err, ErrEncode) {
				t.Errorf("Expected ErrEncode, got %v", err)
			}
		})
	}
}

func TestNewPostProcessorValidation(t *testing.T) {
	if _, err := NewPostProcessor(nil, time.Second, nil); err == nil {
		t.Error("Expected error for nil transcoder")
	}
	if _, err := NewPostProcessor(&stubTranscoder{}, -time.Second, nil); err == nil {
		t.Error("Expected error for negative silence")
	}
}

func requireFFmpeg(t *testing.T) *FFmpeg {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	return NewFFmpeg("ffmpeg", 2)
}

func TestFFmpegMP3RoundTrip(t *testing.T) {
	ff := requireFFmpeg(t)
	dir := t.TempDir()
	raw := filepath.Join(dir, "synth.wav")
	out := filepath.Join(dir, "voice_clone.mp3")
	writeTone(t, raw, 22050, 1, time.Second, 8000)

	p, err := NewPostProcessor(ff, 1500*time.Millisecond, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Process(context.Background(), raw, out); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	format, err := SniffFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if format != FormatMP3 {
		t.Errorf("Expected mp3 output, got %s", format)
	}

	// Decoding the mp3 back must give roughly raw + silence.
	n := newTestNormalizer(t, ff)
	normalized, err := n.Normalize(context.Background(), out, filepath.Join(dir, "back.wav"))
	if err != nil {
		t.Fatalf("Normalize of mp3 failed: %v", err)
	}
	if d := normalized.Duration.Seconds(); d < 2.4 || d > 2.7 {
		t.Errorf("Expected ~2.5s after decoding, got %.3fs", d)
	}
}

func TestFFmpegEncodeRejectsUnknownExtension(t *testing.T) {
	ff := NewFFmpeg("", 2)
	if err := ff.Encode(context.Background(), "in.wav", "out.xyz"); err == nil {
		t.Error("Expected error for unsupported output extension")
	}
}

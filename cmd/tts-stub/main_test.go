package main

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypro1111/voice-clone-service/internal/audio"
	"github.com/skypro1111/voice-clone-service/internal/engine"
)

func TestPitchFollowsReference(t *testing.T) {
	tests := []struct {
		name string
		ref  *audio.PCM
		want float64
	}{
		{"120 Hz voice", tone(120, time.Second), 120},
		{"210 Hz voice", tone(210, time.Second), 210},
		{"very low tone clamped", tone(30, time.Second), minPitch},
		{"very high tone clamped", tone(2000, time.Second), maxPitch},
		{"silence", &audio.PCM{Samples: make([]int, 16000), SampleRate: 16000, Channels: 1}, minPitch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pitchFor(tt.ref); math.Abs(got-tt.want) > 2 {
				t.Errorf("Expected pitch ~%.0f Hz, got %.1f Hz", tt.want, got)
			}
		})
	}
}

func TestHandleTTS(t *testing.T) {
	s := &stub{
		model:     engine.YourTTS,
		languages: []string{"fr-fr"},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	refPath := filepath.Join(t.TempDir(), "ref.wav")
	if err := audio.WriteWAVFile(refPath, tone(150, time.Second)); err != nil {
		t.Fatal(err)
	}
	ref, err := os.ReadFile(refPath)
	if err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("text", "Bonjour")
	w.WriteField("language", "fr-fr")
	w.WriteField("speed", "1")
	fw, err := w.CreateFormFile("speaker_wav", "ref.wav")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(ref)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/tts", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.handleTTS(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	pcm, err := audio.DecodeWAV(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("Expected a WAV answer: %v", err)
	}
	want := time.Duration(len("Bonjour")) * perCharacter
	if d := pcm.Duration(); d < want-10*time.Millisecond || d > want+10*time.Millisecond {
		t.Errorf("Expected %s of audio, got %s", want, d)
	}
	if got := pitchFor(pcm); math.Abs(got-150) > 2 {
		t.Errorf("Expected the answer to carry the reference pitch, got %.1f Hz", got)
	}
}

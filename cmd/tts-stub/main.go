// Command tts-stub is a stand-in inference server for local development. It
// speaks the same HTTP protocol as the real synthesis server and answers every
// request with a tone whose length follows the text and whose pitch is the
// dominant frequency of the reference recording, estimated from its
// zero-crossing rate.
//
// It can also be spawned by the service itself:
//
//	engine:
//	  spawn:
//	    command: ./tts-stub
//	    args: ["-port", "{port}", "-model", "{model}", "-language", "{language}"]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/skypro1111/voice-clone-service/internal/audio"
	"github.com/skypro1111/voice-clone-service/internal/engine"
)

const (
	outputRate     = 22050
	perCharacter   = 70 * time.Millisecond
	processingTime = 200 * time.Millisecond
)

type stub struct {
	model     string
	languages []string
	logger    *slog.Logger
}

func main() {
	port := flag.Int("port", 5002, "Port to listen on")
	model := flag.String("model", engine.YourTTS, "Model name to report")
	language := flag.String("language", "", "Restrict the served languages to this one")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	languages, ok := engine.KnownLanguages(*model)
	if !ok {
		languages = []string{"en"}
	}
	if *language != "" {
		languages = []string{*language}
	}

	s := &stub{model: *model, languages: languages, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/info", s.handleInfo)
	mux.HandleFunc("/api/tts", s.handleTTS)

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	logger.Info("Test synthesis server starting",
		slog.String("address", addr),
		slog.String("model", s.model),
		slog.Any("languages", s.languages),
	)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (s *stub) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *stub) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"model":     s.model,
		"languages": s.languages,
	})
}

func (s *stub) handleTTS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	text := r.FormValue("text")
	language := r.FormValue("language")
	speed, err := strconv.ParseFloat(r.FormValue("speed"), 64)
	if err != nil || speed <= 0 {
		speed = 1
	}

	if text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if !engine.SupportsLanguage(s.languages, language) {
		http.Error(w, fmt.Sprintf("language %q is not served", language), http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("speaker_wav")
	if err != nil {
		http.Error(w, "speaker_wav is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	reference, err := audio.DecodeWAV(file)
	if err != nil {
		http.Error(w, "speaker_wav is not a PCM WAV file", http.StatusBadRequest)
		return
	}

	s.logger.Info("Synthesis request received",
		slog.Int("characters", utf8.RuneCountInString(text)),
		slog.String("language", language),
		slog.Duration("reference", reference.Duration()),
		slog.Float64("speed", speed),
	)

	time.Sleep(processingTime)

	length := time.Duration(float64(utf8.RuneCountInString(text)) * float64(perCharacter) / speed)
	pcm := tone(pitchFor(reference), length)

	tmp, err := os.MkdirTemp("", "tts-stub-")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(tmp)

	out := filepath.Join(tmp, "out.wav")
	if err := audio.WriteWAVFile(out, pcm); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, out)
}

const (
	minPitch = 80.0
	maxPitch = 400.0
)

// pitchFor estimates the dominant frequency of the reference from its
// zero-crossing rate, clamped to the range of speaking voices
func pitchFor(reference *audio.PCM) float64 {
	mono := audio.Downmix(reference)
	if len(mono.Samples) < 2 || mono.SampleRate <= 0 {
		return minPitch
	}

	crossings := 0
	for i := 1; i < len(mono.Samples); i++ {
		if (mono.Samples[i-1] < 0) != (mono.Samples[i] < 0) {
			crossings++
		}
	}

	seconds := float64(len(mono.Samples)) / float64(mono.SampleRate)
	pitch := float64(crossings) / 2 / seconds

	return math.Max(minPitch, math.Min(maxPitch, pitch))
}

func tone(freq float64, length time.Duration) *audio.PCM {
	n := int(length.Seconds() * outputRate)
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(8000 * math.Sin(2*math.Pi*freq*float64(i)/outputRate))
	}
	return &audio.PCM{Samples: samples, SampleRate: outputRate, Channels: 1}
}

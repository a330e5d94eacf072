package clone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/voice-clone-service/internal/audio"
	"github.com/skypro1111/voice-clone-service/internal/engine"
	"github.com/skypro1111/voice-clone-service/internal/storage"
	"github.com/skypro1111/voice-clone-service/internal/vad"
)

const synthDuration = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// copyTranscoder cannot decode compressed input and "encodes" by copying
type copyTranscoder struct {
	decodeErr error
	encodeErr error
}

func (c *copyTranscoder) Decode(ctx context.Context, src, dst string, sampleRate, channels int) error {
	if c.decodeErr != nil {
		return c.decodeErr
	}
	return errors.New("unsupported container")
}

func (c *copyTranscoder) Encode(ctx context.Context, src, dst string) error {
	if c.encodeErr != nil {
		return c.encodeErr
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// toneEngine writes a fixed-length tone for every request
type toneEngine struct {
	mu       sync.Mutex
	requests []engine.Request
	err      error
}

func (e *toneEngine) Synthesize(ctx context.Context, req engine.Request) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	if e.err != nil {
		return e.err
	}
	return audio.WriteWAVFile(req.OutputPath, tone(22050, synthDuration, 4000))
}

func (e *toneEngine) Info() engine.Info {
	return engine.Info{Model: engine.YourTTS, Languages: []string{"fr-fr"}}
}

func (e *toneEngine) Close() error { return nil }

func tone(sampleRate int, d time.Duration, amplitude float64) *audio.PCM {
	n := int(d.Seconds() * float64(sampleRate))
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(amplitude * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}
	return &audio.PCM{Samples: samples, SampleRate: sampleRate, Channels: 1}
}

func wavBytes(t *testing.T, pcm *audio.PCM) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ref.wav")
	if err := audio.WriteWAVFile(path, pcm); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func referenceWAV(t *testing.T) []byte {
	t.Helper()
	pcm := tone(44100, time.Second, 8000)
	stereo := make([]int, 0, len(pcm.Samples)*2)
	for _, s := range pcm.Samples {
		stereo = append(stereo, s, s)
	}
	return wavBytes(t, &audio.PCM{Samples: stereo, SampleRate: 44100, Channels: 2})
}

type harness struct {
	svc        *Service
	store      *storage.Store
	eng        *toneEngine
	loads      atomic.Int32
	loadErr    error
	loadDelay  time.Duration
	transcoder *copyTranscoder
}

type harnessOption func(*harness, *Deps, *Options)

func withMinSpeechRatio(ratio float64) harnessOption {
	return func(h *harness, d *Deps, o *Options) {
		o.MinSpeechRatio = ratio
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	root := t.TempDir()
	store, err := storage.New(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{store: store, eng: &toneEngine{}, transcoder: &copyTranscoder{}}

	normalizer, err := audio.NewNormalizer(h.transcoder, 16000, 0.1, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	loader := func(ctx context.Context, spec engine.ModelSpec) (engine.Engine, error) {
		h.loads.Add(1)
		time.Sleep(h.loadDelay)
		if h.loadErr != nil {
			return nil, h.loadErr
		}
		return h.eng, nil
	}

	provider, err := engine.NewProvider(engine.ModelSpec{Model: engine.YourTTS, Language: "fr-fr"}, loader, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	invoker, err := engine.NewInvoker("fr-fr", engine.Params{Temperature: 0.1, Speed: 0.9}, false, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	post, err := audio.NewPostProcessor(h.transcoder, 1500*time.Millisecond, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	analyzer, err := vad.NewAnalyzer(0.02, 512)
	if err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		Store:         store,
		Normalizer:    normalizer,
		Provider:      provider,
		Synthesizer:   invoker,
		PostProcessor: post,
		Analyzer:      analyzer,
	}
	var options Options
	for _, opt := range opts {
		opt(h, &deps, &options)
	}

	h.svc, err = New(deps, options, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	return h
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestCloneSuccess(t *testing.T) {
	h := newHarness(t)

	result := h.svc.Clone(context.Background(), Request{
		Audio:    referenceWAV(t),
		Filename: "ma_voix.wav",
		Text:     "  Bonjour, ceci est un test  ",
	})

	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", result.Status)
	}
	if result.State != StateCompleted {
		t.Errorf("Expected completed state, got %s", result.State)
	}
	if !strings.HasPrefix(result.AudioURL, AudioURLPrefix+"voice_clone_") || !strings.HasSuffix(result.AudioURL, ".mp3") {
		t.Errorf("Unexpected audio URL %s", result.AudioURL)
	}

	clipName := strings.TrimPrefix(result.AudioURL, AudioURLPrefix)
	if !storage.IsClipName(clipName) {
		t.Errorf("Clip name %s is not servable", clipName)
	}

	// The clip is the synthesized audio followed by 1.5s of silence.
	clip, err := audio.ReadWAVFile(h.store.OutputPath(clipName))
	if err != nil {
		t.Fatalf("Clip not readable: %v", err)
	}
	if clip.Duration() != synthDuration+1500*time.Millisecond {
		t.Errorf("Expected clip duration %s, got %s", synthDuration+1500*time.Millisecond, clip.Duration())
	}

	if len(h.eng.requests) != 1 {
		t.Fatalf("Expected 1 synthesis call, got %d", len(h.eng.requests))
	}
	req := h.eng.requests[0]
	if req.Text != "Bonjour, ceci est un test." {
		t.Errorf("Unexpected synthesis text %q", req.Text)
	}
	if req.Language != "fr-fr" || req.Params.Temperature != 0.1 || req.Params.Speed != 0.9 {
		t.Errorf("Unexpected synthesis parameters: %+v", req)
	}

	ref, err := audio.ReadWAVInfo(req.SpeakerWAV)
	if err != nil {
		t.Fatalf("Reference not readable: %v", err)
	}
	if ref.SampleRate != 16000 || ref.Channels != 1 {
		t.Errorf("Expected mono 16kHz reference, got %d ch/%d Hz", ref.Channels, ref.SampleRate)
	}

	// Intermediates are kept: upload and converted reference, raw synthesis and clip.
	if n := countFiles(t, h.store.UploadDir()); n != 2 {
		t.Errorf("Expected 2 files in upload dir, got %d", n)
	}
	if n := countFiles(t, h.store.OutputDir()); n != 2 {
		t.Errorf("Expected 2 files in output dir, got %d", n)
	}
}

func TestCloneValidation(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		expected string
	}{
		{"missing text", Request{Audio: []byte("RIFF"), Filename: "a.wav", Text: ""}, MsgMissingInput},
		{"blank text", Request{Audio: []byte("RIFF"), Filename: "a.wav", Text: " \t\n "}, MsgMissingInput},
		{"missing audio", Request{Filename: "a.wav", Text: "Bonjour"}, MsgMissingInput},
		{"disallowed extension", Request{Audio: []byte("OggS"), Filename: "a.ogg", Text: "Bonjour"}, MsgBadExtension},
		{"no extension", Request{Audio: []byte("RIFF"), Filename: "voice", Text: "Bonjour"}, MsgBadExtension},
		{"double extension", Request{Audio: []byte("RIFF"), Filename: "a.wav.exe", Text: "Bonjour"}, MsgBadExtension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			result := h.svc.Clone(context.Background(), tt.req)

			if result.Success {
				t.Fatal("Expected failure")
			}
			if result.Status != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", result.Status)
			}
			if result.Error != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result.Error)
			}
			if result.Kind != KindValidation {
				t.Errorf("Expected validation kind, got %s", result.Kind)
			}
			if n := countFiles(t, h.store.UploadDir()); n != 0 {
				t.Errorf("Expected no files written, found %d", n)
			}
			if h.loads.Load() != 0 {
				t.Error("Expected no model load")
			}
		})
	}
}

func TestCloneAcceptsExtensionsCaseInsensitively(t *testing.T) {
	h := newHarness(t)

	for _, filename := range []string{"a.WAV", "b.Wav"} {
		result := h.svc.Clone(context.Background(), Request{
			Audio:    referenceWAV(t),
			Filename: filename,
			Text:     "Salut",
		})
		if !result.Success {
			t.Errorf("%s: expected success, got %+v", filename, result)
		}
	}
}

func TestCloneUndecodableAudio(t *testing.T) {
	h := newHarness(t)

	result := h.svc.Clone(context.Background(), Request{
		Audio:    []byte("this is definitely not an mp3 file"),
		Filename: "voice.mp3",
		Text:     "Bonjour",
	})

	if result.Success || result.Status != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %+v", result)
	}
	if result.Error != MsgUnreadableAudio {
		t.Errorf("Expected %q, got %q", MsgUnreadableAudio, result.Error)
	}
	if h.loads.Load() != 0 {
		t.Error("Expected no model load for undecodable audio")
	}
}

func TestCloneRejectsSilentReference(t *testing.T) {
	h := newHarness(t, withMinSpeechRatio(0.2))

	silence := wavBytes(t, &audio.PCM{Samples: make([]int, 16000), SampleRate: 16000, Channels: 1})
	result := h.svc.Clone(context.Background(), Request{Audio: silence, Filename: "quiet.wav", Text: "Bonjour"})

	if result.Success || result.Status != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %+v", result)
	}
	if result.Error != MsgNoSpeech {
		t.Errorf("Expected %q, got %q", MsgNoSpeech, result.Error)
	}
	if result.Kind != KindDecode {
		t.Errorf("Expected decode kind, got %s", result.Kind)
	}
}

func TestCloneModelLoadFailureIsRemembered(t *testing.T) {
	h := newHarness(t)
	h.loadErr = errors.New("model weights not found")

	for i := 0; i < 3; i++ {
		result := h.svc.Clone(context.Background(), Request{Audio: referenceWAV(t), Filename: "a.wav", Text: "Bonjour"})

		if result.Success || result.Status != http.StatusInternalServerError {
			t.Fatalf("Attempt %d: expected 500, got %+v", i, result)
		}
		if result.Error != MsgModelUnavailable {
			t.Errorf("Attempt %d: expected %q, got %q", i, MsgModelUnavailable, result.Error)
		}
		if strings.Contains(result.Error, "weights") {
			t.Error("Internal detail leaked to the client")
		}
	}

	if h.loads.Load() != 1 {
		t.Errorf("Expected a single load attempt, got %d", h.loads.Load())
	}
}

func TestCloneSynthesisFailure(t *testing.T) {
	h := newHarness(t)
	h.eng.err = errors.New("CUDA out of memory")

	result := h.svc.Clone(context.Background(), Request{Audio: referenceWAV(t), Filename: "a.wav", Text: "Bonjour"})

	if result.Success || result.Status != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %+v", result)
	}
	if result.Error != MsgSynthesisFailed {
		t.Errorf("Expected %q, got %q", MsgSynthesisFailed, result.Error)
	}
}

func TestCloneEncodeFailure(t *testing.T) {
	h := newHarness(t)
	h.transcoder.encodeErr = errors.New("libmp3lame missing")

	result := h.svc.Clone(context.Background(), Request{Audio: referenceWAV(t), Filename: "a.wav", Text: "Bonjour"})

	if result.Success || result.Status != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %+v", result)
	}
	if result.Error != MsgEncodeFailed {
		t.Errorf("Expected %q, got %q", MsgEncodeFailed, result.Error)
	}
}

func TestCloneConcurrentFirstRequests(t *testing.T) {
	h := newHarness(t)
	h.loadDelay = 100 * time.Millisecond
	ref := referenceWAV(t)

	const callers = 8
	results := make([]Result, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.svc.Clone(context.Background(), Request{
				Audio:    ref,
				Filename: "a.wav",
				Text:     fmt.Sprintf("Phrase numéro %d", i),
			})
		}(i)
	}
	wg.Wait()

	if h.loads.Load() != 1 {
		t.Errorf("Expected exactly one model load, got %d", h.loads.Load())
	}

	urls := make(map[string]bool)
	for i, r := range results {
		if !r.Success {
			t.Errorf("Request %d failed: %+v", i, r)
			continue
		}
		if urls[r.AudioURL] {
			t.Errorf("Duplicate audio URL %s", r.AudioURL)
		}
		urls[r.AudioURL] = true
	}
}

func TestCloneRecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	h.svc.deps.Normalizer = panickingNormalizer{}

	var logs bytes.Buffer
	h.svc.logger = slog.New(slog.NewJSONHandler(&logs, nil))

	result := h.svc.Clone(context.Background(), Request{Audio: referenceWAV(t), Filename: "a.wav", Text: "Bonjour"})

	if result.Success || result.Status != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %+v", result)
	}
	if result.Error != MsgInternal {
		t.Errorf("Expected %q, got %q", MsgInternal, result.Error)
	}

	if h.svc.GetStats().ActiveRequests != 0 {
		t.Error("Expected active request count to be released")
	}

	output := logs.String()
	if !strings.Contains(output, `"stack"`) {
		t.Fatalf("Expected the panic to be logged with a stack trace, got %s", output)
	}
	if !strings.Contains(output, "panickingNormalizer") {
		t.Errorf("Expected the stack trace to name the panicking frame, got %s", output)
	}
}

func TestCloneMissingTranscoderIsServerError(t *testing.T) {
	h := newHarness(t)
	h.transcoder.decodeErr = fmt.Errorf("%w: exec: \"ffmpeg\": executable file not found in $PATH", audio.ErrTranscoderUnavailable)

	result := h.svc.Clone(context.Background(), Request{Audio: []byte("ID3\x04\x00\x00"), Filename: "voice.mp3", Text: "Bonjour"})

	if result.Status != http.StatusInternalServerError || result.Kind != KindInternal {
		t.Fatalf("Expected 500 internal, got %d %s", result.Status, result.Kind)
	}
	if result.Error != MsgInternal {
		t.Errorf("Expected %q, got %q", MsgInternal, result.Error)
	}
	if h.loads.Load() != 0 {
		t.Error("Expected no model load when the reference could not be converted")
	}
}

type panickingNormalizer struct{}

func (panickingNormalizer) Normalize(ctx context.Context, src, dst string) (*audio.NormalizedAudio, error) {
	panic("unexpected nil buffer")
}

func TestCloneStats(t *testing.T) {
	h := newHarness(t)

	h.svc.Clone(context.Background(), Request{Audio: referenceWAV(t), Filename: "a.wav", Text: "Bonjour"})
	h.svc.Clone(context.Background(), Request{Audio: referenceWAV(t), Filename: "a.ogg", Text: "Bonjour"})
	h.svc.Clone(context.Background(), Request{Filename: "a.wav", Text: "Bonjour"})

	stats := h.svc.GetStats()
	if stats.TotalRequests != 3 {
		t.Errorf("Expected 3 requests, got %d", stats.TotalRequests)
	}
	if stats.Succeeded != 1 || stats.Failed != 2 {
		t.Errorf("Expected 1 success and 2 failures, got %d/%d", stats.Succeeded, stats.Failed)
	}
	if stats.FailuresByKind["validation"] != 2 {
		t.Errorf("Expected 2 validation failures, got %v", stats.FailuresByKind)
	}
	if stats.ActiveRequests != 0 {
		t.Errorf("Expected no active requests, got %d", stats.ActiveRequests)
	}
}

func TestNewValidation(t *testing.T) {
	h := newHarness(t)
	valid := h.svc.deps

	tests := []struct {
		name   string
		mutate func(*Deps, *Options)
	}{
		{"nil store", func(d *Deps, o *Options) { d.Store = nil }},
		{"nil normalizer", func(d *Deps, o *Options) { d.Normalizer = nil }},
		{"nil provider", func(d *Deps, o *Options) { d.Provider = nil }},
		{"nil synthesizer", func(d *Deps, o *Options) { d.Synthesizer = nil }},
		{"nil post-processor", func(d *Deps, o *Options) { d.PostProcessor = nil }},
		{"ratio out of range", func(d *Deps, o *Options) { o.MinSpeechRatio = 1.5 }},
		{"ratio without analyzer", func(d *Deps, o *Options) { d.Analyzer = nil; o.MinSpeechRatio = 0.2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := valid
			var opts Options
			tt.mutate(&deps, &opts)
			if _, err := New(deps, opts, nil); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{fmt.Errorf("wrap: %w", audio.ErrDecode), KindDecode, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", ErrNoSpeech), KindDecode, http.StatusBadRequest},
		{&engine.LoadError{Err: errors.New("boom")}, KindModelLoad, http.StatusInternalServerError},
		{fmt.Errorf("wrap: %w", engine.ErrSynthesis), KindSynthesis, http.StatusInternalServerError},
		{fmt.Errorf("wrap: %w", audio.ErrEncode), KindEncode, http.StatusInternalServerError},
		{os.ErrPermission, KindInternal, http.StatusInternalServerError},
		{fmt.Errorf("wrap: %w", audio.ErrTranscoderUnavailable), KindInternal, http.StatusInternalServerError},
		{fmt.Errorf("%w: %w", audio.ErrEncode, audio.ErrTranscoderUnavailable), KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		cerr := classify(StageNormalize, tt.err)
		if cerr.Kind != tt.kind {
			t.Errorf("classify(%v): expected kind %s, got %s", tt.err, tt.kind, cerr.Kind)
		}
		if cerr.Status() != tt.status {
			t.Errorf("classify(%v): expected status %d, got %d", tt.err, tt.status, cerr.Status())
		}
		if !errors.Is(cerr, tt.err) {
			t.Errorf("classify(%v): cause chain lost", tt.err)
		}
	}
}

package clone

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/voice-clone-service/internal/audio"
	"github.com/skypro1111/voice-clone-service/internal/engine"
	"github.com/skypro1111/voice-clone-service/internal/metrics"
	"github.com/skypro1111/voice-clone-service/internal/storage"
	"github.com/skypro1111/voice-clone-service/internal/vad"
)

// AudioURLPrefix is the public path under which clips are served
const AudioURLPrefix = "/api/audio/"

// AllowedExtensions lists the accepted upload extensions
var AllowedExtensions = []string{".wav", ".mp3", ".m4a"}

// Stage names a step of the clone pipeline
type Stage string

const (
	StageValidate    Stage = "validate"
	StageStore       Stage = "store"
	StageNormalize   Stage = "normalize"
	StageModel       Stage = "model"
	StageSynthesize  Stage = "synthesize"
	StagePostProcess Stage = "post_process"
)

// State is the progress of a single request
type State string

const (
	StateReceived      State = "received"
	StateValidated     State = "validated"
	StateNormalized    State = "normalized"
	StateModelReady    State = "model_ready"
	StateSynthesized   State = "synthesized"
	StatePostProcessed State = "post_processed"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Request is a clone request as received from a client
type Request struct {
	Audio    []byte
	Filename string // only its extension is used
	Text     string
}

// Result is the outcome of a clone request
type Result struct {
	Success  bool   `json:"success"`
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`

	Status int    `json:"-"`
	Kind   Kind   `json:"-"` // meaningful only when Success is false
	ID     string `json:"-"`
	State  State  `json:"-"`
}

// Normalizer converts an upload into the canonical reference recording
type Normalizer interface {
	Normalize(ctx context.Context, src, dst string) (*audio.NormalizedAudio, error)
}

// EngineProvider hands out the process-wide engine
type EngineProvider interface {
	Get(ctx context.Context) (engine.Engine, error)
}

// Synthesizer runs a synthesis job on an engine
type Synthesizer interface {
	Invoke(ctx context.Context, eng engine.Engine, job engine.Job) error
}

// PostProcessor turns raw engine output into the delivered clip
type PostProcessor interface {
	Process(ctx context.Context, raw, out string) (*audio.ClipInfo, error)
}

// Deps are the collaborators of the service. Analyzer and Metrics are optional.
type Deps struct {
	Store         *storage.Store
	Normalizer    Normalizer
	Provider      EngineProvider
	Synthesizer   Synthesizer
	PostProcessor PostProcessor
	Analyzer      *vad.Analyzer
	Metrics       *metrics.Metrics
}

// Options tune request handling
type Options struct {
	// MinSpeechRatio rejects references with a smaller share of voiced
	// windows. Zero disables the check.
	MinSpeechRatio float64
}

// ServiceStats represents clone service statistics
type ServiceStats struct {
	TotalRequests   uint64            `json:"total_requests"`
	Succeeded       uint64            `json:"succeeded"`
	Failed          uint64            `json:"failed"`
	FailuresByKind  map[string]uint64 `json:"failures_by_kind"`
	ActiveRequests  int               `json:"active_requests"`
	AvgDuration     time.Duration     `json:"avg_duration"`
	LastRequestTime time.Time         `json:"last_request_time"`
}

// Service runs the clone pipeline: validate, store, normalize, acquire the
// engine, synthesize and post-process, strictly in that order.
type Service struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	allowed map[string]bool

	// Statistics
	totalRequests   uint64
	succeeded       uint64
	failuresByKind  map[Kind]uint64
	active          int
	avgDuration     time.Duration
	lastRequestTime time.Time

	mu sync.RWMutex
}

// New creates a clone service
func New(deps Deps, opts Options, logger *slog.Logger) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	if deps.Normalizer == nil {
		return nil, fmt.Errorf("normalizer cannot be nil")
	}

	if deps.Provider == nil {
		return nil, fmt.Errorf("engine provider cannot be nil")
	}

	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer cannot be nil")
	}

	if deps.PostProcessor == nil {
		return nil, fmt.Errorf("post-processor cannot be nil")
	}

	if opts.MinSpeechRatio < 0 || opts.MinSpeechRatio > 1 {
		return nil, fmt.Errorf("min speech ratio must be between 0 and 1, got %f", opts.MinSpeechRatio)
	}

	if opts.MinSpeechRatio > 0 && deps.Analyzer == nil {
		return nil, fmt.Errorf("min speech ratio requires a voice activity analyzer")
	}

	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]bool, len(AllowedExtensions))
	for _, ext := range AllowedExtensions {
		allowed[ext] = true
	}

	return &Service{
		deps:           deps,
		opts:           opts,
		logger:         logger.With(slog.String("component", "clone")),
		now:            time.Now,
		allowed:        allowed,
		failuresByKind: make(map[Kind]uint64),
	}, nil
}

// pipeline tracks one request through the stages
type pipeline struct {
	svc        *Service
	logger     *slog.Logger
	state      State
	stageStart time.Time
}

func (p *pipeline) advance(stage Stage, next State) {
	elapsed := time.Since(p.stageStart)
	if p.svc.deps.Metrics != nil {
		p.svc.deps.Metrics.RecordStage(string(stage), elapsed)
	}

	p.logger.Debug("Stage completed",
		slog.String("stage", string(stage)),
		slog.String("from", string(p.state)),
		slog.String("to", string(next)),
		slog.Duration("elapsed", elapsed),
	)

	p.state = next
	p.stageStart = time.Now()
}

// Clone runs the pipeline for req. It never panics and never returns an
// error: every failure is reported in the Result.
func (s *Service) Clone(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	s.begin(len(req.Audio))

	p := &pipeline{svc: s, logger: s.logger, state: StateReceived, stageStart: start}
	stage := StageValidate

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Clone pipeline panicked",
				slog.String("stage", string(stage)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = s.fail(p, classify(stage, fmt.Errorf("panic: %v", r)))
		}
		s.finish(result, time.Since(start))
	}()

	if cerr := s.validate(req); cerr != nil {
		return s.fail(p, cerr)
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	names := storage.NewNames(s.now(), ext)
	p.logger = s.logger.With(slog.String("request_id", names.ID))
	p.logger.Info("Clone request accepted",
		slog.String("filename", req.Filename),
		slog.Int("audio_bytes", len(req.Audio)),
		slog.Int("text_length", len([]rune(strings.TrimSpace(req.Text)))),
	)
	p.advance(StageValidate, StateValidated)

	stage = StageStore
	uploadPath, err := s.deps.Store.SaveUpload(names.Upload, req.Audio)
	if err != nil {
		return s.fail(p, classify(stage, err))
	}

	stage = StageNormalize
	convertedPath := s.deps.Store.UploadPath(names.Converted)
	normalized, err := s.deps.Normalizer.Normalize(ctx, uploadPath, convertedPath)
	if err != nil {
		return s.fail(p, classify(stage, err))
	}
	if err := s.checkSpeech(p, normalized); err != nil {
		return s.fail(p, classify(stage, err))
	}
	p.advance(StageNormalize, StateNormalized)

	stage = StageModel
	eng, err := s.deps.Provider.Get(ctx)
	if err != nil {
		return s.fail(p, classify(stage, err))
	}
	p.advance(StageModel, StateModelReady)

	stage = StageSynthesize
	synthPath := s.deps.Store.OutputPath(names.Synth)
	err = s.deps.Synthesizer.Invoke(ctx, eng, engine.Job{
		ReferencePath: convertedPath,
		Text:          req.Text,
		OutputPath:    synthPath,
	})
	if err != nil {
		return s.fail(p, classify(stage, err))
	}
	p.advance(StageSynthesize, StateSynthesized)

	stage = StagePostProcess
	clip, err := s.deps.PostProcessor.Process(ctx, synthPath, s.deps.Store.OutputPath(names.Clip))
	if err != nil {
		return s.fail(p, classify(stage, err))
	}
	p.advance(StagePostProcess, StatePostProcessed)

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordClip(clip.Duration)
	}

	p.state = StateCompleted
	p.logger.Info("Clone request completed",
		slog.String("clip", names.Clip),
		slog.Duration("reference_duration", normalized.Duration),
		slog.Duration("clip_duration", clip.Duration),
		slog.Duration("elapsed", time.Since(start)),
	)

	return Result{
		Success:  true,
		AudioURL: AudioURLPrefix + names.Clip,
		Status:   http.StatusOK,
		ID:       names.ID,
		State:    StateCompleted,
	}
}

// validate checks the request without touching the filesystem or the engine
func (s *Service) validate(req Request) *Error {
	if len(req.Audio) == 0 || strings.TrimSpace(req.Text) == "" {
		return validationError(MsgMissingInput)
	}

	if !s.allowed[strings.ToLower(filepath.Ext(req.Filename))] {
		return validationError(MsgBadExtension)
	}

	return nil
}

// checkSpeech measures voice activity in the reference and rejects it when
// the configured minimum is not met
func (s *Service) checkSpeech(p *pipeline, normalized *audio.NormalizedAudio) error {
	if s.deps.Analyzer == nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordReference(normalized.Duration, 0)
		}
		return nil
	}

	res, err := s.deps.Analyzer.Analyze(normalized.Samples, normalized.SampleRate)
	if err != nil {
		return fmt.Errorf("voice activity analysis failed: %w", err)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordReference(normalized.Duration, res.SpeechRatio)
	}

	p.logger.Debug("Reference voice activity",
		slog.Float64("speech_ratio", res.SpeechRatio),
		slog.Duration("speech", res.Speech),
		slog.Int("segments", len(res.Segments)),
	)

	if s.opts.MinSpeechRatio > 0 && res.SpeechRatio < s.opts.MinSpeechRatio {
		return fmt.Errorf("%w: speech ratio %.2f below %.2f", ErrNoSpeech, res.SpeechRatio, s.opts.MinSpeechRatio)
	}

	return nil
}

func (s *Service) fail(p *pipeline, cerr *Error) Result {
	from := p.state
	p.state = StateFailed

	level := slog.LevelError
	if cerr.Kind == KindValidation || cerr.Kind == KindDecode {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("stage", string(cerr.Stage)),
		slog.String("kind", cerr.Kind.String()),
		slog.String("state", string(from)),
		slog.Int("status", cerr.Status()),
	}
	if cerr.Err != nil {
		attrs = append(attrs, slog.String("error", cerr.Err.Error()))
	}
	p.logger.LogAttrs(context.Background(), level, "Clone request failed: "+cerr.Message, attrs...)

	return Result{
		Success: false,
		Error:   cerr.Message,
		Status:  cerr.Status(),
		Kind:    cerr.Kind,
		State:   StateFailed,
	}
}

func (s *Service) begin(uploadBytes int) {
	s.mu.Lock()
	s.totalRequests++
	s.active++
	s.lastRequestTime = s.now()
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCloneStarted(uploadBytes)
	}
}

func (s *Service) finish(result Result, elapsed time.Duration) {
	outcome := "success"

	s.mu.Lock()
	s.active--
	if result.Success {
		s.succeeded++
	} else {
		s.failuresByKind[result.Kind]++
		outcome = result.Kind.String()
	}
	if s.avgDuration == 0 {
		s.avgDuration = elapsed
	} else {
		s.avgDuration = (s.avgDuration + elapsed) / 2
	}
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCloneFinished(outcome, elapsed)
	}
}

// GetStats returns current service statistics
func (s *Service) GetStats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind := make(map[string]uint64, len(s.failuresByKind))
	var failed uint64
	for k, n := range s.failuresByKind {
		byKind[k.String()] = n
		failed += n
	}

	return ServiceStats{
		TotalRequests:   s.totalRequests,
		Succeeded:       s.succeeded,
		Failed:          failed,
		FailuresByKind:  byKind,
		ActiveRequests:  s.active,
		AvgDuration:     s.avgDuration,
		LastRequestTime: s.lastRequestTime,
	}
}

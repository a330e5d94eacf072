package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// Job is one synthesis invocation.
type Job struct {
	ReferencePath string
	Text          string
	OutputPath    string
}

// Invoker calls an engine with the configured language and tuning. Calls are
// serialized unless the engine is declared safe for concurrent inference.
type Invoker struct {
	language   string
	params     Params
	concurrent bool
	logger     *slog.Logger

	mu sync.Mutex
}

// NewInvoker creates an invoker for language with fixed params.
func NewInvoker(language string, params Params, concurrent bool, logger *slog.Logger) (*Invoker, error) {
	if language == "" {
		return nil, fmt.Errorf("language cannot be empty")
	}

	if params.Temperature <= 0 {
		return nil, fmt.Errorf("temperature must be positive, got %f", params.Temperature)
	}

	if params.Speed <= 0 {
		return nil, fmt.Errorf("speed must be positive, got %f", params.Speed)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Invoker{
		language:   language,
		params:     params,
		concurrent: concurrent,
		logger:     logger.With(slog.String("component", "synthesis_invoker")),
	}, nil
}

// Invoke synthesizes job.Text in the voice of job.ReferencePath into job.OutputPath.
// Every failure wraps ErrSynthesis.
func (i *Invoker) Invoke(ctx context.Context, eng Engine, job Job) error {
	if eng == nil {
		return fmt.Errorf("%w: no engine", ErrSynthesis)
	}

	text, err := PrepareText(job.Text)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	if job.ReferencePath == "" || job.OutputPath == "" {
		return fmt.Errorf("%w: reference and output paths are required", ErrSynthesis)
	}

	req := Request{
		Text:       text,
		Language:   i.language,
		SpeakerWAV: job.ReferencePath,
		OutputPath: job.OutputPath,
		Params:     i.params,
	}

	if !i.concurrent {
		i.mu.Lock()
		defer i.mu.Unlock()
	}

	start := time.Now()
	if err := eng.Synthesize(ctx, req); err != nil {
		return fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	fi, err := os.Stat(job.OutputPath)
	if err != nil {
		return fmt.Errorf("%w: engine produced no output: %w", ErrSynthesis, err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%w: engine produced an empty file", ErrSynthesis)
	}

	i.logger.Debug("Synthesis completed",
		slog.Int("text_runes", utf8.RuneCountInString(text)),
		slog.String("language", i.language),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int64("output_bytes", fi.Size()),
	)

	return nil
}

// Language returns the language every call is made with.
func (i *Invoker) Language() string {
	return i.language
}

// Params returns the tuning every call is made with.
func (i *Invoker) Params() Params {
	return i.params
}

// terminalMarks end an utterance; anything else gets a period appended.
const terminalMarks = ".!?…;:。！？"

// PrepareText trims text and appends a period unless it already ends an
// utterance, so the engine closes the sentence with falling prosody.
func PrepareText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty text")
	}

	last, _ := utf8.DecodeLastRuneInString(text)
	if strings.ContainsRune(terminalMarks, last) {
		return text, nil
	}

	// Closing quotes or brackets after terminal punctuation still count.
	trimmed := strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.Is(unicode.Pe, r) || unicode.Is(unicode.Pf, r) || r == '"' || r == '\''
	})
	if trimmed != "" && trimmed != text {
		if l, _ := utf8.DecodeLastRuneInString(trimmed); strings.ContainsRune(terminalMarks, l) {
			return text, nil
		}
	}

	return text + ".", nil
}

package engine

import (
	"context"
	"errors"
)

var (
	// ErrModelLoad marks failures constructing the engine.
	ErrModelLoad = errors.New("model load failed")

	// ErrSynthesis marks failures producing speech from a loaded engine.
	ErrSynthesis = errors.New("synthesis failed")
)

// Params are engine tuning knobs. They come from configuration, never from a request.
type Params struct {
	Temperature float64
	Speed       float64
}

// Request is a single synthesis call as seen by an engine implementation.
type Request struct {
	Text       string
	Language   string
	SpeakerWAV string // path of the normalized reference recording
	OutputPath string // where the engine must write the synthesized audio
	Params     Params
}

// Info describes a loaded engine.
type Info struct {
	Model     string   `json:"model"`
	Languages []string `json:"languages"`
	Endpoint  string   `json:"endpoint"`
}

// Engine produces speech in the voice of a reference recording.
type Engine interface {
	// Synthesize writes audio for req.Text spoken in the voice of
	// req.SpeakerWAV to req.OutputPath.
	Synthesize(ctx context.Context, req Request) error

	// Info describes the loaded model.
	Info() Info

	// Close releases the engine and anything it started.
	Close() error
}

// Loader performs the expensive construction of an engine.
type Loader func(ctx context.Context, spec ModelSpec) (Engine, error)

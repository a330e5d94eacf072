package ttsserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phayes/freeport"

	"github.com/skypro1111/voice-clone-service/internal/engine"
)

// Options configure how an inference server is reached or started
type Options struct {
	Endpoint string // used when no command is configured
	Timeout  time.Duration

	// Spawned server; args may contain {port}, {model} and {language}
	Command        string
	Args           []string
	StartupTimeout time.Duration
}

// NewLoader returns an engine.Loader connecting to, or starting, an
// inference server that serves spec.Model in spec.Language.
func NewLoader(opts Options, logger *slog.Logger) engine.Loader {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, spec engine.ModelSpec) (engine.Engine, error) {
		return load(ctx, opts, spec, logger)
	}
}

func load(ctx context.Context, opts Options, spec engine.ModelSpec, logger *slog.Logger) (engine.Engine, error) {
	endpoint := opts.Endpoint
	startupTimeout := opts.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = 10 * time.Second
	}

	var proc *Process
	if opts.Command != "" {
		port, err := freeport.GetFreePort()
		if err != nil {
			return nil, fmt.Errorf("failed to allocate a port for the inference server: %w", err)
		}

		endpoint = fmt.Sprintf("http://127.0.0.1:%d", port)
		args := ExpandArgs(opts.Args, port, spec.Model, spec.Language)

		proc, err = StartProcess(opts.Command, args, logger)
		if err != nil {
			return nil, err
		}
	}

	client, err := NewClient(Config{
		Endpoint: endpoint,
		Model:    spec.Model,
		Timeout:  opts.Timeout,
	}, logger)
	if err != nil {
		stopProcess(proc)
		return nil, err
	}
	client.process = proc

	var alive func() bool
	if proc != nil {
		alive = proc.Alive
	}

	if err := client.WaitReady(ctx, startupTimeout, alive); err != nil {
		client.Close()
		return nil, err
	}

	info, err := client.FetchInfo(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to query inference server info: %w", err)
	}

	if info.Model != "" && info.Model != spec.Model {
		logger.Warn("Inference server serves a different model than configured",
			slog.String("configured", spec.Model),
			slog.String("served", info.Model),
		)
	}

	languages := info.Languages
	if len(languages) == 0 {
		languages, _ = engine.KnownLanguages(spec.Model)
	}

	if len(languages) > 0 && !engine.SupportsLanguage(languages, spec.Language) {
		client.Close()
		return nil, fmt.Errorf("language %q is not served by %s (available: %v)", spec.Language, endpoint, languages)
	}

	logger.Info("Inference server ready",
		slog.String("endpoint", endpoint),
		slog.String("model", client.Info().Model),
		slog.Any("languages", languages),
		slog.Bool("spawned", proc != nil),
	)

	return client, nil
}

func stopProcess(proc *Process) {
	if proc != nil {
		proc.Stop()
	}
}

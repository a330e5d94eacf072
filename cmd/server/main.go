package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/voice-clone-service/internal/audio"
	"github.com/skypro1111/voice-clone-service/internal/clone"
	"github.com/skypro1111/voice-clone-service/internal/config"
	"github.com/skypro1111/voice-clone-service/internal/engine"
	"github.com/skypro1111/voice-clone-service/internal/engine/ttsserver"
	"github.com/skypro1111/voice-clone-service/internal/metrics"
	"github.com/skypro1111/voice-clone-service/internal/server"
	"github.com/skypro1111/voice-clone-service/internal/storage"
	"github.com/skypro1111/voice-clone-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-clone-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.Int("max_upload_mb", cfg.Server.MaxUploadMB),
		slog.String("upload_dir", cfg.Storage.UploadDir),
		slog.String("output_dir", cfg.Storage.OutputDir),
		slog.String("model", cfg.Engine.Model),
		slog.String("language", cfg.Engine.Language),
		slog.Bool("spawn_engine", cfg.Engine.Spawn.Command != ""),
		slog.Bool("preload", cfg.Engine.Preload),
		slog.Duration("silence", cfg.Audio.GetSilenceDuration()),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics on a dedicated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	store, err := storage.New(cfg.Storage.UploadDir, cfg.Storage.OutputDir, logger)
	if err != nil {
		logger.Error("Failed to prepare storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ffmpeg := audio.NewFFmpeg(cfg.Audio.FFmpegPath, cfg.Audio.MP3Quality)
	if err := ffmpeg.Available(); err != nil {
		// WAV references still work; every clip encode will fail until ffmpeg is installed.
		logger.Warn("ffmpeg not available",
			slog.String("path", cfg.Audio.FFmpegPath),
			slog.String("error", err.Error()),
		)
	}

	normalizer, err := audio.NewNormalizer(ffmpeg, cfg.Audio.SampleRate, cfg.Audio.HeadroomDB, logger)
	if err != nil {
		logger.Error("Failed to create normalizer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	postProcessor, err := audio.NewPostProcessor(ffmpeg, cfg.Audio.GetSilenceDuration(), logger)
	if err != nil {
		logger.Error("Failed to create post-processor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	analyzer, err := vad.NewAnalyzer(cfg.VAD.Threshold, cfg.VAD.WindowSize)
	if err != nil {
		logger.Error("Failed to create voice activity analyzer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	loader := ttsserver.NewLoader(ttsserver.Options{
		Endpoint:       cfg.Engine.Endpoint,
		Timeout:        cfg.Engine.GetTimeoutDuration(),
		Command:        cfg.Engine.Spawn.Command,
		Args:           cfg.Engine.Spawn.Args,
		StartupTimeout: cfg.Engine.Spawn.GetStartupTimeoutDuration(),
	}, logger)

	provider, err := engine.NewProvider(engine.ModelSpec{
		Model:    cfg.Engine.Model,
		Language: cfg.Engine.Language,
	}, loader, logger)
	if err != nil {
		logger.Error("Failed to create engine provider", slog.String("error", err.Error()))
		os.Exit(1)
	}
	provider.OnLoad(appMetrics.RecordModelLoad)

	invoker, err := engine.NewInvoker(cfg.Engine.Language, engine.Params{
		Temperature: cfg.Engine.Temperature,
		Speed:       cfg.Engine.Speed,
	}, cfg.Engine.ConcurrentInference, logger)
	if err != nil {
		logger.Error("Failed to create engine invoker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cloneService, err := clone.New(clone.Deps{
		Store:         store,
		Normalizer:    normalizer,
		Provider:      provider,
		Synthesizer:   invoker,
		PostProcessor: postProcessor,
		Analyzer:      analyzer,
		Metrics:       appMetrics,
	}, clone.Options{
		MinSpeechRatio: cfg.VAD.MinSpeechRatio,
	}, logger)
	if err != nil {
		logger.Error("Failed to create clone service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := server.NewHTTPServer(cfg, server.Deps{
		Clone:    cloneService,
		Store:    store,
		Provider: provider,
		Analyzer: analyzer,
		Metrics:  appMetrics,
		Gatherer: registry,
	}, logger)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.Engine.Preload {
		go func() {
			if _, err := provider.Get(context.Background()); err != nil {
				logger.Error("Model preload failed", slog.String("error", err.Error()))
			}
		}()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", httpServer.Addr()),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetWriteTimeout())
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Release the engine (and its spawned inference server, if any)
	if err := provider.Close(); err != nil {
		logger.Error("Error closing engine", slog.String("error", err.Error()))
	}

	stats := cloneService.GetStats()
	logger.Info("Final clone statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("succeeded", stats.Succeeded),
		slog.Uint64("failed", stats.Failed),
		slog.Duration("avg_duration", stats.AvgDuration),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-clone-service/internal/clone"
	"github.com/skypro1111/voice-clone-service/internal/config"
	"github.com/skypro1111/voice-clone-service/internal/engine"
	"github.com/skypro1111/voice-clone-service/internal/metrics"
	"github.com/skypro1111/voice-clone-service/internal/storage"
	"github.com/skypro1111/voice-clone-service/internal/vad"
)

// MsgTooLarge is returned when an upload exceeds the configured limit
const MsgTooLarge = "Fichier trop volumineux"

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files
const multipartMemory = 8 << 20

// Deps are the components exposed over HTTP. Analyzer is optional.
type Deps struct {
	Clone    *clone.Service
	Store    *storage.Store
	Provider *engine.Provider
	Analyzer *vad.Analyzer
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// HTTPServer serves the voice cloning API and the monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  *config.Config
	deps    Deps
	static  http.Handler

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.Config, deps Deps, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    cfg,
		deps:      deps,
		startTime: time.Now(),
	}

	if dir := cfg.Server.StaticDir; dir != "" {
		if _, err := os.Stat(filepath.Join(dir, "index.html")); err == nil {
			h.static = http.FileServer(http.Dir(dir))
		} else {
			h.logger.Info("No landing page found, serving the API index at /",
				slog.String("static_dir", dir),
			)
		}
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:           mux,
		ReadTimeout:       cfg.Server.GetReadTimeout(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.GetWriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Voice cloning API
	mux.HandleFunc("/api/clone-voice", h.withMetrics("/api/clone-voice", h.handleCloneVoice))
	mux.HandleFunc(clone.AudioURLPrefix, h.withMetrics("/api/audio/{filename}", h.handleAudio))

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Landing page or API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		if h.deps.Metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the request router
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Addr returns the listen address
func (h *HTTPServer) Addr() string {
	return h.server.Addr
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleCloneVoice implements POST /api/clone-voice
func (h *HTTPServer) handleCloneVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.GetMaxUploadBytes())

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			h.logger.Warn("Upload rejected: too large",
				slog.Int64("limit_bytes", h.config.Server.GetMaxUploadBytes()),
			)
			writeError(w, http.StatusRequestEntityTooLarge, MsgTooLarge)
			return
		}

		// Not a multipart form: the audio and text fields are missing.
		h.logger.Warn("Malformed clone request", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, clone.MsgMissingInput)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := clone.Request{Text: r.FormValue("text")}

	file, header, err := r.FormFile("audio")
	switch {
	case err == nil:
		defer file.Close()
		req.Filename = header.Filename
		req.Audio, err = io.ReadAll(file)
		if err != nil {
			if isTooLarge(err) {
				writeError(w, http.StatusRequestEntityTooLarge, MsgTooLarge)
				return
			}
			h.logger.Error("Failed to read upload", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, clone.MsgInternal)
			return
		}
	case errors.Is(err, http.ErrMissingFile):
		// Reported by the clone service as missing input.
	default:
		h.logger.Warn("Unreadable audio part", slog.String("error", err.Error()))
	}

	result := h.deps.Clone.Clone(r.Context(), req)
	writeJSON(w, result.Status, result)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

// handleAudio implements GET /api/audio/{filename}
func (h *HTTPServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, clone.AudioURLPrefix)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Nom de fichier requis")
		return
	}

	f, info, err := h.deps.Store.OpenClip(name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidName):
			h.logger.Warn("Rejected clip name", slog.String("name", name))
			writeError(w, http.StatusBadRequest, "Nom de fichier invalide")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "Fichier introuvable")
		default:
			h.logger.Error("Failed to open clip", slog.String("name", name), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, clone.MsgInternal)
		}
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	engineStats := h.deps.Provider.Stats()

	status := "healthy"
	code := http.StatusOK
	engineStatus := "not_loaded"
	switch {
	case engineStats.Loaded:
		engineStatus = "loaded"
	case engineStats.Loading:
		engineStatus = "loading"
	case engineStats.LastError != "":
		engineStatus = "failed"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voice-clone-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"engine": map[string]interface{}{
				"status":   engineStatus,
				"model":    engineStats.Model,
				"language": engineStats.Language,
			},
			"clone": map[string]interface{}{
				"status":          "running",
				"active_requests": h.deps.Clone.GetStats().ActiveRequests,
			},
		},
	}

	writeJSON(w, code, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	c := h.config

	// Spawn arguments and the endpoint may carry credentials; only their
	// presence is reported.
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"address":       c.Server.Address,
			"port":          c.Server.Port,
			"read_timeout":  c.Server.ReadTimeout,
			"write_timeout": c.Server.WriteTimeout,
			"max_upload_mb": c.Server.MaxUploadMB,
			"static_dir":    c.Server.StaticDir,
		},
		"storage": map[string]interface{}{
			"upload_dir": c.Storage.UploadDir,
			"output_dir": c.Storage.OutputDir,
		},
		"audio": map[string]interface{}{
			"sample_rate": c.Audio.SampleRate,
			"channels":    c.Audio.Channels,
			"headroom_db": c.Audio.HeadroomDB,
			"silence_ms":  c.Audio.SilenceMS,
			"mp3_quality": c.Audio.MP3Quality,
		},
		"engine": map[string]interface{}{
			"model":                c.Engine.Model,
			"language":             c.Engine.Language,
			"temperature":          c.Engine.Temperature,
			"speed":                c.Engine.Speed,
			"timeout":              c.Engine.Timeout,
			"preload":              c.Engine.Preload,
			"concurrent_inference": c.Engine.ConcurrentInference,
			"spawned":              c.Engine.Spawn.Command != "",
		},
		"vad": map[string]interface{}{
			"threshold":        c.VAD.Threshold,
			"window_size":      c.VAD.WindowSize,
			"min_speech_ratio": c.VAD.MinSpeechRatio,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"clone":     h.deps.Clone.GetStats(),
		"engine":    h.deps.Provider.Stats(),
		"storage":   h.deps.Store.GetStats(),
	}
	if h.deps.Analyzer != nil {
		stats["vad"] = h.deps.Analyzer.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot serves the landing page, or the API documentation when there is none
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.static != nil {
		h.static.ServeHTTP(w, r)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Clone Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                     "API documentation",
			"POST /api/clone-voice":     "Clone a voice (multipart: audio file, text)",
			"GET /api/audio/{filename}": "Download a synthesized clip",
			"GET /health":               "Service health check",
			"GET /config":               "Get service configuration",
			"GET /stats":                "Get service statistics",
			"GET /metrics":              "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

package ttsserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/voice-clone-service/internal/engine"
)

// Client talks to a TTS inference server and implements engine.Engine
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
	info       engine.Info
	process    *Process
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu        sync.RWMutex
	closeOnce sync.Once
}

// Config contains inference server client configuration
type Config struct {
	Endpoint      string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	RetryBackoff  time.Duration
}

// InfoResponse is the body of GET /api/info
type InfoResponse struct {
	Model     string   `json:"model"`
	Languages []string `json:"languages"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
	Spawned         bool          `json:"spawned"`
}

// StatusError is a non-2xx answer from the inference server
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a new inference server client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(config.Endpoint, "http://") && !strings.HasPrefix(config.Endpoint, "https://") {
		return nil, fmt.Errorf("endpoint must be an http(s) URL, got %q", config.Endpoint)
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		info:       engine.Info{Model: config.Model, Endpoint: config.Endpoint},
		logger:     logger.With(slog.String("component", "ttsserver"), slog.String("endpoint", config.Endpoint)),
	}, nil
}

// Health checks GET /health
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// WaitReady polls the health endpoint until it answers, the timeout elapses
// or alive reports that the server is gone.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration, alive func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		probeCtx, probeCancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = c.Health(probeCtx)
		probeCancel()
		if lastErr == nil {
			return nil
		}

		if alive != nil && !alive() {
			return fmt.Errorf("inference server exited before becoming ready: %w", lastErr)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("inference server not ready after %s: %w", timeout, lastErr)
		case <-ticker.C:
		}
	}
}

// FetchInfo reads GET /api/info and records the served languages
func (c *Client) FetchInfo(ctx context.Context) (*InfoResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/api/info", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var info InfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	c.mu.Lock()
	if info.Model != "" {
		c.info.Model = info.Model
	}
	c.info.Languages = info.Languages
	c.mu.Unlock()

	return &info, nil
}

// Synthesize implements engine.Engine
func (c *Client) Synthesize(ctx context.Context, request engine.Request) error {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	speaker, err := os.ReadFile(request.SpeakerWAV)
	if err != nil {
		return fmt.Errorf("failed to read reference audio: %w", err)
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoff := c.config.RetryBackoff << (attempt - 1)
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.doSynthesize(ctx, request, speaker)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}

		c.logger.Warn("Synthesis attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	c.incrementFailedRequests()
	return lastErr
}

// doSynthesize performs a single POST /api/tts and streams the WAV answer to
// request.OutputPath
func (c *Client) doSynthesize(ctx context.Context, request engine.Request, speaker []byte) error {
	body, contentType, err := c.createMultipartRequest(request, speaker)
	if err != nil {
		return fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/api/tts", body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "audio/wav")
	httpReq.Header.Set("User-Agent", "Voice-Clone-Service/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	out, err := os.Create(request.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(request.OutputPath)
		return fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	return out.Close()
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(request engine.Request, speaker []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("speaker_wav", filepath.Base(request.SpeakerWAV))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(speaker); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	c.mu.RLock()
	model := c.info.Model
	c.mu.RUnlock()

	fields := []struct{ key, value string }{
		{"text", request.Text},
		{"language", request.Language},
		{"model", model},
		{"temperature", strconv.FormatFloat(request.Params.Temperature, 'f', -1, 64)},
		{"speed", strconv.FormatFloat(request.Params.Speed, 'f', -1, 64)},
	}

	for _, f := range fields {
		if err := writer.WriteField(f.key, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a failed call may succeed when repeated.
// Only transient server states are retried; a 500 from the model is final.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}

// Info implements engine.Engine
func (c *Client) Info() engine.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := c.info
	info.Languages = append([]string(nil), c.info.Languages...)
	return info
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
		Spawned:         c.process != nil,
	}
}

// Close waits for in-flight requests and stops a spawned server
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := 0; i < cap(c.semaphore); i++ {
			c.semaphore <- struct{}{}
		}

		c.httpClient.CloseIdleConnections()

		if c.process != nil {
			err = c.process.Stop()
		}
	})
	return err
}

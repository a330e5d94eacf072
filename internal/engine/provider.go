package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LoadError is returned by Provider.Get when the engine could not be
// constructed. It is remembered: every later Get returns the same error until
// the process is restarted with a working configuration.
type LoadError struct {
	Spec ModelSpec
	At   time.Time
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%v: %s at %s: %v (fix the engine configuration and restart)",
		ErrModelLoad, e.Spec, e.At.UTC().Format(time.RFC3339), e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrModelLoad, e.Err}
}

// ProviderStats represents model provider state
type ProviderStats struct {
	Model     string        `json:"model"`
	Language  string        `json:"language"`
	Loaded    bool          `json:"loaded"`
	Loading   bool          `json:"loading"`
	Loads     int           `json:"loads"`
	LoadedAt  time.Time     `json:"loaded_at,omitempty"`
	LoadTime  time.Duration `json:"load_time"`
	LastError string        `json:"last_error,omitempty"`
}

// Provider lazily constructs a single engine and hands the same instance to
// every caller for the lifetime of the process.
type Provider struct {
	spec   ModelSpec
	loader Loader
	logger *slog.Logger

	// observe is called once after the load attempt completes
	observe func(d time.Duration, err error)

	// loadMu serializes load attempts; mu guards the fields below so that
	// stats and health checks never wait on a load in progress.
	loadMu sync.Mutex
	mu     sync.RWMutex

	engine   Engine
	loadErr  *LoadError
	loading  bool
	loads    int
	loadedAt time.Time
	loadTime time.Duration
}

// NewProvider creates a provider for spec. Nothing is loaded until Get is called.
func NewProvider(spec ModelSpec, loader Loader, logger *slog.Logger) (*Provider, error) {
	if spec.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if spec.Language == "" {
		return nil, fmt.Errorf("language cannot be empty")
	}

	if loader == nil {
		return nil, fmt.Errorf("loader cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		spec:   spec,
		loader: loader,
		logger: logger.With(slog.String("component", "model_provider")),
	}, nil
}

// OnLoad registers fn to be told how the load attempt went.
func (p *Provider) OnLoad(fn func(d time.Duration, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observe = fn
}

// Spec returns the model the provider loads.
func (p *Provider) Spec() ModelSpec {
	return p.spec
}

// Get returns the engine, loading it on the first call. Concurrent first
// callers wait for the one load in flight instead of starting their own.
func (p *Provider) Get(ctx context.Context) (Engine, error) {
	if eng, done, err := p.cached(); done {
		return eng, err
	}

	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	if eng, done, err := p.cached(); done {
		return eng, err
	}

	p.mu.Lock()
	p.loading = true
	observe := p.observe
	p.mu.Unlock()

	p.logger.Info("Loading synthesis model",
		slog.String("model", p.spec.Model),
		slog.String("language", p.spec.Language),
	)

	// The load is shared by every waiting request, so one caller going away
	// must not abort it.
	start := time.Now()
	eng, err := p.load(context.WithoutCancel(ctx))
	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.loading = false
	p.loads++
	p.loadTime = elapsed

	if observe != nil {
		observe(elapsed, err)
	}

	if err != nil {
		p.loadErr = &LoadError{Spec: p.spec, At: time.Now(), Err: err}
		p.logger.Error("Synthesis model failed to load",
			slog.String("model", p.spec.Model),
			slog.String("language", p.spec.Language),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return nil, p.loadErr
	}

	p.engine = eng
	p.loadedAt = time.Now()
	p.logger.Info("Synthesis model loaded",
		slog.String("model", p.spec.Model),
		slog.String("language", p.spec.Language),
		slog.Duration("elapsed", elapsed),
	)

	return eng, nil
}

func (p *Provider) cached() (Engine, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.engine != nil {
		return p.engine, true, nil
	}
	if p.loadErr != nil {
		return nil, true, p.loadErr
	}
	return nil, false, nil
}

func (p *Provider) load(ctx context.Context) (eng Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng, err = nil, fmt.Errorf("engine loader panicked: %v", r)
		}
	}()

	eng, err = p.loader(ctx, p.spec)
	if err == nil && eng == nil {
		err = fmt.Errorf("engine loader returned no engine")
	}
	return eng, err
}

// Loaded reports whether the engine is ready without triggering a load.
func (p *Provider) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine != nil
}

// Stats returns current provider state
func (p *Provider) Stats() ProviderStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := ProviderStats{
		Model:    p.spec.Model,
		Language: p.spec.Language,
		Loaded:   p.engine != nil,
		Loading:  p.loading,
		Loads:    p.loads,
		LoadedAt: p.loadedAt,
		LoadTime: p.loadTime,
	}
	if p.loadErr != nil {
		stats.LastError = p.loadErr.Error()
	}
	return stats
}

// Close releases the engine if one was loaded.
func (p *Provider) Close() error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	p.mu.Lock()
	eng := p.engine
	p.mu.Unlock()

	if eng == nil {
		return nil
	}
	return eng.Close()
}

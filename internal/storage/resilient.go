package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/basekick-labs/arc-query/internal/circuitbreaker"
	"github.com/rs/zerolog"
)

// ResilientBackend wraps a storage backend with circuit breaker and retry
// logic. It guards the segment-fetch path: when segstore caches a remote
// segment's parquet files to local disk, a wedged deep store would
// otherwise stall the calling query past its deadline. Read/List are the
// only methods a query path actually calls, so those are the only ones
// wrapped here.
type ResilientBackend struct {
	backend Backend
	cb      *circuitbreaker.CircuitBreaker
	logger  zerolog.Logger

	// Retry configuration
	maxRetries    int
	retryDelay    time.Duration
	retryMaxDelay time.Duration
}

// ResilientConfig holds configuration for the resilient backend
type ResilientConfig struct {
	// Circuit breaker settings
	MaxFailures         int
	Timeout             time.Duration
	HalfOpenMaxRequests int

	// Retry settings
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// DefaultResilientConfig returns default resilient backend configuration
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
		MaxRetries:          3,
		RetryDelay:          100 * time.Millisecond,
		RetryMaxDelay:       5 * time.Second,
	}
}

// NewResilientBackend creates a new resilient storage backend
func NewResilientBackend(backend Backend, cfg *ResilientConfig, logger zerolog.Logger) *ResilientBackend {
	if cfg == nil {
		cfg = DefaultResilientConfig()
	}

	cbConfig := &circuitbreaker.Config{
		Name:                "storage",
		MaxFailures:         cfg.MaxFailures,
		Timeout:             cfg.Timeout,
		HalfOpenMaxRequests: cfg.HalfOpenMaxRequests,
	}

	return &ResilientBackend{
		backend:       backend,
		cb:            circuitbreaker.New(cbConfig, logger),
		logger:        logger.With().Str("component", "resilient-storage").Logger(),
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		retryMaxDelay: cfg.RetryMaxDelay,
	}
}

// Read reads data from the storage backend with resilience
func (r *ResilientBackend) Read(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	var data []byte

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := r.cb.Execute(func() error {
			var readErr error
			data, readErr = r.backend.Read(ctx, path)
			return readErr
		})

		if err == nil {
			return data, nil
		}

		lastErr = err

		if err == circuitbreaker.ErrCircuitOpen {
			return nil, err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := r.retryDelay * time.Duration(1<<uint(attempt))
		if delay > r.retryMaxDelay {
			delay = r.retryMaxDelay
		}

		r.logger.Warn().
			Err(err).
			Str("path", path).
			Int("attempt", attempt+1).
			Dur("retry_delay", delay).
			Msg("Storage read failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("storage read failed after %d retries: %w", r.maxRetries, lastErr)
}

// List lists files in the storage backend
func (r *ResilientBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var lastErr error
	var files []string

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := r.cb.Execute(func() error {
			var listErr error
			files, listErr = r.backend.List(ctx, prefix)
			return listErr
		})

		if err == nil {
			return files, nil
		}

		lastErr = err

		if err == circuitbreaker.ErrCircuitOpen {
			return nil, err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := r.retryDelay * time.Duration(1<<uint(attempt))
		if delay > r.retryMaxDelay {
			delay = r.retryMaxDelay
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("storage list failed after %d retries: %w", r.maxRetries, lastErr)
}

// Close closes the underlying storage backend
func (r *ResilientBackend) Close() error {
	return r.backend.Close()
}

// Inner returns the wrapped backend, so path-resolution helpers that
// type-switch on the concrete backend (GetStoragePath, GetLocalBasePath)
// can see through the resilience wrapper.
func (r *ResilientBackend) Inner() Backend {
	return r.backend
}

// Type returns the underlying backend's storage type identifier.
func (r *ResilientBackend) Type() string {
	return r.backend.Type()
}

// ConfigJSON returns the underlying backend's configuration as JSON.
func (r *ResilientBackend) ConfigJSON() string {
	return r.backend.ConfigJSON()
}

// CircuitBreakerStats returns circuit breaker statistics
func (r *ResilientBackend) CircuitBreakerStats() map[string]interface{} {
	return r.cb.Stats()
}

// IsCircuitOpen returns true if the circuit breaker is open
func (r *ResilientBackend) IsCircuitOpen() bool {
	return r.cb.IsOpen()
}

// ResetCircuitBreaker resets the circuit breaker
func (r *ResilientBackend) ResetCircuitBreaker() {
	r.cb.Reset()
}

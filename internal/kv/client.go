package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/metrics"
	"github.com/culture-survey/backend/pkg/circuitbreaker"
	"github.com/culture-survey/backend/pkg/config"
	"github.com/culture-survey/backend/pkg/logger"
	"github.com/culture-survey/backend/pkg/retry"
	"github.com/culture-survey/backend/pkg/utils"
)

const healthCheckPrefix = "__health_check__:"

type Options struct {
	RedisURL         string
	RestURL          string
	RestToken        string
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	RequestTimeout   time.Duration
	DegradedCooldown time.Duration
}

// OptionsFromConfig carries over only the endpoints the configuration
// reports as present, so blank values leave the client unavailable.
func OptionsFromConfig(cfg config.StorageConfig) Options {
	opts := Options{
		MaxAttempts:      cfg.MaxAttempts,
		BaseDelay:        cfg.BaseDelay(),
		MaxDelay:         cfg.MaxDelay(),
		RequestTimeout:   cfg.RequestTimeout(),
		DegradedCooldown: cfg.DegradedCooldown(),
	}
	if cfg.HasRedis() {
		opts.RedisURL = strings.TrimSpace(cfg.RedisURL)
	}
	if cfg.HasREST() {
		opts.RestURL = strings.TrimSpace(cfg.RestURL)
		opts.RestToken = strings.TrimSpace(cfg.RestToken)
	}
	return opts
}

// Client is the uniform get/set/delete surface over whichever backend the
// process was configured with. The backend is chosen once, built lazily on
// first use and memoized.
type Client struct {
	kind    string
	factory func() (Backend, error)

	mu      sync.Mutex
	backend Backend

	retryCfg retry.Config
	breaker  *circuitbreaker.CircuitBreaker
	tracer   trace.Tracer
}

// New selects the backend from configuration presence only: a Redis
// connection string first, then the REST endpoint and token pair. With
// neither, the client reports itself unavailable.
func New(opts Options) *Client {
	storage := config.StorageConfig{RedisURL: opts.RedisURL, RestURL: opts.RestURL, RestToken: opts.RestToken}
	opts.RedisURL = strings.TrimSpace(opts.RedisURL)
	opts.RestURL = strings.TrimSpace(opts.RestURL)
	opts.RestToken = strings.TrimSpace(opts.RestToken)

	var kind string
	var factory func() (Backend, error)

	switch {
	case storage.HasRedis():
		kind = redisBackendName
		factory = func() (Backend, error) { return NewRedisBackend(opts.RedisURL, opts.RequestTimeout) }
	case storage.HasREST():
		kind = restBackendName
		factory = func() (Backend, error) {
			return NewRESTBackend(opts.RestURL, opts.RestToken, opts.RequestTimeout)
		}
	}

	return newClient(kind, factory, opts)
}

// NewWithBackend wraps an already constructed backend.
func NewWithBackend(backend Backend, opts Options) *Client {
	return newClient(backend.Name(), func() (Backend, error) { return backend, nil }, opts)
}

func newClient(kind string, factory func() (Backend, error), opts Options) *Client {
	log := logger.Named("kv")

	retryCfg := retry.DefaultConfig()
	if opts.MaxAttempts > 0 {
		retryCfg.MaxAttempts = opts.MaxAttempts
	}
	if opts.BaseDelay > 0 {
		retryCfg.BaseDelay = opts.BaseDelay
	}
	if opts.MaxDelay > 0 {
		retryCfg.MaxDelay = opts.MaxDelay
	}
	retryCfg.Retryable = IsTransient
	retryCfg.Logger = log
	retryCfg.OnRetry = func(int, error) {
		metrics.KVRetries.WithLabelValues(kind).Inc()
	}

	breaker := circuitbreaker.NewCircuitBreaker("kv-"+kind, circuitbreaker.Config{
		FailureThreshold: 1,
		Cooldown:         opts.DegradedCooldown,
		IsFailure:        countsAgainstBackend,
		OnStateChange: func(_ string, _ circuitbreaker.State, to circuitbreaker.State) {
			value := 0.0
			if to != circuitbreaker.StateClosed {
				value = 1
			}
			metrics.KVDegraded.WithLabelValues(kind).Set(value)
		},
		Logger: log,
	})

	return &Client{
		kind:     kind,
		factory:  factory,
		retryCfg: retryCfg,
		breaker:  breaker,
		tracer:   otel.Tracer("github.com/culture-survey/backend/internal/kv"),
	}
}

// IsAvailable reports whether a backend is configured. It never touches the
// network; use HealthCheck for a live probe.
func (c *Client) IsAvailable() bool {
	return c.factory != nil
}

func (c *Client) Name() string {
	if c.kind == "" {
		return "none"
	}
	return c.kind
}

// Degraded is true after a connection-level failure until an operation
// against the backend succeeds again.
func (c *Client) Degraded() bool {
	return c.breaker.Degraded()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		return nil
	}
	err := c.backend.Close()
	c.backend = nil
	return err
}

// Get decodes the JSON value stored under key into dest. A missing key or a
// stored JSON null yields (false, nil).
func (c *Client) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, found, err := c.GetRaw(ctx, key)
	if err != nil || !found || string(raw) == "null" {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("%w: key %s: %v", ErrSerialization, key, err)
	}
	return true, nil
}

func (c *Client) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: key %s: %v", ErrSerialization, key, err)
	}
	return c.SetRaw(ctx, key, data)
}

func (c *Client) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	var raw []byte
	var found bool

	err := c.do(ctx, "get", key, func(b Backend) error {
		var err error
		raw, found, err = b.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if found {
		logger.Debug("Key hit", zap.String("key", key), zap.Int("bytes", len(raw)))
	} else {
		logger.Debug("Key miss", zap.String("key", key))
	}
	return raw, found, nil
}

func (c *Client) SetRaw(ctx context.Context, key string, value []byte) error {
	return c.do(ctx, "set", key, func(b Backend) error {
		return b.Set(ctx, key, value)
	})
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.do(ctx, "delete", key, func(b Backend) error {
		return b.Delete(ctx, key)
	})
}

func (c *Client) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	var swapped bool
	err := c.do(ctx, "cas", key, func(b Backend) error {
		var err error
		swapped, err = b.CompareAndSwap(ctx, key, old, next)
		return err
	})
	return swapped, err
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", "", func(b Backend) error {
		return b.Ping(ctx)
	})
}

// HealthCheck pings the backend, then round-trips a disposable key through
// it. The key is removed whether or not the round trip succeeds.
func (c *Client) HealthCheck(ctx context.Context) (err error) {
	if !c.IsAvailable() {
		return ErrNotConfigured
	}

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("health check ping failed: %w", err)
	}

	key := healthCheckPrefix + utils.RandomSuffix(12)
	want := map[string]any{"ok": true, "at": time.Now().UnixMilli()}

	if err := c.Set(ctx, key, want); err != nil {
		return fmt.Errorf("health check write failed: %w", err)
	}
	defer func() {
		if delErr := c.Delete(ctx, key); delErr != nil && err == nil {
			err = fmt.Errorf("health check delete failed: %w", delErr)
		}
	}()

	var got map[string]any
	found, err := c.Get(ctx, key, &got)
	if err != nil {
		return fmt.Errorf("health check read failed: %w", err)
	}
	if !found || got["ok"] != true {
		return fmt.Errorf("%w: health check value did not round-trip", ErrStorageUnavailable)
	}

	logger.Debug("Storage health check passed", zap.String("backend", c.Name()))
	return nil
}

func (c *Client) connection() (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend != nil {
		return c.backend, nil
	}

	backend, err := c.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	c.backend = backend

	logger.Info("Storage backend initialized", zap.String("backend", backend.Name()))
	return backend, nil
}

func (c *Client) do(ctx context.Context, op, key string, fn func(Backend) error) (err error) {
	if !c.IsAvailable() {
		return ErrNotConfigured
	}

	ctx, span := c.tracer.Start(ctx, "kv."+op, trace.WithAttributes(
		attribute.String("kv.backend", c.kind),
		attribute.String("kv.key", key),
	))
	start := time.Now()

	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.KVOperations.WithLabelValues(c.kind, op, status).Inc()
		metrics.KVDuration.WithLabelValues(c.kind, op).Observe(time.Since(start).Seconds())
		span.End()
	}()

	backend, err := c.connection()
	if err != nil {
		return err
	}

	err = c.breaker.Execute(func() error {
		return retry.Do(ctx, c.retryCfg, func() error { return fn(backend) })
	})

	switch {
	case err == nil:
		return nil
	case isFastFail(err):
		return fmt.Errorf("%w: %s %s: backend degraded: %v", ErrStorageUnavailable, op, key, err)
	case errors.Is(err, retry.ErrExhausted):
		logger.Warn("Storage operation exhausted retries",
			zap.String("op", op),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s %s: %w", ErrStorageUnavailable, op, key, err)
	default:
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
}

package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/culture-survey/backend/internal/kv/kvtest"
	"github.com/culture-survey/backend/pkg/config"
)

const testToken = "test-token"

func testOptions() Options {
	return Options{
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         2 * time.Millisecond,
		RequestTimeout:   time.Second,
		DegradedCooldown: 20 * time.Millisecond,
	}
}

func newRESTClient(t *testing.T) (*Client, *kvtest.Server) {
	t.Helper()
	srv := kvtest.NewServer(testToken)
	t.Cleanup(srv.Close)

	opts := testOptions()
	opts.RestURL = srv.URL
	opts.RestToken = testToken

	c := New(opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func countCommand(cmds []string, name string) int {
	n := 0
	for _, c := range cmds {
		if c == name {
			n++
		}
	}
	return n
}

// =============================================================================
// Selection
// =============================================================================

func TestNew_NoConfigurationIsUnavailable(t *testing.T) {
	c := New(testOptions())

	assert.False(t, c.IsAvailable())
	assert.Equal(t, "none", c.Name())

	var v string
	_, err := c.Get(context.Background(), "clients", &v)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConfigured)
}

func TestNew_PrefersRedisOverREST(t *testing.T) {
	opts := testOptions()
	opts.RedisURL = "redis://localhost:6379/0"
	opts.RestURL = "https://kv.example.com"
	opts.RestToken = "token"

	c := New(opts)
	assert.True(t, c.IsAvailable())
	assert.Equal(t, "redis", c.Name())
}

func TestNew_RESTNeedsToken(t *testing.T) {
	opts := testOptions()
	opts.RestURL = "https://kv.example.com"

	assert.False(t, New(opts).IsAvailable())
}

func TestNew_BlankEndpointsAreUnavailable(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{"blank redis url", config.StorageConfig{RedisURL: " "}},
		{"blank rest url", config.StorageConfig{RestURL: "\t", RestToken: "token"}},
		{"blank rest token", config.StorageConfig{RestURL: "https://kv.example.com", RestToken: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, New(OptionsFromConfig(tt.cfg)).IsAvailable())

			opts := testOptions()
			opts.RedisURL, opts.RestURL, opts.RestToken = tt.cfg.RedisURL, tt.cfg.RestURL, tt.cfg.RestToken
			assert.False(t, New(opts).IsAvailable())
		})
	}
}

func TestOptionsFromConfig_TrimsEndpoints(t *testing.T) {
	opts := OptionsFromConfig(config.StorageConfig{RedisURL: " redis://localhost:6379/0 "})
	assert.Equal(t, "redis://localhost:6379/0", opts.RedisURL)
	assert.Equal(t, "redis", New(opts).Name())
}

func TestIsAvailable_DoesNoIO(t *testing.T) {
	c, srv := newRESTClient(t)

	assert.True(t, c.IsAvailable())
	assert.Empty(t, srv.Commands())
}

func TestConnection_InvalidRedisURLIsNotConfigured(t *testing.T) {
	opts := testOptions()
	opts.RedisURL = "mysql://nope"

	c := New(opts)
	require.True(t, c.IsAvailable())

	err := c.Set(context.Background(), "clients", []string{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// =============================================================================
// JSON contract
// =============================================================================

func TestREST_SetGetDeleteRoundTrip(t *testing.T) {
	c, srv := newRESTClient(t)
	ctx := context.Background()

	type record struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	in := []record{{ID: "client_1", Name: "Acme"}}

	require.NoError(t, c.Set(ctx, "clients", in))
	stored, ok := srv.Value("clients")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"client_1","name":"Acme"}]`, stored)

	var out []record
	found, err := c.Get(ctx, "clients", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	require.NoError(t, c.Delete(ctx, "clients"))
	found, err = c.Get(ctx, "clients", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestREST_MissingKeyIsNotAnError(t *testing.T) {
	c, _ := newRESTClient(t)

	var out []string
	found, err := c.Get(context.Background(), "questions", &out)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, out)
}

func TestREST_NullValueIsMissing(t *testing.T) {
	c, srv := newRESTClient(t)
	srv.Put("settings", "null")

	var out []string
	found, err := c.Get(context.Background(), "settings", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestREST_MalformedJSONIsNotRetried(t *testing.T) {
	c, srv := newRESTClient(t)
	srv.Put("clients", "{not json")

	var out []map[string]any
	_, err := c.Get(context.Background(), "clients", &out)

	assert.ErrorIs(t, err, ErrSerialization)
	assert.Equal(t, 1, countCommand(srv.Commands(), "GET"))
	assert.False(t, c.Degraded())
}

func TestSet_UnencodableValueIsSerializationError(t *testing.T) {
	c, srv := newRESTClient(t)

	err := c.Set(context.Background(), "clients", map[string]any{"bad": make(chan int)})
	assert.ErrorIs(t, err, ErrSerialization)
	assert.Empty(t, srv.Commands())
}

// =============================================================================
// Retry and degradation
// =============================================================================

func TestREST_TransientFailuresAreRetried(t *testing.T) {
	c, srv := newRESTClient(t)
	srv.FailNext(2)

	require.NoError(t, c.Set(context.Background(), "clients", []string{}))
	assert.Equal(t, 3, countCommand(srv.Commands(), "SET"))
	assert.False(t, c.Degraded())
}

func TestREST_ExhaustedRetriesMarkDegradedUntilSuccess(t *testing.T) {
	c, srv := newRESTClient(t)
	ctx := context.Background()
	srv.FailNext(3)

	err := c.Set(ctx, "clients", []string{})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, 3, countCommand(srv.Commands(), "SET"))
	assert.True(t, c.Degraded())

	// While degraded, calls fail fast without reaching the backend.
	err = c.Set(ctx, "clients", []string{})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, 3, countCommand(srv.Commands(), "SET"))

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, c.Set(ctx, "clients", []string{}))
	assert.False(t, c.Degraded())
}

func TestREST_AuthFailureIsNotRetried(t *testing.T) {
	srv := kvtest.NewServer(testToken)
	defer srv.Close()

	opts := testOptions()
	opts.RestURL = srv.URL
	opts.RestToken = "wrong"
	c := New(opts)
	defer c.Close()

	err := c.Set(context.Background(), "clients", []string{})
	assert.ErrorIs(t, err, ErrAuth)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
	assert.Len(t, srv.Commands(), 0)
	assert.False(t, c.Degraded())
}

func TestRedis_ConnectionRefusedIsRetriedThenUnavailable(t *testing.T) {
	opts := testOptions()
	opts.RedisURL = "redis://127.0.0.1:1/0"
	opts.RequestTimeout = 200 * time.Millisecond

	c := New(opts)
	defer c.Close()

	_, _, err := c.GetRaw(context.Background(), "clients")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.True(t, c.Degraded())
}

func TestContextCancellationStopsRetries(t *testing.T) {
	c, srv := newRESTClient(t)
	srv.FailNext(10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Set(ctx, "clients", []string{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, c.Degraded())
}

// =============================================================================
// Compare-and-swap and health check
// =============================================================================

func TestREST_CompareAndSwap(t *testing.T) {
	c, srv := newRESTClient(t)
	ctx := context.Background()

	ok, err := c.CompareAndSwap(ctx, "clients", nil, []byte(`[]`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CompareAndSwap(ctx, "clients", nil, []byte(`[1]`))
	require.NoError(t, err)
	assert.False(t, ok, "key already exists")

	ok, err = c.CompareAndSwap(ctx, "clients", []byte(`[9]`), []byte(`[1]`))
	require.NoError(t, err)
	assert.False(t, ok, "stale expected value")

	ok, err = c.CompareAndSwap(ctx, "clients", []byte(`[]`), []byte(`[1]`))
	require.NoError(t, err)
	assert.True(t, ok)

	v, _ := srv.Value("clients")
	assert.Equal(t, `[1]`, v)
}

func TestHealthCheck_RoundTripsAndCleansUp(t *testing.T) {
	c, srv := newRESTClient(t)

	require.NoError(t, c.HealthCheck(context.Background()))
	assert.Empty(t, srv.Keys())
	assert.Equal(t, []string{"PING", "SET", "GET", "DEL"}, srv.Commands())
}

func TestHealthCheck_ReportsUnreachableBackend(t *testing.T) {
	c, srv := newRESTClient(t)
	srv.FailNext(3)

	err := c.HealthCheck(context.Background())
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

// memBackend is an in-memory Backend whose reads can be overridden.
type memBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	readAs  []byte
	deleted []string
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string][]byte{}}
}

func (b *memBackend) Name() string { return "mem" }

func (b *memBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readAs != nil {
		return b.readAs, true, nil
	}
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *memBackend) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func (b *memBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *memBackend) CompareAndSwap(_ context.Context, key string, _, next []byte) (bool, error) {
	return true, b.Set(context.Background(), key, next)
}

func (b *memBackend) Ping(context.Context) error { return nil }

func (b *memBackend) Close() error { return nil }

func TestHealthCheck_RemovesKeyWhenRoundTripFails(t *testing.T) {
	backend := newMemBackend()
	backend.readAs = []byte(`{"ok":false}`)
	c := NewWithBackend(backend, testOptions())

	err := c.HealthCheck(context.Background())
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	require.Len(t, backend.deleted, 1)
	assert.Contains(t, backend.deleted[0], healthCheckPrefix)
	assert.Empty(t, backend.data)
}

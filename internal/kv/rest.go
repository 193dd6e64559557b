package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/culture-survey/backend/pkg/logger"
)

const restBackendName = "rest"

// casScript swaps KEYS[1] to ARGV[3] when it still holds ARGV[2].
// ARGV[1] is "1" when the key is expected to exist, "0" when it must not.
const casScript = `local current = redis.call('GET', KEYS[1])
if ARGV[1] == '0' then
  if current then return 0 end
elseif current ~= ARGV[2] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[3])
return 1`

// RESTBackend speaks the Redis-over-HTTP command protocol: each command is a
// JSON array POSTed to the endpoint with a bearer token, answered with
// {"result": ...} or {"error": "..."}.
type RESTBackend struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

type restReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewRESTBackend(endpoint, token string, timeout time.Duration) (*RESTBackend, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("rest endpoint and token are required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	logger.Info("REST backend configured", zap.String("endpoint", endpoint))

	return &RESTBackend{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (b *RESTBackend) Name() string {
	return restBackendName
}

func (b *RESTBackend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

func (b *RESTBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := b.command(ctx, "GET", key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if isNull(result) {
		return nil, false, nil
	}

	var value string
	if err := json.Unmarshal(result, &value); err != nil {
		return nil, false, fmt.Errorf("%w: unexpected GET result for %s: %v", ErrSerialization, key, err)
	}
	return []byte(value), true, nil
}

func (b *RESTBackend) Set(ctx context.Context, key string, value []byte) error {
	if _, err := b.command(ctx, "SET", key, string(value)); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (b *RESTBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.command(ctx, "DEL", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (b *RESTBackend) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	expectExists := "1"
	if old == nil {
		expectExists = "0"
	}

	result, err := b.command(ctx, "EVAL", casScript, "1", key, expectExists, string(old), string(next))
	if err != nil {
		return false, fmt.Errorf("failed to swap %s: %w", key, err)
	}

	var swapped int
	if err := json.Unmarshal(result, &swapped); err != nil {
		return false, fmt.Errorf("%w: unexpected EVAL result for %s: %v", ErrSerialization, key, err)
	}
	return swapped == 1, nil
}

func (b *RESTBackend) Ping(ctx context.Context) error {
	if _, err := b.command(ctx, "PING"); err != nil {
		return fmt.Errorf("failed to ping rest backend: %w", err)
	}
	return nil
}

func (b *RESTBackend) command(ctx context.Context, args ...string) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}

	var reply restReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("%w: malformed reply (status %d): %v", ErrSerialization, resp.StatusCode, err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("backend error: %s", reply.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rest backend returned status %d", resp.StatusCode)
	}

	return reply.Result, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

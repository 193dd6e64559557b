package kv

import "context"

// Backend is a raw byte store. Implementations return (nil, false, nil) for
// a missing key and wrap connection-level failures so IsTransient sees them.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// CompareAndSwap writes next only if the stored value still equals old.
	// A nil old means the key must not exist yet.
	CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/kv"
	"github.com/culture-survey/backend/pkg/logger"
)

// Store is the persistence primitive collections are written through.
// kv.Client and kv.FileStore both satisfy it.
type Store interface {
	Name() string
	GetRaw(ctx context.Context, key string) ([]byte, bool, error)
	CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error)
}

// SelectStore returns the remote client when a backend is configured and
// otherwise a local JSON file store under dataDir. If the fallback cannot be
// created the error wraps kv.ErrNotConfigured.
func SelectStore(client *kv.Client, dataDir string) (Store, error) {
	if client != nil && client.IsAvailable() {
		logger.Info("Using remote key-value store", zap.String("backend", client.Name()))
		return client, nil
	}

	fs, err := kv.NewFileStore(dataDir)
	if err != nil {
		return nil, err
	}

	logger.Warn("No key-value backend configured, using local JSON files",
		zap.String("dir", fs.Dir()),
	)
	return fs, nil
}

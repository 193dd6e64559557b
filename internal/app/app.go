// Package app wires configuration into the storage and aggregation stack
// shared by the API server and the CLI.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/aggregation"
	"github.com/culture-survey/backend/internal/comparison"
	"github.com/culture-survey/backend/internal/kv"
	"github.com/culture-survey/backend/internal/storage/repository"
	"github.com/culture-survey/backend/pkg/config"
	"github.com/culture-survey/backend/pkg/logger"
)

type App struct {
	KV          *kv.Client
	Store       repository.Store
	Repo        *repository.Repository
	Aggregation *aggregation.Engine
	Comparison  *comparison.Engine
}

func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	client := kv.New(kv.OptionsFromConfig(cfg.Storage))

	store, err := repository.SelectStore(client, cfg.Storage.DataDir)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to select storage: %w", err)
	}

	repo, err := repository.Open(ctx, store, repository.Options{CASAttempts: cfg.Storage.CASAttempts})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	agg := aggregation.NewEngine(repo)

	logger.Info("Storage ready",
		zap.String("store", store.Name()),
		zap.Bool("remote", client.IsAvailable()),
	)

	return &App{
		KV:          client,
		Store:       store,
		Repo:        repo,
		Aggregation: agg,
		Comparison:  comparison.NewEngine(repo, agg),
	}, nil
}

// RemoteProbe returns the KV client when a remote backend is configured.
func (a *App) RemoteProbe() *kv.Client {
	if a.KV.IsAvailable() {
		return a.KV
	}
	return nil
}

func (a *App) Close() error {
	return a.KV.Close()
}

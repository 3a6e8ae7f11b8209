package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rumor-ml/commons.systems/finimport/internal/config"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/merchant"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
	"github.com/rumor-ml/commons.systems/finimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/finimport/internal/registry"
	"github.com/rumor-ml/commons.systems/finimport/internal/store"
	"github.com/rumor-ml/commons.systems/finimport/internal/store/firestore"
	"github.com/rumor-ml/commons.systems/finimport/internal/store/sqlite"
)

// env is an opened backend plus the registry built over it.
type env struct {
	backend  store.Backend
	configs  store.ConfigStore
	registry *registry.Registry
}

func (e *env) Close() error {
	return e.backend.Close()
}

func (e *env) pipeline(a *app, opts ...pipeline.Option) *pipeline.Pipeline {
	opts = append([]pipeline.Option{
		pipeline.WithHashSource(e.backend),
		pipeline.WithSink(e.backend),
		pipeline.WithConfigStore(e.configs),
		pipeline.WithLogger(a.logger),
	}, opts...)
	return pipeline.New(e.registry, opts...)
}

func (a *app) openBackend(ctx context.Context) (store.Backend, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendSQLite:
		return sqlite.Open(ctx, a.cfg.Storage.Path, a.logger)
	case config.BackendFirestore:
		return firestore.NewClient(ctx, a.cfg.Storage.Project, a.cfg.Storage.Credentials)
	case config.BackendState:
		return store.OpenFiles(a.cfg.Storage.StateFile, a.cfg.Import.FormatsFile)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// open connects the configured backend and builds the parser registry.
func (a *app) open(ctx context.Context) (*env, error) {
	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", a.cfg.Storage.Backend, err)
	}

	configs := store.ConfigStore(backend)
	if a.cfg.Storage.Backend != config.BackendState {
		if err := seedFormats(ctx, backend, a.cfg.Import.FormatsFile); err != nil {
			backend.Close()
			return nil, err
		}
		configs = store.NewCachedConfigs(backend, store.DefaultCacheExpiration)
	}

	cleaner, err := a.merchantEngine()
	if err != nil {
		backend.Close()
		return nil, err
	}

	reg, err := registry.New(
		registry.WithConfigSource(configs),
		registry.WithMinConfidence(a.cfg.Import.MinConfidence),
		registry.WithMerchantCleaner(cleaner),
		registry.WithLogger(a.logger),
	)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create parser registry: %w", err)
	}

	return &env{backend: backend, configs: configs, registry: reg}, nil
}

func (a *app) merchantEngine() (*merchant.Engine, error) {
	if a.cfg.Import.MerchantRules != "" {
		return merchant.LoadFromFile(a.cfg.Import.MerchantRules)
	}
	return merchant.LoadEmbedded()
}

// seedFormats saves formats from the formats file that the store does not
// have yet. Stored formats win so use counts and edits are kept.
func seedFormats(ctx context.Context, cs store.ConfigStore, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read formats file: %w", err)
	}
	configs, err := custom.LoadConfigs(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, cfg := range configs {
		_, err := cs.GetConfig(ctx, cfg.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrConfigNotFound) {
			return err
		}
		if err := cs.SaveConfig(ctx, cfg); err != nil {
			return fmt.Errorf("failed to save format %q: %w", cfg.Name, err)
		}
	}
	return nil
}

// Package store defines the persistence collaborators the import pipeline
// talks to, plus in-memory and cached config stores.
package store

import (
	"context"

	"github.com/rumor-ml/commons.systems/finimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
)

// HashSource supplies the content hashes of already-stored transactions.
type HashSource interface {
	KnownHashes(ctx context.Context) (*dedup.KnownSet, error)
}

// ConfigStore persists saved custom CSV layouts. Lookups of unknown names
// or signatures return domain.ErrConfigNotFound.
type ConfigStore interface {
	GetConfig(ctx context.Context, name string) (*custom.Config, error)
	SaveConfig(ctx context.Context, cfg *custom.Config) error
	ListConfigs(ctx context.Context) ([]*custom.Config, error)
	FindBySignature(ctx context.Context, signature string) (*custom.Config, error)
	RecordUse(ctx context.Context, name string) error
}

// Sink persists committed imports and their audit sessions.
type Sink interface {
	SaveImport(ctx context.Context, session *domain.ImportSession, txns []*domain.ParsedTransaction) error
	SaveBatch(ctx context.Context, batch *domain.BatchImportSession) error
	RollbackImport(ctx context.Context, sessionID string) (*domain.ImportSession, error)
}

// SessionLister lists recorded import sessions, newest first.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]*domain.ImportSession, error)
}

// Backend is a complete storage backend.
type Backend interface {
	HashSource
	Sink
	SessionLister
	ConfigStore
	Close() error
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the schema version this package migrates to.
const SchemaVersion = 1

type migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial import schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS import_sessions (
					id TEXT PRIMARY KEY,
					batch_id TEXT,
					filename TEXT NOT NULL,
					format TEXT NOT NULL,
					account_source TEXT NOT NULL,
					transaction_count INTEGER NOT NULL DEFAULT 0,
					duplicate_count INTEGER NOT NULL DEFAULT 0,
					cross_file_duplicate_count INTEGER NOT NULL DEFAULT 0,
					total_amount TEXT NOT NULL DEFAULT '0',
					date_start TEXT,
					date_end TEXT,
					status TEXT NOT NULL,
					created_at TEXT NOT NULL,
					rolled_back_at TEXT
				)`,
				`CREATE INDEX IF NOT EXISTS idx_import_sessions_created ON import_sessions(created_at)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL REFERENCES import_sessions(id),
					date TEXT NOT NULL,
					amount TEXT NOT NULL,
					description TEXT NOT NULL,
					merchant TEXT,
					account_source TEXT NOT NULL,
					card_member TEXT,
					reference_id TEXT,
					category TEXT,
					content_hash TEXT NOT NULL,
					content_hash_no_account TEXT NOT NULL,
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_hash ON transactions(content_hash)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_session ON transactions(session_id)`,

				`CREATE TABLE IF NOT EXISTS batch_import_sessions (
					id TEXT PRIMARY KEY,
					total_files INTEGER NOT NULL,
					imported_files INTEGER NOT NULL,
					total_transactions INTEGER NOT NULL,
					total_duplicates INTEGER NOT NULL,
					status TEXT NOT NULL,
					session_ids TEXT NOT NULL,
					created_at TEXT NOT NULL,
					completed_at TEXT
				)`,

				`CREATE TABLE IF NOT EXISTS custom_formats (
					name TEXT PRIMARY KEY,
					description TEXT,
					config TEXT NOT NULL,
					header_signature TEXT,
					use_count INTEGER NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_custom_formats_signature ON custom_formats(header_signature)`,
			}
			for _, q := range queries {
				if _, err := tx.Exec(q); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// Migrate applies pending migrations, tracking progress in user_version.
func (s *Store) Migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}

		s.logger.Info("Applied migration", "version", m.Version, "description", m.Description)
	}

	var final int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&final); err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}
	if final != SchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", SchemaVersion, final)
	}
	return nil
}

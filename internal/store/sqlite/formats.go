package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
)

const formatColumns = `name, description, config, header_signature, use_count, created_at, updated_at`

func scanFormat(row rowScanner) (*custom.Config, error) {
	var (
		cfg              custom.Config
		description, sig sql.NullString
		settings         string
		created, updated string
	)
	if err := row.Scan(&cfg.Name, &description, &settings, &sig, &cfg.UseCount, &created, &updated); err != nil {
		return nil, err
	}
	cfg.Description = description.String
	cfg.HeaderSignature = sig.String
	if err := json.Unmarshal([]byte(settings), &cfg.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config %q: %w", cfg.Name, err)
	}

	var err error
	if cfg.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if cfg.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetConfig loads a custom format by name.
func (s *Store) GetConfig(ctx context.Context, name string) (*custom.Config, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+formatColumns+` FROM custom_formats WHERE name = ?`, name)
	cfg, err := scanFormat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", domain.ErrConfigNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config %q: %w", name, err)
	}
	return cfg, nil
}

// SaveConfig inserts or replaces a custom format. Use count and creation
// time of an existing row are kept.
func (s *Store) SaveConfig(ctx context.Context, cfg *custom.Config) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("config name cannot be empty")
	}
	settings, err := json.Marshal(cfg.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config %q: %w", cfg.Name, err)
	}

	now := formatTime(time.Now())
	created := now
	if !cfg.CreatedAt.IsZero() {
		created = formatTime(cfg.CreatedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO custom_formats (`+formatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			config = excluded.config,
			header_signature = excluded.header_signature,
			updated_at = excluded.updated_at`,
		cfg.Name, cfg.Description, string(settings), cfg.HeaderSignature, cfg.UseCount, created, now,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save config %q: %v", domain.ErrPersist, cfg.Name, err)
	}
	return nil
}

// ListConfigs returns every custom format sorted by name.
func (s *Store) ListConfigs(ctx context.Context) ([]*custom.Config, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+formatColumns+` FROM custom_formats ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query configs: %w", err)
	}
	defer rows.Close()

	var configs []*custom.Config
	for rows.Next() {
		cfg, err := scanFormat(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// FindBySignature returns the most used format with the header signature.
func (s *Store) FindBySignature(ctx context.Context, signature string) (*custom.Config, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: empty signature", domain.ErrConfigNotFound)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+formatColumns+` FROM custom_formats
		WHERE header_signature = ?
		ORDER BY use_count DESC, name
		LIMIT 1`, signature)
	cfg, err := scanFormat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no config with signature %s", domain.ErrConfigNotFound, signature)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find config by signature: %w", err)
	}
	return cfg, nil
}

// RecordUse increments a format's use count.
func (s *Store) RecordUse(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_formats SET use_count = use_count + 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("%w: failed to record use of %q: %v", domain.ErrPersist, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", domain.ErrConfigNotFound, name)
	}
	return nil
}

package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
)

// GetConfig retrieves a custom format by name
func (c *Client) GetConfig(ctx context.Context, name string) (*custom.Config, error) {
	doc, err := c.Firestore.Collection(FormatsCollection).Doc(name).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %q", domain.ErrConfigNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config %q: %w", name, err)
	}

	var f Format
	if err := doc.DataTo(&f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return f.toCustom()
}

// SaveConfig creates or replaces a custom format, keeping the use count
// and creation time of an existing document.
func (c *Client) SaveConfig(ctx context.Context, cfg *custom.Config) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("config name cannot be empty")
	}
	ref := c.Firestore.Collection(FormatsCollection).Doc(cfg.Name)

	return c.Firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now().UTC()
		f, err := toFormat(cfg)
		if err != nil {
			return err
		}
		f.UpdatedAt = now
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}

		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return fmt.Errorf("%w: failed to read config %q: %v", domain.ErrPersist, cfg.Name, err)
		default:
			var prev Format
			if err := snap.DataTo(&prev); err != nil {
				return fmt.Errorf("failed to parse config: %w", err)
			}
			f.UseCount = prev.UseCount
			f.CreatedAt = prev.CreatedAt
		}
		return tx.Set(ref, f)
	})
}

// ListConfigs retrieves all custom formats sorted by name
func (c *Client) ListConfigs(ctx context.Context) ([]*custom.Config, error) {
	return c.queryConfigs(ctx, c.Firestore.Collection(FormatsCollection).OrderBy("name", firestore.Asc))
}

// FindBySignature returns the most used custom format with the header
// signature.
func (c *Client) FindBySignature(ctx context.Context, signature string) (*custom.Config, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: empty signature", domain.ErrConfigNotFound)
	}
	configs, err := c.queryConfigs(ctx, c.Firestore.Collection(FormatsCollection).Where("headerSignature", "==", signature))
	if err != nil {
		return nil, err
	}

	var best *custom.Config
	for _, cfg := range configs {
		if best == nil || cfg.UseCount > best.UseCount || (cfg.UseCount == best.UseCount && cfg.Name < best.Name) {
			best = cfg
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no config with signature %s", domain.ErrConfigNotFound, signature)
	}
	return best, nil
}

// RecordUse increments a custom format's use count
func (c *Client) RecordUse(ctx context.Context, name string) error {
	_, err := c.Firestore.Collection(FormatsCollection).Doc(name).Update(ctx, []firestore.Update{
		{Path: "useCount", Value: firestore.Increment(1)},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %q", domain.ErrConfigNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to record use of %q: %v", domain.ErrPersist, name, err)
	}
	return nil
}

func (c *Client) queryConfigs(ctx context.Context, q firestore.Query) ([]*custom.Config, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var configs []*custom.Config
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate configs: %w", err)
		}

		var f Format
		if err := doc.DataTo(&f); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		cfg, err := f.toCustom()
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

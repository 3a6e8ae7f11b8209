package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
)

// MemoryConfigs is a ConfigStore held in memory, typically seeded from a
// formats file.
type MemoryConfigs struct {
	mu      sync.RWMutex
	configs map[string]*custom.Config
	now     func() time.Time
}

// NewMemoryConfigs creates a store holding copies of seed.
func NewMemoryConfigs(seed ...*custom.Config) (*MemoryConfigs, error) {
	m := &MemoryConfigs{
		configs: make(map[string]*custom.Config),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, cfg := range seed {
		if err := m.SaveConfig(context.Background(), cfg); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// GetConfig returns a copy of the named config.
func (m *MemoryConfigs) GetConfig(ctx context.Context, name string) (*custom.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrConfigNotFound, name)
	}
	cp := *cfg
	return &cp, nil
}

// SaveConfig inserts or replaces a config by name. The use count and
// creation time of an existing config are kept.
func (m *MemoryConfigs) SaveConfig(ctx context.Context, cfg *custom.Config) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("config name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cfg
	now := m.now()
	if prev, ok := m.configs[cfg.Name]; ok {
		cp.CreatedAt = prev.CreatedAt
		cp.UseCount = prev.UseCount
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.configs[cfg.Name] = &cp
	return nil
}

// ListConfigs returns every config sorted by name.
func (m *MemoryConfigs) ListConfigs(ctx context.Context) ([]*custom.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*custom.Config, 0, len(m.configs))
	for _, cfg := range m.configs {
		cp := *cfg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindBySignature returns the most used config with the given header
// signature.
func (m *MemoryConfigs) FindBySignature(ctx context.Context, signature string) (*custom.Config, error) {
	configs, err := m.ListConfigs(ctx)
	if err != nil {
		return nil, err
	}
	var best *custom.Config
	for _, cfg := range configs {
		if signature == "" || cfg.HeaderSignature != signature {
			continue
		}
		if best == nil || cfg.UseCount > best.UseCount {
			best = cfg
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no config with signature %s", domain.ErrConfigNotFound, signature)
	}
	return best, nil
}

// RecordUse increments the use count of the named config.
func (m *MemoryConfigs) RecordUse(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[name]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrConfigNotFound, name)
	}
	cfg.UseCount++
	return nil
}

// restore inserts previously saved configs verbatim, keeping their use
// counts and timestamps.
func (m *MemoryConfigs) restore(configs []*custom.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, cfg := range configs {
		cp := *cfg
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		if cp.UpdatedAt.IsZero() {
			cp.UpdatedAt = cp.CreatedAt
		}
		m.configs[cp.Name] = &cp
	}
}

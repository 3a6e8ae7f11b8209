package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/finimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
)

// FileBackend keeps hashes and sessions in a JSON state file and custom
// formats in a YAML file. Nothing is written until Close.
type FileBackend struct {
	*dedup.State
	*MemoryConfigs

	statePath   string
	formatsPath string
}

var _ Backend = (*FileBackend)(nil)

// OpenFiles loads both files. A missing file starts empty; an unreadable
// or corrupt one is an error so history is never silently reset.
// formatsPath may be empty, in which case saved formats live only for the
// process lifetime.
func OpenFiles(statePath, formatsPath string) (*FileBackend, error) {
	if statePath == "" {
		return nil, fmt.Errorf("state file path cannot be empty")
	}
	state, err := dedup.LoadOrNewState(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load state file %q: %w", statePath, err)
	}

	var seed []*custom.Config
	if formatsPath != "" {
		data, err := os.ReadFile(formatsPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read formats file %q: %w", formatsPath, err)
		default:
			if seed, err = custom.LoadConfigs(data); err != nil {
				return nil, fmt.Errorf("%s: %w", formatsPath, err)
			}
		}
	}

	configs, err := NewMemoryConfigs()
	if err != nil {
		return nil, err
	}
	configs.restore(seed)

	return &FileBackend{
		State:         state,
		MemoryConfigs: configs,
		statePath:     statePath,
		formatsPath:   formatsPath,
	}, nil
}

// Close writes the state file and, when configured, the formats file.
func (b *FileBackend) Close() error {
	if err := dedup.SaveState(b.State, b.statePath); err != nil {
		return err
	}
	if b.formatsPath == "" {
		return nil
	}

	configs, err := b.ListConfigs(context.Background())
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(custom.File{Formats: configs})
	if err != nil {
		return fmt.Errorf("failed to encode formats: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.formatsPath), 0755); err != nil {
		return fmt.Errorf("failed to create formats directory: %w", err)
	}
	tmp := b.formatsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write formats file: %w", err)
	}
	if err := os.Rename(tmp, b.formatsPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace formats file: %w", err)
	}
	return nil
}

// Package custom implements user-defined CSV layouts that are persisted
// and matched back to new uploads by header signature.
package custom

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"gopkg.in/yaml.v3"
)

// KeyPrefix marks registry keys that resolve to a saved custom config.
const KeyPrefix = "custom:"

// Key returns the registry key for a config name.
func Key(name string) string {
	return KeyPrefix + name
}

// NameFromKey extracts the config name from a custom registry key.
func NameFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(key, KeyPrefix))
	return name, name != ""
}

// RowSkip controls which physical lines are not data.
type RowSkip struct {
	Leading   int  `json:"leading" yaml:"leading"`
	Trailing  int  `json:"trailing" yaml:"trailing"`
	HasHeader bool `json:"hasHeader" yaml:"hasHeader"`
}

// Settings is the layout part of a saved config.
type Settings struct {
	ColumnMapping parser.ColumnMapping   `json:"columnMapping" yaml:"columnMapping"`
	AmountConfig  normalize.AmountConfig `json:"amountConfig" yaml:"amountConfig"`
	DateConfig    normalize.DateConfig   `json:"dateConfig" yaml:"dateConfig"`
	RowSkip       RowSkip                `json:"rowSkip" yaml:"rowSkip"`
	Delimiter     string                 `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
}

// Config is a named, user-authored CSV layout.
type Config struct {
	Name            string    `json:"name" yaml:"name"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty"`
	Config          Settings  `json:"config" yaml:"config"`
	HeaderSignature string    `json:"headerSignature,omitempty" yaml:"headerSignature,omitempty"`
	UseCount        int       `json:"useCount" yaml:"useCount"`
	CreatedAt       time.Time `json:"createdAt,omitzero" yaml:"createdAt,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero" yaml:"updatedAt,omitempty"`
}

// Key returns the registry key for the config.
func (c *Config) Key() string {
	return Key(c.Name)
}

// Layout builds the shared CSV engine for this config.
func (c *Config) Layout(cleaner parser.MerchantCleaner) parser.Layout {
	s := c.Config
	layout := parser.Layout{
		Name:           c.Key(),
		HasHeader:      s.RowSkip.HasHeader,
		Columns:        s.ColumnMapping,
		Amount:         s.AmountConfig,
		Date:           s.DateConfig,
		SkipLeading:    s.RowSkip.Leading,
		SkipTrailing:   s.RowSkip.Trailing,
		DefaultAccount: c.Name,
		Merchant:       cleaner,
	}
	if s.RowSkip.HasHeader {
		layout.RequiredHeaders = s.ColumnMapping.HeaderNames()
	}
	if r := []rune(s.Delimiter); len(r) == 1 {
		layout.Delimiter = r[0]
	}
	return layout
}

// SignFrom sets HeaderSignature from the header row found in content.
func (c *Config) SignFrom(ctx context.Context, content []byte) error {
	if !c.Config.RowSkip.HasHeader {
		return fmt.Errorf("config %q has no header row to sign", c.Name)
	}
	layout := c.Layout(nil)
	res, err := layout.Parse(ctx, content, "")
	if err != nil {
		return fmt.Errorf("failed to read header for config %q: %w", c.Name, err)
	}
	c.HeaderSignature = HeaderSignature(res.Header)
	return nil
}

// HeaderSignature is a stable hash of a header row. Cell case, surrounding
// quotes and whitespace do not affect it.
func HeaderSignature(header []string) string {
	tokens := make([]string, len(header))
	for i, h := range header {
		tokens[i] = normalize.HeaderToken(h)
	}
	sum := sha256.Sum256([]byte(strings.Join(tokens, "|")))
	return hex.EncodeToString(sum[:])
}

// SignatureDelimiters are the field separators tried when matching an
// upload to a saved config by header signature.
var SignatureDelimiters = []rune{',', ';', '\t', '|'}

// CandidateSignatures returns the signature of every leading non-blank
// record that could be a header. Records are split with each of
// SignatureDelimiters in turn, so comma results come first; duplicates
// are dropped.
func CandidateSignatures(content []byte, limit int) []string {
	seen := make(map[string]bool)
	var sigs []string
	for _, delim := range SignatureDelimiters {
		reader := parser.Layout{HasHeader: true, Delimiter: delim}
		for _, fields := range reader.LeadingRecords(content, limit) {
			sig := HeaderSignature(fields)
			if !seen[sig] {
				seen[sig] = true
				sigs = append(sigs, sig)
			}
		}
	}
	return sigs
}

// File is the on-disk shape of a custom format seed file.
type File struct {
	Formats []*Config `json:"formats" yaml:"formats"`
}

// LoadConfigs decodes a YAML (or JSON) seed file.
func LoadConfigs(data []byte) ([]*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse custom formats: %w", err)
	}
	seen := make(map[string]bool, len(f.Formats))
	for i, cfg := range f.Formats {
		if cfg == nil || strings.TrimSpace(cfg.Name) == "" {
			return nil, fmt.Errorf("format %d: name cannot be empty", i)
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("format %d: duplicate name %q", i, cfg.Name)
		}
		seen[cfg.Name] = true
	}
	return f.Formats, nil
}

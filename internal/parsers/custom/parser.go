package custom

import (
	"context"
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

// Parser parses CSV files with a saved Config. It never claims a file
// during detection; it is selected by key or by header signature.
type Parser struct {
	config *Config
	layout parser.Layout
}

// New builds a parser for cfg. cleaner may be nil.
func New(cfg *Config, cleaner parser.MerchantCleaner) (*Parser, error) {
	if cfg == nil {
		return nil, fmt.Errorf("custom config cannot be nil")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("custom config name cannot be empty")
	}
	m := cfg.Config.ColumnMapping
	if m.Date.IsZero() || m.Amount.IsZero() || m.Description.IsZero() {
		return nil, fmt.Errorf("custom config %q must map date, amount and description", cfg.Name)
	}
	return &Parser{config: cfg, layout: cfg.Layout(cleaner)}, nil
}

// Name returns the registry key, custom:<name>.
func (p *Parser) Name() string {
	return p.config.Key()
}

// Config returns the config the parser was built from.
func (p *Parser) Config() *Config {
	return p.config
}

// CanParse always declines; custom layouts have no self-detection.
func (p *Parser) CanParse(content []byte) (bool, float64) {
	return false, 0
}

// Parse extracts transactions using the saved layout.
func (p *Parser) Parse(ctx context.Context, content []byte, accountHint string) (*parser.Result, error) {
	res, err := p.layout.Parse(ctx, content, accountHint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return res, nil
}

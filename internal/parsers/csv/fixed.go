// Package csv provides the fixed-layout bank and credit-card CSV parsers.
package csv

import (
	"context"
	"fmt"

	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

// Format keys
const (
	FormatBofAChecking = "bofa-checking"
	FormatBofACredit   = "bofa-credit"
	FormatAmex         = "amex"
)

// Option customizes a fixed-layout parser.
type Option func(*parser.Layout)

// WithMerchantCleaner derives merchants for rows without a merchant column.
func WithMerchantCleaner(c parser.MerchantCleaner) Option {
	return func(l *parser.Layout) {
		l.Merchant = c
	}
}

// Parser is a CSV parser whose layout is fixed at construction. It holds no
// mutable state and is safe for concurrent use.
type Parser struct {
	layout parser.Layout
}

func newParser(layout parser.Layout, opts []Option) *Parser {
	for _, opt := range opts {
		opt(&layout)
	}
	return &Parser{layout: layout}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return p.layout.Name
}

// CanParse scores the header against the expected token set and width.
func (p *Parser) CanParse(content []byte) (bool, float64) {
	score := p.layout.Score(content)
	return score >= 0.9, score
}

// Parse extracts transactions using the fixed layout.
func (p *Parser) Parse(ctx context.Context, content []byte, accountHint string) (*parser.Result, error) {
	res, err := p.layout.Parse(ctx, content, accountHint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.layout.Name, err)
	}
	return res, nil
}

// Package registry selects a parser for a file, either by explicit format
// key or by confidence-scored detection.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/ofx"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/qif"
)

// Format keys with special meaning.
const (
	FormatUnknown = "unknown"
	FormatAuto    = "auto"
)

// DefaultMinConfidence is the lowest detection score that selects a parser.
const DefaultMinConfidence = 0.5

// ConfigSource resolves saved custom layouts by name. Implementations
// return domain.ErrConfigNotFound for unknown names.
type ConfigSource interface {
	GetConfig(ctx context.Context, name string) (*custom.Config, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithMinConfidence overrides DefaultMinConfidence.
func WithMinConfidence(c float64) Option {
	return func(r *Registry) {
		r.minConfidence = c
	}
}

// WithConfigSource enables custom:<name> keys.
func WithConfigSource(src ConfigSource) Option {
	return func(r *Registry) {
		r.configs = src
	}
}

// WithMerchantCleaner is handed to every built-in and custom parser.
func WithMerchantCleaner(c parser.MerchantCleaner) Option {
	return func(r *Registry) {
		r.merchant = c
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// Registry holds the registered parsers in registration order. It is built
// once by its owner and is read-only afterwards.
type Registry struct {
	parsers       []parser.Parser
	byName        map[string]parser.Parser
	minConfidence float64
	configs       ConfigSource
	merchant      parser.MerchantCleaner
	logger        *slog.Logger
}

// Detection is the outcome of scoring content against every parser.
type Detection struct {
	Parser     parser.Parser
	Format     string
	Confidence float64
}

// Known reports whether a parser was selected.
func (d Detection) Known() bool {
	return d.Parser != nil
}

// New creates a registry with the built-in parsers. Fixed layouts register
// before the generic formats so they win ties.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		byName:        make(map[string]parser.Parser),
		minConfidence: DefaultMinConfidence,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	csvOpts := []csv.Option{}
	if r.merchant != nil {
		csvOpts = append(csvOpts, csv.WithMerchantCleaner(r.merchant))
	}
	builtins := []parser.Parser{
		csv.NewBofAChecking(csvOpts...),
		csv.NewBofACredit(csvOpts...),
		csv.NewAmex(csvOpts...),
		qif.NewParser(r.merchant),
		ofx.NewParser(ofx.WithMerchantCleaner(r.merchant), ofx.WithLogger(r.logger)),
	}
	for _, p := range builtins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a parser. Names must be unique.
func (r *Registry) Register(p parser.Parser) error {
	if p == nil {
		return fmt.Errorf("cannot register nil parser")
	}
	name := p.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("parser %q already registered", name)
	}
	r.parsers = append(r.parsers, p)
	r.byName[name] = p
	return nil
}

// Detect scores content against every parser and returns the best match.
// Ties go to the parser registered first. A best score below the minimum
// confidence yields FormatUnknown; that is not an error.
func (r *Registry) Detect(content []byte) Detection {
	var best parser.Parser
	bestScore := 0.0
	for _, p := range r.parsers {
		_, score := p.CanParse(content)
		if score > bestScore {
			best, bestScore = p, score
		}
	}

	if best == nil || bestScore < r.minConfidence {
		return Detection{Format: FormatUnknown, Confidence: bestScore}
	}
	return Detection{Parser: best, Format: best.Name(), Confidence: bestScore}
}

// Get resolves an explicit format key, bypassing detection.
func (r *Registry) Get(ctx context.Context, key string) (parser.Parser, error) {
	key = strings.TrimSpace(key)
	if name, ok := custom.NameFromKey(key); ok {
		return r.customParser(ctx, name)
	}
	if p, ok := r.byName[key]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, key)
}

func (r *Registry) customParser(ctx context.Context, name string) (parser.Parser, error) {
	if r.configs == nil {
		return nil, fmt.Errorf("%w: %q (no config store)", domain.ErrConfigNotFound, name)
	}
	cfg, err := r.configs.GetConfig(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load custom format %q: %w", name, err)
	}
	return r.Custom(cfg)
}

// Custom builds a parser for an already loaded config.
func (r *Registry) Custom(cfg *custom.Config) (parser.Parser, error) {
	p, err := custom.New(cfg, r.merchant)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	return p, nil
}

// Parse parses content with the parser for key. An empty or "auto" key
// detects the format first.
func (r *Registry) Parse(ctx context.Context, key string, content []byte, accountHint string) (*parser.Result, error) {
	var p parser.Parser
	if key == "" || key == FormatAuto {
		d := r.Detect(content)
		if !d.Known() {
			return nil, fmt.Errorf("%w: no parser reached confidence %.2f (best %.2f)", domain.ErrUnsupportedFormat, r.minConfidence, d.Confidence)
		}
		r.logger.Debug("Detected format", "format", d.Format, "confidence", d.Confidence)
		p = d.Parser
	} else {
		var err error
		if p, err = r.Get(ctx, key); err != nil {
			return nil, err
		}
	}
	return p.Parse(ctx, content, accountHint)
}

// ListParsers returns all registered parser names in registration order.
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}

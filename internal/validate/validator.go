// Package validate checks saved custom CSV formats before they are stored,
// reporting every problem at once.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
)

// ValidationResult contains all validation errors and warnings for a set of
// custom formats
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// ValidationError represents a validation error
type ValidationError struct {
	Format  string
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Format, e.Field, e.Message)
}

// ValidationWarning represents a non-critical validation issue
type ValidationWarning struct {
	Format  string
	Field   string
	Value   string
	Message string
}

// HasErrors reports whether any error was found.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Err summarizes the errors, or returns nil when there are none.
func (r *ValidationResult) Err() error {
	switch len(r.Errors) {
	case 0:
		return nil
	case 1:
		return r.Errors[0]
	default:
		return fmt.Errorf("%w (and %d more)", r.Errors[0], len(r.Errors)-1)
	}
}

func (r *ValidationResult) addError(format, field, value, msg string) {
	r.Errors = append(r.Errors, ValidationError{Format: format, Field: field, Value: value, Message: msg})
}

func (r *ValidationResult) addWarning(format, field, value, msg string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Format: format, Field: field, Value: value, Message: msg})
}

// ValidateConfigs validates each format and checks names are unique.
func ValidateConfigs(configs []*custom.Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}

	names := make(map[string]bool)
	for i, cfg := range configs {
		if cfg == nil {
			result.addError(fmt.Sprintf("#%d", i), "Name", "", "format cannot be null")
			continue
		}
		validateConfig(result, cfg)

		if cfg.Name != "" {
			if names[cfg.Name] {
				result.addError(cfg.Name, "Name", cfg.Name, "duplicate format name")
			}
			names[cfg.Name] = true
		}
	}
	return result
}

// ValidateConfig validates a single custom format.
func ValidateConfig(cfg *custom.Config) *ValidationResult {
	return ValidateConfigs([]*custom.Config{cfg})
}

func validateConfig(result *ValidationResult, cfg *custom.Config) {
	name := cfg.Name
	s := cfg.Config

	// Name
	if strings.TrimSpace(name) == "" {
		result.addError(name, "Name", "", "format name cannot be empty")
	} else {
		if strings.ContainsAny(name, ": \t") {
			result.addError(name, "Name", name, "format name cannot contain colons or whitespace")
		}
		if slug, err := normalize.Slugify(name); err == nil && slug != name {
			result.addWarning(name, "Name", name, fmt.Sprintf("consider the key %q", slug))
		}
	}

	// Column mapping
	m := s.ColumnMapping
	required := []struct {
		field string
		ref   parser.ColumnRef
	}{
		{"ColumnMapping.Date", m.Date},
		{"ColumnMapping.Amount", m.Amount},
		{"ColumnMapping.Description", m.Description},
	}
	for _, r := range required {
		if r.ref.IsZero() {
			result.addError(name, r.field, "", "required column is not mapped")
		}
	}

	optional := []struct {
		field string
		ref   parser.ColumnRef
	}{
		{"ColumnMapping.Merchant", m.Merchant},
		{"ColumnMapping.ReferenceID", m.ReferenceID},
		{"ColumnMapping.CardMember", m.CardMember},
		{"ColumnMapping.SignColumn", m.SignColumn},
	}
	used := make(map[string]string)
	for _, r := range append(required, optional...) {
		if r.ref.IsZero() {
			continue
		}
		if r.ref.ByIndex && r.ref.Index < 0 {
			result.addError(name, r.field, r.ref.String(), "column index cannot be negative")
		}
		if !r.ref.ByIndex && !s.RowSkip.HasHeader {
			result.addError(name, r.field, r.ref.String(), "named columns need hasHeader")
		}

		key := r.ref.String()
		if !r.ref.ByIndex {
			key = normalize.HeaderToken(r.ref.Name)
		}
		if other, ok := used[key]; ok {
			result.addWarning(name, r.field, r.ref.String(), fmt.Sprintf("same column as %s", other))
		}
		used[key] = r.field
	}

	// Amount
	if err := s.AmountConfig.Validate(); err != nil {
		result.addError(name, "AmountConfig", s.AmountConfig.Convention, err.Error())
	}
	switch {
	case s.AmountConfig.Convention == normalize.ConventionSignColumn && m.SignColumn.IsZero():
		result.addError(name, "ColumnMapping.SignColumn", "", "sign_column convention needs a sign column")
	case s.AmountConfig.Convention != normalize.ConventionSignColumn && !m.SignColumn.IsZero():
		result.addWarning(name, "ColumnMapping.SignColumn", m.SignColumn.String(), "sign column is ignored unless convention is sign_column")
	}

	// Dates
	if err := s.DateConfig.Validate(); err != nil {
		result.addError(name, "DateConfig.Formats", "", err.Error())
	}
	if len(s.DateConfig.Formats) == 0 {
		result.addWarning(name, "DateConfig.Formats", "", "no date formats; defaults are used")
	}

	// Row skip
	if s.RowSkip.Leading < 0 {
		result.addError(name, "RowSkip.Leading", fmt.Sprint(s.RowSkip.Leading), "cannot be negative")
	}
	if s.RowSkip.Trailing < 0 {
		result.addError(name, "RowSkip.Trailing", fmt.Sprint(s.RowSkip.Trailing), "cannot be negative")
	}

	if s.Delimiter != "" && utf8.RuneCountInString(s.Delimiter) != 1 {
		result.addError(name, "Delimiter", s.Delimiter, "delimiter must be a single character")
	}

	if s.RowSkip.HasHeader && cfg.HeaderSignature == "" {
		result.addWarning(name, "HeaderSignature", "", "no header signature; uploads will not auto-match this format")
	}
}

// Package normalize turns raw export field text into canonical amounts,
// calendar dates and comparable strings.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Sign conventions
const (
	ConventionSigned      = "signed"
	ConventionParentheses = "parentheses"
	ConventionSignColumn  = "sign_column"
)

// ErrInvalidAmount is returned for text that does not hold a number.
var ErrInvalidAmount = errors.New("invalid amount")

var defaultNegativeIndicators = []string{"debit", "dr", "d", "-", "withdrawal"}

// AmountConfig describes how a source writes its money column. Currency
// symbols are always removed; StripCurrency also drops alphabetic codes such
// as USD.
type AmountConfig struct {
	Convention         string   `json:"convention,omitempty" yaml:"convention,omitempty"`
	DecimalSeparator   string   `json:"decimalSeparator,omitempty" yaml:"decimalSeparator,omitempty"`
	ThousandsSeparator string   `json:"thousandsSeparator,omitempty" yaml:"thousandsSeparator,omitempty"`
	StripCurrency      bool     `json:"stripCurrency,omitempty" yaml:"stripCurrency,omitempty"`
	Invert             bool     `json:"invert,omitempty" yaml:"invert,omitempty"`
	NegativeIndicators []string `json:"negativeIndicators,omitempty" yaml:"negativeIndicators,omitempty"`
}

// WithDefaults fills unset fields.
func (c AmountConfig) WithDefaults() AmountConfig {
	if c.Convention == "" {
		c.Convention = ConventionSigned
	}
	if c.DecimalSeparator == "" {
		c.DecimalSeparator = "."
	}
	if c.ThousandsSeparator == "" && c.DecimalSeparator != "," {
		c.ThousandsSeparator = ","
	}
	if c.ThousandsSeparator == "" && c.DecimalSeparator == "," {
		c.ThousandsSeparator = "."
	}
	if len(c.NegativeIndicators) == 0 {
		c.NegativeIndicators = defaultNegativeIndicators
	}
	return c
}

// Validate reports configuration that can never parse an amount.
func (c AmountConfig) Validate() error {
	switch c.Convention {
	case "", ConventionSigned, ConventionParentheses, ConventionSignColumn:
	default:
		return fmt.Errorf("unknown amount convention %q", c.Convention)
	}
	d := c.WithDefaults()
	if len(d.DecimalSeparator) != 1 || len(d.ThousandsSeparator) != 1 {
		return fmt.Errorf("separators must be a single character")
	}
	if d.DecimalSeparator == d.ThousandsSeparator {
		return fmt.Errorf("decimal and thousands separators must differ")
	}
	return nil
}

// ParseAmount parses raw under the signed or parentheses convention.
func (c AmountConfig) ParseAmount(raw string) (decimal.Decimal, error) {
	return c.ParseAmountWithSign(raw, "")
}

// ParseAmountWithSign parses raw; under the sign_column convention sign is the
// value of the sign column and decides the direction.
func (c AmountConfig) ParseAmountWithSign(raw, sign string) (decimal.Decimal, error) {
	c = c.WithDefaults()

	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		if c.Convention != ConventionParentheses {
			return decimal.Zero, fmt.Errorf("%w: parenthesized value %q", ErrInvalidAmount, raw)
		}
		negative = true
		s = s[1 : len(s)-1]
	}

	s = c.clean(s)

	switch {
	case strings.HasPrefix(s, "-"):
		negative = !negative
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		negative = !negative
		s = s[:len(s)-1]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	s, ok := c.ungroup(s)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: misplaced grouping separator in %q", ErrInvalidAmount, raw)
	}
	if c.DecimalSeparator != "." {
		s = strings.Replace(s, c.DecimalSeparator, ".", 1)
	}
	if s == "" || strings.ContainsAny(s, "+-") {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	if c.Convention == ConventionSignColumn {
		amount = amount.Abs()
		negative = c.isNegativeIndicator(sign)
	}
	if negative {
		amount = amount.Neg()
	}
	if c.Invert {
		amount = amount.Neg()
	}
	return amount, nil
}

// clean removes currency markers and whitespace.
func (c AmountConfig) clean(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Sc, r), unicode.IsSpace(r):
			continue
		case c.StripCurrency && unicode.IsLetter(r):
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ungroup drops thousands separators from s. A separator is only valid
// between groups of three digits in the integer part.
func (c AmountConfig) ungroup(s string) (string, bool) {
	sep := c.ThousandsSeparator
	whole, frac, hasFrac := strings.Cut(s, c.DecimalSeparator)
	if strings.Contains(frac, sep) {
		return "", false
	}
	if strings.Contains(whole, sep) {
		groups := strings.Split(whole, sep)
		if n := len(groups[0]); n < 1 || n > 3 {
			return "", false
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return "", false
			}
		}
		whole = strings.Join(groups, "")
	}
	if hasFrac {
		return whole + c.DecimalSeparator + frac, true
	}
	return whole, true
}

func (c AmountConfig) isNegativeIndicator(sign string) bool {
	sign = strings.ToLower(strings.TrimSpace(sign))
	for _, ind := range c.NegativeIndicators {
		if strings.ToLower(strings.TrimSpace(ind)) == sign {
			return true
		}
	}
	return false
}

// CanonicalAmount renders an amount rounded to two places with a fixed
// decimal format, so 12.5 and 12.50 compare equal.
func CanonicalAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

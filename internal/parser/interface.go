package parser

import (
	"context"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

// Parser is the strategy interface for all file format parsers
type Parser interface {
	// Name returns the format key (e.g., "bofa-checking", "ofx")
	Name() string

	// CanParse scores how well content matches this format.
	// Confidence is in [0,1]; ok reports a full structural match.
	CanParse(content []byte) (ok bool, confidence float64)

	// Parse turns content into canonical transactions. Bad rows are
	// reported in Result.Skipped; an error means the file as a whole does
	// not have the expected structure.
	Parse(ctx context.Context, content []byte, accountHint string) (*Result, error)
}

// MerchantCleaner derives a display merchant from a raw description.
type MerchantCleaner interface {
	Clean(description string) string
}

// SkipReason classifies a dropped row
type SkipReason string

const (
	SkipMissingValue  SkipReason = "missing_value"
	SkipInvalidDate   SkipReason = "invalid_date"
	SkipInvalidAmount SkipReason = "invalid_amount"
	SkipInvalidRecord SkipReason = "invalid_record"
)

// RowSkip records why a source row produced no transaction.
type RowSkip struct {
	Line   int        `json:"line"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// RowOutcome is the result of evaluating one source row: exactly one of
// Transaction or Skip is set.
type RowOutcome struct {
	Transaction *domain.ParsedTransaction
	Skip        *RowSkip
}

// Accept wraps a transaction outcome.
func Accept(txn *domain.ParsedTransaction) RowOutcome {
	return RowOutcome{Transaction: txn}
}

// Reject wraps a skip outcome.
func Reject(line int, reason SkipReason, detail string) RowOutcome {
	return RowOutcome{Skip: &RowSkip{Line: line, Reason: reason, Detail: detail}}
}

// Result is everything a parser extracted from one file.
type Result struct {
	Format       string
	Transactions []*domain.ParsedTransaction
	Skipped      []RowSkip
	// HeaderLine is the 1-based line of the discovered header, 0 when the
	// format has none.
	HeaderLine int
	Header     []string
}

// NewResult creates an empty result for format.
func NewResult(format string) *Result {
	return &Result{Format: format, Transactions: []*domain.ParsedTransaction{}}
}

// Add collects a row outcome.
func (r *Result) Add(o RowOutcome) {
	switch {
	case o.Transaction != nil:
		r.Transactions = append(r.Transactions, o.Transaction)
	case o.Skip != nil:
		r.Skipped = append(r.Skipped, *o.Skip)
	}
}

// SkipCounts aggregates skipped rows by reason.
func (r *Result) SkipCounts() map[SkipReason]int {
	counts := make(map[SkipReason]int)
	for _, s := range r.Skipped {
		counts[s.Reason]++
	}
	return counts
}

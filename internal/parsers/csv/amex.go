package csv

import (
	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

// NewAmex parses American Express card exports. Amex writes charges as
// positive numbers, so amounts are inverted. Extended exports append
// columns such as Reference, which is used when present.
func NewAmex(opts ...Option) *Parser {
	return newParser(parser.Layout{
		Name:            FormatAmex,
		RequiredHeaders: []string{"Date", "Description", "Card Member", "Account #", "Amount"},
		ColumnCount:     5,
		HasHeader:       true,
		Columns: parser.ColumnMapping{
			Date:        parser.Named("Date"),
			Description: parser.Named("Description"),
			Amount:      parser.Named("Amount"),
			CardMember:  parser.Named("Card Member"),
			ReferenceID: parser.Named("Reference"),
		},
		Amount:         normalize.AmountConfig{Convention: normalize.ConventionSigned, Invert: true},
		Date:           normalize.DateConfig{Formats: []string{"MM/DD/YYYY", "MM/DD/YY"}},
		DefaultAccount: FormatAmex,
	}, opts)
}

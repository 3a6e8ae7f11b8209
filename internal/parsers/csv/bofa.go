package csv

import (
	"regexp"

	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

var bofaDates = normalize.DateConfig{Formats: []string{"MM/DD/YYYY", "M/D/YYYY"}}

// NewBofAChecking parses Bank of America checking/savings exports. The
// export opens with a balance summary block before the transaction header
// and repeats the opening balance as a data row.
//
//	Description,,Summary Amt.
//	Beginning balance as of 01/01/2025,,"1,000.00"
//	...
//	Date,Description,Amount,Running Bal.
//	01/02/2025,"STARBUCKS STORE 12345","-4.50","995.50"
func NewBofAChecking(opts ...Option) *Parser {
	return newParser(parser.Layout{
		Name:            FormatBofAChecking,
		RequiredHeaders: []string{"Date", "Description", "Amount", "Running Bal."},
		ColumnCount:     4,
		HasHeader:       true,
		Columns: parser.ColumnMapping{
			Date:        parser.Named("Date"),
			Description: parser.Named("Description"),
			Amount:      parser.Named("Amount"),
		},
		Amount: normalize.AmountConfig{Convention: normalize.ConventionSigned},
		Date:   bofaDates,
		Footer: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(beginning|ending) balance as of`),
			regexp.MustCompile(`(?i)^"?total (credits|debits)`),
		},
		DefaultAccount: FormatBofAChecking,
	}, opts)
}

// NewBofACredit parses Bank of America credit-card exports. Charges are
// negative in the file already.
func NewBofACredit(opts ...Option) *Parser {
	return newParser(parser.Layout{
		Name:            FormatBofACredit,
		RequiredHeaders: []string{"Posted Date", "Reference Number", "Payee", "Address", "Amount"},
		ColumnCount:     5,
		HasHeader:       true,
		Columns: parser.ColumnMapping{
			Date:        parser.Named("Posted Date"),
			Description: parser.Named("Payee"),
			Amount:      parser.Named("Amount"),
			ReferenceID: parser.Named("Reference Number"),
		},
		Amount:         normalize.AmountConfig{Convention: normalize.ConventionSigned},
		Date:           bofaDates,
		DefaultAccount: FormatBofACredit,
	}, opts)
}

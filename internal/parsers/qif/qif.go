// Package qif parses Quicken Interchange Format exports.
package qif

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

// FormatQIF is the registry key
const FormatQIF = "qif"

var (
	qifDates = normalize.DateConfig{Formats: []string{
		"M/D/YYYY", "M/D/YY", "YYYY-MM-DD", "M-D-YYYY", "M-D-YY", "D.M.YYYY",
	}}
	qifAmounts = normalize.AmountConfig{Convention: normalize.ConventionSigned}

	// Sections that list categories, classes or memorized payees rather
	// than transactions.
	listSections = map[string]bool{
		"cat":       true,
		"class":     true,
		"memorized": true,
		"prices":    true,
		"security":  true,
	}
)

// Parser parses QIF line-tag files. Each record is a run of tagged lines
// ended by a ^ line.
type Parser struct {
	merchant parser.MerchantCleaner
}

// NewParser creates a QIF parser. cleaner may be nil.
func NewParser(cleaner parser.MerchantCleaner) *Parser {
	return &Parser{merchant: cleaner}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return FormatQIF
}

// CanParse looks for the !Type: banner, falling back to tag-shaped lines.
func (p *Parser) CanParse(content []byte) (bool, float64) {
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	first := true
	tagged, terminators, lines := 0, 0, 0
	for sc.Scan() && lines < 50 {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines++
		if first {
			first = false
			if strings.HasPrefix(strings.ToLower(line), "!type:") {
				return true, 0.95
			}
		}
		switch {
		case line == "^":
			terminators++
		case strings.ContainsRune("DTUPMLN", rune(line[0])):
			tagged++
		}
	}

	if terminators > 0 && tagged >= 2*terminators {
		return false, 0.6
	}
	return false, 0
}

type record struct {
	line    int
	fields  int
	date    string
	amount  string
	uamount string
	payee   string
	memo    string
	cat     string
	num     string
}

// Parse extracts transactions from QIF content.
func (p *Parser) Parse(ctx context.Context, content []byte, accountHint string) (*parser.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := parser.NewResult(FormatQIF)
	account := strings.TrimSpace(accountHint)
	fileAccount := ""

	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	section := ""
	sawHeader := false
	var cur record
	num := 0

	flush := func() {
		defer func() { cur = record{} }()
		if cur.fields == 0 {
			return
		}
		switch {
		case section == "account":
			// N names the account in an account list entry.
			if cur.num != "" {
				fileAccount = cur.num
			}
			return
		case listSections[section]:
			return
		}
		acct := account
		if acct == "" {
			acct = fileAccount
		}
		if acct == "" {
			acct = FormatQIF
		}
		res.Add(p.evaluate(cur, acct))
	}

	for sc.Scan() {
		num++
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if trimmed[0] == '!' {
			flush()
			sawHeader = true
			lower := strings.ToLower(trimmed)
			switch {
			case strings.HasPrefix(lower, "!type:"):
				section = strings.TrimSpace(strings.TrimPrefix(lower, "!type:"))
			case lower == "!account":
				section = "account"
			}
			continue
		}
		if trimmed == "^" {
			flush()
			continue
		}

		if cur.fields == 0 {
			cur.line = num
		}
		value := strings.TrimSpace(trimmed[1:])
		switch trimmed[0] {
		case 'D':
			cur.date = value
		case 'T':
			cur.amount = value
		case 'U':
			cur.uamount = value
		case 'P':
			cur.payee = value
		case 'M':
			cur.memo = value
		case 'L':
			cur.cat = value
		case 'N':
			cur.num = value
		default:
			// Splits (S, E, $), addresses (A) and cleared status (C)
			// do not change the transaction itself.
		}
		cur.fields++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read QIF content: %v", domain.ErrParse, err)
	}
	flush()

	if !sawHeader && len(res.Transactions) == 0 && len(res.Skipped) == 0 {
		return nil, fmt.Errorf("%w: no QIF records found", domain.ErrParse)
	}
	return res, nil
}

func (p *Parser) evaluate(r record, account string) parser.RowOutcome {
	amountText := r.amount
	if amountText == "" {
		amountText = r.uamount
	}
	description := r.payee
	if description == "" {
		description = r.memo
	}

	switch {
	case r.date == "":
		return parser.Reject(r.line, parser.SkipMissingValue, "date")
	case amountText == "":
		return parser.Reject(r.line, parser.SkipMissingValue, "amount")
	case description == "":
		return parser.Reject(r.line, parser.SkipMissingValue, "description")
	}

	date, err := ParseDate(r.date)
	if err != nil {
		return parser.Reject(r.line, parser.SkipInvalidDate, err.Error())
	}
	amount, err := qifAmounts.ParseAmount(amountText)
	if err != nil {
		return parser.Reject(r.line, parser.SkipInvalidAmount, err.Error())
	}

	txn, err := domain.NewParsedTransaction(date, amount, description, account)
	if err != nil {
		return parser.Reject(r.line, parser.SkipInvalidRecord, err.Error())
	}
	if r.payee != "" && p.merchant != nil {
		txn.Merchant = p.merchant.Clean(r.payee)
	}
	txn.Category = r.cat
	txn.ReferenceID = r.num
	return parser.Accept(txn)
}

// ParseDate handles Quicken's date spellings, including the apostrophe
// form where 1/5'25 means January 5, 2025.
func ParseDate(s string) (time.Time, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if i := strings.IndexByte(s, '\''); i >= 0 {
		year := s[i+1:]
		if len(year) == 2 {
			year = "20" + year
		}
		s = s[:i] + "/" + year
	}
	return qifDates.Parse(s)
}

package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
)

// headerScanLimit bounds how many non-blank records are searched for a header.
const headerScanLimit = 25

// Layout is the shared CSV engine behind every delimited format. Fixed
// formats declare one as a value; custom formats build one from a saved
// config.
type Layout struct {
	Name string
	// RequiredHeaders identify the header row. Compared after
	// normalize.HeaderToken.
	RequiredHeaders []string
	// ColumnCount is the exact header width, 0 when it varies.
	ColumnCount    int
	HasHeader      bool
	Columns        ColumnMapping
	Amount         normalize.AmountConfig
	Date           normalize.DateConfig
	SkipLeading    int
	SkipTrailing   int
	Footer         []*regexp.Regexp
	Delimiter      rune
	DefaultAccount string
	Merchant       MerchantCleaner
}

// record is one CSV record and the physical line it starts on. Quoted
// fields may span several lines.
type record struct {
	line   int
	fields []string
	err    error
}

type resolvedColumns struct {
	date, amount, description   int
	merchant, reference, member int
	sign                        int
	minFields                   int
}

// Score returns the detection confidence for content: 0.9 when a record carries
// every required header token, plus 0.1 when its width matches ColumnCount.
// Partial matches score proportionally below 0.6.
func (l *Layout) Score(content []byte) float64 {
	if len(l.RequiredHeaders) == 0 {
		return 0
	}

	best := 0.0
	seen := 0
	for _, rec := range l.records(content) {
		if rec.err != nil || allEmpty(rec.fields) {
			continue
		}
		if seen++; seen > headerScanLimit {
			break
		}
		fields := rec.fields
		matched := l.matchHeader(fields)
		var score float64
		if matched == len(l.RequiredHeaders) {
			score = 0.9
			if l.ColumnCount > 0 && len(fields) == l.ColumnCount {
				score += 0.1
			}
		} else {
			score = float64(matched) / float64(len(l.RequiredHeaders)) * 0.6
		}
		if score > best {
			best = score
		}
	}
	return best
}

// Parse runs the shared row algorithm over content.
func (l *Layout) Parse(ctx context.Context, content []byte, accountHint string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := NewResult(l.Name)
	records := l.records(content)

	start := 0
	var header []string
	if l.HasHeader {
		idx, err := l.findHeader(records)
		if err != nil {
			return nil, err
		}
		header = records[idx].fields
		res.HeaderLine = records[idx].line
		res.Header = header
		start = idx + 1
	}

	cols, err := l.resolve(header)
	if err != nil {
		return nil, err
	}

	account := strings.TrimSpace(accountHint)
	if account == "" {
		account = l.DefaultAccount
	}
	if account == "" {
		account = l.Name
	}

	for _, rec := range records[start:] {
		if rec.err != nil {
			res.Add(Reject(rec.line, SkipInvalidRecord, rec.err.Error()))
			continue
		}
		fields := rec.fields
		if allEmpty(fields) || l.isFooter(strings.Join(fields, ",")) {
			continue
		}
		if len(fields) < cols.minFields {
			return nil, fmt.Errorf("%w: line %d has %d columns, need at least %d", domain.ErrParse, rec.line, len(fields), cols.minFields)
		}
		res.Add(l.evaluate(rec.line, fields, cols, account))
	}

	return res, nil
}

// evaluate turns one data row into a transaction or a skip.
func (l *Layout) evaluate(num int, fields []string, cols resolvedColumns, account string) RowOutcome {
	get := func(i int) string {
		if i < 0 || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	dateText := get(cols.date)
	amountText := get(cols.amount)
	description := get(cols.description)
	switch {
	case dateText == "":
		return Reject(num, SkipMissingValue, "date")
	case amountText == "":
		return Reject(num, SkipMissingValue, "amount")
	case description == "":
		return Reject(num, SkipMissingValue, "description")
	}

	date, err := l.Date.Parse(dateText)
	if err != nil {
		return Reject(num, SkipInvalidDate, err.Error())
	}
	amount, err := l.Amount.ParseAmountWithSign(amountText, get(cols.sign))
	if err != nil {
		return Reject(num, SkipInvalidAmount, err.Error())
	}

	txn, err := domain.NewParsedTransaction(date, amount, description, account)
	if err != nil {
		return Reject(num, SkipInvalidRecord, err.Error())
	}
	txn.Merchant = get(cols.merchant)
	if txn.Merchant == "" && l.Merchant != nil {
		txn.Merchant = l.Merchant.Clean(description)
	}
	// Some issuers quote references with apostrophes to keep spreadsheets
	// from reformatting them.
	txn.ReferenceID = strings.Trim(get(cols.reference), "'")
	txn.CardMember = get(cols.member)
	return Accept(txn)
}

// records reads content as one CSV stream with the configured leading and
// trailing physical lines removed. Line numbers refer to the original
// content.
func (l *Layout) records(content []byte) []record {
	text := strings.TrimPrefix(string(content), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	raw := strings.Split(text, "\n")
	end := len(raw)
	for end > 0 && strings.TrimSpace(raw[end-1]) == "" {
		end--
	}
	end -= l.SkipTrailing
	if l.SkipLeading >= end || end <= 0 {
		return nil
	}

	r := csv.NewReader(strings.NewReader(strings.Join(raw[l.SkipLeading:end], "\n")))
	if l.Delimiter != 0 {
		r.Comma = l.Delimiter
	}
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var out []record
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				break
			}
			out = append(out, record{line: pe.StartLine + l.SkipLeading, err: fmt.Errorf("malformed record: %w", err)})
			continue
		}
		line, _ := r.FieldPos(0)
		out = append(out, record{line: line + l.SkipLeading, fields: fields})
	}
	return out
}

// LeadingRecords returns up to limit non-blank records following the
// leading skip. Malformed records are left out.
func (l *Layout) LeadingRecords(content []byte, limit int) [][]string {
	var out [][]string
	for _, rec := range l.records(content) {
		if len(out) >= limit {
			break
		}
		if rec.err != nil || allEmpty(rec.fields) {
			continue
		}
		out = append(out, rec.fields)
	}
	return out
}

func (l *Layout) matchHeader(fields []string) int {
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[normalize.HeaderToken(f)] = true
	}
	matched := 0
	for _, req := range l.RequiredHeaders {
		if tokens[normalize.HeaderToken(req)] {
			matched++
		}
	}
	return matched
}

// findHeader returns the index of the first record carrying every required
// header token. Layouts without RequiredHeaders take the first non-blank
// record.
func (l *Layout) findHeader(records []record) (int, error) {
	seen := 0
	for i, rec := range records {
		if rec.err != nil || allEmpty(rec.fields) {
			continue
		}
		if seen++; seen > headerScanLimit {
			break
		}
		if len(l.RequiredHeaders) == 0 || l.matchHeader(rec.fields) == len(l.RequiredHeaders) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: header row not found", domain.ErrParse)
}

func (l *Layout) resolve(header []string) (resolvedColumns, error) {
	cols := resolvedColumns{}
	var err error
	signRequired := l.Amount.Convention == normalize.ConventionSignColumn

	targets := []struct {
		name     string
		ref      ColumnRef
		required bool
		dst      *int
	}{
		{"date", l.Columns.Date, true, &cols.date},
		{"amount", l.Columns.Amount, true, &cols.amount},
		{"description", l.Columns.Description, true, &cols.description},
		{"merchant", l.Columns.Merchant, false, &cols.merchant},
		{"referenceId", l.Columns.ReferenceID, false, &cols.reference},
		{"cardMember", l.Columns.CardMember, false, &cols.member},
		{"signColumn", l.Columns.SignColumn, signRequired, &cols.sign},
	}
	for _, t := range targets {
		*t.dst, err = resolveRef(t.name, t.ref, header, t.required)
		if err != nil {
			return cols, err
		}
		if t.required && *t.dst+1 > cols.minFields {
			cols.minFields = *t.dst + 1
		}
	}
	return cols, nil
}

// resolveRef maps ref onto a field index, or -1 for an absent optional column.
func resolveRef(field string, ref ColumnRef, header []string, required bool) (int, error) {
	switch {
	case ref.IsZero():
		if required {
			return -1, fmt.Errorf("%w: %s column is not mapped", domain.ErrParse, field)
		}
		return -1, nil
	case ref.ByIndex:
		if ref.Index < 0 {
			return -1, fmt.Errorf("%w: %s column index %d is negative", domain.ErrParse, field, ref.Index)
		}
		if header != nil && ref.Index >= len(header) {
			return -1, fmt.Errorf("%w: %s column index %d is outside the %d-column header", domain.ErrParse, field, ref.Index, len(header))
		}
		return ref.Index, nil
	case header == nil:
		return -1, fmt.Errorf("%w: %s column %s needs a header row", domain.ErrParse, field, ref)
	}

	want := normalize.HeaderToken(ref.Name)
	for i, h := range header {
		if normalize.HeaderToken(h) == want {
			return i, nil
		}
	}
	if required {
		return -1, fmt.Errorf("%w: required column %s missing from header", domain.ErrParse, ref)
	}
	return -1, nil
}

func (l *Layout) isFooter(text string) bool {
	for _, re := range l.Footer {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func allEmpty(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

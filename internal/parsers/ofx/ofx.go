// Package ofx provides OFX/QFX statement parsing
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

// FormatOFX is the registry key
const FormatOFX = "ofx"

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)`)
	// Opening tags missing their closing bracket at end of line.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	fieldRegex  = regexp.MustCompile(`(?i)<(DTPOSTED|DTUSER|TRNAMT|NAME|MEMO|FITID|CHECKNUM)>([^<\r\n]*)`)
	acctIDRegex = regexp.MustCompile(`(?i)<ACCTID>([^<\r\n]*)`)

	ofxAmounts = normalize.AmountConfig{Convention: normalize.ConventionSigned}
)

// Option customizes the parser.
type Option func(*Parser)

// WithMerchantCleaner derives merchants from transaction names.
func WithMerchantCleaner(c parser.MerchantCleaner) Option {
	return func(p *Parser) {
		p.merchant = c
	}
}

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = l
	}
}

// Parser parses OFX 1.x (SGML) and 2.x (XML) bank and credit-card
// statements. ofxgo is tried first; files it rejects are read with a
// tolerant STMTTRN block scanner.
type Parser struct {
	merchant parser.MerchantCleaner
	logger   *slog.Logger
}

// NewParser creates an OFX parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return FormatOFX
}

// CanParse looks for the OFX/QFX banner.
func (p *Parser) CanParse(content []byte) (bool, float64) {
	head := content
	if len(head) > 4096 {
		head = head[:4096]
	}
	upper := strings.ToUpper(string(head))

	banner := strings.Contains(upper, "OFXHEADER") ||
		strings.Contains(upper, "<?OFX") ||
		strings.Contains(upper, "<OFX>") ||
		strings.Contains(upper, "<QFXHEADER")
	if !banner {
		return false, 0
	}
	if bytes.Contains(bytes.ToUpper(content), []byte("<STMTTRN>")) {
		return true, 1.0
	}
	return true, 0.95
}

// Parse extracts transactions from OFX/QFX content.
func (p *Parser) Parse(ctx context.Context, content []byte, accountHint string) (*parser.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	processed := preprocess(string(content))

	resp, err := ofxgo.ParseResponse(strings.NewReader(processed))
	if err == nil {
		if res, ok := p.fromResponse(resp, accountHint); ok {
			return res, nil
		}
		err = fmt.Errorf("no bank or credit card statements")
	}

	p.logger.Debug("ofxgo could not read file, scanning transaction blocks", "error", err)
	res, found := p.scanBlocks(processed, accountHint)
	if !found {
		return nil, fmt.Errorf("%w: no OFX transactions found: %v", domain.ErrParse, err)
	}
	return res, nil
}

// preprocess fixes common formatting issues in OFX files.
func preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n\ufeff")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// fromResponse collects transactions from every bank, credit-card and
// investment cash statement. ok is false when the response holds none of
// them.
func (p *Parser) fromResponse(resp *ofxgo.Response, accountHint string) (*parser.Result, bool) {
	res := parser.NewResult(FormatOFX)
	statements := 0
	ordinal := 0

	add := func(list []ofxgo.Transaction, acctID string) {
		account := fallbackAccount(accountHint, acctID)
		for _, txn := range list {
			ordinal++
			res.Add(p.convert(ordinal, txn, account))
		}
	}

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			statements++
			if stmt.BankTranList != nil {
				add(stmt.BankTranList.Transactions, stmt.BankAcctFrom.AcctID.String())
			}
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			statements++
			if stmt.BankTranList != nil {
				add(stmt.BankTranList.Transactions, stmt.CCAcctFrom.AcctID.String())
			}
		}
	}
	for _, msg := range resp.InvStmt {
		if stmt, ok := msg.(*ofxgo.InvStatementResponse); ok {
			statements++
			if stmt.InvTranList == nil {
				continue
			}
			for _, bank := range stmt.InvTranList.BankTransactions {
				add(bank.Transactions, stmt.InvAcctFrom.AcctID.String())
			}
			if n := len(stmt.InvTranList.InvTransactions); n > 0 {
				p.logger.Info("Skipping security transactions", "count", n)
			}
		}
	}

	return res, statements > 0
}

func (p *Parser) convert(ordinal int, txn ofxgo.Transaction, account string) parser.RowOutcome {
	date := txn.DtPosted.Time
	if date.IsZero() && txn.DtUser != nil {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return parser.Reject(ordinal, parser.SkipMissingValue, "date")
	}

	description := strings.TrimSpace(txn.Name.String())
	if description == "" && txn.Payee != nil {
		description = strings.TrimSpace(txn.Payee.Name.String())
	}
	if description == "" {
		description = strings.TrimSpace(txn.Memo.String())
	}
	if description == "" {
		return parser.Reject(ordinal, parser.SkipMissingValue, "description")
	}

	amount := decimal.NewFromBigRat(&txn.TrnAmt.Rat, 2)
	return p.build(ordinal, date, amount, html.UnescapeString(description), account, txn.FiTID.String())
}

func (p *Parser) build(ordinal int, date time.Time, amount decimal.Decimal, description, account, fitID string) parser.RowOutcome {
	out, err := domain.NewParsedTransaction(date, amount, description, account)
	if err != nil {
		return parser.Reject(ordinal, parser.SkipInvalidRecord, err.Error())
	}
	out.ReferenceID = strings.TrimSpace(fitID)
	if p.merchant != nil {
		out.Merchant = p.merchant.Clean(description)
	}
	return parser.Accept(out)
}

// scanBlocks reads <STMTTRN> blocks directly. SGML files may omit closing
// tags, so a block ends at the next block or the end of the list.
func (p *Parser) scanBlocks(content, accountHint string) (*parser.Result, bool) {
	upper := strings.ToUpper(content)
	const open = "<STMTTRN>"

	var starts []int
	for i := 0; ; {
		j := strings.Index(upper[i:], open)
		if j < 0 {
			break
		}
		starts = append(starts, i+j)
		i += j + len(open)
	}
	if len(starts) == 0 {
		return nil, false
	}

	acctID := ""
	if m := acctIDRegex.FindStringSubmatch(content); m != nil {
		acctID = strings.TrimSpace(m[1])
	}
	account := fallbackAccount(accountHint, acctID)

	res := parser.NewResult(FormatOFX)
	for n, start := range starts {
		end := len(content)
		if n+1 < len(starts) {
			end = starts[n+1]
		}
		body := upper[start:end]
		for _, closer := range []string{"</STMTTRN>", "</BANKTRANLIST>"} {
			if k := strings.Index(body, closer); k >= 0 {
				end = start + k
				body = upper[start:end]
			}
		}

		line := strings.Count(content[:start], "\n") + 1
		res.Add(p.evaluateBlock(line, content[start:end], account))
	}
	return res, true
}

func (p *Parser) evaluateBlock(line int, block, account string) parser.RowOutcome {
	fields := make(map[string]string)
	for _, m := range fieldRegex.FindAllStringSubmatch(block, -1) {
		tag := strings.ToUpper(m[1])
		if _, seen := fields[tag]; !seen {
			fields[tag] = html.UnescapeString(strings.TrimSpace(m[2]))
		}
	}

	dateText := fields["DTPOSTED"]
	if dateText == "" {
		dateText = fields["DTUSER"]
	}
	description := fields["NAME"]
	if description == "" {
		description = fields["MEMO"]
	}

	switch {
	case dateText == "":
		return parser.Reject(line, parser.SkipMissingValue, "date")
	case fields["TRNAMT"] == "":
		return parser.Reject(line, parser.SkipMissingValue, "amount")
	case description == "":
		return parser.Reject(line, parser.SkipMissingValue, "description")
	}

	date, err := ParseDate(dateText)
	if err != nil {
		return parser.Reject(line, parser.SkipInvalidDate, err.Error())
	}
	amount, err := ofxAmounts.ParseAmount(fields["TRNAMT"])
	if err != nil {
		return parser.Reject(line, parser.SkipInvalidAmount, err.Error())
	}
	return p.build(line, date, amount, description, account, fields["FITID"])
}

// ParseDate reads the calendar date from an OFX timestamp such as
// 20250115120000.000[-5:EST]. Only the leading YYYYMMDD matters.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < 8 {
		return time.Time{}, fmt.Errorf("%w: %q", normalize.ErrInvalidDate, s)
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", normalize.ErrInvalidDate, s)
	}
	return t, nil
}

func fallbackAccount(hint, acctID string) string {
	if h := strings.TrimSpace(hint); h != "" {
		return h
	}
	if a := strings.TrimSpace(acctID); a != "" {
		return a
	}
	return FormatOFX
}

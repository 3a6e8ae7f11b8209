package custom

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerlessConfig() *Config {
	return &Config{
		Name: "credit-union",
		Config: Settings{
			ColumnMapping: parser.ColumnMapping{
				Date:        parser.Indexed(0),
				Description: parser.Indexed(1),
				Amount:      parser.Indexed(2),
			},
			DateConfig: normalize.DateConfig{Formats: []string{"MM/DD/YYYY"}},
			RowSkip:    RowSkip{Leading: 2},
		},
	}
}

func TestHeaderlessPreambleRoundTrip(t *testing.T) {
	content := "Credit Union Export\nGenerated 02/01/2025\n" +
		"01/03/2025,GROCERY OUTLET,-45.10\n" +
		"01/04/2025,DIRECT DEPOSIT,2000.00\n"

	p, err := New(headerlessConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "custom:credit-union", p.Name())

	res, err := p.Parse(context.Background(), []byte(content), "")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	assert.Empty(t, res.Skipped)

	first := res.Transactions[0]
	assert.Equal(t, "2025-01-03", first.DateString())
	assert.Equal(t, "GROCERY OUTLET", first.Description)
	assert.Equal(t, "-45.10", first.Amount.StringFixed(2))
	assert.Equal(t, "credit-union", first.AccountSource)

	second := res.Transactions[1]
	assert.Equal(t, "2025-01-04", second.DateString())
	assert.Equal(t, "2000.00", second.Amount.StringFixed(2))
}

func TestCanParseNeverClaims(t *testing.T) {
	p, err := New(headerlessConfig(), nil)
	require.NoError(t, err)
	ok, confidence := p.CanParse([]byte("01/03/2025,GROCERY OUTLET,-45.10\n"))
	assert.False(t, ok)
	assert.Zero(t, confidence)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New(&Config{Name: " "}, nil)
	assert.Error(t, err)

	_, err = New(&Config{Name: "x", Config: Settings{ColumnMapping: parser.ColumnMapping{Date: parser.Indexed(0)}}}, nil)
	assert.Error(t, err)
}

func TestNamedColumnsWithHeader(t *testing.T) {
	cfg := &Config{
		Name: "euro-bank",
		Config: Settings{
			ColumnMapping: parser.ColumnMapping{
				Date:        parser.Named("Buchungstag"),
				Description: parser.Named("Verwendungszweck"),
				Amount:      parser.Named("Betrag"),
			},
			AmountConfig: normalize.AmountConfig{DecimalSeparator: ","},
			DateConfig:   normalize.DateConfig{Formats: []string{"DD.MM.YYYY"}},
			RowSkip:      RowSkip{HasHeader: true, Trailing: 1},
			Delimiter:    ";",
		},
	}
	content := "Buchungstag;Verwendungszweck;Betrag\n" +
		"15.01.2025;Miete;-1.200,00\n" +
		"Kontostand;;3.000,00\n"

	p, err := New(cfg, nil)
	require.NoError(t, err)
	res, err := p.Parse(context.Background(), []byte(content), "giro")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "-1200.00", res.Transactions[0].Amount.StringFixed(2))
	assert.Equal(t, "giro", res.Transactions[0].AccountSource)

	require.NoError(t, cfg.SignFrom(context.Background(), []byte(content)))
	assert.Equal(t, HeaderSignature([]string{"buchungstag", " Verwendungszweck ", "BETRAG"}), cfg.HeaderSignature)
}

func TestParseMissingNamedColumn(t *testing.T) {
	cfg := &Config{
		Name: "broken",
		Config: Settings{
			ColumnMapping: parser.ColumnMapping{
				Date:        parser.Named("Date"),
				Description: parser.Named("Memo"),
				Amount:      parser.Named("Amount"),
			},
			RowSkip: RowSkip{HasHeader: true},
		},
	}
	p, err := New(cfg, nil)
	require.NoError(t, err)
	_, err = p.Parse(context.Background(), []byte("Date,Description,Amount\n01/01/2025,x,1\n"), "")
	assert.True(t, errors.Is(err, domain.ErrParse))
}

func TestHeaderSignature(t *testing.T) {
	a := HeaderSignature([]string{"Date", "Description", "Amount"})
	b := HeaderSignature([]string{" date", "\"DESCRIPTION\"", "amount "})
	c := HeaderSignature([]string{"Date", "Amount", "Description"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	sigs := CandidateSignatures([]byte("Report\n\nDate,Description,Amount\n01/01/2025,x,1\n"), 2)
	require.Len(t, sigs, 3, "one-column rows split the same under every delimiter")
	assert.Equal(t, HeaderSignature([]string{"Report"}), sigs[0])
	assert.Equal(t, a, sigs[1])

	semi := CandidateSignatures([]byte("Buchungstag;Verwendungszweck;Betrag\n"), 1)
	assert.Contains(t, semi, HeaderSignature([]string{"Buchungstag", "Verwendungszweck", "Betrag"}))
}

func TestConfigJSONShape(t *testing.T) {
	data := []byte(`{
		"name": "credit-union",
		"description": "Local credit union export",
		"config": {
			"columnMapping": {"date": 0, "description": 1, "amount": {"index": 2}},
			"amountConfig": {"convention": "parentheses"},
			"dateConfig": {"formats": ["MM/DD/YYYY"]},
			"rowSkip": {"leading": 2, "trailing": 0, "hasHeader": false}
		},
		"headerSignature": "",
		"useCount": 3
	}`)

	var cfg Config
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, parser.Indexed(2), cfg.Config.ColumnMapping.Amount)
	assert.Equal(t, 2, cfg.Config.RowSkip.Leading)
	assert.Equal(t, 3, cfg.UseCount)
	assert.Equal(t, normalize.ConventionParentheses, cfg.Config.AmountConfig.Convention)
}

func TestLoadConfigs(t *testing.T) {
	data := []byte(`
formats:
  - name: credit-union
    config:
      columnMapping:
        date: 0
        description: 1
        amount: 2
      dateConfig:
        formats: ["MM/DD/YYYY"]
      rowSkip:
        leading: 2
  - name: euro-bank
    config:
      columnMapping:
        date: Buchungstag
        description: Verwendungszweck
        amount: Betrag
      rowSkip:
        hasHeader: true
`)
	configs, err := LoadConfigs(data)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, parser.Indexed(0), configs[0].Config.ColumnMapping.Date)
	assert.Equal(t, parser.Named("Betrag"), configs[1].Config.ColumnMapping.Amount)

	_, err = LoadConfigs([]byte("formats:\n  - name: a\n  - name: a\n"))
	assert.Error(t, err)
	_, err = LoadConfigs([]byte("formats:\n  - description: nameless\n"))
	assert.Error(t, err)
}

func TestNameFromKey(t *testing.T) {
	name, ok := NameFromKey("custom:credit-union")
	assert.True(t, ok)
	assert.Equal(t, "credit-union", name)

	_, ok = NameFromKey("amex")
	assert.False(t, ok)
	_, ok = NameFromKey("custom:")
	assert.False(t, ok)
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockParser implements parser.Parser for testing
type mockParser struct {
	name  string
	score float64
}

func (m *mockParser) Name() string { return m.name }

func (m *mockParser) CanParse(content []byte) (bool, float64) {
	return m.score >= 0.9, m.score
}

func (m *mockParser) Parse(ctx context.Context, content []byte, accountHint string) (*parser.Result, error) {
	return parser.NewResult(m.name), nil
}

type mapConfigs map[string]*custom.Config

func (m mapConfigs) GetConfig(ctx context.Context, name string) (*custom.Config, error) {
	cfg, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, name)
	}
	return cfg, nil
}

const (
	bofaHeader = "Date,Description,Amount,Running Bal.\n01/02/2025,COFFEE,-4.50,995.50\n"
	amexHeader = "Date,Description,Card Member,Account #,Amount\n01/05/2025,DELTA,JANE DOE,-41007,412.30\n"
)

func TestNew(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)
	assert.Equal(t, []string{"bofa-checking", "bofa-credit", "amex", "qif", "ofx"}, reg.ListParsers())
}

func TestRegister(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(&mockParser{name: "amex"}))
	require.NoError(t, reg.Register(&mockParser{name: "mock"}))
	assert.Contains(t, reg.ListParsers(), "mock")
}

func TestDetect(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		format  string
	}{
		{"bofa checking", bofaHeader, "bofa-checking"},
		{"amex", amexHeader, "amex"},
		{"bofa credit", "Posted Date,Reference Number,Payee,Address,Amount\n", "bofa-credit"},
		{"qif", "!Type:Bank\nD01/01/2025\nT-1\nPX\n^\n", "qif"},
		{"ofx", "OFXHEADER:100\n<OFX>\n<STMTTRN>\n", "ofx"},
		{"unrecognized csv", "when,what,how much\n", FormatUnknown},
		{"empty", "", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := reg.Detect([]byte(tt.content))
			assert.Equal(t, tt.format, d.Format)
			if tt.format == FormatUnknown {
				assert.False(t, d.Known())
				assert.Less(t, d.Confidence, DefaultMinConfidence)
			} else {
				assert.True(t, d.Known())
				assert.GreaterOrEqual(t, d.Confidence, DefaultMinConfidence)
			}
		})
	}
}

func TestDetectTiesGoToFirstRegistered(t *testing.T) {
	reg := &Registry{byName: map[string]parser.Parser{}, minConfidence: DefaultMinConfidence}
	require.NoError(t, reg.Register(&mockParser{name: "specific", score: 0.8}))
	require.NoError(t, reg.Register(&mockParser{name: "generic", score: 0.8}))
	require.NoError(t, reg.Register(&mockParser{name: "weak", score: 0.3}))

	assert.Equal(t, "specific", reg.Detect(nil).Format)
}

func TestDetectMinConfidence(t *testing.T) {
	reg, err := New(WithMinConfidence(0.95))
	require.NoError(t, err)
	require.NoError(t, reg.Register(&mockParser{name: "partial", score: 0.9}))

	d := reg.Detect([]byte("anything"))
	assert.Equal(t, FormatUnknown, d.Format)
	assert.InDelta(t, 0.9, d.Confidence, 1e-9)
}

func TestGet(t *testing.T) {
	configs := mapConfigs{
		"credit-union": {
			Name: "credit-union",
			Config: custom.Settings{
				ColumnMapping: parser.ColumnMapping{
					Date:        parser.Indexed(0),
					Description: parser.Indexed(1),
					Amount:      parser.Indexed(2),
				},
			},
		},
	}
	reg, err := New(WithConfigSource(configs))
	require.NoError(t, err)
	ctx := context.Background()

	p, err := reg.Get(ctx, "amex")
	require.NoError(t, err)
	assert.Equal(t, "amex", p.Name())

	p, err = reg.Get(ctx, "custom:credit-union")
	require.NoError(t, err)
	assert.Equal(t, "custom:credit-union", p.Name())

	_, err = reg.Get(ctx, "custom:missing")
	assert.True(t, errors.Is(err, domain.ErrConfigNotFound))

	_, err = reg.Get(ctx, "chase")
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))

	bare, err := New()
	require.NoError(t, err)
	_, err = bare.Get(ctx, "custom:credit-union")
	assert.True(t, errors.Is(err, domain.ErrConfigNotFound))
}

func TestParse(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	res, err := reg.Parse(ctx, FormatAuto, []byte(amexHeader), "")
	require.NoError(t, err)
	assert.Equal(t, "amex", res.Format)
	require.Len(t, res.Transactions, 1)

	res, err = reg.Parse(ctx, "", []byte(bofaHeader), "checking")
	require.NoError(t, err)
	assert.Equal(t, "bofa-checking", res.Format)

	_, err = reg.Parse(ctx, "", []byte("when,what,how much\n"), "")
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))

	_, err = reg.Parse(ctx, "bofa-checking", []byte(amexHeader), "")
	assert.True(t, errors.Is(err, domain.ErrParse), "explicit key skips detection")
}

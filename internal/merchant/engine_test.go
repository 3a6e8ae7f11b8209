package merchant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedRulesClean(t *testing.T) {
	engine, err := LoadEmbedded()
	require.NoError(t, err)

	tests := []struct {
		input    string
		expected string
	}{
		{"CHECKCARD 0115 STARBUCKS STORE 12345", "Starbucks Store"},
		{"SQ *BLUE BOTTLE COFFEE", "Blue Bottle Coffee"},
		{"WHOLE FOODS MARKET AUSTIN TX", "Whole Foods Market Austin"},
		{"TARGET        00012345 MINNEAPOLIS MN", "Target"},
		{"TST* JOES PIZZA", "Joes Pizza"},
		{"SHELL OIL 57444  XXXX1234", "Shell Oil"},
		{"NETFLIX", "Netflix"},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, engine.Clean(tt.input))
		})
	}
}

func TestCleanFallsBackToDescription(t *testing.T) {
	engine, err := NewEngine([]byte(`
rules:
  - name: "everything"
    pattern: '.*'
    priority: 1
`))
	require.NoError(t, err)
	assert.Equal(t, "ATM WITHDRAWAL", engine.Clean(" ATM  WITHDRAWAL "), "raw text is collapsed but not re-cased")
}

func TestNewEngineValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "rules: [unclosed"},
		{"empty name", "rules:\n  - pattern: 'x'\n    priority: 1\n"},
		{"bad priority", "rules:\n  - name: a\n    pattern: 'x'\n    priority: 1000\n"},
		{"empty pattern", "rules:\n  - name: a\n    pattern: ' '\n    priority: 1\n"},
		{"bad regex", "rules:\n  - name: a\n    pattern: '('\n    priority: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestRulesSortedByPriority(t *testing.T) {
	engine, err := NewEngine([]byte(`
rules:
  - name: low
    pattern: 'a'
    priority: 1
  - name: high
    pattern: 'b'
    priority: 9
  - name: low-second
    pattern: 'c'
    priority: 1
`))
	require.NoError(t, err)

	var names []string
	for _, r := range engine.Rules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"high", "low", "low-second"}, names)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: strip-inc\n    pattern: '\\s+INC$'\n    priority: 5\n"), 0o644))

	engine, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Acme", engine.Clean("ACME INC"))

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

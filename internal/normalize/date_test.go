package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToLayout(t *testing.T) {
	tests := map[string]string{
		"MM/DD/YYYY":  "01/02/2006",
		"YYYY-MM-DD":  "2006-01-02",
		"DD.MM.YY":    "02.01.06",
		"MMM D, YYYY": "Jan 2, 2006",
		"M/D/YYYY":    "1/2/2006",
		"dd/mm/yyyy":  "02/01/2006",
		"Jan 2 2006":  "Jan 2 2006",
		"20060102":    "20060102",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToLayout(in), in)
	}
}

func TestDateConfigParse(t *testing.T) {
	tests := []struct {
		name     string
		config   DateConfig
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"us default", DateConfig{}, "01/15/2025", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), false},
		{"iso default", DateConfig{}, "2025-01-15", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), false},
		{"single digits", DateConfig{Formats: []string{"M/D/YYYY"}}, "1/5/2025", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), false},
		{"european", DateConfig{Formats: []string{"DD.MM.YY"}}, "31.12.24", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"month name", DateConfig{Formats: []string{"MMM D, YYYY"}}, "Mar 7, 2025", time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), false},
		{"first match wins", DateConfig{Formats: []string{"DD/MM/YYYY", "MM/DD/YYYY"}}, "02/03/2025", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), false},
		{"falls through", DateConfig{Formats: []string{"YYYY-MM-DD", "MM/DD/YYYY"}}, "12/31/2024", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"no match", DateConfig{Formats: []string{"YYYY-MM-DD"}}, "12/31/2024", time.Time{}, true},
		{"empty", DateConfig{}, "", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.config.Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDate))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

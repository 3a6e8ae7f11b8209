package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForHash(t *testing.T) {
	assert.Equal(t, "amazon.com", ForHash("  Amazon.com "))
	assert.Equal(t, ForHash("amazon.com"), ForHash("Amazon.com "))
}

func TestHeaderToken(t *testing.T) {
	assert.Equal(t, "running bal.", HeaderToken(" Running   Bal. "))
	assert.Equal(t, "date", HeaderToken("\ufeff\"Date\""))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"Credit Union CSV", "credit-union-csv", false},
		{"Crédit Agricole", "credit-agricole", false},
		{"  Wells Fargo & Co. ", "wells-fargo-co", false},
		{"", "", true},
		{"!!!", "", true},
	}
	for _, tt := range tests {
		got, err := Slugify(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got)
	}
}

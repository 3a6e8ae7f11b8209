package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ForHash lower-cases and trims a field for content hashing.
func ForHash(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CollapseSpace trims s and folds internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// HeaderToken normalizes a CSV header cell for comparison.
func HeaderToken(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	return strings.ToLower(CollapseSpace(s))
}

// FoldDiacritics strips combining marks ("Café" becomes "Cafe").
func FoldDiacritics(s string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return "", fmt.Errorf("failed to fold %q: %w", s, err)
	}
	return folded, nil
}

// Slugify converts a name into a lowercase hyphenated key.
// Examples: "Credit Union CSV" → "credit-union-csv", "Crédit Agricole" → "credit-agricole"
func Slugify(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name cannot be empty")
	}

	folded, err := FoldDiacritics(name)
	if err != nil {
		return "", err
	}

	slug := nonAlnum.ReplaceAllString(strings.ToLower(folded), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "", fmt.Errorf("name %q contains no alphanumeric characters", name)
	}
	return slug, nil
}

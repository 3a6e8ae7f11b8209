package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDate is returned when no configured pattern matches.
var ErrInvalidDate = errors.New("invalid date")

// DefaultDateFormats are tried when a DateConfig lists none.
var DefaultDateFormats = []string{"MM/DD/YYYY", "YYYY-MM-DD", "MM/DD/YY"}

var dateTokens = []struct {
	token  string
	layout string
}{
	{"YYYY", "2006"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"YY", "06"},
	{"MM", "01"},
	{"DD", "02"},
	{"M", "1"},
	{"D", "2"},
}

// DateConfig lists accepted date patterns in priority order.
type DateConfig struct {
	Formats []string `json:"formats,omitempty" yaml:"formats,omitempty"`
}

// Layouts returns the Go layouts for the configured formats.
func (c DateConfig) Layouts() []string {
	formats := c.Formats
	if len(formats) == 0 {
		formats = DefaultDateFormats
	}
	layouts := make([]string, 0, len(formats))
	for _, f := range formats {
		layouts = append(layouts, ToLayout(f))
	}
	return layouts
}

// Validate rejects empty patterns.
func (c DateConfig) Validate() error {
	for i, f := range c.Formats {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("date format %d is empty", i)
		}
	}
	return nil
}

// Parse tries each pattern in order; the first success wins. The result is
// midnight UTC of the parsed calendar day.
func (c DateConfig) Parse(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	for _, layout := range c.Layouts() {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}

// ToLayout converts a token pattern such as MM/DD/YYYY into a Go layout.
// Patterns that already are Go layouts pass through.
func ToLayout(format string) string {
	if strings.Contains(format, "2006") || strings.Contains(format, "Jan") {
		return format
	}
	upper := strings.ToUpper(format)

	var b strings.Builder
	for i := 0; i < len(upper); {
		matched := false
		for _, t := range dateTokens {
			if strings.HasPrefix(upper[i:], t.token) {
				b.WriteString(t.layout)
				i += len(t.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(upper[i])
			i++
		}
	}
	return b.String()
}

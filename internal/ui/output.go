// Package ui renders colored progress and summary lines for the CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

const lineWidth = 60

var (
	// Out is where status lines go. Reports and JSON are written to stdout
	// separately, so this defaults to stderr.
	Out io.Writer = os.Stderr

	headerColor  = color.New(color.FgCyan, color.Bold)
	stepColor    = color.New(color.FgBlue)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.Faint)
)

// Header prints a centered title between two rules.
func Header(text string) {
	rule := strings.Repeat("=", lineWidth)
	headerColor.Fprintln(Out, rule)
	headerColor.Fprintln(Out, center(text, lineWidth))
	headerColor.Fprintln(Out, rule)
}

// Step prints a numbered step such as "[1/3] Scanning".
func Step(n, total int, text string) {
	stepColor.Fprintf(Out, "[%d/%d] ", n, total)
	fmt.Fprintln(Out, text)
}

func Success(text string) {
	successColor.Fprint(Out, "✓ ")
	fmt.Fprintln(Out, text)
}

func Info(text string) {
	dimColor.Fprint(Out, "• ")
	fmt.Fprintln(Out, text)
}

func Warning(text string) {
	warningColor.Fprint(Out, "! ")
	fmt.Fprintln(Out, text)
}

func Error(text string) {
	errorColor.Fprint(Out, "✗ ")
	fmt.Fprintln(Out, text)
}

// BlueText returns text colored blue, for inline use.
func BlueText(text string) string {
	return color.BlueString(text)
}

func YellowText(text string) string {
	return color.YellowString(text)
}

// KeyValue prints an aligned "key: value" line.
func KeyValue(key string, value interface{}) {
	fmt.Fprintf(Out, "  %-24s %v\n", key+":", value)
}

func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	return strings.Repeat(" ", (width-len(text))/2) + text
}

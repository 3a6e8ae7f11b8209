// Package output writes batch import reports as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/pipeline"
)

// Report is the JSON document written for a preview or commit.
type Report struct {
	pipeline.Response
	GeneratedAt time.Time `json:"generated_at"`
	// Transactions holds the forwarded transactions per file, keyed by
	// filename, when requested.
	Transactions map[string][]*domain.ParsedTransaction `json:"transactions,omitempty"`
}

// WriteOptions configures how the report is written
type WriteOptions struct {
	FilePath            string // Output path (empty = stdout)
	IncludeTransactions bool
}

// NewReport builds a report from a batch result.
func NewReport(res *pipeline.BatchResult, includeTransactions bool, now time.Time) (*Report, error) {
	if res == nil {
		return nil, fmt.Errorf("batch result cannot be nil")
	}
	r := &Report{Response: res.Response(), GeneratedAt: now.UTC()}
	if includeTransactions {
		r.Transactions = make(map[string][]*domain.ParsedTransaction)
		for _, f := range res.Files {
			if f.Err == nil {
				r.Transactions[f.Filename] = f.Forwarded
			}
		}
	}
	return r, nil
}

// WriteReport serializes the report to JSON with 2-space indentation
func WriteReport(report *Report, w io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report as JSON: %w", err)
	}
	return nil
}

// WriteReportToFile writes the report to a file or stdout based on options
func WriteReportToFile(res *pipeline.BatchResult, opts WriteOptions) (err error) {
	report, err := NewReport(res, opts.IncludeTransactions, time.Now())
	if err != nil {
		return err
	}

	if opts.FilePath == "" {
		return WriteReport(report, os.Stdout)
	}

	f, err := os.Create(opts.FilePath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", opts.FilePath, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output file %s: %w", opts.FilePath, closeErr)
		}
	}()

	if err = WriteReport(report, f); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", opts.FilePath, err)
	}
	return nil
}

// LoadReport reads a report written by WriteReportToFile
func LoadReport(filePath string) (*Report, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	f, err := os.Open(filePath)
	if err != nil {
		// Unwrapped so callers can check os.IsNotExist
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close %s: %v\n", filePath, closeErr)
		}
	}()

	var report Report
	if err := json.NewDecoder(f).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode report JSON: %w", err)
	}
	return &report, nil
}

// WriteSessions writes import sessions as a JSON array.
func WriteSessions(sessions []*domain.ImportSession, w io.Writer) error {
	if sessions == nil {
		sessions = []*domain.ImportSession{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(sessions); err != nil {
		return fmt.Errorf("failed to encode sessions as JSON: %w", err)
	}
	return nil
}

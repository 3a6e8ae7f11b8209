package pipeline

import (
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

// FileResult is the outcome of one file in a batch. Err is set, as a
// *domain.ImportError, when the file failed; the other fields are then
// partially filled.
type FileResult struct {
	Filename      string
	Format        string
	Confidence    float64
	AccountSource string
	// Items holds every parsed transaction with its classification.
	Items []dedup.Classified
	// Forwarded are the transactions handed (or, in a preview, that would
	// be handed) to the sink.
	Forwarded  []*domain.ParsedTransaction
	Stats      dedup.FileStats
	Skipped    []parser.RowSkip
	SkipCounts map[parser.SkipReason]int
	Session    *domain.ImportSession
	Err        error

	// customConfig names the saved custom format used, if any.
	customConfig string
}

// Failed reports whether the file failed.
func (r *FileResult) Failed() bool {
	return r.Err != nil
}

// BatchResult is the outcome of a preview or commit.
type BatchResult struct {
	Committed bool
	Files     []*FileResult
	Batch     *domain.BatchImportSession
}

// ImportedFiles counts files that did not fail.
func (b *BatchResult) ImportedFiles() int {
	n := 0
	for _, f := range b.Files {
		if !f.Failed() {
			n++
		}
	}
	return n
}

// Errors returns the file-level failures in submission order.
func (b *BatchResult) Errors() []error {
	var errs []error
	for _, f := range b.Files {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// FileResponse is the per-file part of the batch response contract.
type FileResponse struct {
	Filename                string                    `json:"filename"`
	DetectedFormat          string                    `json:"detected_format"`
	Confidence              float64                   `json:"confidence,omitempty"`
	AccountSource           string                    `json:"account_source,omitempty"`
	TransactionCount        int                       `json:"transaction_count"`
	NewCount                int                       `json:"new_count"`
	DuplicateCount          int                       `json:"duplicate_count"`
	CrossFileDuplicateCount int                       `json:"cross_file_duplicate_count"`
	CrossAccountCandidates  int                       `json:"cross_account_candidates,omitempty"`
	TotalAmount             string                    `json:"total_amount"`
	DateStart               string                    `json:"date_start,omitempty"`
	DateEnd                 string                    `json:"date_end,omitempty"`
	SkippedRows             map[parser.SkipReason]int `json:"skipped_rows,omitempty"`
	SessionID               string                    `json:"session_id,omitempty"`
	Error                   string                    `json:"error,omitempty"`
	ErrorCode               string                    `json:"error_code,omitempty"`
}

// Response is the batch response contract.
type Response struct {
	Files             []FileResponse `json:"files"`
	TotalFiles        int            `json:"total_files"`
	ImportedFiles     int            `json:"imported_files"`
	TotalTransactions int            `json:"total_transactions"`
	TotalDuplicates   int            `json:"total_duplicates"`
	TotalAmount       string         `json:"total_amount"`
	BatchID           string         `json:"batch_id,omitempty"`
	Committed         bool           `json:"committed"`
}

// Response renders the result. Batch totals are sums of the per-file
// figures; total_duplicates counts in-file, stored and cross-file
// duplicates.
func (b *BatchResult) Response() Response {
	resp := Response{
		Files:      make([]FileResponse, 0, len(b.Files)),
		TotalFiles: len(b.Files),
		Committed:  b.Committed,
	}
	total := decimal.Zero
	for _, f := range b.Files {
		fr := FileResponse{
			Filename:                f.Filename,
			DetectedFormat:          f.Format,
			Confidence:              f.Confidence,
			AccountSource:           f.AccountSource,
			TransactionCount:        f.Stats.TransactionCount,
			NewCount:                f.Stats.NewCount,
			DuplicateCount:          f.Stats.DuplicateCount,
			CrossFileDuplicateCount: f.Stats.CrossFileDuplicateCount,
			CrossAccountCandidates:  f.Stats.CrossAccountCandidates,
			TotalAmount:             f.Stats.TotalAmount.StringFixed(2),
			SkippedRows:             f.SkipCounts,
		}
		if !f.Stats.DateStart.IsZero() {
			fr.DateStart = f.Stats.DateStart.Format(domain.DateLayout)
			fr.DateEnd = f.Stats.DateEnd.Format(domain.DateLayout)
		}
		if f.Session != nil {
			fr.SessionID = f.Session.ID
		}
		if f.Err != nil {
			fr.Error = f.Err.Error()
			fr.ErrorCode = domain.ErrorCode(f.Err)
		} else {
			resp.ImportedFiles++
		}

		resp.TotalTransactions += fr.TransactionCount
		resp.TotalDuplicates += fr.DuplicateCount + fr.CrossFileDuplicateCount
		total = total.Add(f.Stats.TotalAmount)
		resp.Files = append(resp.Files, fr)
	}
	resp.TotalAmount = total.StringFixed(2)
	if b.Batch != nil {
		resp.BatchID = b.Batch.ID
	}
	return resp
}

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Session statuses
const (
	SessionCompleted  = "completed"
	SessionRolledBack = "rolled_back"
)

// Batch statuses
const (
	BatchInProgress = "in_progress"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

// ImportSession is the audit record of one committed file import.
type ImportSession struct {
	ID                      string          `json:"id"`
	BatchID                 string          `json:"batchId,omitempty"`
	Filename                string          `json:"filename"`
	Format                  string          `json:"format"`
	AccountSource           string          `json:"accountSource"`
	TransactionCount        int             `json:"transactionCount"`
	DuplicateCount          int             `json:"duplicateCount"`
	CrossFileDuplicateCount int             `json:"crossFileDuplicateCount"`
	TotalAmount             decimal.Decimal `json:"totalAmount"`
	DateStart               string          `json:"dateStart,omitempty"`
	DateEnd                 string          `json:"dateEnd,omitempty"`
	Status                  string          `json:"status"`
	CreatedAt               time.Time       `json:"createdAt"`
	RolledBackAt            *time.Time      `json:"rolledBackAt,omitempty"`
}

// NewImportSession creates a completed session with a fresh id.
func NewImportSession(filename, format, accountSource string) (*ImportSession, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}
	if format == "" {
		return nil, fmt.Errorf("format cannot be empty")
	}

	return &ImportSession{
		ID:            uuid.NewString(),
		Filename:      filename,
		Format:        format,
		AccountSource: accountSource,
		TotalAmount:   decimal.Zero,
		Status:        SessionCompleted,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Rollback marks the session rolled back. Rolling back twice is a no-op and
// reports false.
func (s *ImportSession) Rollback(at time.Time) bool {
	if s.Status == SessionRolledBack {
		return false
	}
	s.Status = SessionRolledBack
	at = at.UTC()
	s.RolledBackAt = &at
	return true
}

// BatchImportSession links the sessions created by one multi-file commit.
type BatchImportSession struct {
	ID                string     `json:"id"`
	TotalFiles        int        `json:"totalFiles"`
	ImportedFiles     int        `json:"importedFiles"`
	TotalTransactions int        `json:"totalTransactions"`
	TotalDuplicates   int        `json:"totalDuplicates"`
	Status            string     `json:"status"`
	SessionIDs        []string   `json:"sessionIds"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// NewBatchImportSession starts an in-progress batch for totalFiles files.
func NewBatchImportSession(totalFiles int) *BatchImportSession {
	return &BatchImportSession{
		ID:         uuid.NewString(),
		TotalFiles: totalFiles,
		Status:     BatchInProgress,
		SessionIDs: []string{},
		CreatedAt:  time.Now().UTC(),
	}
}

// Attach records a committed file session against the batch.
func (b *BatchImportSession) Attach(s *ImportSession) {
	s.BatchID = b.ID
	b.SessionIDs = append(b.SessionIDs, s.ID)
	b.ImportedFiles++
	b.TotalTransactions += s.TransactionCount
	b.TotalDuplicates += s.DuplicateCount + s.CrossFileDuplicateCount
}

// Finalize closes the batch. A batch that imported nothing is failed.
func (b *BatchImportSession) Finalize(at time.Time) {
	at = at.UTC()
	b.CompletedAt = &at
	if b.ImportedFiles == 0 && b.TotalFiles > 0 {
		b.Status = BatchFailed
		return
	}
	b.Status = BatchCompleted
}

package firestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
)

// Transaction is an imported transaction in Firestore. Amounts are stored
// as decimal strings.
type Transaction struct {
	ID                   string    `firestore:"id"`
	SessionID            string    `firestore:"sessionId"`
	Date                 string    `firestore:"date"`
	Amount               string    `firestore:"amount"`
	Description          string    `firestore:"description"`
	Merchant             string    `firestore:"merchant,omitempty"`
	AccountSource        string    `firestore:"accountSource"`
	CardMember           string    `firestore:"cardMember,omitempty"`
	ReferenceID          string    `firestore:"referenceId,omitempty"`
	Category             string    `firestore:"category,omitempty"`
	ContentHash          string    `firestore:"contentHash"`
	ContentHashNoAccount string    `firestore:"contentHashNoAccount"`
	CreatedAt            time.Time `firestore:"createdAt"`
}

// Validate checks if the Transaction has valid data
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	if t.SessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if _, err := time.Parse(domain.DateLayout, t.Date); err != nil {
		return fmt.Errorf("invalid date format (expected YYYY-MM-DD): %w", err)
	}
	if _, err := decimal.NewFromString(t.Amount); err != nil {
		return fmt.Errorf("invalid amount %q: %w", t.Amount, err)
	}
	if t.ContentHash == "" {
		return fmt.Errorf("content hash is required")
	}
	return nil
}

// TransactionID is the document id of the i-th transaction of a session.
func TransactionID(sessionID string, i int) string {
	return fmt.Sprintf("%s-%05d", sessionID, i)
}

func toTransaction(sessionID string, i int, txn *domain.ParsedTransaction, created time.Time) *Transaction {
	return &Transaction{
		ID:                   TransactionID(sessionID, i),
		SessionID:            sessionID,
		Date:                 txn.DateString(),
		Amount:               txn.Amount.StringFixed(2),
		Description:          txn.Description,
		Merchant:             txn.Merchant,
		AccountSource:        txn.AccountSource,
		CardMember:           txn.CardMember,
		ReferenceID:          txn.ReferenceID,
		Category:             txn.Category,
		ContentHash:          txn.ContentHash,
		ContentHashNoAccount: txn.ContentHashNoAccount,
		CreatedAt:            created,
	}
}

// Session is an import session in Firestore
type Session struct {
	ID                      string     `firestore:"id"`
	BatchID                 string     `firestore:"batchId,omitempty"`
	Filename                string     `firestore:"filename"`
	Format                  string     `firestore:"format"`
	AccountSource           string     `firestore:"accountSource"`
	TransactionCount        int        `firestore:"transactionCount"`
	DuplicateCount          int        `firestore:"duplicateCount"`
	CrossFileDuplicateCount int        `firestore:"crossFileDuplicateCount"`
	TotalAmount             string     `firestore:"totalAmount"`
	DateStart               string     `firestore:"dateStart,omitempty"`
	DateEnd                 string     `firestore:"dateEnd,omitempty"`
	Status                  string     `firestore:"status"`
	CreatedAt               time.Time  `firestore:"createdAt"`
	RolledBackAt            *time.Time `firestore:"rolledBackAt,omitempty"`
}

func toSession(s *domain.ImportSession) *Session {
	return &Session{
		ID:                      s.ID,
		BatchID:                 s.BatchID,
		Filename:                s.Filename,
		Format:                  s.Format,
		AccountSource:           s.AccountSource,
		TransactionCount:        s.TransactionCount,
		DuplicateCount:          s.DuplicateCount,
		CrossFileDuplicateCount: s.CrossFileDuplicateCount,
		TotalAmount:             s.TotalAmount.String(),
		DateStart:               s.DateStart,
		DateEnd:                 s.DateEnd,
		Status:                  s.Status,
		CreatedAt:               s.CreatedAt,
		RolledBackAt:            s.RolledBackAt,
	}
}

func (s *Session) toDomain() (*domain.ImportSession, error) {
	total := decimal.Zero
	if s.TotalAmount != "" {
		var err error
		if total, err = decimal.NewFromString(s.TotalAmount); err != nil {
			return nil, fmt.Errorf("session %s: invalid total amount %q: %w", s.ID, s.TotalAmount, err)
		}
	}
	return &domain.ImportSession{
		ID:                      s.ID,
		BatchID:                 s.BatchID,
		Filename:                s.Filename,
		Format:                  s.Format,
		AccountSource:           s.AccountSource,
		TransactionCount:        s.TransactionCount,
		DuplicateCount:          s.DuplicateCount,
		CrossFileDuplicateCount: s.CrossFileDuplicateCount,
		TotalAmount:             total,
		DateStart:               s.DateStart,
		DateEnd:                 s.DateEnd,
		Status:                  s.Status,
		CreatedAt:               s.CreatedAt,
		RolledBackAt:            s.RolledBackAt,
	}, nil
}

// Format is a saved custom CSV layout. The layout settings are stored as
// JSON so column references keep their name-or-index form.
type Format struct {
	Name            string    `firestore:"name"`
	Description     string    `firestore:"description,omitempty"`
	Config          string    `firestore:"config"`
	HeaderSignature string    `firestore:"headerSignature,omitempty"`
	UseCount        int       `firestore:"useCount"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func toFormat(cfg *custom.Config) (*Format, error) {
	settings, err := json.Marshal(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config %q: %w", cfg.Name, err)
	}
	return &Format{
		Name:            cfg.Name,
		Description:     cfg.Description,
		Config:          string(settings),
		HeaderSignature: cfg.HeaderSignature,
		UseCount:        cfg.UseCount,
		CreatedAt:       cfg.CreatedAt,
		UpdatedAt:       cfg.UpdatedAt,
	}, nil
}

func (f *Format) toCustom() (*custom.Config, error) {
	cfg := &custom.Config{
		Name:            f.Name,
		Description:     f.Description,
		HeaderSignature: f.HeaderSignature,
		UseCount:        f.UseCount,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(f.Config), &cfg.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config %q: %w", f.Name, err)
	}
	return cfg, nil
}

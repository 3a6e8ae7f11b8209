// Package domain holds the canonical import types shared by parsers, the
// duplicate detector and the persistence collaborators.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar rendering used for hashing, storage and JSON.
const DateLayout = "2006-01-02"

// ParsedTransaction is the canonical output unit of every parser.
//
// Sign convention:
//
//	Positive = inflow (deposits, refunds, card payments)
//	Negative = outflow (purchases, withdrawals, fees)
//
// Parsers must normalize to this convention regardless of the source file.
type ParsedTransaction struct {
	Date          time.Time       `json:"-"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	Merchant      string          `json:"merchant,omitempty"`
	AccountSource string          `json:"accountSource"`
	CardMember    string          `json:"cardMember,omitempty"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	// Category is a pass-through hint from formats that carry one (QIF L tag).
	Category             string `json:"category,omitempty"`
	ContentHash          string `json:"contentHash,omitempty"`
	ContentHashNoAccount string `json:"contentHashNoAccount,omitempty"`
}

// NewParsedTransaction creates a validated transaction. The date is truncated
// to a UTC calendar date.
func NewParsedTransaction(date time.Time, amount decimal.Decimal, description, accountSource string) (*ParsedTransaction, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("transaction date cannot be zero")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}
	accountSource = strings.TrimSpace(accountSource)
	if accountSource == "" {
		return nil, fmt.Errorf("account source cannot be empty")
	}

	return &ParsedTransaction{
		Date:          CalendarDate(date),
		Amount:        amount,
		Description:   description,
		AccountSource: accountSource,
	}, nil
}

// CalendarDate drops the time of day and location, keeping the wall-clock date.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateString returns the transaction date as YYYY-MM-DD.
func (t *ParsedTransaction) DateString() string {
	return t.Date.Format(DateLayout)
}

// Validate checks the required-field invariant.
func (t *ParsedTransaction) Validate() error {
	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("description cannot be empty")
	}
	if strings.TrimSpace(t.AccountSource) == "" {
		return fmt.Errorf("account source cannot be empty")
	}
	return nil
}

// MarshalJSON renders the date as YYYY-MM-DD.
func (t ParsedTransaction) MarshalJSON() ([]byte, error) {
	type Alias ParsedTransaction
	return json.Marshal(&struct {
		Date string `json:"date"`
		Alias
	}{
		Date:  t.DateString(),
		Alias: Alias(t),
	})
}

// UnmarshalJSON parses the YYYY-MM-DD date rendering.
func (t *ParsedTransaction) UnmarshalJSON(data []byte) error {
	type Alias ParsedTransaction
	aux := &struct {
		Date string `json:"date"`
		*Alias
	}{
		Alias: (*Alias)(t),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.Date == "" {
		return nil
	}
	date, err := time.Parse(DateLayout, aux.Date)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", aux.Date, err)
	}
	t.Date = date
	return nil
}

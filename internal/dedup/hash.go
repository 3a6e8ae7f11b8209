// Package dedup provides content-hash duplicate detection for import
// batches and a JSON hash-state file.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
)

// ContentHash creates a SHA256 hash of a transaction's identifying fields.
// Format: SHA256("{YYYY-MM-DD}|{amount}|{description}[|{account}]")
// Amount is rounded to 2 decimal places; description and account are
// lower-cased and trimmed.
func ContentHash(date time.Time, amount decimal.Decimal, description, account string, includeAccount bool) string {
	parts := []string{
		domain.CalendarDate(date).Format(domain.DateLayout),
		normalize.CanonicalAmount(amount),
		normalize.ForHash(description),
	}
	if includeAccount {
		parts = append(parts, normalize.ForHash(account))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Apply sets both hash variants on txn.
func Apply(txn *domain.ParsedTransaction) {
	txn.ContentHash = ContentHash(txn.Date, txn.Amount, txn.Description, txn.AccountSource, true)
	txn.ContentHashNoAccount = ContentHash(txn.Date, txn.Amount, txn.Description, txn.AccountSource, false)
}

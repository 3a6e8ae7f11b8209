package dedup

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

// Class is the duplicate classification of one transaction.
type Class string

const (
	ClassNew                Class = "new"
	ClassInFileDuplicate    Class = "in_file_duplicate"
	ClassCrossFileDuplicate Class = "cross_file_duplicate"
	ClassStoredDuplicate    Class = "stored_duplicate"
)

// IsDuplicate reports whether the class is any kind of duplicate.
func (c Class) IsDuplicate() bool {
	return c != ClassNew
}

// KnownSet holds account-inclusive and account-exclusive hashes.
type KnownSet struct {
	hashes    map[string]struct{}
	noAccount map[string]struct{}
}

// NewKnownSet creates an empty set.
func NewKnownSet() *KnownSet {
	return &KnownSet{
		hashes:    make(map[string]struct{}),
		noAccount: make(map[string]struct{}),
	}
}

// Add records a hash pair. Either may be empty.
func (k *KnownSet) Add(hash, noAccountHash string) {
	if hash != "" {
		k.hashes[hash] = struct{}{}
	}
	if noAccountHash != "" {
		k.noAccount[noAccountHash] = struct{}{}
	}
}

// Has reports whether the account-inclusive hash is known.
func (k *KnownSet) Has(hash string) bool {
	if k == nil {
		return false
	}
	_, ok := k.hashes[hash]
	return ok
}

// HasNoAccount reports whether the account-exclusive hash is known.
func (k *KnownSet) HasNoAccount(hash string) bool {
	if k == nil {
		return false
	}
	_, ok := k.noAccount[hash]
	return ok
}

// Len returns the number of account-inclusive hashes.
func (k *KnownSet) Len() int {
	if k == nil {
		return 0
	}
	return len(k.hashes)
}

func (k *KnownSet) merge(other *KnownSet) {
	for h := range other.hashes {
		k.hashes[h] = struct{}{}
	}
	for h := range other.noAccount {
		k.noAccount[h] = struct{}{}
	}
}

// Classified is a transaction with its duplicate classification.
type Classified struct {
	Transaction *domain.ParsedTransaction
	Class       Class
	// CrossAccountCandidate marks a new transaction whose account-exclusive
	// hash was already seen under another account.
	CrossAccountCandidate bool
}

// FileStats summarizes one classified file.
type FileStats struct {
	TransactionCount        int
	NewCount                int
	DuplicateCount          int
	InFileDuplicateCount    int
	StoredDuplicateCount    int
	CrossFileDuplicateCount int
	CrossAccountCandidates  int
	TotalAmount             decimal.Decimal
	DateStart               time.Time
	DateEnd                 time.Time
}

// FileResult is the classification of one file.
type FileResult struct {
	Items []Classified
	Stats FileStats
}

// New returns the transactions classified as new, in file order.
func (r *FileResult) New() []*domain.ParsedTransaction {
	out := make([]*domain.ParsedTransaction, 0, r.Stats.NewCount)
	for _, item := range r.Items {
		if item.Class == ClassNew {
			out = append(out, item.Transaction)
		}
	}
	return out
}

// All returns every transaction in file order.
func (r *FileResult) All() []*domain.ParsedTransaction {
	out := make([]*domain.ParsedTransaction, len(r.Items))
	for i, item := range r.Items {
		out[i] = item.Transaction
	}
	return out
}

// Detector classifies the files of one batch. Files must be classified in
// submission order; each file sees the hashes of every earlier file. A
// Detector belongs to a single batch and is not safe for concurrent use.
type Detector struct {
	stored *KnownSet
	batch  *KnownSet
}

// NewDetector creates a detector over the stored hashes. stored may be nil.
func NewDetector(stored *KnownSet) *Detector {
	return &Detector{stored: stored, batch: NewKnownSet()}
}

// ClassifyFile hashes and classifies txns. Precedence is in-file, then
// cross-file, then stored. The first occurrence within a file is canonical.
func (d *Detector) ClassifyFile(txns []*domain.ParsedTransaction) *FileResult {
	file := NewKnownSet()
	res := &FileResult{
		Items: make([]Classified, 0, len(txns)),
		Stats: FileStats{TransactionCount: len(txns), TotalAmount: decimal.Zero},
	}

	for _, txn := range txns {
		Apply(txn)
		item := Classified{Transaction: txn, Class: ClassNew}

		switch {
		case file.Has(txn.ContentHash):
			item.Class = ClassInFileDuplicate
			res.Stats.InFileDuplicateCount++
		case d.batch.Has(txn.ContentHash):
			item.Class = ClassCrossFileDuplicate
			res.Stats.CrossFileDuplicateCount++
		case d.stored.Has(txn.ContentHash):
			item.Class = ClassStoredDuplicate
			res.Stats.StoredDuplicateCount++
		default:
			res.Stats.NewCount++
			res.Stats.TotalAmount = res.Stats.TotalAmount.Add(txn.Amount)
			if file.HasNoAccount(txn.ContentHashNoAccount) ||
				d.batch.HasNoAccount(txn.ContentHashNoAccount) ||
				d.stored.HasNoAccount(txn.ContentHashNoAccount) {
				item.CrossAccountCandidate = true
				res.Stats.CrossAccountCandidates++
			}
		}

		file.Add(txn.ContentHash, txn.ContentHashNoAccount)
		res.Items = append(res.Items, item)

		if res.Stats.DateStart.IsZero() || txn.Date.Before(res.Stats.DateStart) {
			res.Stats.DateStart = txn.Date
		}
		if txn.Date.After(res.Stats.DateEnd) {
			res.Stats.DateEnd = txn.Date
		}
	}

	res.Stats.DuplicateCount = res.Stats.InFileDuplicateCount + res.Stats.StoredDuplicateCount
	d.batch.merge(file)
	return res
}

// Seen returns how many distinct hashes the batch has accumulated.
func (d *Detector) Seen() int {
	return d.batch.Len()
}

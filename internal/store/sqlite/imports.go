package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

// KnownHashes loads the hash pair of every stored transaction.
func (s *Store) KnownHashes(ctx context.Context) (*dedup.KnownSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash, content_hash_no_account FROM transactions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hashes: %w", err)
	}
	defer rows.Close()

	known := dedup.NewKnownSet()
	for rows.Next() {
		var hash, noAccount string
		if err := rows.Scan(&hash, &noAccount); err != nil {
			return nil, fmt.Errorf("failed to scan hash: %w", err)
		}
		known.Add(hash, noAccount)
	}
	return known, rows.Err()
}

// SaveImport writes the session and its transactions in one transaction.
func (s *Store) SaveImport(ctx context.Context, session *domain.ImportSession, txns []*domain.ParsedTransaction) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: session id cannot be empty", domain.ErrPersist)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrPersist, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_sessions (
			id, batch_id, filename, format, account_source, transaction_count,
			duplicate_count, cross_file_duplicate_count, total_amount,
			date_start, date_end, status, created_at, rolled_back_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.BatchID, session.Filename, session.Format, session.AccountSource,
		session.TransactionCount, session.DuplicateCount, session.CrossFileDuplicateCount,
		session.TotalAmount.String(), session.DateStart, session.DateEnd, session.Status,
		formatTime(session.CreatedAt), nullTime(session.RolledBackAt),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert session %s: %v", domain.ErrPersist, session.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (
			session_id, date, amount, description, merchant, account_source,
			card_member, reference_id, category, content_hash,
			content_hash_no_account, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare insert: %v", domain.ErrPersist, err)
	}
	defer stmt.Close()

	created := formatTime(session.CreatedAt)
	for _, txn := range txns {
		if txn.ContentHash == "" {
			dedup.Apply(txn)
		}
		_, err = stmt.ExecContext(ctx,
			session.ID, txn.DateString(), txn.Amount.StringFixed(2), txn.Description,
			txn.Merchant, txn.AccountSource, txn.CardMember, txn.ReferenceID, txn.Category,
			txn.ContentHash, txn.ContentHashNoAccount, created,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to insert transaction: %v", domain.ErrPersist, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit import: %v", domain.ErrPersist, err)
	}
	return nil
}

// SaveBatch inserts or updates the batch session.
func (s *Store) SaveBatch(ctx context.Context, batch *domain.BatchImportSession) error {
	ids, err := json.Marshal(batch.SessionIDs)
	if err != nil {
		return fmt.Errorf("%w: failed to encode session ids: %v", domain.ErrPersist, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_import_sessions (
			id, total_files, imported_files, total_transactions, total_duplicates,
			status, session_ids, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			imported_files = excluded.imported_files,
			total_transactions = excluded.total_transactions,
			total_duplicates = excluded.total_duplicates,
			status = excluded.status,
			session_ids = excluded.session_ids,
			completed_at = excluded.completed_at`,
		batch.ID, batch.TotalFiles, batch.ImportedFiles, batch.TotalTransactions,
		batch.TotalDuplicates, batch.Status, string(ids), formatTime(batch.CreatedAt),
		nullTime(batch.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save batch %s: %v", domain.ErrPersist, batch.ID, err)
	}
	return nil
}

// GetBatch loads a batch session.
func (s *Store) GetBatch(ctx context.Context, id string) (*domain.BatchImportSession, error) {
	var (
		b         domain.BatchImportSession
		ids       string
		created   string
		completed sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, total_files, imported_files, total_transactions, total_duplicates,
			status, session_ids, created_at, completed_at
		FROM batch_import_sessions WHERE id = ?`, id,
	).Scan(&b.ID, &b.TotalFiles, &b.ImportedFiles, &b.TotalTransactions, &b.TotalDuplicates,
		&b.Status, &ids, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(ids), &b.SessionIDs); err != nil {
		return nil, fmt.Errorf("failed to decode session ids: %w", err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if b.CompletedAt, err = scanNullTime(completed); err != nil {
		return nil, err
	}
	return &b, nil
}

const sessionColumns = `id, batch_id, filename, format, account_source, transaction_count,
	duplicate_count, cross_file_duplicate_count, total_amount, date_start, date_end,
	status, created_at, rolled_back_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.ImportSession, error) {
	var (
		sess       domain.ImportSession
		batchID    sql.NullString
		total      string
		start, end sql.NullString
		created    string
		rolledBack sql.NullString
	)
	if err := row.Scan(&sess.ID, &batchID, &sess.Filename, &sess.Format, &sess.AccountSource,
		&sess.TransactionCount, &sess.DuplicateCount, &sess.CrossFileDuplicateCount,
		&total, &start, &end, &sess.Status, &created, &rolledBack); err != nil {
		return nil, err
	}

	var err error
	sess.BatchID = batchID.String
	sess.DateStart = start.String
	sess.DateEnd = end.String
	if sess.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", total, err)
	}
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sess.RolledBackAt, err = scanNullTime(rolledBack); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession loads one import session.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.ImportSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM import_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %q not found", domain.ErrPersist, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns every import session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*domain.ImportSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM import_sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.ImportSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RollbackImport deletes the transactions a session imported and marks the
// session rolled back. Rolling back twice is a no-op.
func (s *Store) RollbackImport(ctx context.Context, sessionID string) (*domain.ImportSession, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Rollback(time.Now()) {
		return sess, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrPersist, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE session_id = ?`, sessionID); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%w: failed to delete transactions: %v", domain.ErrPersist, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE import_sessions SET status = ?, rolled_back_at = ? WHERE id = ?`,
		sess.Status, nullTime(sess.RolledBackAt), sessionID); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%w: failed to update session: %v", domain.ErrPersist, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit rollback: %v", domain.ErrPersist, err)
	}

	s.logger.Info("Rolled back import", "session", sessionID, "filename", sess.Filename)
	return sess, nil
}

// CountTransactions returns the number of stored transactions.
func (s *Store) CountTransactions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

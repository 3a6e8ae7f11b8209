package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/finimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

// KnownHashes loads the hash pair of every stored transaction.
func (c *Client) KnownHashes(ctx context.Context) (*dedup.KnownSet, error) {
	iter := c.Firestore.Collection(TransactionsCollection).
		Select("contentHash", "contentHashNoAccount").
		Documents(ctx)
	defer iter.Stop()

	known := dedup.NewKnownSet()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate transactions: %w", err)
		}

		var txn Transaction
		if err := doc.DataTo(&txn); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		known.Add(txn.ContentHash, txn.ContentHashNoAccount)
	}
	return known, nil
}

// SaveImport writes the session and its transactions. Writes are not
// atomic across documents; the session is written last so a partial write
// leaves no session pointing at missing rows.
func (c *Client) SaveImport(ctx context.Context, session *domain.ImportSession, txns []*domain.ParsedTransaction) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: session id cannot be empty", domain.ErrPersist)
	}

	bw := c.Firestore.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(txns))
	for i, txn := range txns {
		if txn.ContentHash == "" {
			dedup.Apply(txn)
		}
		doc := toTransaction(session.ID, i, txn, session.CreatedAt)
		if err := doc.Validate(); err != nil {
			bw.End()
			return fmt.Errorf("%w: invalid transaction: %v", domain.ErrPersist, err)
		}
		job, err := bw.Create(c.Firestore.Collection(TransactionsCollection).Doc(doc.ID), doc)
		if err != nil {
			bw.End()
			return fmt.Errorf("%w: failed to queue transaction: %v", domain.ErrPersist, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("%w: failed to write transaction: %v", domain.ErrPersist, err)
		}
	}

	if _, err := c.Firestore.Collection(SessionsCollection).Doc(session.ID).Create(ctx, toSession(session)); err != nil {
		return fmt.Errorf("%w: failed to create session %s: %v", domain.ErrPersist, session.ID, err)
	}
	return nil
}

// SaveBatch creates or replaces the batch session.
func (c *Client) SaveBatch(ctx context.Context, batch *domain.BatchImportSession) error {
	if _, err := c.Firestore.Collection(BatchesCollection).Doc(batch.ID).Set(ctx, batch); err != nil {
		return fmt.Errorf("%w: failed to save batch %s: %v", domain.ErrPersist, batch.ID, err)
	}
	return nil
}

// GetSession retrieves an import session by ID
func (c *Client) GetSession(ctx context.Context, sessionID string) (*domain.ImportSession, error) {
	doc, err := c.Firestore.Collection(SessionsCollection).Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: session %q not found", domain.ErrPersist, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	var sess Session
	if err := doc.DataTo(&sess); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return sess.toDomain()
}

// ListSessions retrieves import sessions, newest first
func (c *Client) ListSessions(ctx context.Context) ([]*domain.ImportSession, error) {
	iter := c.Firestore.Collection(SessionsCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(200).
		Documents(ctx)
	defer iter.Stop()

	var sessions []*domain.ImportSession
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate sessions: %w", err)
		}

		var sess Session
		if err := doc.DataTo(&sess); err != nil {
			return nil, fmt.Errorf("failed to parse session: %w", err)
		}
		s, err := sess.toDomain()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// RollbackImport deletes the session's transactions and marks it rolled
// back. Rolling back twice is a no-op.
func (c *Client) RollbackImport(ctx context.Context, sessionID string) (*domain.ImportSession, error) {
	sess, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Rollback(time.Now()) {
		return sess, nil
	}

	iter := c.Firestore.Collection(TransactionsCollection).
		Where("sessionId", "==", sessionID).
		Documents(ctx)
	defer iter.Stop()

	bw := c.Firestore.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return nil, fmt.Errorf("%w: failed to iterate transactions: %v", domain.ErrPersist, err)
		}
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			return nil, fmt.Errorf("%w: failed to queue delete: %v", domain.ErrPersist, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return nil, fmt.Errorf("%w: failed to delete transaction: %v", domain.ErrPersist, err)
		}
	}

	_, err = c.Firestore.Collection(SessionsCollection).Doc(sessionID).Update(ctx, []firestore.Update{
		{Path: "status", Value: sess.Status},
		{Path: "rolledBackAt", Value: *sess.RolledBackAt},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to update session: %v", domain.ErrPersist, err)
	}
	return sess, nil
}

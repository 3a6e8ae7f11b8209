package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

// State is a JSON hash-state file: a zero-infrastructure record of imported
// content hashes and the sessions that introduced them.
type State struct {
	Version  int                                   `json:"version"`
	Hashes   map[string]*HashRecord                `json:"hashes"`
	Sessions map[string]*domain.ImportSession      `json:"sessions"`
	Batches  map[string]*domain.BatchImportSession `json:"batches,omitempty"`
	Metadata StateMetadata                         `json:"metadata"`

	mu sync.Mutex
}

// HashRecord tracks one imported transaction hash. SessionID is the first
// live session that imported it; Sessions lists one entry per import.
type HashRecord struct {
	NoAccountHash string    `json:"noAccountHash"`
	SessionID     string    `json:"sessionId"`
	Sessions      []string  `json:"sessions,omitempty"`
	FirstSeen     time.Time `json:"firstSeen"`
	LastSeen      time.Time `json:"lastSeen"`
	Count         int       `json:"count"`
}

// release drops one import by sessionID and reports whether the hash is
// still held by another session.
func (r *HashRecord) release(sessionID string) bool {
	sessions := r.Sessions
	if len(sessions) == 0 {
		sessions = []string{r.SessionID}
	}
	kept := sessions[:0:0]
	for _, id := range sessions {
		if id != sessionID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(sessions) {
		return true
	}
	if len(kept) == 0 {
		return false
	}
	r.Sessions = kept
	r.SessionID = kept[0]
	r.Count = len(kept)
	return true
}

// StateMetadata contains aggregate statistics about the state.
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	TotalHashes int       `json:"totalHashes"`
}

const (
	// CurrentVersion is the current state file format version
	CurrentVersion = 2
)

// NewState creates an empty state.
func NewState() *State {
	return &State{
		Version:  CurrentVersion,
		Hashes:   make(map[string]*HashRecord),
		Sessions: make(map[string]*domain.ImportSession),
		Batches:  make(map[string]*domain.BatchImportSession),
		Metadata: StateMetadata{LastUpdated: time.Now()},
	}
}

// LoadState loads a state file from disk.
// Returns an os.IsNotExist error if the file doesn't exist (caller should handle).
func LoadState(filePath string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if state.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported state file version %d (current version: %d)", state.Version, CurrentVersion)
	}

	if state.Hashes == nil {
		state.Hashes = make(map[string]*HashRecord)
	}
	if state.Sessions == nil {
		state.Sessions = make(map[string]*domain.ImportSession)
	}
	if state.Batches == nil {
		state.Batches = make(map[string]*domain.BatchImportSession)
	}
	return state, nil
}

// LoadOrNewState loads filePath, starting empty when it does not exist yet.
func LoadOrNewState(filePath string) (*State, error) {
	state, err := LoadState(filePath)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	return state, err
}

// SaveState atomically writes the state to disk: write to a temp file,
// then rename.
func SaveState(state *State, filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	state.mu.Lock()
	state.Metadata.LastUpdated = time.Now()
	state.Metadata.TotalHashes = len(state.Hashes)
	data, err := json.MarshalIndent(state, "", "  ")
	state.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// KnownHashes returns every recorded hash pair.
func (s *State) KnownHashes(ctx context.Context) (*KnownSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := NewKnownSet()
	for hash, rec := range s.Hashes {
		known.Add(hash, rec.NoAccountHash)
	}
	return known, nil
}

// SaveImport records the session and the hashes of its transactions.
func (s *State) SaveImport(ctx context.Context, session *domain.ImportSession, txns []*domain.ParsedTransaction) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: session id cannot be empty", domain.ErrPersist)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := session.CreatedAt
	for _, txn := range txns {
		if txn.ContentHash == "" {
			Apply(txn)
		}
		if rec, ok := s.Hashes[txn.ContentHash]; ok {
			if len(rec.Sessions) == 0 {
				rec.Sessions = []string{rec.SessionID}
			}
			rec.Sessions = append(rec.Sessions, session.ID)
			rec.LastSeen = now
			rec.Count++
			continue
		}
		s.Hashes[txn.ContentHash] = &HashRecord{
			NoAccountHash: txn.ContentHashNoAccount,
			SessionID:     session.ID,
			Sessions:      []string{session.ID},
			FirstSeen:     now,
			LastSeen:      now,
			Count:         1,
		}
	}
	s.Sessions[session.ID] = session
	return nil
}

// SaveBatch records the batch session.
func (s *State) SaveBatch(ctx context.Context, batch *domain.BatchImportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Batches[batch.ID] = batch
	return nil
}

// RollbackImport releases the session's hold on every hash it imported,
// forgetting hashes no other session holds, and marks it rolled back.
// Rolling back twice is a no-op.
func (s *State) RollbackImport(ctx context.Context, sessionID string) (*domain.ImportSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.Sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %q not found", domain.ErrPersist, sessionID)
	}
	if !session.Rollback(time.Now()) {
		return session, nil
	}
	for hash, rec := range s.Hashes {
		if !rec.release(sessionID) {
			delete(s.Hashes, hash)
		}
	}
	return session, nil
}

// ListSessions returns the recorded sessions, newest first.
func (s *State) ListSessions(ctx context.Context) ([]*domain.ImportSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.ImportSession, 0, len(s.Sessions))
	for _, session := range s.Sessions {
		out = append(out, session)
	}
	sortSessions(out)
	return out, nil
}

func sortSessions(sessions []*domain.ImportSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/google/uuid"
)

// LocalStore is an in-process MemoryService. Entries are partitioned by
// session and ranked by word overlap with the query.
type LocalStore struct {
	sessions sync.Map // sessionID -> *localSession
	now      func() time.Time
}

type localSession struct {
	mu      sync.RWMutex
	entries []fairiagent.MemoryEntry
}

var _ fairiagent.MemoryService = (*LocalStore)(nil)

// NewLocalStore creates an empty local memory store
func NewLocalStore() *LocalStore {
	return &LocalStore{now: time.Now}
}

func (s *LocalStore) session(sessionID string) *localSession {
	v, _ := s.sessions.LoadOrStore(sessionID, &localSession{})
	return v.(*localSession)
}

// Add implements MemoryService
func (s *LocalStore) Add(_ context.Context, sessionID, stage, summary string, score float64) (fairiagent.MemoryEntry, error) {
	if err := validateEntry(sessionID, summary, score); err != nil {
		return fairiagent.MemoryEntry{}, err
	}

	entry := fairiagent.MemoryEntry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		StageName: stage,
		Summary:   summary,
		Score:     score,
		CreatedAt: s.now().UTC(),
	}

	sess := s.session(sessionID)
	sess.mu.Lock()
	sess.entries = append(sess.entries, entry)
	sess.mu.Unlock()

	return entry, nil
}

// Retrieve implements MemoryService
func (s *LocalStore) Retrieve(_ context.Context, sessionID, stage, query string, k int) ([]fairiagent.MemoryEntry, error) {
	if k <= 0 {
		return []fairiagent.MemoryEntry{}, nil
	}

	v, ok := s.sessions.Load(sessionID)
	if !ok {
		return []fairiagent.MemoryEntry{}, nil
	}
	sess := v.(*localSession)

	sess.mu.RLock()
	entries := slices.Clone(sess.entries)
	sess.mu.RUnlock()

	terms := make(map[string]struct{})
	for _, tok := range tokenize(stage + " " + query) {
		terms[tok] = struct{}{}
	}

	type ranked struct {
		entry   fairiagent.MemoryEntry
		overlap int
	}
	candidates := make([]ranked, len(entries))
	for i, e := range entries {
		seen := make(map[string]struct{})
		for _, tok := range tokenize(e.StageName + " " + e.Summary) {
			if _, hit := terms[tok]; hit {
				seen[tok] = struct{}{}
			}
		}
		candidates[i] = ranked{entry: e, overlap: len(seen)}
	}

	slices.SortStableFunc(candidates, func(a, b ranked) int {
		if a.overlap != b.overlap {
			return b.overlap - a.overlap
		}
		if a.entry.Score != b.entry.Score {
			if a.entry.Score > b.entry.Score {
				return -1
			}
			return 1
		}
		return b.entry.CreatedAt.Compare(a.entry.CreatedAt)
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]fairiagent.MemoryEntry, k)
	for i := range out {
		out[i] = candidates[i].entry
	}
	return out, nil
}

// Clear implements MemoryService
func (s *LocalStore) Clear(_ context.Context, sessionID string) error {
	s.sessions.Delete(sessionID)
	return nil
}

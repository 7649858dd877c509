package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
)

// MemoryStore implements fairiagent.CheckpointStore using in-memory storage.
// Every version is retained as its encoded snapshot, so callers never share
// state with the store.
type MemoryStore struct {
	sessions sync.Map // sessionID -> *memorySession
	now      func() time.Time
}

type memorySession struct {
	mu       sync.RWMutex
	versions map[int][]byte
	latest   int
}

// NewMemoryStore creates a new in-memory checkpoint store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

var (
	_ fairiagent.CheckpointStore = (*MemoryStore)(nil)
	_ fairiagent.VersionLister   = (*MemoryStore)(nil)
	_ fairiagent.SessionLister   = (*MemoryStore)(nil)
)

func (s *MemoryStore) session(sessionID string) *memorySession {
	v, _ := s.sessions.LoadOrStore(sessionID, &memorySession{versions: make(map[int][]byte), latest: -1})
	return v.(*memorySession)
}

func (s *MemoryStore) Save(ctx context.Context, sessionID string, state *fairiagent.WorkflowState) (*fairiagent.CheckpointRecord, error) {
	rec, data, err := encode(sessionID, state, s.now)
	if err != nil {
		return nil, err
	}

	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if rec.Version <= sess.latest {
		return nil, fmt.Errorf("%w: session %s version %d, latest %d", ErrVersionConflict, sessionID, rec.Version, sess.latest)
	}

	sess.versions[rec.Version] = data
	sess.latest = rec.Version

	return rec, nil
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*fairiagent.CheckpointRecord, error) {
	v, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
	}
	sess := v.(*memorySession)

	sess.mu.RLock()
	data, ok := sess.versions[sess.latest]
	sess.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
	}

	return decode(sessionID, data)
}

// LoadVersion returns a specific retained version
func (s *MemoryStore) LoadVersion(ctx context.Context, sessionID string, version int) (*fairiagent.CheckpointRecord, error) {
	v, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
	}
	sess := v.(*memorySession)

	sess.mu.RLock()
	data, ok := sess.versions[version]
	sess.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s version %d", fairiagent.ErrCheckpointNotFound, sessionID, version)
	}

	return decode(sessionID, data)
}

func (s *MemoryStore) ListVersions(ctx context.Context, sessionID string) ([]int, error) {
	v, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
	}
	sess := v.(*memorySession)

	sess.mu.RLock()
	defer sess.mu.RUnlock()

	versions := make([]int, 0, len(sess.versions))
	for version := range sess.versions {
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return versions, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string
	s.sessions.Range(func(key, value any) bool {
		sess := value.(*memorySession)
		sess.mu.RLock()
		saved := sess.latest >= 0
		sess.mu.RUnlock()
		if saved {
			ids = append(ids, key.(string))
		}
		return true
	})
	sort.Strings(ids)
	return ids, nil
}

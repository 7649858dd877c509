package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
)

const (
	latestFile    = "latest.json"
	versionPrefix = "v-"
	versionSuffix = ".json"
)

// FileStore implements fairiagent.CheckpointStore on the local filesystem.
//
// Layout:
//
//	<root>/<session>/v-0000000003.json   one snapshot per version
//	<root>/<session>/latest.json         replaced atomically by rename
type FileStore struct {
	root  string
	locks sync.Map // sessionID -> *sync.Mutex
	now   func() time.Time
}

var (
	_ fairiagent.CheckpointStore = (*FileStore)(nil)
	_ fairiagent.VersionLister   = (*FileStore)(nil)
	_ fairiagent.SessionLister   = (*FileStore)(nil)
)

// NewFileStore creates the root directory if needed
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", root, err)
	}
	return &FileStore{root: root, now: time.Now}, nil
}

// Root returns the checkpoint directory
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) lock(sessionID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func versionName(version int) string {
	return fmt.Sprintf("%s%010d%s", versionPrefix, version, versionSuffix)
}

func (s *FileStore) Save(ctx context.Context, sessionID string, state *fairiagent.WorkflowState) (*fairiagent.CheckpointRecord, error) {
	rec, data, err := encode(sessionID, state, s.now)
	if err != nil {
		return nil, err
	}

	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	// A version file newer than latest.json is left over from a failed
	// publish and may be replaced.
	latest, err := os.ReadFile(filepath.Join(dir, latestFile))
	switch {
	case err == nil:
		current, perr := peekVersion(latest)
		if perr == nil && current >= rec.Version {
			return nil, fmt.Errorf("%w: session %s version %d, latest %d", ErrVersionConflict, sessionID, rec.Version, current)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}

	if err := replaceAtomic(dir, versionName(rec.Version), data); err != nil {
		return nil, fmt.Errorf("failed to write checkpoint version: %w", err)
	}

	if err := replaceAtomic(dir, latestFile, data); err != nil {
		return nil, fmt.Errorf("failed to publish latest checkpoint: %w", err)
	}

	return rec, nil
}

func (s *FileStore) Load(ctx context.Context, sessionID string) (*fairiagent.CheckpointRecord, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), latestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	return decode(sessionID, data)
}

func (s *FileStore) ListVersions(ctx context.Context, sessionID string) ([]int, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	dir := s.sessionDir(sessionID)
	latest, err := os.ReadFile(filepath.Join(dir, latestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}
	current, err := peekVersion(latest)
	if err != nil {
		return nil, &fairiagent.CheckpointCorruptionError{SessionID: sessionID, Reason: "undecodable snapshot", Err: err}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint versions: %w", err)
	}

	var versions []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, versionPrefix) || !strings.HasSuffix(name, versionSuffix) {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, versionPrefix), versionSuffix))
		if err != nil || v > current {
			continue
		}
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions, nil
}

func (s *FileStore) ListSessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), latestFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// replaceAtomic writes data to a temp file in dir and renames it over name,
// so readers see either the old or the new content
func replaceAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}

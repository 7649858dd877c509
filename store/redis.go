package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis commands the store uses
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// Verify that the real Redis client implements our interface
var _ RedisClient = (*redis.Client)(nil)

var (
	_ fairiagent.CheckpointStore = (*RedisStore)(nil)
	_ fairiagent.VersionLister   = (*RedisStore)(nil)
	_ fairiagent.SessionLister   = (*RedisStore)(nil)
)

// RedisStore implements fairiagent.CheckpointStore using Redis.
//
// Keys:
//
//	<prefix>:checkpoint:<session>:latest     latest snapshot (SET)
//	<prefix>:checkpoint:<session>:versions   version log (RPUSH)
//	<prefix>:sessions                        known session ids (SADD)
//
// The version log is appended and the session registered before the latest
// snapshot is replaced, so an entry newer than latest is a leftover from a
// failed write and is ignored, as is a registered id with no latest.
type RedisStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisOption configures the Redis store
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key namespace
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.TrimSuffix(prefix, ":")
	}
}

// WithExpiration expires the latest snapshot after d without writes
func WithExpiration(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = d
	}
}

// NewRedisStore creates a new Redis-backed checkpoint store. The caller owns
// the client lifecycle.
func NewRedisStore(client RedisClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "fairiagent",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) latestKey(sessionID string) string {
	return fmt.Sprintf("%s:checkpoint:%s:latest", s.prefix, sessionID)
}

func (s *RedisStore) versionsKey(sessionID string) string {
	return fmt.Sprintf("%s:checkpoint:%s:versions", s.prefix, sessionID)
}

func (s *RedisStore) sessionsKey() string {
	return s.prefix + ":sessions"
}

func (s *RedisStore) latestVersion(ctx context.Context, sessionID string) (int, bool, error) {
	data, err := s.client.Get(ctx, s.latestKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := peekVersion(data)
	if err != nil {
		return 0, false, &fairiagent.CheckpointCorruptionError{SessionID: sessionID, Reason: "undecodable snapshot", Err: err}
	}
	return v, true, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, state *fairiagent.WorkflowState) (*fairiagent.CheckpointRecord, error) {
	rec, data, err := encode(sessionID, state, s.now)
	if err != nil {
		return nil, err
	}

	current, exists, err := s.latestVersion(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}
	if exists && current >= rec.Version {
		return nil, fmt.Errorf("%w: session %s version %d, latest %d", ErrVersionConflict, sessionID, rec.Version, current)
	}

	if err := s.client.RPush(ctx, s.versionsKey(sessionID), data).Err(); err != nil {
		return nil, fmt.Errorf("failed to append checkpoint version: %w", err)
	}
	// Registered before latest is published
	if err := s.client.SAdd(ctx, s.sessionsKey(), sessionID).Err(); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}
	if err := s.client.Set(ctx, s.latestKey(sessionID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to publish latest checkpoint: %w", err)
	}

	return rec, nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*fairiagent.CheckpointRecord, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.latestKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return decode(sessionID, data)
}

func (s *RedisStore) ListVersions(ctx context.Context, sessionID string) ([]int, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	current, exists, err := s.latestVersion(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
	}

	entries, err := s.client.LRange(ctx, s.versionsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint versions: %w", err)
	}

	var versions []int
	for _, entry := range entries {
		v, err := peekVersion([]byte(entry))
		if err != nil || v > current || slices.Contains(versions, v) {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	// An id registered by a save whose publish failed has no latest yet
	published := ids[:0]
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.latestKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		if n > 0 {
			published = append(published, id)
		}
	}
	sort.Strings(published)
	return published, nil
}

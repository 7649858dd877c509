// Package store provides checkpoint persistence for the controller.
// The CheckpointStore interface is defined in the parent package
// (../interfaces.go) to avoid import cycles.
//
// This package contains concrete implementations:
//   - MemoryStore: in-process backend for tests and single-run CLI use
//   - FileStore: one directory per session, survives restarts
//   - DynamoDBStore: AWS DynamoDB single-table backend
//   - RedisStore: Redis backend for shared short-lived deployments
//
// Every backend keeps the latest snapshot authoritative and writes each
// version once. Snapshots are encoded with fairiagent.EncodeSnapshot so all
// backends share one envelope.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
)

// ErrVersionConflict is returned when a version was already written or is
// older than the latest checkpoint
var ErrVersionConflict = errors.New("checkpoint version conflict")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateSessionID rejects ids that cannot be used as a storage key or path
func ValidateSessionID(sessionID string) error {
	if sessionID == "" || sessionID == "." || sessionID == ".." || !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	return nil
}

// encode snapshots state and checks it belongs to sessionID
func encode(sessionID string, state *fairiagent.WorkflowState, now func() time.Time) (*fairiagent.CheckpointRecord, []byte, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, nil, err
	}
	if state == nil {
		return nil, nil, fmt.Errorf("nil state for session %s", sessionID)
	}
	if state.SessionID != sessionID {
		return nil, nil, fmt.Errorf("state belongs to session %q, not %q", state.SessionID, sessionID)
	}

	rec := fairiagent.NewCheckpointRecord(state, now())
	data, err := fairiagent.EncodeSnapshot(rec)
	if err != nil {
		return nil, nil, err
	}
	return rec, data, nil
}

// decode parses a stored snapshot and tags corruption with the session id
func decode(sessionID string, data []byte) (*fairiagent.CheckpointRecord, error) {
	rec, err := fairiagent.DecodeSnapshot(data)
	if err != nil {
		var ce *fairiagent.CheckpointCorruptionError
		if errors.As(err, &ce) && ce.SessionID == "" {
			ce.SessionID = sessionID
		}
		return nil, err
	}
	if rec.SessionID != sessionID {
		return nil, &fairiagent.CheckpointCorruptionError{
			SessionID: sessionID,
			Reason:    fmt.Sprintf("snapshot belongs to session %q", rec.SessionID),
		}
	}
	return rec, nil
}

// peekVersion reads the version of an encoded snapshot without decoding state
func peekVersion(data []byte) (int, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, err
	}
	return head.Version, nil
}

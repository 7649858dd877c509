package fairiagent

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotFormat identifies the checkpoint envelope layout
const SnapshotFormat = "fairiagent.checkpoint/v1"

type snapshotEnvelope struct {
	Format    string         `json:"format"`
	SessionID string         `json:"session_id"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	State     *WorkflowState `json:"state"`
}

// NewCheckpointRecord snapshots state. The record owns a deep copy.
func NewCheckpointRecord(state *WorkflowState, now time.Time) *CheckpointRecord {
	c := state.Clone()
	return &CheckpointRecord{
		SessionID: c.SessionID,
		Version:   len(c.History),
		State:     c,
		CreatedAt: now,
	}
}

// EncodeSnapshot serialises a checkpoint record into its storage envelope
func EncodeSnapshot(rec *CheckpointRecord) ([]byte, error) {
	if rec == nil || rec.State == nil {
		return nil, fmt.Errorf("cannot encode empty checkpoint")
	}

	env := snapshotEnvelope{
		Format:    SnapshotFormat,
		SessionID: rec.SessionID,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		State:     rec.State,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint for session %s: %w", rec.SessionID, err)
	}
	return data, nil
}

// DecodeSnapshot parses a storage envelope. Unknown fields are ignored; an
// unknown format, a missing state or an inconsistent version is corruption.
func DecodeSnapshot(data []byte) (*CheckpointRecord, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &CheckpointCorruptionError{Reason: "undecodable snapshot", Err: err}
	}

	if env.Format != SnapshotFormat {
		return nil, &CheckpointCorruptionError{
			SessionID: env.SessionID,
			Reason:    fmt.Sprintf("unsupported snapshot format %q", env.Format),
		}
	}
	if env.State == nil {
		return nil, &CheckpointCorruptionError{SessionID: env.SessionID, Reason: "snapshot has no state"}
	}
	if env.State.SessionID != env.SessionID {
		return nil, &CheckpointCorruptionError{
			SessionID: env.SessionID,
			Reason:    fmt.Sprintf("state belongs to session %q", env.State.SessionID),
		}
	}
	if env.Version != len(env.State.History) {
		return nil, &CheckpointCorruptionError{
			SessionID: env.SessionID,
			Reason:    fmt.Sprintf("version %d does not match history length %d", env.Version, len(env.State.History)),
		}
	}

	s := env.State
	if s.StageOutputs == nil {
		s.StageOutputs = make(map[string]json.RawMessage)
	}
	if s.StageAttempts == nil {
		s.StageAttempts = make(map[string]int)
	}
	if s.PendingFeedback == nil {
		s.PendingFeedback = make(map[string]string)
	}
	if s.History == nil {
		s.History = []Transition{}
	}

	return &CheckpointRecord{
		SessionID: env.SessionID,
		Version:   env.Version,
		State:     s,
		CreatedAt: env.CreatedAt,
	}, nil
}

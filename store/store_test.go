package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOrder = []string{"parse", "retrieve-knowledge", "generate-output"}

func newTestState(sessionID string) *fairiagent.WorkflowState {
	return fairiagent.NewWorkflowState(sessionID, fairiagent.Document{Reference: "paper.txt"}, testOrder, time.Now())
}

// accept applies an accept transition for the next stage, as the controller does
func accept(s *fairiagent.WorkflowState, output string) {
	stage, _ := s.NextStage()
	s.History = append(s.History, fairiagent.Transition{
		Seq:       len(s.History) + 1,
		Stage:     stage,
		Attempt:   s.StageAttempts[stage] + 1,
		Decision:  fairiagent.DecisionAccept,
		Score:     1,
		Output:    json.RawMessage(output),
		Timestamp: time.Now(),
	})
	s.StageOutputs[stage] = json.RawMessage(output)
	delete(s.PendingFeedback, stage)
	if _, ok := s.NextStage(); !ok {
		s.Status = fairiagent.SessionStatusCompleted
	}
}

// retry applies a retry transition for the next stage
func retry(s *fairiagent.WorkflowState, reason string) {
	stage, _ := s.NextStage()
	s.History = append(s.History, fairiagent.Transition{
		Seq:       len(s.History) + 1,
		Stage:     stage,
		Attempt:   s.StageAttempts[stage] + 1,
		Decision:  fairiagent.DecisionRetry,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	s.StageAttempts[stage]++
	s.PendingFeedback[stage] = reason
}

// testCheckpointStore runs the behaviour every backend must share
func testCheckpointStore(t *testing.T, store fairiagent.CheckpointStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		assert.ErrorIs(t, err, fairiagent.ErrCheckpointNotFound)
	})

	t.Run("save and load versions", func(t *testing.T) {
		state := newTestState("s-1")

		rec, err := store.Save(ctx, "s-1", state)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Version)

		accept(state, `{"title":"Soil"}`)
		rec, err = store.Save(ctx, "s-1", state)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Version)

		retry(state, "missing terms")
		_, err = store.Save(ctx, "s-1", state)
		require.NoError(t, err)

		loaded, err := store.Load(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Version)
		assert.Equal(t, "s-1", loaded.SessionID)
		assert.JSONEq(t, `{"title":"Soil"}`, string(loaded.State.StageOutputs["parse"]))
		assert.Equal(t, 1, loaded.State.StageAttempts["retrieve-knowledge"])
		assert.Equal(t, "missing terms", loaded.State.PendingFeedback["retrieve-knowledge"])
		assert.NoError(t, fairiagent.ValidateSnapshot(loaded.State))

		if lister, ok := store.(fairiagent.VersionLister); ok {
			versions, err := lister.ListVersions(ctx, "s-1")
			require.NoError(t, err)
			assert.Equal(t, []int{0, 1, 2}, versions)
		}
	})

	t.Run("version written once", func(t *testing.T) {
		state := newTestState("s-2")
		_, err := store.Save(ctx, "s-2", state)
		require.NoError(t, err)

		_, err = store.Save(ctx, "s-2", state)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("saved snapshot is detached from caller", func(t *testing.T) {
		state := newTestState("s-3")
		accept(state, `{"title":"a"}`)
		_, err := store.Save(ctx, "s-3", state)
		require.NoError(t, err)

		state.StageOutputs["parse"] = json.RawMessage(`{"title":"b"}`)

		loaded, err := store.Load(ctx, "s-3")
		require.NoError(t, err)
		assert.JSONEq(t, `{"title":"a"}`, string(loaded.State.StageOutputs["parse"]))
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		a := newTestState("iso-a")
		b := newTestState("iso-b")
		accept(a, `{"title":"a"}`)
		_, err := store.Save(ctx, "iso-a", a)
		require.NoError(t, err)
		_, err = store.Save(ctx, "iso-b", b)
		require.NoError(t, err)

		loaded, err := store.Load(ctx, "iso-b")
		require.NoError(t, err)
		assert.Empty(t, loaded.State.StageOutputs)
	})

	t.Run("rejects foreign state", func(t *testing.T) {
		_, err := store.Save(ctx, "s-4", newTestState("other"))
		assert.Error(t, err)
	})

	t.Run("rejects invalid session id", func(t *testing.T) {
		_, err := store.Save(ctx, "../escape", newTestState("../escape"))
		assert.Error(t, err)
	})

	t.Run("list sessions", func(t *testing.T) {
		lister, ok := store.(fairiagent.SessionLister)
		if !ok {
			t.Skip("store does not list sessions")
		}
		ids, err := lister.ListSessions(ctx)
		require.NoError(t, err)
		assert.Subset(t, ids, []string{"s-1", "s-2", "s-3", "iso-a", "iso-b"})
	})
}

func TestValidateSessionID(t *testing.T) {
	for _, id := range []string{"abc", "a-b_c.1", "3f2a9c1e-1234-4bcd-9def-000000000000"} {
		assert.NoError(t, ValidateSessionID(id), id)
	}
	for _, id := range []string{"", ".", "..", "a/b", "a b", "../x", fmt.Sprintf("a%cb", 0)} {
		assert.Error(t, ValidateSessionID(id), id)
	}
}

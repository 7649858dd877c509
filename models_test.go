package fairiagent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.False(t, SessionStatusRunning.IsTerminal())
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusFailed.IsTerminal())
}

func TestDecision_Valid(t *testing.T) {
	assert.True(t, DecisionAccept.Valid())
	assert.True(t, DecisionRetry.Valid())
	assert.True(t, DecisionEscalate.Valid())
	assert.False(t, Decision("").Valid())
}

func TestWorkflowState_Clone(t *testing.T) {
	s := sampleState()
	s.StageAttempts["retrieve-knowledge"] = 1
	s.PendingFeedback["retrieve-knowledge"] = "missing terms"

	c := s.Clone()
	require.Equal(t, s, c)

	c.StageOrder[0] = "changed"
	c.StageOutputs["parse"] = json.RawMessage(`{}`)
	c.StageAttempts["retrieve-knowledge"] = 2
	c.PendingFeedback["retrieve-knowledge"] = "other"
	c.History[0].Reason = "changed"

	assert.Equal(t, "parse", s.StageOrder[0])
	assert.JSONEq(t, `{"title":"x"}`, string(s.StageOutputs["parse"]))
	assert.Equal(t, 1, s.StageAttempts["retrieve-knowledge"])
	assert.Equal(t, "missing terms", s.PendingFeedback["retrieve-knowledge"])
	assert.Empty(t, s.History[0].Reason)

	var nilState *WorkflowState
	assert.Nil(t, nilState.Clone())
}

func TestWorkflowState_NextStage(t *testing.T) {
	s := NewWorkflowState("s-1", Document{}, testOrder, time.Now())

	next, ok := s.NextStage()
	assert.True(t, ok)
	assert.Equal(t, "parse", next)
	assert.Equal(t, 0.0, s.Progress())

	s.StageOutputs["parse"] = json.RawMessage(`{}`)
	next, _ = s.NextStage()
	assert.Equal(t, "retrieve-knowledge", next)

	s.StageOutputs["retrieve-knowledge"] = json.RawMessage(`{}`)
	s.StageOutputs["generate-output"] = json.RawMessage(`{}`)
	_, ok = s.NextStage()
	assert.False(t, ok)
	assert.Equal(t, 1.0, s.Progress())
}

func TestNewResult(t *testing.T) {
	s := NewWorkflowState("s-1", Document{}, testOrder, time.Now())
	s.History = append(s.History, Transition{
		Seq: 1, Stage: "parse", Attempt: 1, Decision: DecisionEscalate,
		Reason: "schema violation", Code: ErrCodeEscalated,
	})
	s.Status = SessionStatusFailed

	r := NewResult(s)
	assert.Equal(t, SessionStatusFailed, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, ErrCodeEscalated, r.Error.Code)
	assert.Equal(t, "parse", r.Error.Stage)
	assert.Equal(t, "schema violation", r.Error.Message)

	s.Status = SessionStatusRunning
	assert.Nil(t, NewResult(s).Error)
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Process(t *testing.T) {
	stages := defaultStages()
	stages[2] = newRecorder("generate-output").then(func(_ context.Context, in fairiagent.StageInput) (fairiagent.Proposal, error) {
		if in.State.Document.Reference == "bad.txt" {
			return fairiagent.Proposal{}, fairiagent.NewFatalConfigError(errors.New("no schema for document"))
		}
		return fairiagent.Proposal{Output: json.RawMessage(`{"metadata":{}}`)}, nil
	})
	st := store.NewMemoryStore()
	c := newTestController(t, newPipeline(t, stages...), newScriptedGate(), st)

	jobs := make([]Job, 0, 6)
	for i := 0; i < 4; i++ {
		jobs = append(jobs, Job{Document: fairiagent.Document{Reference: fmt.Sprintf("paper-%d.txt", i)}})
	}
	jobs = append(jobs,
		Job{Document: fairiagent.Document{Reference: "bad.txt"}},
		Job{SessionID: "pinned", Document: fairiagent.Document{Reference: "pinned.txt"}},
	)

	pool := NewPool(c, 2)
	assert.Equal(t, 2, pool.Size())

	outcomes := pool.Process(context.Background(), jobs)
	require.Len(t, outcomes, len(jobs))

	for i, o := range outcomes {
		assert.Equal(t, jobs[i], o.Job)
		require.NotNil(t, o.Result, o.Job.Document.Reference)

		if o.Job.Document.Reference == "bad.txt" {
			var esc *fairiagent.EscalationError
			assert.ErrorAs(t, o.Err, &esc)
			assert.Equal(t, fairiagent.SessionStatusFailed, o.Result.Status)
			continue
		}
		assert.NoError(t, o.Err)
		assert.Equal(t, fairiagent.SessionStatusCompleted, o.Result.Status)
	}
	assert.Equal(t, "pinned", outcomes[5].Result.SessionID)

	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, len(jobs))
}

func TestNewPool_Size(t *testing.T) {
	c := newTestController(t, newPipeline(t, defaultStages()...), newScriptedGate(), store.NewMemoryStore())
	assert.Equal(t, DefaultConfig.MaxConcurrentSessions, NewPool(c, 0).Size())

	cfg := DefaultConfig
	cfg.MaxConcurrentSessions = 0
	c = newTestController(t, newPipeline(t, defaultStages()...), newScriptedGate(), store.NewMemoryStore(), WithConfig(cfg))
	assert.Equal(t, 1, NewPool(c, 0).Size())
}

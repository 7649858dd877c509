package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/memory"
	"github.com/ElderMedic/FAIRiAgent-sub001/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenMemory fails every call
type brokenMemory struct{}

var errMemoryDown = errors.New("vector store unreachable")

func (brokenMemory) Retrieve(context.Context, string, string, string, int) ([]fairiagent.MemoryEntry, error) {
	return nil, errMemoryDown
}

func (brokenMemory) Add(context.Context, string, string, string, float64) (fairiagent.MemoryEntry, error) {
	return fairiagent.MemoryEntry{}, errMemoryDown
}

func (brokenMemory) Clear(context.Context, string) error {
	return errMemoryDown
}

func memoryConfig() Config {
	cfg := DefaultConfig
	cfg.MemoryEnabled = true
	cfg.MemoryK = 5
	cfg.MemoryTimeout = time.Second
	return cfg
}

func TestController_MemoryIsolation(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewLocalStore()
	_, err := mem.Add(ctx, "other", "parse", "title from another session", 0.9)
	require.NoError(t, err)

	stages := defaultStages()
	c := newTestController(t, newPipeline(t, stages...), newScriptedGate(), store.NewMemoryStore(),
		WithMemory(mem), WithConfig(memoryConfig()))

	a, err := c.Start(ctx, doc(), fairiagent.WithSessionID("alpha"))
	require.NoError(t, err)
	b, err := c.Start(ctx, doc(), fairiagent.WithSessionID("beta"))
	require.NoError(t, err)

	for _, r := range stages {
		for i := 0; i < r.calls(); i++ {
			in := r.input(i)
			for _, e := range in.Memory {
				assert.Equal(t, in.State.SessionID, e.SessionID, "stage %s saw a foreign entry", r.name)
			}
		}
	}

	// retrieve-knowledge sees the insight parse left in its own session
	require.Equal(t, 2, stages[1].calls())
	assert.Len(t, stages[1].input(0).Memory, 1)
	assert.Equal(t, "parse", stages[1].input(0).Memory[0].StageName)
	assert.Empty(t, stages[0].input(1).Memory, "a new session starts without memory")

	for _, id := range []string{a.SessionID, b.SessionID} {
		entries, err := mem.Retrieve(ctx, id, "", "soil", 10)
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	}
}

func TestController_MemorySummaries(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewLocalStore()

	parse := newRecorder("parse").then(func(context.Context, fairiagent.StageInput) (fairiagent.Proposal, error) {
		return fairiagent.Proposal{
			Output:   []byte(`{"title":"x"}`),
			Metadata: fairiagent.ProposalMetadata{Summary: "title taken from first heading", Confidence: 0.8},
		}, nil
	})
	retrieve := newRecorder("retrieve-knowledge").output(`{"terms": ["soil"]}`)

	c := newTestController(t, newPipeline(t, parse, retrieve), newScriptedGate(), store.NewMemoryStore(),
		WithMemory(mem), WithConfig(memoryConfig()))

	res, err := c.Start(ctx, doc())
	require.NoError(t, err)

	entries, err := mem.Retrieve(ctx, res.SessionID, "", "title heading terms soil", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byStage := map[string]fairiagent.MemoryEntry{}
	for _, e := range entries {
		byStage[e.StageName] = e
	}
	assert.Equal(t, "title taken from first heading", byStage["parse"].Summary)
	assert.Equal(t, `{"terms":["soil"]}`, byStage["retrieve-knowledge"].Summary)
	assert.Equal(t, 1.0, byStage["parse"].Score)
}

func TestController_DegradedMemoryIsEquivalent(t *testing.T) {
	ctx := context.Background()

	run := func(opts ...Option) *fairiagent.Result {
		g := newScriptedGate().queue("retrieve-knowledge", retryVerdict("missing terms"))
		opts = append(opts, WithConfig(memoryConfig()))
		c := newTestController(t, newPipeline(t, defaultStages()...), g, store.NewMemoryStore(), opts...)
		res, err := c.Start(ctx, doc(), fairiagent.WithSessionID("s1"))
		require.NoError(t, err)
		return res
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	without := run()
	degraded := run(WithMemory(brokenMemory{}), WithMetrics(metrics))

	assert.Equal(t, without.Status, degraded.Status)
	require.Len(t, degraded.History, len(without.History))
	for i := range without.History {
		assert.Equal(t, without.History[i].Stage, degraded.History[i].Stage)
		assert.Equal(t, without.History[i].Decision, degraded.History[i].Decision)
		assert.Equal(t, without.History[i].Reason, degraded.History[i].Reason)
	}
	for stage, out := range without.Outputs {
		assert.JSONEq(t, string(out), string(degraded.Outputs[stage]))
	}

	// Four attempts retrieve, three accepts add
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.MemoryDegradedTotal.WithLabelValues(memory.OpRetrieve)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.MemoryDegradedTotal.WithLabelValues(memory.OpAdd)))
}

func TestController_MemoryDisabledByConfig(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewLocalStore()
	cfg := memoryConfig()
	cfg.MemoryEnabled = false

	c := newTestController(t, newPipeline(t, defaultStages()...), newScriptedGate(), store.NewMemoryStore(),
		WithMemory(mem), WithConfig(cfg))

	res, err := c.Start(ctx, doc())
	require.NoError(t, err)

	entries, err := mem.Retrieve(ctx, res.SessionID, "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

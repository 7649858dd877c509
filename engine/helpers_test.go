package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/builder"
	"github.com/ElderMedic/FAIRiAgent-sub001/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testOrder = []string{"parse", "retrieve-knowledge", "generate-output"}

// recorder is a scripted stage that records every input it sees
type recorder struct {
	name string
	opts []fairiagent.StageOption

	mu     sync.Mutex
	inputs []fairiagent.StageInput
	script []func(ctx context.Context, in fairiagent.StageInput) (fairiagent.Proposal, error)
}

func newRecorder(name string, opts ...fairiagent.StageOption) *recorder {
	return &recorder{name: name, opts: opts}
}

// then appends the behaviour of the next call. The last behaviour repeats.
func (r *recorder) then(fn func(ctx context.Context, in fairiagent.StageInput) (fairiagent.Proposal, error)) *recorder {
	r.script = append(r.script, fn)
	return r
}

// output appends a call that returns the given JSON
func (r *recorder) output(data string) *recorder {
	return r.then(func(context.Context, fairiagent.StageInput) (fairiagent.Proposal, error) {
		return fairiagent.Proposal{Output: json.RawMessage(data)}, nil
	})
}

// fail appends a call that returns err
func (r *recorder) fail(err error) *recorder {
	return r.then(func(context.Context, fairiagent.StageInput) (fairiagent.Proposal, error) {
		return fairiagent.Proposal{}, err
	})
}

func (r *recorder) stage() fairiagent.Stage {
	var cfg fairiagent.StageConfig
	for _, opt := range r.opts {
		opt(&cfg)
	}
	return fairiagent.StageFunc{StageName: r.name, Options: cfg, Fn: r.execute}
}

func (r *recorder) execute(ctx context.Context, in fairiagent.StageInput) (fairiagent.Proposal, error) {
	r.mu.Lock()
	idx := len(r.inputs)
	r.inputs = append(r.inputs, in)
	var fn func(ctx context.Context, in fairiagent.StageInput) (fairiagent.Proposal, error)
	if len(r.script) > 0 {
		fn = r.script[min(idx, len(r.script)-1)]
	}
	r.mu.Unlock()

	if fn == nil {
		return fairiagent.Proposal{Output: json.RawMessage(`{"stage":"` + r.name + `"}`)}, nil
	}
	return fn(ctx, in)
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

func (r *recorder) input(i int) fairiagent.StageInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs[i]
}

// scriptedGate returns queued verdicts per stage and accepts once a queue
// is empty
type scriptedGate struct {
	mu       sync.Mutex
	verdicts map[string][]fairiagent.Verdict
	err      error
}

func newScriptedGate() *scriptedGate {
	return &scriptedGate{verdicts: make(map[string][]fairiagent.Verdict)}
}

func (g *scriptedGate) queue(stage string, verdicts ...fairiagent.Verdict) *scriptedGate {
	g.verdicts[stage] = append(g.verdicts[stage], verdicts...)
	return g
}

func (g *scriptedGate) Evaluate(_ context.Context, stage string, _ fairiagent.Proposal, _ *fairiagent.WorkflowState) (fairiagent.Verdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return fairiagent.Verdict{}, g.err
	}
	q := g.verdicts[stage]
	if len(q) == 0 {
		return fairiagent.Verdict{Decision: fairiagent.DecisionAccept, Score: 1}, nil
	}
	g.verdicts[stage] = q[1:]
	return q[0], nil
}

func retryVerdict(reason string) fairiagent.Verdict {
	return fairiagent.Verdict{Decision: fairiagent.DecisionRetry, Reason: reason, Score: 0.3}
}

// flakyStore fails Save for the listed versions until healed
type flakyStore struct {
	*store.MemoryStore

	mu     sync.Mutex
	failAt map[int]bool
	saves  int
}

var errDiskFull = errors.New("disk full")

func newFlakyStore(versions ...int) *flakyStore {
	s := &flakyStore{MemoryStore: store.NewMemoryStore(), failAt: make(map[int]bool)}
	for _, v := range versions {
		s.failAt[v] = true
	}
	return s
}

func (s *flakyStore) Save(ctx context.Context, sessionID string, state *fairiagent.WorkflowState) (*fairiagent.CheckpointRecord, error) {
	s.mu.Lock()
	s.saves++
	fail := s.failAt[len(state.History)]
	s.mu.Unlock()
	if fail {
		return nil, errDiskFull
	}
	return s.MemoryStore.Save(ctx, sessionID, state)
}

func (s *flakyStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = make(map[int]bool)
}

func newPipeline(t *testing.T, stages ...*recorder) *fairiagent.Pipeline {
	t.Helper()
	b := builder.NewPipeline("fair", "FAIR metadata")
	for _, r := range stages {
		b.ThenStage(r.stage())
	}
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func defaultStages() []*recorder {
	return []*recorder{
		newRecorder("parse").output(`{"title":"Soil carbon","authors":["A. Smith"]}`),
		newRecorder("retrieve-knowledge").output(`{"terms":["soil","carbon"]}`),
		newRecorder("generate-output").output(`{"metadata":{"title":"Soil carbon"}}`),
	}
}

func newTestController(t *testing.T, p *fairiagent.Pipeline, gate fairiagent.QualityGate, st fairiagent.CheckpointStore, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	c, err := NewController(p, gate, st, opts...)
	require.NoError(t, err)
	return c
}

func doc() fairiagent.Document {
	return fairiagent.Document{Reference: "paper.txt", Content: "Soil carbon dynamics, by A. Smith"}
}

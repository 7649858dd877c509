package fairiagent

import (
	"context"
	"encoding/json"
	"fmt"
)

// StageInput is everything a stage executor sees for one attempt.
// State is a copy; mutating it has no effect on the session.
type StageInput struct {
	State    *WorkflowState
	Memory   []MemoryEntry
	Feedback string
	Attempt  int
}

// Stage is the interface the controller works with (polymorphic)
type Stage interface {
	// Metadata
	Name() string
	Description() string
	Config() StageConfig

	// Execute proposes an output for the current attempt
	Execute(ctx context.Context, in StageInput) (Proposal, error)
}

// StageHandler is the user-defined function signature for stage logic
type StageHandler[TOut any] func(ctx context.Context, in StageInput) (TOut, ProposalMetadata, error)

// TypedStage is a generic stage definition whose output is marshaled to JSON
type TypedStage[TOut any] struct {
	name        string
	description string
	handler     StageHandler[TOut]
	config      StageConfig
}

// NewStage creates a new type-safe stage
func NewStage[TOut any](name, description string, handler StageHandler[TOut], opts ...StageOption) *TypedStage[TOut] {
	s := &TypedStage[TOut]{
		name:        name,
		description: description,
		handler:     handler,
	}

	for _, opt := range opts {
		opt(&s.config)
	}

	return s
}

func (s *TypedStage[TOut]) Name() string {
	return s.name
}

func (s *TypedStage[TOut]) Description() string {
	return s.description
}

func (s *TypedStage[TOut]) Config() StageConfig {
	return s.config
}

// Execute runs the stage handler with type-safe marshaling
func (s *TypedStage[TOut]) Execute(ctx context.Context, in StageInput) (Proposal, error) {
	out, meta, err := s.handler(ctx, in)
	if err != nil {
		return Proposal{}, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return Proposal{}, fmt.Errorf("failed to marshal output of stage %s: %w", s.name, err)
	}

	return Proposal{Output: data, Metadata: meta}, nil
}

// StageFunc adapts a plain function returning a raw proposal into a Stage
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, in StageInput) (Proposal, error)
	Options   StageConfig
}

func (f StageFunc) Name() string        { return f.StageName }
func (f StageFunc) Description() string { return "" }
func (f StageFunc) Config() StageConfig { return f.Options }

func (f StageFunc) Execute(ctx context.Context, in StageInput) (Proposal, error) {
	return f.Fn(ctx, in)
}

// GetTypedOutput decodes the accepted output of a stage
func GetTypedOutput[T any](state *WorkflowState, stage string) (T, error) {
	var result T
	data, ok := state.StageOutputs[stage]
	if !ok {
		return result, fmt.Errorf("stage %s has no accepted output", stage)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal output for stage %s: %w", stage, err)
	}
	return result, nil
}

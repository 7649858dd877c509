package builder

import (
	"errors"
	"fmt"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
)

// PipelineBuilder provides a fluent API for building pipelines
type PipelineBuilder struct {
	pipeline *fairiagent.Pipeline
	errs     []error
}

// NewPipeline creates a new pipeline builder
func NewPipeline(id, name string) *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: fairiagent.NewPipelineInstance(id, name),
	}
}

// WithDescription sets the pipeline description
func (b *PipelineBuilder) WithDescription(description string) *PipelineBuilder {
	b.pipeline.SetDescription(description)
	return b
}

// WithVersion sets the pipeline version
func (b *PipelineBuilder) WithVersion(version string) *PipelineBuilder {
	b.pipeline.SetVersion(version)
	return b
}

// WithConfig sets the default stage config
func (b *PipelineBuilder) WithConfig(config fairiagent.StageConfig) *PipelineBuilder {
	b.pipeline.SetConfig(config)
	return b
}

// ThenStage appends the given stage after the last added stage
func (b *PipelineBuilder) ThenStage(stage fairiagent.Stage) *PipelineBuilder {
	if stage == nil {
		b.errs = append(b.errs, errors.New("nil stage"))
		return b
	}
	if err := b.pipeline.AddStage(stage); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// ThenStageWith appends a stage whose config is overridden by opts
func (b *PipelineBuilder) ThenStageWith(stage fairiagent.Stage, opts ...fairiagent.StageOption) *PipelineBuilder {
	if stage == nil || len(opts) == 0 {
		return b.ThenStage(stage)
	}

	cfg := stage.Config()
	for _, opt := range opts {
		opt(&cfg)
	}
	return b.ThenStage(&configuredStage{Stage: stage, config: cfg})
}

// Sequence adds multiple stages in order
func (b *PipelineBuilder) Sequence(stages ...fairiagent.Stage) *PipelineBuilder {
	for _, stage := range stages {
		b.ThenStage(stage)
	}
	return b
}

// Build finalizes and validates the pipeline
func (b *PipelineBuilder) Build() (*fairiagent.Pipeline, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("invalid pipeline %s: %w", b.pipeline.ID(), errors.Join(b.errs...))
	}

	if err := ValidatePipeline(b.pipeline); err != nil {
		return nil, fmt.Errorf("invalid pipeline %s: %w", b.pipeline.ID(), err)
	}

	return b.pipeline, nil
}

// MustBuild finalizes and validates the pipeline, panics on error
func (b *PipelineBuilder) MustBuild() *fairiagent.Pipeline {
	p, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build pipeline: %v", err))
	}
	return p
}

// configuredStage overrides the config of a wrapped stage
type configuredStage struct {
	fairiagent.Stage
	config fairiagent.StageConfig
}

func (s *configuredStage) Config() fairiagent.StageConfig {
	return s.config
}

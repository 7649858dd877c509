package builder

import fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"

// PipelineOption is a functional option for configuring pipelines
type PipelineOption func(*fairiagent.Pipeline)

// WithDescription sets the pipeline description
func WithDescription(description string) PipelineOption {
	return func(p *fairiagent.Pipeline) {
		p.SetDescription(description)
	}
}

// WithVersion sets the pipeline version
func WithVersion(version string) PipelineOption {
	return func(p *fairiagent.Pipeline) {
		p.SetVersion(version)
	}
}

// WithDefaultConfig sets the default stage config
func WithDefaultConfig(config fairiagent.StageConfig) PipelineOption {
	return func(p *fairiagent.Pipeline) {
		p.SetConfig(config)
	}
}

// ApplyOptions applies a list of options to a pipeline
func ApplyOptions(p *fairiagent.Pipeline, opts ...PipelineOption) {
	for _, opt := range opts {
		opt(p)
	}
}

// Linear builds a pipeline from stages in the given order
func Linear(id, name string, stages []fairiagent.Stage, opts ...PipelineOption) (*fairiagent.Pipeline, error) {
	b := NewPipeline(id, name).Sequence(stages...)
	ApplyOptions(b.pipeline, opts...)
	return b.Build()
}

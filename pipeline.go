package fairiagent

import (
	"fmt"
	"slices"
	"time"
)

// Pipeline is the ordered stage registry a controller runs.
// It is resolved once at construction and immutable afterwards.
type Pipeline struct {
	id          string
	name        string
	description string
	version     string

	// Stages registered by name, plus their execution order
	stages map[string]Stage
	order  []string

	// Default config applied under each stage's own config
	config StageConfig

	createdAt time.Time
}

// NewPipelineInstance creates a new empty pipeline
func NewPipelineInstance(id, name string) *Pipeline {
	return &Pipeline{
		id:        id,
		name:      name,
		version:   "1.0",
		stages:    make(map[string]Stage),
		config:    DefaultStageConfig,
		createdAt: time.Now(),
	}
}

// ID returns the pipeline ID
func (p *Pipeline) ID() string {
	return p.id
}

// Name returns the pipeline name
func (p *Pipeline) Name() string {
	return p.name
}

// Description returns the pipeline description
func (p *Pipeline) Description() string {
	return p.description
}

// Version returns the pipeline version
func (p *Pipeline) Version() string {
	return p.version
}

// Order returns a copy of the stage execution order
func (p *Pipeline) Order() []string {
	return slices.Clone(p.order)
}

// Len returns the number of registered stages
func (p *Pipeline) Len() int {
	return len(p.order)
}

// GetStage retrieves a stage by name
func (p *Pipeline) GetStage(name string) (Stage, error) {
	stage, exists := p.stages[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, name)
	}
	return stage, nil
}

// HasStage reports whether name is registered
func (p *Pipeline) HasStage(name string) bool {
	_, ok := p.stages[name]
	return ok
}

// GetConfig returns the pipeline default stage config
func (p *Pipeline) GetConfig() StageConfig {
	return p.config
}

// StageConfigFor returns the stage config merged over the pipeline defaults
func (p *Pipeline) StageConfigFor(name string) StageConfig {
	stage, ok := p.stages[name]
	if !ok {
		return p.config
	}
	return stage.Config().Merge(p.config)
}

// SetDescription sets the pipeline description
func (p *Pipeline) SetDescription(description string) {
	p.description = description
}

// SetVersion sets the pipeline version
func (p *Pipeline) SetVersion(version string) {
	p.version = version
}

// SetConfig sets the default stage config. Zero fields keep
// DefaultStageConfig values.
func (p *Pipeline) SetConfig(config StageConfig) {
	p.config = config.Merge(DefaultStageConfig)
}

// AddStage appends a stage to the execution order.
// Registering the same name twice is an error.
func (p *Pipeline) AddStage(stage Stage) error {
	name := stage.Name()
	if name == "" {
		return fmt.Errorf("stage name cannot be empty")
	}
	if _, exists := p.stages[name]; exists {
		return fmt.Errorf("stage %s registered twice", name)
	}
	p.stages[name] = stage
	p.order = append(p.order, name)
	return nil
}

// Compatible reports whether a persisted stage order can be resumed by this
// pipeline. The persisted order must equal the pipeline's order.
func (p *Pipeline) Compatible(order []string) error {
	if !slices.Equal(order, p.order) {
		return fmt.Errorf("checkpoint stage order %v does not match pipeline %s order %v", order, p.id, p.order)
	}
	return nil
}

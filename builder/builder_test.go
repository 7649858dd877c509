package builder

import (
	"context"
	"testing"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStage(name string, opts ...fairiagent.StageOption) fairiagent.Stage {
	handler := func(ctx context.Context, in fairiagent.StageInput) (map[string]string, fairiagent.ProposalMetadata, error) {
		return map[string]string{"stage": name}, fairiagent.ProposalMetadata{}, nil
	}
	return fairiagent.NewStage(name, "", handler, opts...)
}

func TestNewPipeline_Empty(t *testing.T) {
	p, err := NewPipeline("fair", "FAIR").Build()
	require.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "no stages")
}

func TestPipelineBuilder_Metadata(t *testing.T) {
	config := fairiagent.StageConfig{
		MaxRetries:     5,
		TimeoutSeconds: 60,
		RetryBackoff:   fairiagent.BackoffExponential,
	}

	p, err := NewPipeline("fair", "FAIR").
		WithDescription("FAIR metadata extraction").
		WithVersion("2.0.0").
		WithConfig(config).
		ThenStage(testStage("parse")).
		Build()

	require.NoError(t, err)
	assert.Equal(t, "fair", p.ID())
	assert.Equal(t, "FAIR", p.Name())
	assert.Equal(t, "FAIR metadata extraction", p.Description())
	assert.Equal(t, "2.0.0", p.Version())
	assert.Equal(t, config, p.GetConfig())
}

func TestPipelineBuilder_Sequence(t *testing.T) {
	p, err := NewPipeline("fair", "FAIR").
		Sequence(testStage("parse"), testStage("retrieve-knowledge")).
		ThenStage(testStage("generate-output", fairiagent.WithRequires("parse"))).
		Build()

	require.NoError(t, err)
	assert.Equal(t, []string{"parse", "retrieve-knowledge", "generate-output"}, p.Order())
}

func TestPipelineBuilder_ThenStageWith(t *testing.T) {
	p := NewPipeline("fair", "FAIR").
		ThenStageWith(testStage("parse", fairiagent.WithRetries(1)), fairiagent.WithTimeout(5*time.Second)).
		MustBuild()

	cfg := p.StageConfigFor("parse")
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 5, cfg.TimeoutSeconds)

	stage, err := p.GetStage("parse")
	require.NoError(t, err)
	proposal, err := stage.Execute(context.Background(), fairiagent.StageInput{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":"parse"}`, string(proposal.Output))
}

func TestPipelineBuilder_Errors(t *testing.T) {
	tests := []struct {
		name   string
		build  func() *PipelineBuilder
		errMsg string
	}{
		{
			name: "duplicate stage",
			build: func() *PipelineBuilder {
				return NewPipeline("p", "P").Sequence(testStage("parse"), testStage("parse"))
			},
			errMsg: "registered twice",
		},
		{
			name: "nil stage",
			build: func() *PipelineBuilder {
				return NewPipeline("p", "P").ThenStage(nil)
			},
			errMsg: "nil stage",
		},
		{
			name: "bad name",
			build: func() *PipelineBuilder {
				return NewPipeline("p", "P").ThenStage(testStage("Parse Doc"))
			},
			errMsg: "must match",
		},
		{
			name: "requires later stage",
			build: func() *PipelineBuilder {
				return NewPipeline("p", "P").
					ThenStage(testStage("parse", fairiagent.WithRequires("generate-output"))).
					ThenStage(testStage("generate-output"))
			},
			errMsg: "runs later",
		},
		{
			name: "requires itself",
			build: func() *PipelineBuilder {
				return NewPipeline("p", "P").ThenStage(testStage("parse", fairiagent.WithRequires("parse")))
			},
			errMsg: "requires itself",
		},
		{
			name: "requires unknown stage",
			build: func() *PipelineBuilder {
				return NewPipeline("p", "P").ThenStage(testStage("parse", fairiagent.WithRequires("ocr")))
			},
			errMsg: "unregistered",
		},
		{
			name: "unknown backoff",
			build: func() *PipelineBuilder {
				return NewPipeline("p", "P").ThenStage(testStage("parse", fairiagent.WithBackoff("RANDOM")))
			},
			errMsg: "unknown backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMustBuild_Panics(t *testing.T) {
	assert.Panics(t, func() {
		NewPipeline("p", "P").MustBuild()
	})
}

func TestLinear(t *testing.T) {
	p, err := Linear("fair", "FAIR",
		[]fairiagent.Stage{testStage("parse"), testStage("generate-output")},
		WithDescription("two stages"),
		WithVersion("1.1"),
		WithDefaultConfig(fairiagent.StageConfig{MaxRetries: 4, RetryBackoff: fairiagent.BackoffLinear}),
	)

	require.NoError(t, err)
	assert.Equal(t, "two stages", p.Description())
	assert.Equal(t, "1.1", p.Version())
	assert.Equal(t, 4, p.StageConfigFor("parse").MaxRetries)
}

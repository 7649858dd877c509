package fairiagent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type titleOutput struct {
	Title string `json:"title"`
}

func titleHandler(ctx context.Context, in StageInput) (titleOutput, ProposalMetadata, error) {
	return titleOutput{Title: "from " + in.State.Document.Reference}, ProposalMetadata{Confidence: 0.8, Summary: "title found"}, nil
}

func TestTypedStage_Execute(t *testing.T) {
	stage := NewStage("parse", "Parse document", titleHandler, WithRetries(4), WithTimeout(10*time.Second))

	assert.Equal(t, "parse", stage.Name())
	assert.Equal(t, "Parse document", stage.Description())
	assert.Equal(t, 4, stage.Config().MaxRetries)
	assert.Equal(t, 10, stage.Config().TimeoutSeconds)

	state := NewWorkflowState("s-1", Document{Reference: "paper.txt"}, []string{"parse"}, time.Now())
	p, err := stage.Execute(context.Background(), StageInput{State: state})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"from paper.txt"}`, string(p.Output))
	assert.Equal(t, 0.8, p.Metadata.Confidence)
}

func TestGetTypedOutput(t *testing.T) {
	state := NewWorkflowState("s-1", Document{}, []string{"parse"}, time.Now())
	_, err := GetTypedOutput[titleOutput](state, "parse")
	assert.Error(t, err)

	state.StageOutputs["parse"] = json.RawMessage(`{"title":"x"}`)
	out, err := GetTypedOutput[titleOutput](state, "parse")
	require.NoError(t, err)
	assert.Equal(t, "x", out.Title)

	state.StageOutputs["parse"] = json.RawMessage(`[1]`)
	_, err = GetTypedOutput[titleOutput](state, "parse")
	assert.Error(t, err)
}

func TestPipeline_AddStage(t *testing.T) {
	p := NewPipelineInstance("fair", "FAIR metadata")

	require.NoError(t, p.AddStage(NewStage("parse", "", titleHandler)))
	require.NoError(t, p.AddStage(StageFunc{StageName: "generate-output", Options: StageConfig{MaxRetries: 1}}))
	assert.Error(t, p.AddStage(NewStage("parse", "", titleHandler)))
	assert.Error(t, p.AddStage(StageFunc{}))

	assert.Equal(t, []string{"parse", "generate-output"}, p.Order())
	assert.Equal(t, 2, p.Len())
	assert.True(t, p.HasStage("parse"))

	_, err := p.GetStage("missing")
	assert.ErrorIs(t, err, ErrStageNotFound)

	cfg := p.StageConfigFor("generate-output")
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, DefaultStageConfig.TimeoutSeconds, cfg.TimeoutSeconds)

	assert.NoError(t, p.Compatible([]string{"parse", "generate-output"}))
	assert.Error(t, p.Compatible([]string{"parse"}))
}

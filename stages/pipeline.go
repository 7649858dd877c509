package stages

import (
	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/builder"
	"github.com/ElderMedic/FAIRiAgent-sub001/gate"
)

// PipelineID identifies the default pipeline in checkpoints and logs
const PipelineID = "fair-metadata"

// DefaultPipeline builds parse -> retrieve-knowledge -> generate-output
func DefaultPipeline(opts ...builder.PipelineOption) (*fairiagent.Pipeline, error) {
	opts = append([]builder.PipelineOption{
		builder.WithDescription("Extract FAIR metadata from a research document"),
	}, opts...)
	return builder.Linear(PipelineID, "FAIR metadata extraction", Default(), opts...)
}

// DefaultCriteria returns the quality gate rules for the built-in stages
func DefaultCriteria() []gate.Option {
	return []gate.Option{
		gate.WithCriteria(Parse, gate.Criteria{
			Required:    []string{"title", "keywords"},
			Recommended: []string{"sections"},
		}),
		gate.WithCriteria(RetrieveKnowledge, gate.Criteria{
			Required:    []string{"keywords"},
			Recommended: []string{"terms"},
			CrossRefs: []gate.CrossRef{
				{Field: "keywords", Stage: Parse, TargetField: "keywords"},
			},
		}),
		gate.WithCriteria(GenerateOutput, gate.Criteria{
			Required:    []string{"title", "fields"},
			Recommended: []string{"keywords"},
			CrossRefs: []gate.CrossRef{
				{Field: "title", Stage: Parse, TargetField: "title"},
				{Field: "keywords", Stage: Parse, TargetField: "keywords"},
			},
			MinScore: 0.5,
		}),
	}
}

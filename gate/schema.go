package gate

import (
	"context"
	"encoding/json"
	"fmt"
)

// Violation is one finding reported by an external schema validator.
// Fatal violations cannot be fixed by another attempt.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// SchemaValidator checks a stage output against an external metadata schema
type SchemaValidator interface {
	Validate(ctx context.Context, stage string, output json.RawMessage) ([]Violation, error)
}

// SchemaValidatorFunc adapts a function into a SchemaValidator
type SchemaValidatorFunc func(ctx context.Context, stage string, output json.RawMessage) ([]Violation, error)

// Validate implements SchemaValidator
func (f SchemaValidatorFunc) Validate(ctx context.Context, stage string, output json.RawMessage) ([]Violation, error) {
	return f(ctx, stage, output)
}

// Package gate implements a rule-driven quality gate. A Critic checks each
// stage proposal for required fields, consistent cross references, external
// schema violations and a minimum score, and returns accept, retry or
// escalate.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/rs/zerolog"
)

// Critic is a fairiagent.QualityGate driven by per-stage Criteria
type Critic struct {
	stages           map[string]Criteria
	fallback         Criteria
	validators       []SchemaValidator
	escalateOnRepeat bool
	logger           zerolog.Logger
}

var _ fairiagent.QualityGate = (*Critic)(nil)

// Option configures a Critic
type Option func(*Critic)

// WithCriteria sets the rules for one stage
func WithCriteria(stage string, c Criteria) Option {
	return func(cr *Critic) {
		cr.stages[stage] = c
	}
}

// WithDefaultCriteria sets the rules for stages without their own
func WithDefaultCriteria(c Criteria) Option {
	return func(cr *Critic) {
		cr.fallback = c
	}
}

// WithValidator adds an external schema validator
func WithValidator(v SchemaValidator) Option {
	return func(cr *Critic) {
		cr.validators = append(cr.validators, v)
	}
}

// WithEscalateOnRepeat escalates a retry whose reason equals the stage's
// pending feedback
func WithEscalateOnRepeat(enabled bool) Option {
	return func(cr *Critic) {
		cr.escalateOnRepeat = enabled
	}
}

// WithLogger sets the critic logger
func WithLogger(logger zerolog.Logger) Option {
	return func(cr *Critic) {
		cr.logger = logger
	}
}

// NewCritic creates a critic. Without criteria it accepts any JSON object.
func NewCritic(opts ...Option) *Critic {
	c := &Critic{
		stages: make(map[string]Criteria),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CriteriaFor returns the rules applied to stage
func (c *Critic) CriteriaFor(stage string) Criteria {
	if cr, ok := c.stages[stage]; ok {
		return cr
	}
	return c.fallback
}

// Evaluate implements fairiagent.QualityGate. It only reads state.
func (c *Critic) Evaluate(ctx context.Context, stage string, proposal fairiagent.Proposal, state *fairiagent.WorkflowState) (fairiagent.Verdict, error) {
	verdict, err := c.evaluate(ctx, stage, proposal, state)
	if err != nil {
		return fairiagent.Verdict{}, err
	}

	if verdict.Decision == fairiagent.DecisionRetry && c.escalateOnRepeat && state != nil {
		if prev, ok := state.PendingFeedback[stage]; ok && prev == verdict.Reason {
			verdict.Decision = fairiagent.DecisionEscalate
			verdict.Reason = "repeated failure: " + verdict.Reason
		}
	}

	c.logger.Debug().
		Str("stage", stage).
		Str("decision", verdict.Decision.String()).
		Str("reason", verdict.Reason).
		Float64("score", verdict.Score).
		Msg("Proposal evaluated")

	return verdict, nil
}

func (c *Critic) evaluate(ctx context.Context, stage string, proposal fairiagent.Proposal, state *fairiagent.WorkflowState) (fairiagent.Verdict, error) {
	raw := bytes.TrimSpace(proposal.Output)
	if len(raw) == 0 || !json.Valid(raw) {
		return retry("output is not valid JSON", 0), nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return escalate("output is not a JSON object", 0), nil
	}

	criteria := c.CriteriaFor(stage)
	score := scoreOf(obj, criteria, proposal.Metadata.Confidence)

	for _, v := range c.validators {
		violations, err := v.Validate(ctx, stage, proposal.Output)
		if err != nil {
			return fairiagent.Verdict{}, fmt.Errorf("schema validation for stage %s: %w", stage, err)
		}
		if len(violations) == 0 {
			continue
		}
		sortViolations(violations)
		for _, viol := range violations {
			if viol.Fatal {
				return escalate("schema violation at "+viol.String(), score), nil
			}
		}
		return retry("schema violation at "+violations[0].String(), score), nil
	}

	if missing := missingFields(obj, criteria.Required); len(missing) > 0 {
		return retry("missing required fields: "+strings.Join(missing, ", "), score), nil
	}

	for _, ref := range criteria.CrossRefs {
		if reason, ok := checkCrossRef(obj, ref, state); !ok {
			return retry(reason, score), nil
		}
	}

	if score < criteria.MinScore {
		return retry(fmt.Sprintf("score %.2f below minimum %.2f", score, criteria.MinScore), score), nil
	}

	return fairiagent.Verdict{Decision: fairiagent.DecisionAccept, Score: score}, nil
}

func retry(reason string, score float64) fairiagent.Verdict {
	return fairiagent.Verdict{Decision: fairiagent.DecisionRetry, Reason: reason, Score: score}
}

func escalate(reason string, score float64) fairiagent.Verdict {
	return fairiagent.Verdict{Decision: fairiagent.DecisionEscalate, Reason: reason, Score: score}
}

// scoreOf is the share of required and recommended fields present, averaged
// with the self-reported confidence when there is one
func scoreOf(obj map[string]any, criteria Criteria, confidence float64) float64 {
	fields := append(slices.Clone(criteria.Required), criteria.Recommended...)

	completeness := 1.0
	if len(fields) > 0 {
		present := 0
		for _, f := range fields {
			if v, ok := lookup(obj, f); ok && !isEmpty(v) {
				present++
			}
		}
		completeness = float64(present) / float64(len(fields))
	}

	if confidence <= 0 {
		return completeness
	}
	return (completeness + min(confidence, 1)) / 2
}

func missingFields(obj map[string]any, required []string) []string {
	var missing []string
	for _, f := range required {
		if v, ok := lookup(obj, f); !ok || isEmpty(v) {
			missing = append(missing, f)
		}
	}
	slices.Sort(missing)
	return missing
}

func checkCrossRef(obj map[string]any, ref CrossRef, state *fairiagent.WorkflowState) (string, bool) {
	value, ok := lookup(obj, ref.Field)
	if !ok || isEmpty(value) {
		return "", true
	}

	if state == nil {
		return fmt.Sprintf("%s references stage %s which has no output", ref.Field, ref.Stage), false
	}
	upstream, ok := state.StageOutputs[ref.Stage]
	if !ok {
		return fmt.Sprintf("%s references stage %s which has no output", ref.Field, ref.Stage), false
	}

	var target map[string]any
	if err := json.Unmarshal(upstream, &target); err != nil {
		return fmt.Sprintf("%s references stage %s whose output is not an object", ref.Field, ref.Stage), false
	}
	want, ok := lookup(target, ref.TargetField)
	if !ok {
		return fmt.Sprintf("%s references missing %s.%s", ref.Field, ref.Stage, ref.TargetField), false
	}

	if matches(value, want) {
		return "", true
	}
	return fmt.Sprintf("%s does not match %s.%s", ref.Field, ref.Stage, ref.TargetField), false
}

// matches reports whether every element of value is found in want
func matches(value, want any) bool {
	candidates := []any{want}
	if list, ok := want.([]any); ok {
		candidates = list
	}

	values := []any{value}
	if list, ok := value.([]any); ok {
		values = list
	}

	for _, v := range values {
		found := false
		for _, c := range candidates {
			if equalJSON(v, c) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func equalJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// lookup resolves a dotted path inside a decoded JSON object
func lookup(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func sortViolations(vs []Violation) {
	slices.SortStableFunc(vs, func(a, b Violation) int {
		return strings.Compare(a.Path, b.Path)
	})
}

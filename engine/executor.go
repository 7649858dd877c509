package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/rs/zerolog"
)

// attemptResult is the outcome of one stage attempt before it is committed
type attemptResult struct {
	Decision fairiagent.Decision
	Reason   string
	Code     string
	Score    float64
	Proposal fairiagent.Proposal
	Duration time.Duration
}

// executeStage runs one executor invocation. The call is detached from
// caller cancellation and bounded by the stage timeout, so cancellation is
// only observed between stages. Panics are recovered into errors.
func (c *Controller) executeStage(
	ctx context.Context,
	stage fairiagent.Stage,
	cfg fairiagent.StageConfig,
	in fairiagent.StageInput,
	logger zerolog.Logger,
) (fairiagent.Proposal, error) {
	execCtx := context.WithoutCancel(ctx)
	cancel := func() {}
	if timeout := cfg.Timeout(); timeout > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, timeout)
	}
	defer cancel()

	type result struct {
		proposal fairiagent.Proposal
		err      error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("Stage panicked")
				done <- result{err: fairiagent.NewWorkflowErrorWithStage(
					fairiagent.ErrCodePanic, fmt.Sprintf("stage panicked: %v", r), stage.Name())}
			}
		}()
		p, err := stage.Execute(execCtx, in)
		done <- result{proposal: p, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && execCtx.Err() == context.DeadlineExceeded {
			return fairiagent.Proposal{}, fmt.Errorf("stage %s timed out after %d seconds: %w",
				stage.Name(), cfg.TimeoutSeconds, context.DeadlineExceeded)
		}
		return r.proposal, r.err
	case <-execCtx.Done():
		logger.Error().
			Int("timeout_seconds", cfg.TimeoutSeconds).
			Msg("Stage execution timed out")
		return fairiagent.Proposal{}, fmt.Errorf("stage %s timed out after %d seconds: %w",
			stage.Name(), cfg.TimeoutSeconds, context.DeadlineExceeded)
	}
}

// classifyError turns an executor failure into a verdict
func classifyError(err error) attemptResult {
	var we *fairiagent.WorkflowError

	switch {
	case fairiagent.IsFatalConfig(err):
		return attemptResult{Decision: fairiagent.DecisionEscalate, Code: fairiagent.ErrCodeFatalConfig, Reason: err.Error()}
	case fairiagent.IsTimeoutError(err):
		return attemptResult{Decision: fairiagent.DecisionRetry, Code: fairiagent.ErrCodeTimeout, Reason: fairiagent.ReasonTimeout}
	case fairiagent.IsTransient(err):
		return attemptResult{Decision: fairiagent.DecisionRetry, Code: fairiagent.ErrCodeTransientProvider, Reason: err.Error()}
	case errors.As(err, &we) && we.Code == fairiagent.ErrCodePanic:
		return attemptResult{Decision: fairiagent.DecisionRetry, Code: fairiagent.ErrCodePanic, Reason: we.Message}
	default:
		return attemptResult{Decision: fairiagent.DecisionRetry, Code: fairiagent.ErrCodeInternalError, Reason: err.Error()}
	}
}

// review submits a proposal to the quality gate and normalises the verdict
func (c *Controller) review(ctx context.Context, stage string, proposal fairiagent.Proposal, state *fairiagent.WorkflowState) attemptResult {
	verdict, err := c.gate.Evaluate(context.WithoutCancel(ctx), stage, proposal, state)
	if err != nil {
		if fairiagent.IsFatalConfig(err) {
			return attemptResult{Decision: fairiagent.DecisionEscalate, Code: fairiagent.ErrCodeFatalConfig, Reason: err.Error()}
		}
		return attemptResult{Decision: fairiagent.DecisionRetry, Code: fairiagent.ErrCodeInternalError, Reason: "gate unavailable: " + err.Error()}
	}

	res := attemptResult{Decision: verdict.Decision, Reason: verdict.Reason, Score: verdict.Score, Proposal: proposal}

	switch verdict.Decision {
	case fairiagent.DecisionAccept:
		if len(proposal.Output) == 0 || !json.Valid(proposal.Output) {
			res.Decision = fairiagent.DecisionRetry
			res.Code = fairiagent.ErrCodeValidation
			res.Reason = "output is not valid JSON"
		}
	case fairiagent.DecisionRetry:
		res.Code = fairiagent.ErrCodeValidation
	case fairiagent.DecisionEscalate:
		res.Code = fairiagent.ErrCodeEscalated
	default:
		res.Decision = fairiagent.DecisionEscalate
		res.Code = fairiagent.ErrCodeInternalError
		res.Reason = fmt.Sprintf("gate returned unknown decision %q", verdict.Decision)
	}
	return res
}

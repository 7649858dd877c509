// Package engine runs sessions through a pipeline of gated stages. The
// Controller owns the state machine: it retrieves memory, invokes the stage
// executor, submits the proposal to the quality gate and commits every
// transition to the checkpoint store before advancing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Controller errors
var (
	ErrSessionRunning    = errors.New("session is already running")
	ErrSessionNotRunning = errors.New("session is not running")
	ErrSessionExists     = errors.New("session already exists")
)

// Controller sequences a pipeline's stages for one session at a time per
// session id
type Controller struct {
	pipeline *fairiagent.Pipeline
	gate     fairiagent.QualityGate
	store    fairiagent.CheckpointStore
	memory   fairiagent.MemoryService
	logger   zerolog.Logger
	config   Config
	metrics  *Metrics
	now      func() time.Time

	running sync.Map // sessionID -> *run
}

// run tracks an active session so it can be cancelled
type run struct {
	cancelled chan struct{}
	once      sync.Once
}

func (r *run) cancel() {
	r.once.Do(func() { close(r.cancelled) })
}

// Option configures the controller
type Option func(*Controller)

// WithLogger sets a custom logger for the controller
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithConfig sets a custom configuration for the controller
func WithConfig(config Config) Option {
	return func(c *Controller) {
		c.config = config
	}
}

// WithMemory enables memory enrichment through svc. The service is wrapped
// in a memory.Guard unless it already is one.
func WithMemory(svc fairiagent.MemoryService) Option {
	return func(c *Controller) {
		c.memory = svc
	}
}

// WithMetrics records controller metrics
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClock replaces time.Now for timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a controller with optional configuration.
// If no logger is provided, a console logger at Info level is used.
func NewController(
	pipeline *fairiagent.Pipeline,
	gate fairiagent.QualityGate,
	store fairiagent.CheckpointStore,
	opts ...Option,
) (*Controller, error) {
	if pipeline == nil || pipeline.Len() == 0 {
		return nil, fmt.Errorf("controller requires a pipeline with at least one stage")
	}
	if gate == nil {
		return nil, fmt.Errorf("controller requires a quality gate")
	}
	if store == nil {
		return nil, fmt.Errorf("controller requires a checkpoint store")
	}

	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	c := &Controller{
		pipeline: pipeline,
		gate:     gate,
		store:    store,
		logger:   defaultLogger,
		config:   DefaultConfig,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}

	if c.memory != nil {
		if _, guarded := c.memory.(*memory.Guard); !guarded {
			c.memory = memory.NewGuard(c.memory,
				memory.WithTimeout(c.config.MemoryTimeout),
				memory.WithGuardLogger(c.logger),
				memory.WithDegradedHook(func(op string, _ error) {
					c.metrics.recordMemoryDegraded(op)
				}),
			)
		}
	}

	return c, nil
}

// Pipeline returns the pipeline the controller runs
func (c *Controller) Pipeline() *fairiagent.Pipeline {
	return c.pipeline
}

// Memory returns the guarded memory service, or nil when memory is disabled
func (c *Controller) Memory() fairiagent.MemoryService {
	return c.memory
}

// stageConfig resolves the effective config for a stage
func (c *Controller) stageConfig(name string) fairiagent.StageConfig {
	base := c.pipeline.StageConfigFor(name)
	if override, ok := c.config.Stages[name]; ok {
		return override.Merge(base)
	}
	return base
}

// Start creates a new session for doc and runs it
func (c *Controller) Start(ctx context.Context, doc fairiagent.Document, opts ...fairiagent.StartOption) (*fairiagent.Result, error) {
	options := &fairiagent.StartOptions{}
	for _, opt := range opts {
		opt(options)
	}

	sessionID := options.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	r, err := c.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer c.release(sessionID)

	if _, err := c.store.Load(ctx, sessionID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	} else if !errors.Is(err, fairiagent.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("failed to check session %s: %w", sessionID, err)
	}

	return c.start(ctx, r, sessionID, doc, options.Tags)
}

func (c *Controller) start(ctx context.Context, r *run, sessionID string, doc fairiagent.Document, tags map[string]string) (*fairiagent.Result, error) {
	state := fairiagent.NewWorkflowState(sessionID, doc, c.pipeline.Order(), c.now().UTC())
	if _, err := c.store.Save(context.WithoutCancel(ctx), sessionID, state); err != nil {
		c.metrics.recordCheckpointError()
		fairiagent.LogCheckpointError(c.logger, sessionID, "create", err)
		return nil, &fairiagent.CheckpointWriteError{SessionID: sessionID, Version: 0, Err: err}
	}

	logger := c.sessionLogger(sessionID, tags)
	fairiagent.LogSessionStarted(logger, sessionID, doc.Reference, c.pipeline.Len())
	return c.execute(ctx, r, state, logger)
}

// Run resumes the session if it has a checkpoint and starts it otherwise
func (c *Controller) Run(ctx context.Context, sessionID string, doc fairiagent.Document) (*fairiagent.Result, error) {
	r, err := c.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer c.release(sessionID)

	rec, err := c.load(ctx, sessionID)
	if errors.Is(err, fairiagent.ErrCheckpointNotFound) {
		return c.start(ctx, r, sessionID, doc, nil)
	}
	if err != nil {
		return nil, err
	}
	return c.resume(ctx, r, rec)
}

// Resume continues a session from its latest checkpoint. Accepted stages
// are never executed again; a terminal session is returned unchanged.
func (c *Controller) Resume(ctx context.Context, sessionID string) (*fairiagent.Result, error) {
	r, err := c.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer c.release(sessionID)

	rec, err := c.load(ctx, sessionID)
	if errors.Is(err, fairiagent.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("%w: %s", fairiagent.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return c.resume(ctx, r, rec)
}

func (c *Controller) resume(ctx context.Context, r *run, rec *fairiagent.CheckpointRecord) (*fairiagent.Result, error) {
	state := rec.State
	if state.Status.IsTerminal() {
		return outcome(state)
	}

	logger := c.sessionLogger(state.SessionID, nil)
	fairiagent.LogSessionResumed(logger, state.SessionID, rec.Version, state.Progress())
	return c.execute(ctx, r, state, logger)
}

// Status returns the latest validated state of a session
func (c *Controller) Status(ctx context.Context, sessionID string) (*fairiagent.WorkflowState, error) {
	rec, err := c.load(ctx, sessionID)
	if errors.Is(err, fairiagent.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("%w: %s", fairiagent.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return rec.State, nil
}

// ListSessions lists known sessions when the store can enumerate them
func (c *Controller) ListSessions(ctx context.Context) ([]string, error) {
	lister, ok := c.store.(fairiagent.SessionLister)
	if !ok {
		return nil, fmt.Errorf("checkpoint store cannot list sessions")
	}
	return lister.ListSessions(ctx)
}

// Cancel asks a running session to stop at its next stage boundary. The
// session stays running and can be resumed.
func (c *Controller) Cancel(sessionID string) error {
	v, ok := c.running.Load(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotRunning, sessionID)
	}
	v.(*run).cancel()
	return nil
}

// IsRunning reports whether a session has an active run
func (c *Controller) IsRunning(sessionID string) bool {
	_, ok := c.running.Load(sessionID)
	return ok
}

func (c *Controller) acquire(sessionID string) (*run, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	r := &run{cancelled: make(chan struct{})}
	if _, loaded := c.running.LoadOrStore(sessionID, r); loaded {
		return nil, fmt.Errorf("%w: %s", ErrSessionRunning, sessionID)
	}
	return r, nil
}

func (c *Controller) release(sessionID string) {
	c.running.Delete(sessionID)
}

// load reads and validates the latest checkpoint
func (c *Controller) load(ctx context.Context, sessionID string) (*fairiagent.CheckpointRecord, error) {
	rec, err := c.store.Load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, fairiagent.ErrCheckpointNotFound) {
			fairiagent.LogCheckpointError(c.logger, sessionID, "load", err)
		}
		return nil, err
	}

	if err := fairiagent.ValidateSnapshot(rec.State); err != nil {
		fairiagent.LogCheckpointError(c.logger, sessionID, "validate", err)
		return nil, err
	}
	if err := c.pipeline.Compatible(rec.State.StageOrder); err != nil {
		return nil, fairiagent.NewFatalConfigError(err)
	}
	return rec, nil
}

func (c *Controller) sessionLogger(sessionID string, tags map[string]string) zerolog.Logger {
	logger := fairiagent.SessionLogger(c.logger, sessionID, c.pipeline.ID())
	if len(tags) > 0 {
		logger = logger.With().Interface("tags", tags).Logger()
	}
	return logger
}

// execute drives the state machine until the session is terminal, a commit
// fails, or cancellation is observed at a stage boundary
func (c *Controller) execute(ctx context.Context, r *run, state *fairiagent.WorkflowState, logger zerolog.Logger) (*fairiagent.Result, error) {
	startTime := c.now()

	for !state.Status.IsTerminal() {
		next, ok := state.NextStage()
		if !ok {
			break
		}

		if c.cancelled(ctx, r) {
			fairiagent.LogSessionCancelled(logger, state.SessionID, next)
			return fairiagent.NewResult(state), fairiagent.ErrCancelled
		}

		committed, err := c.step(ctx, r, state, next, logger)
		if err != nil {
			return fairiagent.NewResult(state), err
		}
		state = committed
	}

	c.metrics.recordSession(state.Status.String())
	if state.Status == fairiagent.SessionStatusCompleted {
		fairiagent.LogSessionCompleted(logger, state.SessionID, c.now().Sub(startTime))
	} else if last, ok := state.LastTransition(); ok {
		fairiagent.LogSessionFailed(logger, state.SessionID, last.Stage, last.Code, last.Reason)
	}
	return outcome(state)
}

func (c *Controller) cancelled(ctx context.Context, r *run) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-r.cancelled:
		return true
	default:
		return false
	}
}

// step performs one attempt of stage and commits its transition. It returns
// the committed state; on a failed commit the previous state is returned
// with the error.
func (c *Controller) step(
	ctx context.Context,
	r *run,
	state *fairiagent.WorkflowState,
	name string,
	sessionLogger zerolog.Logger,
) (*fairiagent.WorkflowState, error) {
	cfg := c.stageConfig(name)
	retryCap := cfg.RetryCap()
	retries := state.StageAttempts[name]
	attempt := retries + 1
	logger := fairiagent.StageLogger(sessionLogger, name, attempt)

	// Budget may shrink between runs when the config changed
	if retries > retryCap {
		return c.commit(ctx, state, attemptResult{
			Decision: fairiagent.DecisionEscalate,
			Code:     fairiagent.ErrCodeRetriesExhausted,
			Reason:   fairiagent.ReasonRetriesExhausted,
		}, name, attempt, logger)
	}

	if retries > 0 {
		waitCtx, stop := context.WithCancel(ctx)
		go func() {
			select {
			case <-r.cancelled:
				stop()
			case <-waitCtx.Done():
			}
		}()
		err := sleep(waitCtx, retryDelay(cfg, retries))
		stop()
		if err != nil {
			// Cancellation is reported by the caller at the boundary
			return state, nil
		}
	}

	stage, err := c.pipeline.GetStage(name)
	if err != nil {
		return state, fairiagent.NewFatalConfigError(err)
	}

	feedback := state.PendingFeedback[name]
	entries := c.retrieve(ctx, state, name, feedback)

	fairiagent.LogStageStarted(logger, state.SessionID, name, attempt, len(entries))
	c.metrics.recordAttempt(name)

	start := c.now()
	in := fairiagent.StageInput{
		State:    state.Clone(),
		Memory:   entries,
		Feedback: feedback,
		Attempt:  attempt,
	}

	var res attemptResult
	proposal, execErr := c.executeStage(ctx, stage, cfg, in, logger)
	if execErr != nil {
		res = classifyError(execErr)
		logger.Warn().Err(execErr).Str("code", res.Code).Msg("Stage execution failed")
	} else {
		res = c.review(ctx, name, proposal, state.Clone())
	}
	res.Duration = c.now().Sub(start)

	if res.Decision == fairiagent.DecisionRetry && retries >= retryCap {
		res = attemptResult{
			Decision: fairiagent.DecisionEscalate,
			Code:     fairiagent.ErrCodeRetriesExhausted,
			Reason:   fairiagent.ReasonRetriesExhausted + ": " + res.Reason,
			Score:    res.Score,
			Duration: res.Duration,
		}
	}

	return c.commit(ctx, state, res, name, attempt, logger)
}

// commit applies the transition to a copy of state and persists it. The
// copy replaces state only once the store accepted it.
func (c *Controller) commit(
	ctx context.Context,
	state *fairiagent.WorkflowState,
	res attemptResult,
	name string,
	attempt int,
	logger zerolog.Logger,
) (*fairiagent.WorkflowState, error) {
	now := c.now().UTC()
	t := fairiagent.Transition{
		Seq:       len(state.History) + 1,
		Stage:     name,
		Attempt:   attempt,
		Decision:  res.Decision,
		Reason:    res.Reason,
		Code:      res.Code,
		Score:     res.Score,
		Timestamp: now,
	}
	if res.Decision == fairiagent.DecisionAccept {
		t.Output = slices.Clone(res.Proposal.Output)
	}

	next := state.Clone()
	if err := next.Apply(t); err != nil {
		return state, fmt.Errorf("session %s: %w", state.SessionID, err)
	}
	next.UpdatedAt = now

	if _, err := c.store.Save(context.WithoutCancel(ctx), next.SessionID, next); err != nil {
		c.metrics.recordCheckpointError()
		fairiagent.LogCheckpointError(logger, state.SessionID, "save", err)
		return state, &fairiagent.CheckpointWriteError{SessionID: state.SessionID, Version: t.Seq, Err: err}
	}

	c.metrics.recordVerdict(name, res.Decision.String(), res.Duration)

	switch res.Decision {
	case fairiagent.DecisionAccept:
		fairiagent.LogStageAccepted(logger, next.SessionID, name, res.Score, res.Duration.Milliseconds())
		c.remember(ctx, next, name, res)
	case fairiagent.DecisionRetry:
		fairiagent.LogStageRetrying(logger, next.SessionID, name, res.Reason, attempt)
	case fairiagent.DecisionEscalate:
		fairiagent.LogStageEscalated(logger, next.SessionID, name, res.Code, res.Reason)
	}

	return next, nil
}

// retrieve fetches memory context for a stage attempt. Failures degrade to
// an empty context inside the guard.
func (c *Controller) retrieve(ctx context.Context, state *fairiagent.WorkflowState, stage, feedback string) []fairiagent.MemoryEntry {
	if c.memory == nil || !c.config.MemoryEnabled || c.config.MemoryK == 0 {
		return nil
	}
	hint := feedback
	if hint == "" {
		hint = stage
	}
	entries, err := c.memory.Retrieve(ctx, state.SessionID, stage, hint, c.config.MemoryK)
	if err != nil {
		return nil
	}
	return entries
}

// remember stores an accepted output as a memory insight, best effort
func (c *Controller) remember(ctx context.Context, state *fairiagent.WorkflowState, stage string, res attemptResult) {
	if c.memory == nil || !c.config.MemoryEnabled {
		return
	}
	summary := res.Proposal.Metadata.Summary
	if summary == "" {
		summary = fairiagent.SummarizeOutput(res.Proposal.Output, c.config.SummaryLimit)
	}
	score := min(max(res.Score, 0), 1)
	_, _ = c.memory.Add(context.WithoutCancel(ctx), state.SessionID, stage, summary, score)
}

// outcome converts a state into the caller-facing result and error
func outcome(state *fairiagent.WorkflowState) (*fairiagent.Result, error) {
	result := fairiagent.NewResult(state)
	if state.Status != fairiagent.SessionStatusFailed {
		return result, nil
	}

	last, _ := state.LastTransition()
	history := result.History
	if last.Code == fairiagent.ErrCodeRetriesExhausted {
		return result, &fairiagent.RetriesExhaustedError{
			SessionID: state.SessionID,
			Stage:     last.Stage,
			Attempts:  last.Attempt,
			History:   history,
		}
	}
	return result, &fairiagent.EscalationError{
		SessionID: state.SessionID,
		Stage:     last.Stage,
		Reason:    last.Reason,
		Code:      last.Code,
		History:   history,
	}
}

package engine

import (
	"context"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"golang.org/x/sync/errgroup"
)

// Job is one document to process. An empty SessionID starts a new session;
// otherwise the session is resumed or started under that id.
type Job struct {
	SessionID string
	Document  fairiagent.Document
}

// Outcome is the result of one job
type Outcome struct {
	Job    Job
	Result *fairiagent.Result
	Err    error
}

// Pool runs many sessions through one controller with bounded concurrency.
// Each worker owns one session run; a failing session never stops the
// others.
type Pool struct {
	controller *Controller
	size       int
}

// NewPool creates a pool; size <= 0 uses the controller's
// MaxConcurrentSessions, falling back to 1
func NewPool(controller *Controller, size int) *Pool {
	if size <= 0 {
		size = controller.config.MaxConcurrentSessions
	}
	if size <= 0 {
		size = 1
	}
	return &Pool{controller: controller, size: size}
}

// Size returns the worker count
func (p *Pool) Size() int {
	return p.size
}

// Process runs every job and returns outcomes in job order
func (p *Pool) Process(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(p.size)

	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = p.run(ctx, job)
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}

func (p *Pool) run(ctx context.Context, job Job) Outcome {
	var (
		result *fairiagent.Result
		err    error
	)
	if job.SessionID == "" {
		result, err = p.controller.Start(ctx, job.Document)
	} else {
		result, err = p.controller.Run(ctx, job.SessionID, job.Document)
	}
	return Outcome{Job: job, Result: result, Err: err}
}

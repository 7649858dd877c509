package memory

import (
	"context"
	"fmt"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/rs/zerolog"
)

// Memory operations reported to the degraded hook
const (
	OpRetrieve = "retrieve"
	OpAdd      = "add"
	OpClear    = "clear"
)

// DefaultTimeout bounds a single memory call
const DefaultTimeout = 5 * time.Second

// Guard wraps a MemoryService so that a slow or failing backend degrades to
// an empty context instead of failing the session.
//   - Retrieve failures return no entries and a nil error.
//   - Add and Clear failures are returned as *MemoryUnavailableError.
type Guard struct {
	backend    fairiagent.MemoryService
	timeout    time.Duration
	logger     zerolog.Logger
	onDegraded func(op string, err error)
}

var _ fairiagent.MemoryService = (*Guard)(nil)

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithTimeout sets the per-call timeout; zero disables it
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.timeout = d
	}
}

// WithGuardLogger sets the logger used for degraded warnings
func WithGuardLogger(logger zerolog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithDegradedHook registers a callback for every degraded call
func WithDegradedHook(fn func(op string, err error)) GuardOption {
	return func(g *Guard) {
		g.onDegraded = fn
	}
}

// NewGuard wraps backend. A nil backend behaves like Noop.
func NewGuard(backend fairiagent.MemoryService, opts ...GuardOption) *Guard {
	if backend == nil {
		backend = Noop{}
	}
	g := &Guard{
		backend: backend,
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Backend returns the wrapped service
func (g *Guard) Backend() fairiagent.MemoryService {
	return g.backend
}

func (g *Guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// call runs fn under the timeout, converting panics and deadline overruns
// into errors
func (g *Guard) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("memory backend panicked: %v", r)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case err = <-done:
		return err
	case <-callCtx.Done():
		return callCtx.Err()
	}
}

func (g *Guard) degraded(sessionID, op string, err error) *fairiagent.MemoryUnavailableError {
	fairiagent.LogMemoryDegraded(g.logger, sessionID, op, err)
	if g.onDegraded != nil {
		g.onDegraded(op, err)
	}
	return &fairiagent.MemoryUnavailableError{Op: op, Err: err}
}

// Retrieve implements MemoryService
func (g *Guard) Retrieve(ctx context.Context, sessionID, stage, query string, k int) ([]fairiagent.MemoryEntry, error) {
	var entries []fairiagent.MemoryEntry
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		entries, err = g.backend.Retrieve(ctx, sessionID, stage, query, k)
		return err
	})
	if err != nil {
		g.degraded(sessionID, OpRetrieve, err)
		return []fairiagent.MemoryEntry{}, nil
	}
	if entries == nil {
		entries = []fairiagent.MemoryEntry{}
	}
	return entries, nil
}

// Add implements MemoryService
func (g *Guard) Add(ctx context.Context, sessionID, stage, summary string, score float64) (fairiagent.MemoryEntry, error) {
	var entry fairiagent.MemoryEntry
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		entry, err = g.backend.Add(ctx, sessionID, stage, summary, score)
		return err
	})
	if err != nil {
		return fairiagent.MemoryEntry{}, g.degraded(sessionID, OpAdd, err)
	}
	return entry, nil
}

// Clear implements MemoryService
func (g *Guard) Clear(ctx context.Context, sessionID string) error {
	err := g.call(ctx, func(ctx context.Context) error {
		return g.backend.Clear(ctx, sessionID)
	})
	if err != nil {
		return g.degraded(sessionID, OpClear, err)
	}
	return nil
}

package fairiagent

import "context"

// CheckpointStore defines the persistence interface for session snapshots
type CheckpointStore interface {
	// Save persists state as a new version. It is atomic with respect to
	// concurrent Load calls for the same session.
	Save(ctx context.Context, sessionID string, state *WorkflowState) (*CheckpointRecord, error)

	// Load returns the latest checkpoint, or ErrCheckpointNotFound
	Load(ctx context.Context, sessionID string) (*CheckpointRecord, error)
}

// VersionLister is implemented by checkpoint stores that retain history
type VersionLister interface {
	ListVersions(ctx context.Context, sessionID string) ([]int, error)
}

// SessionLister is implemented by checkpoint stores that can enumerate sessions
type SessionLister interface {
	ListSessions(ctx context.Context) ([]string, error)
}

// MemoryService stores and retrieves session-scoped insights
type MemoryService interface {
	// Retrieve returns at most k entries for the session, most relevant first.
	// stage and query are relevance hints; entries of other sessions are
	// never returned.
	Retrieve(ctx context.Context, sessionID, stage, query string, k int) ([]MemoryEntry, error)

	// Add stores an insight for the session
	Add(ctx context.Context, sessionID, stage, summary string, score float64) (MemoryEntry, error)

	// Clear removes every entry of the session. Clearing an unknown session
	// is not an error.
	Clear(ctx context.Context, sessionID string) error
}

// QualityGate reviews one stage proposal. Implementations must not mutate
// state.
type QualityGate interface {
	Evaluate(ctx context.Context, stage string, proposal Proposal, state *WorkflowState) (Verdict, error)
}

// QualityGateFunc adapts a function into a QualityGate
type QualityGateFunc func(ctx context.Context, stage string, proposal Proposal, state *WorkflowState) (Verdict, error)

// Evaluate implements QualityGate
func (f QualityGateFunc) Evaluate(ctx context.Context, stage string, proposal Proposal, state *WorkflowState) (Verdict, error) {
	return f(ctx, stage, proposal, state)
}

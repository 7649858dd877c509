package fairiagent

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// SessionStatus represents the current state of a document-processing session
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// IsTerminal returns true if the status is a final state
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// String returns the string representation
func (s SessionStatus) String() string {
	return string(s)
}

// Decision is the quality gate's verdict class for one stage attempt
type Decision string

const (
	DecisionAccept   Decision = "accept"
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate"
)

// String returns the string representation
func (d Decision) String() string {
	return string(d)
}

// Valid reports whether d is one of the three known decisions
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionRetry || d == DecisionEscalate
}

// Document is the already-extracted source content of a session.
// Reference is a path or URI owned by the caller; Content is the resolved text.
type Document struct {
	Reference string `json:"reference" dynamodbav:"reference"`
	Content   string `json:"content,omitempty" dynamodbav:"content,omitempty"`
}

// Transition is one append-only history record
type Transition struct {
	Seq       int             `json:"seq"`
	Stage     string          `json:"stage"`
	Attempt   int             `json:"attempt"` // 1-based attempt number that produced this verdict
	Decision  Decision        `json:"decision"`
	Reason    string          `json:"reason,omitempty"`
	Code      string          `json:"code,omitempty"`
	Score     float64         `json:"score"`
	Output    json.RawMessage `json:"output,omitempty"` // set on accept only
	Timestamp time.Time       `json:"timestamp"`
}

// WorkflowState is the single mutable record threaded through the pipeline
type WorkflowState struct {
	SessionID       string                     `json:"session_id"`
	Document        Document                   `json:"document"`
	StageOrder      []string                   `json:"stage_order"`
	StageOutputs    map[string]json.RawMessage `json:"stage_outputs"`
	StageAttempts   map[string]int             `json:"stage_attempts"`
	PendingFeedback map[string]string          `json:"pending_feedback"`
	History         []Transition               `json:"history"`
	Status          SessionStatus              `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState creates a fresh running state for the given stage order
func NewWorkflowState(sessionID string, doc Document, order []string, now time.Time) *WorkflowState {
	return &WorkflowState{
		SessionID:       sessionID,
		Document:        doc,
		StageOrder:      slices.Clone(order),
		StageOutputs:    make(map[string]json.RawMessage),
		StageAttempts:   make(map[string]int),
		PendingFeedback: make(map[string]string),
		History:         []Transition{},
		Status:          SessionStatusRunning,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy so a transition can be prepared without touching
// the committed state
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}

	c := *s
	c.StageOrder = slices.Clone(s.StageOrder)
	c.StageOutputs = make(map[string]json.RawMessage, len(s.StageOutputs))
	for k, v := range s.StageOutputs {
		c.StageOutputs[k] = slices.Clone(v)
	}
	c.StageAttempts = maps.Clone(s.StageAttempts)
	if c.StageAttempts == nil {
		c.StageAttempts = make(map[string]int)
	}
	c.PendingFeedback = maps.Clone(s.PendingFeedback)
	if c.PendingFeedback == nil {
		c.PendingFeedback = make(map[string]string)
	}
	c.History = make([]Transition, len(s.History))
	for i, t := range s.History {
		t.Output = slices.Clone(t.Output)
		c.History[i] = t
	}
	return &c
}

// HasOutput reports whether the stage already has an accepted output
func (s *WorkflowState) HasOutput(stage string) bool {
	_, ok := s.StageOutputs[stage]
	return ok
}

// NextStage returns the first stage in order without an accepted output.
// The second return value is false when every stage is accepted.
func (s *WorkflowState) NextStage() (string, bool) {
	for _, name := range s.StageOrder {
		if !s.HasOutput(name) {
			return name, true
		}
	}
	return "", false
}

// Progress returns the fraction of accepted stages (0.0 to 1.0)
func (s *WorkflowState) Progress() float64 {
	if len(s.StageOrder) == 0 {
		return 0
	}
	return float64(len(s.StageOutputs)) / float64(len(s.StageOrder))
}

// LastTransition returns the most recent history record, if any
func (s *WorkflowState) LastTransition() (Transition, bool) {
	if len(s.History) == 0 {
		return Transition{}, false
	}
	return s.History[len(s.History)-1], true
}

// MemoryEntry is a session-scoped insight stored by the memory service
type MemoryEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StageName string    `json:"stage_name"`
	Summary   string    `json:"summary"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckpointRecord is a versioned snapshot of a WorkflowState.
// Version equals the length of the snapshot's history, so it strictly
// increases with every committed transition.
type CheckpointRecord struct {
	SessionID string         `json:"session_id"`
	Version   int            `json:"version"`
	State     *WorkflowState `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}

// Proposal is a stage executor's proposed output plus its self-reported metadata
type Proposal struct {
	Output   json.RawMessage   `json:"output"`
	Metadata ProposalMetadata `json:"metadata"`
}

// ProposalMetadata is what an agent reports about its own output.
// Confidence is optional; zero means not reported.
type ProposalMetadata struct {
	Confidence float64           `json:"confidence,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Model      string            `json:"model,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Verdict is the quality gate's decision for one stage attempt
type Verdict struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
	Score    float64  `json:"score"`
}

// Result is what the controller hands back when a session run returns
type Result struct {
	SessionID string                     `json:"session_id"`
	Status    SessionStatus              `json:"status"`
	Outputs   map[string]json.RawMessage `json:"outputs"`
	History   []Transition               `json:"history"`
	Error     *WorkflowError             `json:"error,omitempty"`
}

// NewResult builds a result view of a state
func NewResult(s *WorkflowState) *Result {
	c := s.Clone()
	r := &Result{
		SessionID: c.SessionID,
		Status:    c.Status,
		Outputs:   c.StageOutputs,
		History:   c.History,
	}
	if c.Status == SessionStatusFailed {
		if last, ok := c.LastTransition(); ok {
			r.Error = NewWorkflowErrorWithStage(last.Code, last.Reason, last.Stage)
		}
	}
	return r
}

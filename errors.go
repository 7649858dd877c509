package fairiagent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error codes
const (
	// Set on gate rejection transitions, never returned as an error
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeTransientProvider    = "TRANSIENT_PROVIDER"
	ErrCodeFatalConfig          = "FATAL_CONFIG"
	ErrCodeEscalated            = "ESCALATED"
	ErrCodeRetriesExhausted     = "RETRIES_EXHAUSTED"
	ErrCodeMemoryUnavailable    = "MEMORY_UNAVAILABLE"
	ErrCodeCheckpointCorruption = "CHECKPOINT_CORRUPTION"
	ErrCodeCheckpointWrite      = "CHECKPOINT_WRITE"
	ErrCodeCancelled            = "CANCELLED"
	ErrCodePanic                = "PANIC"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// Reasons recorded in history for controller-generated verdicts
const (
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonTimeout          = "timeout"
)

// Sentinel errors
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCancelled          = errors.New("session cancelled at stage boundary")
	ErrStageNotFound      = errors.New("stage not registered")
)

// WorkflowError is the serialisable failure record attached to a result
type WorkflowError struct {
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Stage     string         `json:"stage,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s (stage: %s)", e.Code, e.Message, e.Stage)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewWorkflowError creates a new workflow error
func NewWorkflowError(code, message string) *WorkflowError {
	return &WorkflowError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewWorkflowErrorWithStage creates a new workflow error with stage context
func NewWorkflowErrorWithStage(code, message, stage string) *WorkflowError {
	return &WorkflowError{
		Message:   message,
		Code:      code,
		Stage:     stage,
		Timestamp: time.Now(),
	}
}

// WithDetails adds details to the error
func (e *WorkflowError) WithDetails(details map[string]any) *WorkflowError {
	e.Details = details
	return e
}

// TransientProviderError marks a stage executor failure that is worth another
// attempt (network, rate limit). It consumes retry budget.
type TransientProviderError struct {
	Err error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientProviderError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a transient provider failure
func NewTransientError(err error) error {
	return &TransientProviderError{Err: err}
}

// FatalConfigError marks a failure no retry can fix, such as a missing
// provider credential. It escalates immediately.
type FatalConfigError struct {
	Err error
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("fatal configuration error: %v", e.Err)
}

func (e *FatalConfigError) Unwrap() error {
	return e.Err
}

// NewFatalConfigError wraps err as a fatal configuration failure
func NewFatalConfigError(err error) error {
	return &FatalConfigError{Err: err}
}

// RetriesExhaustedError is returned when a stage used its whole retry budget
type RetriesExhaustedError struct {
	SessionID string
	Stage     string
	Attempts  int
	History   []Transition
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("session %s: stage %s failed after %d attempts: %s",
		e.SessionID, e.Stage, e.Attempts, ReasonRetriesExhausted)
}

// EscalationError is returned when the gate or executor escalated a stage
type EscalationError struct {
	SessionID string
	Stage     string
	Reason    string
	Code      string
	History   []Transition
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("session %s: stage %s escalated [%s]: %s", e.SessionID, e.Stage, e.Code, e.Reason)
}

// MemoryUnavailableError reports a memory backend failure. The controller
// recovers from it locally and never surfaces it.
type MemoryUnavailableError struct {
	Op  string
	Err error
}

func (e *MemoryUnavailableError) Error() string {
	return fmt.Sprintf("memory %s unavailable: %v", e.Op, e.Err)
}

func (e *MemoryUnavailableError) Unwrap() error {
	return e.Err
}

// CheckpointCorruptionError is returned when a loaded snapshot cannot be
// decoded or fails history replay validation
type CheckpointCorruptionError struct {
	SessionID string
	Reason    string
	Err       error
}

func (e *CheckpointCorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkpoint for session %s is corrupt: %s: %v", e.SessionID, e.Reason, e.Err)
	}
	return fmt.Sprintf("checkpoint for session %s is corrupt: %s", e.SessionID, e.Reason)
}

func (e *CheckpointCorruptionError) Unwrap() error {
	return e.Err
}

// CheckpointWriteError is returned when a transition could not be committed.
// The session remains at its previous checkpoint.
type CheckpointWriteError struct {
	SessionID string
	Version   int
	Err       error
}

func (e *CheckpointWriteError) Error() string {
	return fmt.Sprintf("checkpoint write for session %s (version %d) failed: %v", e.SessionID, e.Version, e.Err)
}

func (e *CheckpointWriteError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be treated as a retry signal
func IsTransient(err error) bool {
	var te *TransientProviderError
	return errors.As(err, &te)
}

// IsFatalConfig reports whether err should escalate immediately
func IsFatalConfig(err error) bool {
	var fe *FatalConfigError
	return errors.As(err, &fe)
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Code == ErrCodeTimeout
	}
	return false
}

// IsCorruption reports whether err is a checkpoint corruption
func IsCorruption(err error) bool {
	var ce *CheckpointCorruptionError
	return errors.As(err, &ce)
}

// ErrorCode maps an error to its taxonomy code
func ErrorCode(err error) string {
	var (
		we  *WorkflowError
		re  *RetriesExhaustedError
		ee  *EscalationError
		ce  *CheckpointCorruptionError
		cwe *CheckpointWriteError
		me  *MemoryUnavailableError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &we):
		return we.Code
	case errors.As(err, &re):
		return ErrCodeRetriesExhausted
	case errors.As(err, &ee):
		return ee.Code
	case errors.As(err, &ce):
		return ErrCodeCheckpointCorruption
	case errors.As(err, &cwe):
		return ErrCodeCheckpointWrite
	case errors.As(err, &me):
		return ErrCodeMemoryUnavailable
	case IsFatalConfig(err):
		return ErrCodeFatalConfig
	case IsTransient(err):
		return ErrCodeTransientProvider
	case IsTimeoutError(err):
		return ErrCodeTimeout
	case errors.Is(err, ErrCancelled):
		return ErrCodeCancelled
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrCheckpointNotFound):
		return ErrCodeNotFound
	default:
		return ErrCodeInternalError
	}
}

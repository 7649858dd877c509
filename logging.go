package fairiagent

import (
	"time"

	"github.com/rs/zerolog"
)

// Log event names
const (
	// Session-level events
	EventSessionStarted   = "session_started"
	EventSessionResumed   = "session_resumed"
	EventSessionCompleted = "session_completed"
	EventSessionFailed    = "session_failed"
	EventSessionCancelled = "session_cancelled"

	// Stage-level events
	EventStageStarted   = "stage_started"
	EventStageAccepted  = "stage_accepted"
	EventStageRetrying  = "stage_retrying"
	EventStageEscalated = "stage_escalated"

	// Collaborator events
	EventMemoryDegraded  = "memory_degraded"
	EventCheckpointError = "checkpoint_error"
)

// LogSessionStarted logs when a new session starts execution
func LogSessionStarted(logger zerolog.Logger, sessionID, reference string, stages int) {
	logger.Info().
		Str("event", EventSessionStarted).
		Str("session_id", sessionID).
		Str("document", reference).
		Int("stages", stages).
		Msg("Session started")
}

// LogSessionResumed logs when a session continues from a checkpoint
func LogSessionResumed(logger zerolog.Logger, sessionID string, version int, progress float64) {
	logger.Info().
		Str("event", EventSessionResumed).
		Str("session_id", sessionID).
		Int("version", version).
		Float64("progress", progress).
		Msg("Session resumed from checkpoint")
}

// LogSessionCompleted logs successful session completion
func LogSessionCompleted(logger zerolog.Logger, sessionID string, duration time.Duration) {
	logger.Info().
		Str("event", EventSessionCompleted).
		Str("session_id", sessionID).
		Dur("duration", duration).
		Msg("Session completed")
}

// LogSessionFailed logs terminal session failure
func LogSessionFailed(logger zerolog.Logger, sessionID, stage, code, reason string) {
	logger.Error().
		Str("event", EventSessionFailed).
		Str("session_id", sessionID).
		Str("stage", stage).
		Str("code", code).
		Str("reason", reason).
		Msg("Session failed")
}

// LogSessionCancelled logs a cancellation honoured at a stage boundary
func LogSessionCancelled(logger zerolog.Logger, sessionID, nextStage string) {
	logger.Warn().
		Str("event", EventSessionCancelled).
		Str("session_id", sessionID).
		Str("next_stage", nextStage).
		Msg("Session cancelled")
}

// LogStageStarted logs when a stage attempt starts
func LogStageStarted(logger zerolog.Logger, sessionID, stage string, attempt, memoryHits int) {
	logger.Info().
		Str("event", EventStageStarted).
		Str("session_id", sessionID).
		Str("stage", stage).
		Int("attempt", attempt).
		Int("memory_hits", memoryHits).
		Msg("Stage started")
}

// LogStageAccepted logs a stage output accepted by the gate
func LogStageAccepted(logger zerolog.Logger, sessionID, stage string, score float64, durationMs int64) {
	logger.Info().
		Str("event", EventStageAccepted).
		Str("session_id", sessionID).
		Str("stage", stage).
		Float64("score", score).
		Int64("duration_ms", durationMs).
		Msg("Stage accepted")
}

// LogStageRetrying logs a rejected attempt that will be retried with feedback
func LogStageRetrying(logger zerolog.Logger, sessionID, stage, reason string, attempt int) {
	logger.Warn().
		Str("event", EventStageRetrying).
		Str("session_id", sessionID).
		Str("stage", stage).
		Str("reason", reason).
		Int("attempt", attempt).
		Msg("Stage retrying")
}

// LogStageEscalated logs an unrecoverable stage failure
func LogStageEscalated(logger zerolog.Logger, sessionID, stage, code, reason string) {
	logger.Error().
		Str("event", EventStageEscalated).
		Str("session_id", sessionID).
		Str("stage", stage).
		Str("code", code).
		Str("reason", reason).
		Msg("Stage escalated")
}

// LogMemoryDegraded logs a memory call that fell back to empty context
func LogMemoryDegraded(logger zerolog.Logger, sessionID, operation string, err error) {
	logger.Warn().
		Str("event", EventMemoryDegraded).
		Str("session_id", sessionID).
		Str("operation", operation).
		Err(err).
		Msg("Memory unavailable, continuing without it")
}

// LogCheckpointError logs errors during checkpoint operations
func LogCheckpointError(logger zerolog.Logger, sessionID, operation string, err error) {
	logger.Error().
		Str("event", EventCheckpointError).
		Str("session_id", sessionID).
		Str("operation", operation).
		Err(err).
		Msg("Checkpoint error")
}

// SessionLogger creates a logger enriched with session context
func SessionLogger(baseLogger zerolog.Logger, sessionID, pipelineID string) zerolog.Logger {
	return baseLogger.With().
		Str("session_id", sessionID).
		Str("pipeline_id", pipelineID).
		Logger()
}

// StageLogger creates a logger enriched with stage context
func StageLogger(sessionLogger zerolog.Logger, stage string, attempt int) zerolog.Logger {
	return sessionLogger.With().
		Str("stage", stage).
		Int("attempt", attempt).
		Logger()
}

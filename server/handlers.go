package server

import (
	"context"
	"errors"
	"strconv"
	"strings"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/engine"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// DefaultMemoryK is used when a memory search does not set k
const DefaultMemoryK = 5

// StartRequest is the body of POST /api/v1/sessions
type StartRequest struct {
	SessionID string            `json:"session_id,omitempty"`
	Reference string            `json:"reference"`
	Content   string            `json:"content"`
	Tags      map[string]string `json:"tags,omitempty"`
	Async     bool              `json:"async,omitempty"`
}

// SessionView is the body of GET /api/v1/sessions/:id
type SessionView struct {
	*fairiagent.WorkflowState
	Running   bool    `json:"running"`
	Progress  float64 `json:"progress"`
	NextStage string  `json:"next_stage,omitempty"`
}

// AddMemoryRequest is the body of POST /api/v1/memory/:session
type AddMemoryRequest struct {
	Stage   string  `json:"stage"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "healthy",
		"service":  "fairiagent",
		"version":  Version,
		"pipeline": s.controller.Pipeline().ID(),
		"stages":   s.controller.Pipeline().Order(),
	})
}

func (s *Server) handleListSessions(c fiber.Ctx) error {
	ids, err := s.controller.ListSessions(c.Context())
	if err != nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"sessions": ids})
}

// handleStartSession processes a document. Synchronous requests return the
// final result; asynchronous ones return 202 with the session id.
func (s *Server) handleStartSession(c fiber.Ctx) error {
	var req StartRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Reference) == "" && strings.TrimSpace(req.Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "reference or content is required",
		})
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if _, err := s.controller.Status(c.Context(), sessionID); !errors.Is(err, fairiagent.ErrSessionNotFound) {
		return s.respond(c, nil, errors.Join(engine.ErrSessionExists, err))
	}

	doc := fairiagent.Document{Reference: req.Reference, Content: req.Content}
	opts := []fairiagent.StartOption{
		fairiagent.WithSessionID(sessionID),
		fairiagent.WithTags(req.Tags),
	}

	if req.Async {
		s.background(sessionID, func(ctx context.Context) (*fairiagent.Result, error) {
			return s.controller.Start(ctx, doc, opts...)
		})
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"session_id": sessionID,
			"status":     fairiagent.SessionStatusRunning,
			"message":    "Session started",
		})
	}

	result, err := s.controller.Start(c.Context(), doc, opts...)
	return s.respond(c, result, err)
}

func (s *Server) handleGetSession(c fiber.Ctx) error {
	id := c.Params("id")

	state, err := s.controller.Status(c.Context(), id)
	if err != nil {
		return s.respond(c, nil, err)
	}

	next, _ := state.NextStage()
	return c.JSON(SessionView{
		WorkflowState: state,
		Running:       s.controller.IsRunning(id),
		Progress:      state.Progress(),
		NextStage:     next,
	})
}

func (s *Server) handleResumeSession(c fiber.Ctx) error {
	id := c.Params("id")

	if c.Query("async") == "true" {
		if _, err := s.controller.Status(c.Context(), id); err != nil {
			return s.respond(c, nil, err)
		}
		s.background(id, func(ctx context.Context) (*fairiagent.Result, error) {
			return s.controller.Resume(ctx, id)
		})
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"session_id": id,
			"message":    "Session resumed",
		})
	}

	result, err := s.controller.Resume(c.Context(), id)
	return s.respond(c, result, err)
}

func (s *Server) handleCancelSession(c fiber.Ctx) error {
	id := c.Params("id")

	if err := s.controller.Cancel(id); err != nil {
		return s.respond(c, nil, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"session_id": id,
		"message":    "Session will stop at the next stage boundary",
	})
}

func (s *Server) handleSearchMemory(c fiber.Ctx) error {
	if s.memory == nil {
		return memoryDisabled(c)
	}

	k := DefaultMemoryK
	if raw := c.Query("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "k must be a non-negative integer",
			})
		}
		k = n
	}

	entries, err := s.memory.Retrieve(c.Context(), c.Params("session"), c.Query("stage"), c.Query("q"), k)
	if err != nil {
		return s.respond(c, nil, err)
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (s *Server) handleAddMemory(c fiber.Ctx) error {
	if s.memory == nil {
		return memoryDisabled(c)
	}

	var req AddMemoryRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Summary) == "" || req.Score < 0 || req.Score > 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "summary is required and score must be within [0, 1]",
		})
	}

	entry, err := s.memory.Add(c.Context(), c.Params("session"), req.Stage, req.Summary, req.Score)
	if err != nil {
		return s.respond(c, nil, err)
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (s *Server) handleClearMemory(c fiber.Ctx) error {
	if s.memory == nil {
		return memoryDisabled(c)
	}

	if err := s.memory.Clear(c.Context(), c.Params("session")); err != nil {
		return s.respond(c, nil, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func memoryDisabled(c fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "memory is disabled",
		"code":  fairiagent.ErrCodeMemoryUnavailable,
	})
}

// respond maps a controller outcome onto an HTTP response. A session that
// failed through the gate is a successful request with a failed result.
func (s *Server) respond(c fiber.Ctx, result *fairiagent.Result, err error) error {
	var (
		exhausted *fairiagent.RetriesExhaustedError
		escalated *fairiagent.EscalationError
		memErr    *fairiagent.MemoryUnavailableError
	)

	switch {
	case err == nil:
		return c.JSON(result)
	case errors.As(err, &exhausted), errors.As(err, &escalated):
		return c.JSON(result)
	case errors.Is(err, fairiagent.ErrCancelled):
		return c.Status(fiber.StatusAccepted).JSON(result)
	}

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, fairiagent.ErrSessionNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, engine.ErrSessionExists),
		errors.Is(err, engine.ErrSessionRunning),
		errors.Is(err, engine.ErrSessionNotRunning):
		status = fiber.StatusConflict
	case fairiagent.IsCorruption(err), fairiagent.IsFatalConfig(err):
		status = fiber.StatusUnprocessableEntity
	case errors.As(err, &memErr):
		status = fiber.StatusServiceUnavailable
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}

	body := fiber.Map{
		"error": err.Error(),
		"code":  fairiagent.ErrorCode(err),
	}
	if result != nil {
		body["result"] = result
	}
	return c.Status(status).JSON(body)
}

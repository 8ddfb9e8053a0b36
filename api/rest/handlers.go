package rest

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vidinsight-labs/Axion/pkg/types"
)

const (
	defaultResultTimeout = 5 * time.Second
	maxResultTimeout     = 60 * time.Second
)

// liveness handles GET /health.
func (s *Server) liveness(c *fiber.Ctx) error {
	status := "healthy"
	if !s.engine.IsRunning() {
		status = "stopped"
	}
	return c.JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// submitTask handles POST /api/v1/tasks.
func (s *Server) submitTask(c *fiber.Ctx) error {
	var req TaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "failed to parse request body: " + err.Error(),
		})
	}
	if req.ScriptPath == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "script_path is required",
		})
	}

	id, err := s.engine.SubmitTask(req.toTask())
	if err != nil {
		return s.submitError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(SubmitResponse{TaskID: id})
}

// submitWorkflow handles POST /api/v1/workflows.
func (s *Server) submitWorkflow(c *fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "failed to parse request body: " + err.Error(),
		})
	}
	if len(req.Tasks) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "tasks must not be empty",
		})
	}

	tasks := make([]*types.Task, len(req.Tasks))
	for i := range req.Tasks {
		tasks[i] = req.Tasks[i].toTask()
	}
	ids, err := s.engine.SubmitWorkflow(tasks)
	if err != nil {
		return s.submitError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(WorkflowResponse{TaskIDs: ids})
}

// getResult handles GET /api/v1/tasks/:id/result?timeout=2s.
func (s *Server) getResult(c *fiber.Ctx) error {
	taskID := c.Params("id")

	timeout := defaultResultTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "timeout must be a positive duration",
			})
		}
		timeout = d
	}
	if timeout > maxResultTimeout {
		timeout = maxResultTimeout
	}

	res, err := s.engine.GetResult(taskID, timeout)
	if err != nil {
		return s.submitError(c, err)
	}
	if res == nil {
		return c.Status(fiber.StatusRequestTimeout).JSON(ErrorResponse{
			Error:   "timeout",
			Message: "result not available within timeout",
		})
	}
	return c.JSON(res.Envelope())
}

// getStatus handles GET /api/v1/status.
func (s *Server) getStatus(c *fiber.Ctx) error {
	return c.JSON(s.engine.GetStatus())
}

// getComponentStatus handles GET /api/v1/status/:component.
func (s *Server) getComponentStatus(c *fiber.Ctx) error {
	st, err := s.engine.GetComponentStatus(c.Params("component"))
	if err != nil {
		if errors.Is(err, types.ErrEngineNotRunning) {
			return s.submitError(c, err)
		}
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "unknown_component",
			Message: err.Error(),
		})
	}
	return c.JSON(st)
}

// getHealth handles GET /api/v1/healthz.
func (s *Server) getHealth(c *fiber.Ctx) error {
	health := s.engine.GetHealth()
	code := fiber.StatusOK
	if health.Status == types.HealthUnhealthy {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(health)
}

// submitError maps engine errors onto HTTP codes.
func (s *Server) submitError(c *fiber.Ctx, err error) error {
	var engineErr *types.EngineError
	if errors.As(err, &engineErr) {
		code := fiber.StatusInternalServerError
		switch engineErr.Code {
		case types.CodeQueueFull, types.CodeBackpressure:
			code = fiber.StatusTooManyRequests
		case types.CodeEngineNotRunning:
			code = fiber.StatusServiceUnavailable
		case types.CodeInvalidTask, types.CodeSerializationFailed:
			code = fiber.StatusBadRequest
		}
		return c.Status(code).JSON(ErrorResponse{
			Error:   engineErr.Code,
			Message: engineErr.Message,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "internal_error",
		Message: err.Error(),
	})
}

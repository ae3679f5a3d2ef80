// Package api contains the HTTP handlers for the follow-up service
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"studio-crm/backend/internal/sequence"
	"studio-crm/backend/internal/services"
	"studio-crm/backend/pkg/models"
)

// Service is the follow-up behaviour the API exposes.
type Service interface {
	StartSequence(ctx context.Context, ec sequence.EntityContext) (*sequence.InitiateResult, error)
	AdvanceTask(ctx context.Context, taskID string) (*sequence.AdvanceResult, error)
	ApproveQuotation(ctx context.Context, quotationID string, approvedBy *string) (*services.ApprovalResult, error)
	CompleteTask(ctx context.Context, taskID string, completedBy, notes *string) (*services.CompletionResult, error)
	GetTask(ctx context.Context, id string) (*services.TaskView, error)
	ListQuotationTasks(ctx context.Context, quotationID string) ([]*services.TaskView, error)
	ListNotifications(ctx context.Context, quotationID string, limit int) ([]*models.Notification, error)
	PreviewSequence(amount float64) *services.SequencePreview
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the API server.
type Server struct {
	svc     Service
	version string
}

// NewServer creates a new Server.
func NewServer(svc Service, version string) *Server {
	return &Server{svc: svc, version: version}
}

var _ ServerInterface = (*Server)(nil)

// AdvanceRequest is the body of POST /sequences/advance.
type AdvanceRequest struct {
	TaskID string `json:"task_id"`
}

// ApproveRequest is the body of POST /quotations/{id}/approve.
type ApproveRequest struct {
	ApprovedBy *string `json:"approved_by,omitempty"`
}

// CompleteRequest is the body of POST /tasks/{id}/complete.
type CompleteRequest struct {
	CompletedBy *string `json:"completed_by,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// StartSequence creates step 1 of a quotation's sequence
// (POST /api/v1/sequences)
func (s *Server) StartSequence(c echo.Context) error {
	var ec sequence.EntityContext
	if err := c.Bind(&ec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	res, err := s.svc.StartSequence(c.Request().Context(), ec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

// AdvanceSequence creates the successor of a completed task
// (POST /api/v1/sequences/advance)
func (s *Server) AdvanceSequence(c echo.Context) error {
	var req AdvanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.TaskID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id is required")
	}

	res, err := s.svc.AdvanceTask(c.Request().Context(), req.TaskID)
	if err != nil {
		return err
	}
	if res.Completed {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

// PreviewSequence lists the steps a quotation of the given amount gets
// (GET /api/v1/sequences/preview)
func (s *Server) PreviewSequence(c echo.Context, params PreviewSequenceParams) error {
	if params.Amount < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must not be negative")
	}
	return c.JSON(http.StatusOK, s.svc.PreviewSequence(params.Amount))
}

// ApproveQuotation approves a quotation and starts its sequence
// (POST /api/v1/quotations/{id}/approve)
func (s *Server) ApproveQuotation(c echo.Context, id string) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	res, err := s.svc.ApproveQuotation(c.Request().Context(), id, req.ApprovedBy)
	if err != nil {
		return err
	}
	if res.Existing {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

// ListQuotationTasks returns a quotation's tasks
// (GET /api/v1/quotations/{id}/tasks)
func (s *Server) ListQuotationTasks(c echo.Context, id string) error {
	tasks, err := s.svc.ListQuotationTasks(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks)
}

// ListQuotationNotifications returns a quotation's stored notifications
// (GET /api/v1/quotations/{id}/notifications)
func (s *Server) ListQuotationNotifications(c echo.Context, id string, params ListQuotationNotificationsParams) error {
	limit := 50
	if params.Limit != nil {
		limit = *params.Limit
	}
	if limit < 1 || limit > 500 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
	}

	list, err := s.svc.ListNotifications(c.Request().Context(), id, limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*models.Notification{}
	}
	return c.JSON(http.StatusOK, list)
}

// GetTask returns a single task
// (GET /api/v1/tasks/{id})
func (s *Server) GetTask(c echo.Context, id string) error {
	task, err := s.svc.GetTask(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// CompleteTask marks a task done and advances its sequence
// (POST /api/v1/tasks/{id}/complete)
func (s *Server) CompleteTask(c echo.Context, id string) error {
	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	res, err := s.svc.CompleteTask(c.Request().Context(), id, req.CompletedBy, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

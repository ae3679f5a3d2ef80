package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"studio-crm/backend/internal/sequence"
	"studio-crm/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// GetHealth reports whether the service can reach its store
// (GET /api/v1/health)
func (s *Server) GetHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "studio-crm",
		Version:   s.version,
		Checks:    map[string]string{"store": "ok"},
	}

	code := http.StatusOK
	if err := s.svc.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		status.Checks["store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// problemFor maps an error onto an HTTP status and problem title.
func problemFor(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code, http.StatusText(he.Code)
	case errors.Is(err, sequence.ErrTaskNotFound), errors.Is(err, sequence.ErrEntityNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, sequence.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid Input"
	case errors.Is(err, sequence.ErrAlreadyAdvanced):
		return http.StatusConflict, "Already Advanced"
	case errors.Is(err, sequence.ErrSequenceExists):
		return http.StatusConflict, "Sequence Exists"
	case errors.Is(err, sequence.ErrTaskNotCompleted):
		return http.StatusConflict, "Task Not Completed"
	case errors.Is(err, sequence.ErrNotSequential):
		return http.StatusConflict, "Task Not Sequential"
	case errors.Is(err, sequence.ErrInvalidSequenceState):
		return http.StatusInternalServerError, "Invalid Sequence State"
	case errors.Is(err, sequence.ErrPersistence):
		return http.StatusServiceUnavailable, "Store Unavailable"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

// ProblemErrorHandler writes every handler error as RFC 7807 problem details.
func ProblemErrorHandler(logger Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, title := problemFor(err)
		detail := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if msg, ok := he.Message.(string); ok {
				detail = msg
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", status,
				"error", err,
			)
		}

		problem := models.ProblemDetails{
			Type:     "about:blank",
			Title:    title,
			Status:   status,
			Detail:   detail,
			Instance: c.Request().URL.Path,
		}
		if sc := trace.SpanContextFromContext(c.Request().Context()); sc.HasTraceID() {
			problem.TraceID = sc.TraceID().String()
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
			werr = c.JSON(status, problem)
		}
		if werr != nil {
			logger.Error("failed to write problem response", "error", werr)
		}
	}
}

package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// PreviewSequenceParams defines parameters for PreviewSequence.
type PreviewSequenceParams struct {
	// Amount is the quotation total to resolve a sequence for.
	Amount float64 `form:"amount" json:"amount"`
}

// ListQuotationNotificationsParams defines parameters for ListQuotationNotifications.
type ListQuotationNotificationsParams struct {
	Limit *int `form:"limit,omitempty" json:"limit,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /health)
	GetHealth(ctx echo.Context) error
	// (POST /sequences)
	StartSequence(ctx echo.Context) error
	// (POST /sequences/advance)
	AdvanceSequence(ctx echo.Context) error
	// (GET /sequences/preview)
	PreviewSequence(ctx echo.Context, params PreviewSequenceParams) error
	// (POST /quotations/{id}/approve)
	ApproveQuotation(ctx echo.Context, id string) error
	// (GET /quotations/{id}/tasks)
	ListQuotationTasks(ctx echo.Context, id string) error
	// (GET /quotations/{id}/notifications)
	ListQuotationNotifications(ctx echo.Context, id string, params ListQuotationNotificationsParams) error
	// (GET /tasks/{id})
	GetTask(ctx echo.Context, id string) error
	// (POST /tasks/{id}/complete)
	CompleteTask(ctx echo.Context, id string) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// GetHealth converts echo context to params.
func (w *ServerInterfaceWrapper) GetHealth(ctx echo.Context) error {
	return w.Handler.GetHealth(ctx)
}

// StartSequence converts echo context to params.
func (w *ServerInterfaceWrapper) StartSequence(ctx echo.Context) error {
	return w.Handler.StartSequence(ctx)
}

// AdvanceSequence converts echo context to params.
func (w *ServerInterfaceWrapper) AdvanceSequence(ctx echo.Context) error {
	return w.Handler.AdvanceSequence(ctx)
}

// PreviewSequence converts echo context to params.
func (w *ServerInterfaceWrapper) PreviewSequence(ctx echo.Context) error {
	var params PreviewSequenceParams

	err := runtime.BindQueryParameter("form", true, true, "amount", ctx.QueryParams(), &params.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter amount: %s", err))
	}

	return w.Handler.PreviewSequence(ctx, params)
}

// ApproveQuotation converts echo context to params.
func (w *ServerInterfaceWrapper) ApproveQuotation(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ApproveQuotation(ctx, id)
}

// ListQuotationTasks converts echo context to params.
func (w *ServerInterfaceWrapper) ListQuotationTasks(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ListQuotationTasks(ctx, id)
}

// ListQuotationNotifications converts echo context to params.
func (w *ServerInterfaceWrapper) ListQuotationNotifications(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}

	var params ListQuotationNotificationsParams
	err = runtime.BindQueryParameter("form", true, false, "limit", ctx.QueryParams(), &params.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter limit: %s", err))
	}

	return w.Handler.ListQuotationNotifications(ctx, id, params)
}

// GetTask converts echo context to params.
func (w *ServerInterfaceWrapper) GetTask(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetTask(ctx, id)
}

// CompleteTask converts echo context to params.
func (w *ServerInterfaceWrapper) CompleteTask(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.CompleteTask(ctx, id)
}

func bindID(ctx echo.Context) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", ctx.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}
	return id, nil
}

// EchoRouter is the subset of echo.Echo and echo.Group used for registration.
type EchoRouter interface {
	CONNECT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	HEAD(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	OPTIONS(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PATCH(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	TRACE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers handlers, prefixing every path with baseURL.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
	}

	router.GET(baseURL+"/health", wrapper.GetHealth)
	router.POST(baseURL+"/sequences", wrapper.StartSequence)
	router.POST(baseURL+"/sequences/advance", wrapper.AdvanceSequence)
	router.GET(baseURL+"/sequences/preview", wrapper.PreviewSequence)
	router.POST(baseURL+"/quotations/:id/approve", wrapper.ApproveQuotation)
	router.GET(baseURL+"/quotations/:id/tasks", wrapper.ListQuotationTasks)
	router.GET(baseURL+"/quotations/:id/notifications", wrapper.ListQuotationNotifications)
	router.GET(baseURL+"/tasks/:id", wrapper.GetTask)
	router.POST(baseURL+"/tasks/:id/complete", wrapper.CompleteTask)
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"studio-crm/backend/internal/sequence"
	"studio-crm/backend/internal/services"
)

// Server exposes the follow-up service as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	followUps *services.FollowUpService
}

func NewServer(followUps *services.FollowUpService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Studio CRM Follow-ups",
			version,
			server.WithToolCapabilities(true),
		),
		followUps: followUps,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"initiate_sequence",
			mcp.WithDescription("Start the follow-up sequence for an approved quotation"),
			mcp.WithString("quotation_id", mcp.Required(), mcp.Description("The quotation the sequence belongs to")),
			mcp.WithString("client_name", mcp.Required(), mcp.Description("Client name used in task titles")),
			mcp.WithNumber("total_amount", mcp.Required(), mcp.Description("Quotation total; above the high-value threshold adds a team review step")),
			mcp.WithString("quotation_number", mcp.Description("Human-readable quotation number")),
			mcp.WithString("lead_id", mcp.Description("Lead the quotation came from")),
		),
		s.handleInitiate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"advance_sequence",
			mcp.WithDescription("Create the next step after a completed sequence task"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The completed task")),
		),
		s.handleAdvance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_task",
			mcp.WithDescription("Mark a task done and move its sequence forward"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The task to complete")),
			mcp.WithString("completed_by", mcp.Description("Who completed the task")),
			mcp.WithString("notes", mcp.Description("Outcome notes")),
		),
		s.handleCompleteTask,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"preview_sequence",
			mcp.WithDescription("List the steps a quotation of the given amount would get"),
			mcp.WithNumber("total_amount", mcp.Required(), mcp.Description("Quotation total")),
		),
		s.handlePreview,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_quotation_tasks",
			mcp.WithDescription("List a quotation's tasks in step order"),
			mcp.WithString("quotation_id", mcp.Required(), mcp.Description("The quotation")),
		),
		s.handleListTasks,
	)
}

func (s *Server) handleInitiate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	quotationID, err := request.RequireString("quotation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	clientName, err := request.RequireString("client_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	amount, err := request.RequireFloat("total_amount")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ec := sequence.EntityContext{
		QuotationID:     quotationID,
		ClientName:      clientName,
		TotalAmount:     amount,
		QuotationNumber: request.GetString("quotation_number", ""),
		Source:          "mcp",
	}
	if lead := request.GetString("lead_id", ""); lead != "" {
		ec.LeadID = &lead
	}

	res, err := s.followUps.StartSequence(ctx, ec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start sequence: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleAdvance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.followUps.AdvanceTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to advance: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleCompleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.followUps.CompleteTask(ctx, taskID,
		optionalString(request, "completed_by"),
		optionalString(request, "notes"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to complete task: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handlePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount, err := request.RequireFloat("total_amount")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if amount < 0 {
		return mcp.NewToolResultError("total_amount must not be negative"), nil
	}
	return jsonResult(s.followUps.PreviewSequence(amount))
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	quotationID, err := request.RequireString("quotation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	tasks, err := s.followUps.ListQuotationTasks(ctx, quotationID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
	}
	return jsonResult(tasks)
}

func optionalString(request mcp.CallToolRequest, key string) *string {
	v := request.GetString(key, "")
	if v == "" {
		return nil
	}
	return &v
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the MCP SSE transport. Clients open the event
// stream on /mcp/sse and post JSON-RPC messages to the /mcp/message
// endpoint it announces.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sse := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))
	mux.Handle("/mcp/sse", sse)
	mux.Handle("/mcp/message", sse)
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/domain"
)

// Engine is the control surface the MCP server exposes as tools.
type Engine interface {
	Plan(ctx context.Context, document []byte) (*domain.PlanPreview, error)
	Validate(ctx context.Context, planID string) error
	Approve(ctx context.Context, planID string) error
	Execute(ctx context.Context, planID string) (*domain.ExecutionReport, error)
	Resume(ctx context.Context, planID string) (*domain.ExecutionReport, error)
	Abort(ctx context.Context, planID string) (*domain.RollbackReport, error)
	Status(ctx context.Context, planID string) (*domain.ExecutionRecord, error)
	List(ctx context.Context) ([]string, error)
	Graph(ctx context.Context, planID string) (string, error)
}

// RegisterResponse carries the preview produced by plan registration.
type RegisterResponse struct {
	Preview *domain.PlanPreview `json:"preview" jsonschema_description:"Execution preview to hand to whoever approves the run"`
}

// AckResponse acknowledges a side-effect-free lifecycle call.
type AckResponse struct {
	PlanID string `json:"plan_id" jsonschema_description:"The plan the call acted on"`
	Result string `json:"result" jsonschema_description:"Outcome of the call"`
}

// RunResponse carries the report of a finished run.
type RunResponse struct {
	Report *domain.ExecutionReport `json:"report" jsonschema_description:"Terminal status and per-step outcomes"`
}

// UnwindResponse carries the result of a compensating rollback.
type UnwindResponse struct {
	Report *domain.RollbackReport `json:"report" jsonschema_description:"Per-step compensation outcomes"`
}

// StatusResponse carries the persisted record snapshot.
type StatusResponse struct {
	Record *domain.ExecutionRecord `json:"record" jsonschema_description:"The persisted execution record"`
}

// ListResponse carries the run inventory.
type ListResponse struct {
	Plans []string `json:"plans" jsonschema_description:"IDs of all persisted runs"`
}

// GraphResponse carries a Mermaid rendering of the plan DAG.
type GraphResponse struct {
	PlanID  string `json:"plan_id"`
	Mermaid string `json:"mermaid" jsonschema_description:"Mermaid flowchart styled with run step statuses"`
}

// Server wraps the engine and exposes its control surface as an MCP server,
// so agent hosts can register, approve and drive plans as tools.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance around the engine.
func NewServer(engine Engine, logger *slog.Logger) *Server {
	s := &Server{
		engine:    engine,
		logger:    logger,
		mcpServer: server.NewMCPServer("espalier-mcp", strings.TrimSpace(espalier.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.InfoContext(ctx, "MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: register_plan
	registerTool := mcp.NewTool("register_plan",
		mcp.WithDescription("Parse and register a plan document (YAML or JSON). Returns the execution preview: layer order, required capabilities and risk markers."),
		mcp.WithString("document", mcp.Required(), mcp.Description("The plan document")),
		mcp.WithOutputSchema[RegisterResponse](),
	)
	s.mcpServer.AddTool(registerTool, mcp.NewStructuredToolHandler(s.handleRegisterPlan))

	// TOOL: validate_plan
	validateTool := mcp.NewTool("validate_plan",
		mcp.WithDescription("Run the validating phase for a registered plan: capability resolution, parameter schema checks and dry runs. No side effects."),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("ID of a registered plan")),
		mcp.WithOutputSchema[AckResponse](),
	)
	s.mcpServer.AddTool(validateTool, mcp.NewStructuredToolHandler(s.handleValidatePlan))

	// TOOL: approve_plan
	approveTool := mcp.NewTool("approve_plan",
		mcp.WithDescription("Record the approval signal for a registered plan. Execution refuses to start without it."),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("ID of a registered plan")),
		mcp.WithOutputSchema[AckResponse](),
	)
	s.mcpServer.AddTool(approveTool, mcp.NewStructuredToolHandler(s.handleApprovePlan))

	// TOOL: execute_plan
	executeTool := mcp.NewTool("execute_plan",
		mcp.WithDescription("Run an approved plan to a terminal status and return the report."),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("ID of an approved plan")),
		mcp.WithOutputSchema[RunResponse](),
	)
	s.mcpServer.AddTool(executeTool, mcp.NewStructuredToolHandler(s.handleExecutePlan))

	// TOOL: resume_plan
	resumeTool := mcp.NewTool("resume_plan",
		mcp.WithDescription("Pick up an interrupted run from its persisted record. Completed steps are never re-executed."),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("ID of an interrupted run")),
		mcp.WithOutputSchema[RunResponse](),
	)
	s.mcpServer.AddTool(resumeTool, mcp.NewStructuredToolHandler(s.handleResumePlan))

	// TOOL: abort_plan
	abortTool := mcp.NewTool("abort_plan",
		mcp.WithDescription("Stop a run and unwind completed steps via their compensations, in reverse completion order."),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("ID of a non-terminal run")),
		mcp.WithOutputSchema[UnwindResponse](),
	)
	s.mcpServer.AddTool(abortTool, mcp.NewStructuredToolHandler(s.handleAbortPlan))

	// TOOL: plan_status
	statusTool := mcp.NewTool("plan_status",
		mcp.WithDescription("Return the persisted execution record for a plan: plan status, per-step statuses and the transition audit log."),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("ID of a registered plan")),
		mcp.WithOutputSchema[StatusResponse](),
	)
	s.mcpServer.AddTool(statusTool, mcp.NewStructuredToolHandler(s.handlePlanStatus))

	// TOOL: list_plans
	listTool := mcp.NewTool("list_plans",
		mcp.WithDescription("List the IDs of all persisted runs."),
		mcp.WithOutputSchema[ListResponse](),
	)
	s.mcpServer.AddTool(listTool, mcp.NewStructuredToolHandler(s.handleListPlans))

	// TOOL: plan_graph
	graphTool := mcp.NewTool("plan_graph",
		mcp.WithDescription("Render the plan's step DAG as a Mermaid flowchart, styled with the run's current step statuses."),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("ID of a registered plan")),
		mcp.WithOutputSchema[GraphResponse](),
	)
	s.mcpServer.AddTool(graphTool, mcp.NewStructuredToolHandler(s.handlePlanGraph))
}

// Handler methods for structured tools

func (s *Server) handleRegisterPlan(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RegisterResponse, error) {
	document, _ := args["document"].(string)
	if document == "" {
		return RegisterResponse{}, fmt.Errorf("document is required")
	}

	preview, err := s.engine.Plan(ctx, []byte(document))
	if err != nil {
		return RegisterResponse{}, err
	}
	return RegisterResponse{Preview: preview}, nil
}

func (s *Server) handleValidatePlan(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (AckResponse, error) {
	planID, err := planIDArg(args)
	if err != nil {
		return AckResponse{}, err
	}
	if err := s.engine.Validate(ctx, planID); err != nil {
		return AckResponse{}, err
	}
	return AckResponse{PlanID: planID, Result: "valid"}, nil
}

func (s *Server) handleApprovePlan(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (AckResponse, error) {
	planID, err := planIDArg(args)
	if err != nil {
		return AckResponse{}, err
	}
	if err := s.engine.Approve(ctx, planID); err != nil {
		return AckResponse{}, err
	}
	return AckResponse{PlanID: planID, Result: "approved"}, nil
}

func (s *Server) handleExecutePlan(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunResponse, error) {
	planID, err := planIDArg(args)
	if err != nil {
		return RunResponse{}, err
	}
	report, err := s.engine.Execute(ctx, planID)
	if err != nil {
		return RunResponse{}, err
	}
	return RunResponse{Report: report}, nil
}

func (s *Server) handleResumePlan(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunResponse, error) {
	planID, err := planIDArg(args)
	if err != nil {
		return RunResponse{}, err
	}
	report, err := s.engine.Resume(ctx, planID)
	if err != nil {
		return RunResponse{}, err
	}
	return RunResponse{Report: report}, nil
}

func (s *Server) handleAbortPlan(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (UnwindResponse, error) {
	planID, err := planIDArg(args)
	if err != nil {
		return UnwindResponse{}, err
	}
	report, err := s.engine.Abort(ctx, planID)
	if err != nil {
		return UnwindResponse{}, err
	}
	return UnwindResponse{Report: report}, nil
}

func (s *Server) handlePlanStatus(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StatusResponse, error) {
	planID, err := planIDArg(args)
	if err != nil {
		return StatusResponse{}, err
	}
	rec, err := s.engine.Status(ctx, planID)
	if err != nil {
		return StatusResponse{}, err
	}
	return StatusResponse{Record: rec}, nil
}

func (s *Server) handleListPlans(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ListResponse, error) {
	plans, err := s.engine.List(ctx)
	if err != nil {
		return ListResponse{}, err
	}
	if plans == nil {
		plans = []string{}
	}
	return ListResponse{Plans: plans}, nil
}

func (s *Server) handlePlanGraph(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (GraphResponse, error) {
	planID, err := planIDArg(args)
	if err != nil {
		return GraphResponse{}, err
	}
	mermaid, err := s.engine.Graph(ctx, planID)
	if err != nil {
		return GraphResponse{}, err
	}
	return GraphResponse{PlanID: planID, Mermaid: mermaid}, nil
}

func planIDArg(args map[string]interface{}) (string, error) {
	planID, _ := args["plan_id"].(string)
	if planID == "" {
		return "", fmt.Errorf("plan_id is required")
	}
	return planID, nil
}

func (s *Server) registerResources() {
	// EXPOSE: espalier://runs
	s.mcpServer.AddResource(mcp.NewResource("espalier://runs", "Persisted Runs",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		plans, err := s.engine.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		jsonBytes, _ := json.Marshal(map[string][]string{"plans": plans})

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "espalier://runs",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/espalier/internal/compiler"
	"github.com/aretw0/espalier/internal/graph"
	"github.com/aretw0/espalier/pkg/capability"
	"github.com/aretw0/espalier/pkg/domain"
)

// Engine is the control surface the server exposes over HTTP.
type Engine interface {
	Plan(ctx context.Context, document []byte) (*domain.PlanPreview, error)
	Validate(ctx context.Context, planID string) error
	Approve(ctx context.Context, planID string) error
	Execute(ctx context.Context, planID string) (*domain.ExecutionReport, error)
	Resume(ctx context.Context, planID string) (*domain.ExecutionReport, error)
	Abort(ctx context.Context, planID string) (*domain.RollbackReport, error)
	Status(ctx context.Context, planID string) (*domain.ExecutionRecord, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, planID string) error
	Graph(ctx context.Context, planID string) (string, error)
}

// Server exposes the engine's control surface.
type Server struct {
	engine Engine
	logger *slog.Logger
}

// NewHandler builds the HTTP handler for the engine's control surface.
func NewHandler(engine Engine, logger *slog.Logger) http.Handler {
	s := &Server{engine: engine, logger: logger}

	r := chi.NewRouter()

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/plans", func(r chi.Router) {
		r.Post("/", s.createPlan)
		r.Get("/", s.listPlans)

		r.Route("/{planID}", func(r chi.Router) {
			r.Get("/", s.getPlan)
			r.Delete("/", s.deletePlan)
			r.Get("/graph", s.getGraph)
			r.Post("/validate", s.validatePlan)
			r.Post("/approve", s.approvePlan)
			r.Post("/execute", s.executePlan)
			r.Post("/resume", s.resumePlan)
			r.Post("/abort", s.abortPlan)
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createPlan handles POST /plans. The body is the raw plan document
// (YAML or JSON); the response is the plan preview.
func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	document, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	preview, err := s.engine.Plan(r.Context(), document)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, preview)
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"plans": ids})
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Status(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "planID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	mermaid, err := s.engine.Graph(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(mermaid))
}

func (s *Server) validatePlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	if err := s.engine.Validate(r.Context(), planID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"plan_id": planID, "result": "valid"})
}

func (s *Server) approvePlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	if err := s.engine.Approve(r.Context(), planID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"plan_id": planID, "result": "approved"})
}

func (s *Server) executePlan(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Execute(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) resumePlan(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Resume(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) abortPlan(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Abort(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "err", err)
	}
}

// writeError maps engine errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var (
		valErr     *compiler.ValidationError
		cycleErr   *graph.CycleError
		refErr     *graph.UnknownReferenceError
		unknownCap *capability.UnknownCapabilityError
	)
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrPlanTerminal),
		errors.Is(err, domain.ErrNotApproved):
		status = http.StatusConflict
	case errors.As(err, &valErr),
		errors.As(err, &cycleErr),
		errors.As(err, &refErr),
		errors.As(err, &unknownCap):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Package api exposes the engine over HTTP: event ingestion, run
// inspection, and cancellation.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vk/flowline/internal/coordinator"
	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/runstore"
	"github.com/vk/flowline/internal/trigger"
	"github.com/vk/flowline/internal/workflow"
)

// Server wires HTTP routes to the run coordinator.
type Server struct {
	coord   *coordinator.Coordinator
	store   runstore.Store
	matcher *trigger.Matcher
	defs    []*workflow.Definition
}

// NewServer creates a Server over the loaded workflow definitions.
func NewServer(coord *coordinator.Coordinator, store runstore.Store, defs []*workflow.Definition) *Server {
	return &Server{
		coord:   coord,
		store:   store,
		matcher: trigger.NewMatcher(),
		defs:    defs,
	}
}

// Handler builds the chi router for the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/workflows", s.handleWorkflows)
		r.Post("/events", s.handleEvent)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Post("/runs/{runID}/cancel", s.handleCancelRun)
	})
	return r
}

// eventRequest is the ingestion payload for POST /events.
type eventRequest struct {
	Kind    string            `json:"kind"`
	Ref     string            `json:"ref,omitempty"`
	Paths   []string          `json:"paths,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Inputs  map[string]string `json:"inputs,omitempty"`
}

// eventResponse reports what the event started.
type eventResponse struct {
	Started []startedRun `json:"started"`
	Errors  []string     `json:"errors,omitempty"`
}

type startedRun struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind := workflow.EventKind(req.Kind)
	if !workflow.KnownEventKind(kind) {
		errorResponse(w, http.StatusBadRequest, "unknown event kind "+req.Kind)
		return
	}

	event := &workflow.Event{
		Kind:    kind,
		Ref:     req.Ref,
		Paths:   req.Paths,
		Payload: req.Payload,
		Inputs:  req.Inputs,
		Time:    time.Now(),
	}

	matches, matchErrs := s.matcher.Match(r.Context(), event, s.defs)

	resp := eventResponse{Started: []startedRun{}}
	for _, err := range matchErrs {
		resp.Errors = append(resp.Errors, err.Error())
	}
	for _, m := range matches {
		run, err := s.coord.Start(r.Context(), m.Definition, m.Context)
		if err != nil {
			ctxlog.FromContext(r.Context()).Error("Failed to start run.", "workflow", m.Definition.Name, "error", err)
			resp.Errors = append(resp.Errors, m.Definition.Name+": "+err.Error())
			continue
		}
		resp.Started = append(resp.Started, startedRun{RunID: run.ID, Workflow: run.Workflow})
	}

	status := http.StatusAccepted
	if len(resp.Started) == 0 && len(resp.Errors) > 0 {
		status = http.StatusUnprocessableEntity
	}
	jsonResponse(w, status, resp)
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	type workflowInfo struct {
		Name     string   `json:"name"`
		Triggers []string `json:"triggers"`
		Jobs     []string `json:"jobs"`
	}
	out := make([]workflowInfo, 0, len(s.defs))
	for _, def := range s.defs {
		info := workflowInfo{Name: def.Name, Jobs: def.JobOrder}
		for _, t := range def.Triggers {
			info.Triggers = append(info.Triggers, string(t.Kind))
		}
		out = append(out, info)
	}
	jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		if errors.Is(err, workflow.ErrRunNotFound) {
			errorResponse(w, http.StatusNotFound, "run not found")
			return
		}
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.coord.Cancel(runID); err != nil {
		if errors.Is(err, workflow.ErrRunNotFound) {
			errorResponse(w, http.StatusNotFound, "run not found")
			return
		}
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

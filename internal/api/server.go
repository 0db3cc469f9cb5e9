// Package api exposes run control over HTTP: create, inspect, resume,
// cancel, and stream events as NDJSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/web3devz/polytrader/internal/agent"
	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// Server is the run-control HTTP API.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	runner     *agent.Runner
	hub        *eventHub
	log        *slog.Logger
	startedAt  time.Time
}

// NewServer creates a server bound to addr.
func NewServer(addr string, runner *agent.Runner, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		runner:    runner,
		hub:       newEventHub(),
		log:       log,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs/suspended", s.handleListSuspended)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/runs/{id}/resume", s.handleResumeRun)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleStreamEvents)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("api server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps run-control errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownRun):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyCompleted),
		errors.Is(err, domain.ErrNoPendingInterrupt),
		errors.Is(err, domain.ErrRunNotSuspended):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

type createRunRequest struct {
	MarketID           string             `json:"market_id"`
	CustomInstructions string             `json:"custom_instructions,omitempty"`
	AvailableFunds     float64            `json:"available_funds,omitempty"`
	Positions          map[string]float64 `json:"positions,omitempty"`
	DryRun             bool               `json:"dry_run,omitempty"`
}

// POST /api/runs
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.MarketID == "" {
		s.writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}

	runID, events, err := s.runner.Start(r.Context(), agent.StartParams{
		MarketID:           req.MarketID,
		CustomInstructions: req.CustomInstructions,
		AvailableFunds:     req.AvailableFunds,
		Positions:          req.Positions,
		DryRun:             req.DryRun,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	go s.hub.consume(runID, events)

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"run_id": runID,
		"status": domain.StatusPending,
	})
}

type runView struct {
	RunID     string           `json:"run_id"`
	Node      string           `json:"node"`
	Status    domain.RunStatus `json:"status"`
	State     domain.RunState  `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func toView(cp ports.Checkpoint) runView {
	return runView{
		RunID:     cp.RunID,
		Node:      cp.Node,
		Status:    cp.Status,
		State:     cp.State,
		CreatedAt: cp.CreatedAt,
		UpdatedAt: cp.UpdatedAt,
	}
}

// GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	cp, err := s.runner.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, toView(cp))
}

// GET /api/runs/suspended
func (s *Server) handleListSuspended(w http.ResponseWriter, r *http.Request) {
	cps, err := s.runner.ListSuspended(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]runView, 0, len(cps))
	for _, cp := range cps {
		views = append(views, toView(cp))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

type resumeRequest struct {
	Confirmation domain.Confirmation `json:"confirmation"`
}

// POST /api/runs/{id}/resume
func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Confirmation != domain.ConfirmationApproved && req.Confirmation != domain.ConfirmationRejected {
		s.writeError(w, http.StatusBadRequest, `confirmation must be "approved" or "rejected"`)
		return
	}

	events, err := s.runner.Resume(r.Context(), runID, req.Confirmation)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	go s.hub.consume(runID, events)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"status": domain.StatusRunning,
	})
}

// POST /api/runs/{id}/cancel
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if err := s.runner.Cancel(r.Context(), runID); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": domain.StatusCancelled,
	})
}

// GET /api/runs/{id}/events streams run events as NDJSON until the run
// suspends or terminates.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	history, live := s.hub.subscribe(runID)
	if history == nil && live == nil {
		// The hub only knows in-process runs; fall back to the store for a
		// final status snapshot.
		cp, err := s.runner.Get(r.Context(), runID)
		if err != nil {
			s.writeError(w, statusFor(err), err.Error())
			return
		}
		history = []domain.Event{{
			RunID:     cp.RunID,
			Node:      cp.Node,
			Status:    cp.Status,
			Timestamp: cp.UpdatedAt,
		}}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for _, ev := range history {
		if err := enc.Encode(ev); err != nil {
			return
		}
	}
	if flusher != nil {
		flusher.Flush()
	}
	if live == nil {
		return
	}
	defer s.hub.unsubscribe(runID, live)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

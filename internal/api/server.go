// Package api exposes a session controller over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/danielpatrickdp/lab-qlearner/internal/eval"
	"github.com/danielpatrickdp/lab-qlearner/internal/qlearn"
	"github.com/danielpatrickdp/lab-qlearner/internal/report"
	"github.com/danielpatrickdp/lab-qlearner/internal/session"
)

// #region server
// Server routes HTTP requests to a controller.
type Server struct {
	ctrl   *session.Controller
	logger *log.Logger

	mu     sync.Mutex
	curves []report.Curve
}

// NewServer wraps ctrl. A nil logger uses the standard logger.
func NewServer(ctrl *session.Controller, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{ctrl: ctrl, logger: logger}
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/goals", s.handleGoals).Methods("GET")
	r.HandleFunc("/goals/{z1}/{z2}/train", s.handleTrain).Methods("POST")
	r.HandleFunc("/goals/{z1}/{z2}/next-action", s.handleNextAction).Methods("POST")
	r.HandleFunc("/goals/{z1}/{z2}/evaluate", s.handleEvaluate).Methods("POST")
	r.HandleFunc("/lab/zone-levels", s.handleZoneLevels).Methods("GET")
	r.HandleFunc("/lab/state", s.handleState).Methods("GET")
	r.HandleFunc("/report", s.handleReport).Methods("GET")
	return r
}
// #endregion server

// #region handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"goals": s.ctrl.Goals()})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	goal, err := session.ParseGoal(vars["z1"], vars["z2"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	hp, err := qlearn.ParseHyperParams(string(req.Episodes), string(req.Alpha), string(req.Gamma), string(req.Epsilon), string(req.Reward))
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.ctrl.Train(r.Context(), goal, hp)
	if err != nil {
		s.logger.Printf("train %s: %v", goal, err)
		s.writeError(w, err)
		return
	}
	if !res.Skipped {
		s.mu.Lock()
		s.curves = append(s.curves, report.Curve{Goal: goal.Key(), Steps: res.Stats.StepsPerEpisode})
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, TrainResponse{
		Goal:       goal.Key(),
		Skipped:    res.Skipped,
		RunID:      res.RunID,
		Episodes:   res.Stats.Episodes,
		TotalSteps: res.Stats.TotalSteps,
	})
}

func (s *Server) handleNextAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	goal, err := session.ParseGoal(vars["z1"], vars["z2"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req NextActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}

	rec, err := s.ctrl.NextAction(r.Context(), goal, req.State)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NextActionResponse{
		Tag:           rec.Command.Tag,
		PayloadFields: rec.Command.PayloadFields,
		PayloadValues: rec.Command.PayloadValues,
		Action:        rec.Action,
		State:         rec.State,
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	goal, err := session.ParseGoal(vars["z1"], vars["z2"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	cfg := eval.DefaultEvalConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if cfg.Rollouts <= 0 || cfg.MaxSteps <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "rollouts and max_steps must be positive"})
		return
	}

	res, err := s.ctrl.Evaluate(r.Context(), goal, cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleZoneLevels(w http.ResponseWriter, r *http.Request) {
	z1, z2, err := s.ctrl.ZoneLevels(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ZoneLevelsResponse{Z1: z1, Z2: z2})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.FullState(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	curves := append([]report.Curve(nil), s.curves...)
	s.mu.Unlock()
	if len(curves) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no goals trained by this process"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(w, curves...); err != nil {
		s.logger.Printf("render report: %v", err)
	}
}
// #endregion handlers

// #region errors
// StatusFor maps controller errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidGoal),
		errors.Is(err, qlearn.ErrInvalidHyperParams),
		errors.Is(err, session.ErrStateEncoding):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUntrainedGoal):
		return http.StatusNotFound
	case errors.Is(err, session.ErrStorage):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
// #endregion errors

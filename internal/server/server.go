// Package server exposes the condenser over HTTP: synchronous condense
// and expand endpoints, stored-run retrieval, and a websocket stream of
// run progress events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/minsignal/condense/internal/config"
	"github.com/minsignal/condense/internal/events"
	"github.com/minsignal/condense/internal/pipeline"
	"github.com/minsignal/condense/internal/refine"
	"github.com/minsignal/condense/internal/selection"
	"github.com/minsignal/condense/internal/store"
)

// Server wires the pipeline to HTTP.
type Server struct {
	cfg   config.ServerConfig
	pipe  *pipeline.Pipeline
	store *store.Store
	hub   *events.Hub
	http  *http.Server
}

// New builds a server. store may be nil; the runs endpoints then return
// 404 for everything.
func New(cfg config.ServerConfig, pipe *pipeline.Pipeline, st *store.Store, hub *events.Hub) *Server {
	s := &Server{cfg: cfg, pipe: pipe, store: st, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/condense", s.handleCondense)
	mux.HandleFunc("POST /v1/expand", s.handleExpand)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
	}
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("condense server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// condenseRequest is the POST /v1/condense body.
type condenseRequest struct {
	Text         string `json:"text"`
	WithFrontier bool   `json:"with_frontier"`
}

// condenseResponse is the condense endpoint's reply.
type condenseResponse struct {
	RunID            string                    `json:"run_id"`
	Condensed        string                    `json:"condensed"`
	Similarity       float64                   `json:"similarity"`
	Converged        bool                      `json:"converged"`
	Rounds           int                       `json:"rounds"`
	CompressionRatio float64                   `json:"compression_ratio"`
	Records          []refine.IterationRecord  `json:"records"`
	Frontier         []selection.FrontierPoint `json:"frontier,omitempty"`
}

func (s *Server) handleCondense(w http.ResponseWriter, r *http.Request) {
	var req condenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("text is required"))
		return
	}

	result, err := s.pipe.Condense(r.Context(), req.Text, req.WithFrontier)
	if err != nil {
		// A best-effort report may still exist; only a run with no usable
		// rounds is a hard failure.
		if result == nil || result.Report == nil || result.Report.FinalRendered == "" {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		log.Warn().Err(err).Msg("returning best-effort condensation")
	}

	rep := result.Report
	writeJSON(w, http.StatusOK, condenseResponse{
		RunID:            rep.RunID.String(),
		Condensed:        rep.FinalRendered,
		Similarity:       rep.FinalSimilarity,
		Converged:        rep.Converged,
		Rounds:           rep.Rounds(),
		CompressionRatio: rep.CompressionRatio,
		Records:          rep.Records,
		Frontier:         result.Frontier,
	})
}

// expandRequest is the POST /v1/expand body.
type expandRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("text is required"))
		return
	}
	expanded, err := s.pipe.Expand(r.Context(), req.Text)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"expanded": expanded})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("run store disabled"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("run store disabled"))
		return
	}
	doc, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// handleEvents streams run progress over a websocket. Each frame is one
// events.Event as JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

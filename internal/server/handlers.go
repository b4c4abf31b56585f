package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/samirdawaliby/autobet/internal/scheduler"
	"github.com/samirdawaliby/autobet/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	id := requestIDFrom(r.Context())
	if err != nil {
		slog.Error("request failed", "path", r.URL.Path, "request_id", id, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg, "request_id": id})
}

func parseLimit(r *http.Request) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, maxLimit)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(r.Context()); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "database unhealthy", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"scanner": s.deps.Scanner.Status(),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	dash, err := s.deps.Stats.DashboardStats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

// GET /api/opportunities?limit=&status=
func (s *Server) listOpportunities(w http.ResponseWriter, r *http.Request) {
	var status store.Status
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := store.ParseStatus(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error(), nil)
			return
		}
		status = st
	}

	limit := parseLimit(r)
	recs, err := s.deps.Stats.RecentOpportunities(r.Context(), limit, status)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to load opportunities", err)
		return
	}
	if recs == nil {
		recs = []store.OpportunityRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": recs,
		"count":         len(recs),
		"limit":         limit,
	})
}

// GET /api/opportunities/recent serves the live feed list from redis.
func (s *Server) recentFeed(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		writeError(w, r, http.StatusNotFound, "live feed not configured", nil)
		return
	}
	opps, err := s.deps.Feed.Recent(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to load live feed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": opps, "count": len(opps)})
}

func (s *Server) getOpportunity(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Stats.Opportunity(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "opportunity not found", nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to load opportunity", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type settleRequest struct {
	Status       string   `json:"status"`
	Stake        *float64 `json:"stake"`
	ActualProfit *float64 `json:"actual_profit"`
}

// POST /api/opportunities/{id}/status
//
// A settled status with an actual profit books the trade against the
// bankroll. Any other change only moves the status.
func (s *Server) settleOpportunity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	status, err := store.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	rec, err := s.deps.Stats.Opportunity(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "opportunity not found", nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to load opportunity", err)
		return
	}

	settled := status == store.StatusExecuted || status == store.StatusPartial || status == store.StatusFailed
	if !settled || req.ActualProfit == nil {
		if err := s.deps.Stats.UpdateOpportunityStatus(r.Context(), id, status, req.ActualProfit); err != nil {
			writeError(w, r, http.StatusInternalServerError, "failed to update opportunity", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
		return
	}

	stake := rec.TotalStake
	if req.Stake != nil {
		if *req.Stake < 0 {
			writeError(w, r, http.StatusBadRequest, "stake must not be negative", nil)
			return
		}
		stake = *req.Stake
	}
	state, err := s.deps.Risk.RecordResult(r.Context(), id, status, stake, *req.ActualProfit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to record result", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status, "risk_state": state})
}

func (s *Server) risk(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Risk.State(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to load risk state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) scannerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scanner.Status())
}

type settingsRequest struct {
	MinEdge    *float64 `json:"min_edge"`
	Mode       *string  `json:"mode"`
	KillSwitch *bool    `json:"kill_switch"`
	Reason     string   `json:"reason"`
}

// POST /api/settings applies only the fields present in the body.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	var mode scheduler.Mode
	if req.Mode != nil {
		m, err := scheduler.ParseMode(*req.Mode)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error(), nil)
			return
		}
		mode = m
	}
	if req.MinEdge != nil && *req.MinEdge < 0 {
		writeError(w, r, http.StatusBadRequest, "min_edge must not be negative", nil)
		return
	}

	if req.MinEdge != nil {
		if err := s.deps.Scanner.SetMinEdge(*req.MinEdge); err != nil {
			writeError(w, r, http.StatusInternalServerError, "failed to set min edge", err)
			return
		}
	}
	if mode != "" {
		if err := s.deps.Scanner.SetMode(mode); err != nil {
			writeError(w, r, http.StatusInternalServerError, "failed to set mode", err)
			return
		}
	}
	if req.KillSwitch != nil {
		reason := req.Reason
		if *req.KillSwitch && reason == "" {
			reason = "Manual activation via dashboard"
		}
		if err := s.deps.Risk.SetKillSwitch(r.Context(), *req.KillSwitch, reason); err != nil {
			writeError(w, r, http.StatusInternalServerError, "failed to set kill switch", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Scanner.Status())
}

func (s *Server) startScanner(w http.ResponseWriter, r *http.Request) {
	s.deps.Scanner.Resume()
	writeJSON(w, http.StatusOK, s.deps.Scanner.Status())
}

func (s *Server) stopScanner(w http.ResponseWriter, r *http.Request) {
	s.deps.Scanner.Pause()
	writeJSON(w, http.StatusOK, s.deps.Scanner.Status())
}

func (s *Server) scanNow(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Scanner.ScanOnce(r.Context())
	if errors.Is(err, scheduler.ErrCycleInFlight) {
		writeError(w, r, http.StatusConflict, err.Error(), nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "scan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

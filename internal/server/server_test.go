package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/scheduler"
	"github.com/samirdawaliby/autobet/internal/store"
)

type fakeScanner struct {
	status  scheduler.Status
	scanErr error
	scans   int
}

func (f *fakeScanner) Status() scheduler.Status { return f.status }

func (f *fakeScanner) ScanOnce(ctx context.Context) (*scheduler.Result, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	f.scans++
	return &scheduler.Result{EventsScanned: 3}, nil
}

func (f *fakeScanner) SetMode(m scheduler.Mode) error {
	f.status.Mode = m
	return nil
}

func (f *fakeScanner) SetMinEdge(v float64) error {
	f.status.MinEdge = v
	return nil
}

func (f *fakeScanner) Pause()  { f.status.Paused = true }
func (f *fakeScanner) Resume() { f.status.Paused = false }

type fakeBackend struct {
	recs      map[string]*store.OpportunityRecord
	state     store.RiskState
	recorded  []string
	lastStake float64
}

func (f *fakeBackend) DashboardStats(ctx context.Context) (*store.DashboardStats, error) {
	return &store.DashboardStats{Risk: f.state, Today: store.DailyStats{ScansCount: 4}}, nil
}

func (f *fakeBackend) RecentOpportunities(ctx context.Context, limit int, status store.Status) ([]store.OpportunityRecord, error) {
	var out []store.OpportunityRecord
	for _, r := range f.recs {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeBackend) Opportunity(ctx context.Context, id string) (*store.OpportunityRecord, error) {
	r, ok := f.recs[id]
	if !ok {
		return nil, fmt.Errorf("opportunity %s: %w", id, store.ErrNotFound)
	}
	return r, nil
}

func (f *fakeBackend) UpdateOpportunityStatus(ctx context.Context, id string, status store.Status, profit *float64) error {
	r, ok := f.recs[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	return nil
}

func (f *fakeBackend) State(ctx context.Context) (*store.RiskState, error) {
	s := f.state
	return &s, nil
}

func (f *fakeBackend) SetKillSwitch(ctx context.Context, active bool, reason string) error {
	f.state.KillSwitchActive = active
	f.state.KillSwitchReason = reason
	return nil
}

func (f *fakeBackend) RecordResult(ctx context.Context, id string, status store.Status, stake, profit float64) (*store.RiskState, error) {
	f.recs[id].Status = status
	f.recorded = append(f.recorded, id)
	f.lastStake = stake
	f.state.CurrentBankroll += profit
	s := f.state
	return &s, nil
}

type fakeFeed struct{}

func (fakeFeed) Recent(ctx context.Context, limit int) ([]detector.Opportunity, error) {
	return []detector.Opportunity{{ID: "arb_live"}}, nil
}

type failingPinger struct{}

func (failingPinger) PingContext(ctx context.Context) error { return errors.New("disk gone") }

func newTestServer() (*Server, *fakeScanner, *fakeBackend) {
	sc := &fakeScanner{status: scheduler.Status{Running: true, Mode: scheduler.ModeDry, MinEdge: 0.8}}
	be := &fakeBackend{
		recs: map[string]*store.OpportunityRecord{
			"arb_e1_1": {
				Opportunity: detector.Opportunity{ID: "arb_e1_1", EventName: "Novak Djokovic vs Carlos Alcaraz", TotalStake: 100},
				Status:      store.StatusDetected,
			},
		},
		state: store.RiskState{InitialBankroll: 1000, CurrentBankroll: 1000},
	}
	srv := New(config.ServerConfig{Port: 0}, Deps{Scanner: sc, Stats: be, Risk: be, Feed: fakeFeed{}})
	return srv, sc, be
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	if decode(t, rec)["status"] != "ok" {
		t.Errorf("unexpected body %s", rec.Body)
	}

	srv.deps.DB = failingPinger{}
	srv.httpServer.Handler = srv.routes(nil)
	rec = do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 on failed ping, got %d", rec.Code)
	}
	if decode(t, rec)["request_id"] == "" {
		t.Error("expected request id in error body")
	}
}

func TestStatsAndRisk(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := do(t, srv, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"scans_count":4`) {
		t.Errorf("unexpected stats response %d %s", rec.Code, rec.Body)
	}

	rec = do(t, srv, http.MethodGet, "/api/risk", "")
	if rec.Code != http.StatusOK || decode(t, rec)["current_bankroll"] != 1000.0 {
		t.Errorf("unexpected risk response %d %s", rec.Code, rec.Body)
	}
}

func TestListOpportunities(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := do(t, srv, http.MethodGet, "/api/opportunities?limit=10", "")
	body := decode(t, rec)
	if rec.Code != http.StatusOK || body["count"] != 1.0 || body["limit"] != 10.0 {
		t.Errorf("unexpected list %d %s", rec.Code, rec.Body)
	}

	rec = do(t, srv, http.MethodGet, "/api/opportunities?status=executed", "")
	if body := decode(t, rec); body["count"] != 0.0 {
		t.Errorf("expected empty filtered list, got %s", rec.Body)
	}

	rec = do(t, srv, http.MethodGet, "/api/opportunities?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestGetOpportunity(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := do(t, srv, http.MethodGet, "/api/opportunities/arb_e1_1", "")
	if rec.Code != http.StatusOK || decode(t, rec)["id"] != "arb_e1_1" {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body)
	}

	rec = do(t, srv, http.MethodGet, "/api/opportunities/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRecentFeed(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := do(t, srv, http.MethodGet, "/api/opportunities/recent", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "arb_live") {
		t.Errorf("unexpected feed response %d %s", rec.Code, rec.Body)
	}
}

func TestSettleOpportunity_BooksResult(t *testing.T) {
	srv, _, be := newTestServer()

	rec := do(t, srv, http.MethodPost, "/api/opportunities/arb_e1_1/status",
		`{"status":"executed","actual_profit":3.19}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body)
	}
	if len(be.recorded) != 1 || be.lastStake != 100 {
		t.Errorf("expected result booked at the stored stake, got %v %.2f", be.recorded, be.lastStake)
	}
	if be.recs["arb_e1_1"].Status != store.StatusExecuted {
		t.Errorf("expected executed status, got %s", be.recs["arb_e1_1"].Status)
	}
}

func TestSettleOpportunity_StatusOnly(t *testing.T) {
	srv, _, be := newTestServer()

	rec := do(t, srv, http.MethodPost, "/api/opportunities/arb_e1_1/status", `{"status":"skipped"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(be.recorded) != 0 {
		t.Error("expected no trade booked for a status-only change")
	}
	if be.recs["arb_e1_1"].Status != store.StatusSkipped {
		t.Errorf("expected skipped, got %s", be.recs["arb_e1_1"].Status)
	}
}

func TestSettleOpportunity_BadRequests(t *testing.T) {
	srv, _, _ := newTestServer()
	cases := []struct {
		path, body string
		want       int
	}{
		{"/api/opportunities/arb_e1_1/status", `{`, http.StatusBadRequest},
		{"/api/opportunities/arb_e1_1/status", `{"status":"won"}`, http.StatusBadRequest},
		{"/api/opportunities/arb_e1_1/status", `{"status":"executed","stake":-1,"actual_profit":1}`, http.StatusBadRequest},
		{"/api/opportunities/missing/status", `{"status":"executed","actual_profit":1}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		if rec := do(t, srv, http.MethodPost, tc.path, tc.body); rec.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.path, tc.body, tc.want, rec.Code)
		}
	}
}

func TestUpdateSettings(t *testing.T) {
	srv, sc, be := newTestServer()

	rec := do(t, srv, http.MethodPost, "/api/settings", `{"min_edge":1.5,"mode":"semi","kill_switch":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body)
	}
	if sc.status.MinEdge != 1.5 || sc.status.Mode != scheduler.ModeSemi {
		t.Errorf("unexpected scanner settings %+v", sc.status)
	}
	if !be.state.KillSwitchActive || be.state.KillSwitchReason == "" {
		t.Errorf("expected kill switch with default reason, got %+v", be.state)
	}

	if rec := do(t, srv, http.MethodPost, "/api/settings", `{"mode":"turbo"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad mode, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, "/api/settings", `{"min_edge":-2}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative edge, got %d", rec.Code)
	}
}

func TestScannerControls(t *testing.T) {
	srv, sc, _ := newTestServer()

	do(t, srv, http.MethodPost, "/api/scanner/stop", "")
	if !sc.status.Paused {
		t.Error("expected scanner paused")
	}
	do(t, srv, http.MethodPost, "/api/scanner/start", "")
	if sc.status.Paused {
		t.Error("expected scanner resumed")
	}

	rec := do(t, srv, http.MethodPost, "/api/scanner/scan", "")
	if rec.Code != http.StatusOK || sc.scans != 1 || decode(t, rec)["events_scanned"] != 3.0 {
		t.Errorf("unexpected scan response %d %s", rec.Code, rec.Body)
	}

	sc.scanErr = scheduler.ErrCycleInFlight
	if rec := do(t, srv, http.MethodPost, "/api/scanner/scan", ""); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while a cycle runs, got %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := New(config.ServerConfig{CORSOrigins: []string{"https://dash.example"}}, Deps{Scanner: &fakeScanner{}})
	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
		t.Errorf("expected allowed origin echoed, got %q", got)
	}
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/store"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func testOpportunity() detector.Opportunity {
	return detector.Opportunity{
		ID:                    "arb_evt-1_1772402400",
		EventID:               "evt-1",
		EventName:             "Novak Djokovic vs Carlos Alcaraz",
		League:                "ATP Indian Wells",
		CommenceTime:          time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC),
		Edge:                  3.10,
		ImpliedProbabilitySum: 0.9690,
		Legs: []detector.Leg{
			{Selection: "home", SelectionName: "Novak Djokovic", Bookmaker: "bet365", Odds: 2.10, Stake: 49.14},
			{Selection: "away", SelectionName: "Carlos Alcaraz", Bookmaker: "smarkets", Odds: 2.05, Stake: 50.86, IsExchange: true},
		},
		TotalStake:       100,
		GuaranteedProfit: 3.19,
		ROI:              3.19,
		ExecutableLegs:   1,
		RequiresManual:   true,
	}
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Edge <3%>", "betfair_ex_eu & co"); err != nil {
		t.Fatal(err)
	}

	if path != "/botTOKEN/sendMessage" {
		t.Errorf("unexpected path %s", path)
	}
	if got["chat_id"] != "42" || got["parse_mode"] != "HTML" {
		t.Errorf("unexpected payload %v", got)
	}
	text, _ := got["text"].(string)
	if text != "<b>Edge &lt;3%&gt;</b>\nbetfair_ex_eu &amp; co" {
		t.Errorf("expected escaped html, got %q", text)
	}
}

func TestTelegramSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected status error with body, got %v", err)
	}
}

func TestDiscordSender_Send(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	if err := d.Send(context.Background(), "SEMI-AUTO | Edge 3.10%", "Body"); err != nil {
		t.Fatal(err)
	}
	if got.Username != "autobet" || len(got.Embeds) != 1 {
		t.Fatalf("unexpected payload %+v", got)
	}
	e := got.Embeds[0]
	if e.Title != "SEMI-AUTO | Edge 3.10%" || e.Description != "```\nBody\n```" {
		t.Errorf("unexpected embed text %+v", e)
	}
	if e.Color != colorSemiAuto || e.Footer.Text != "autobet scanner" || e.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected embed decoration %+v", e)
	}
}

func TestDiscordSender_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected rate limit error, got %v", err)
	}
}

func TestEmbedColor(t *testing.T) {
	for title, want := range map[string]int{
		"KILL SWITCH ACTIVATED":   colorKillSwitch,
		"AUTO | Edge 1.20%":       colorAuto,
		"SEMI-AUTO | Edge 3.10%":  colorSemiAuto,
		"MANUAL | Edge 2.00%":     colorInfo,
		"AutoBet scanner started": colorInfo,
	} {
		if got := embedColor(title); got != want {
			t.Errorf("embedColor(%q) = %#x, want %#x", title, got, want)
		}
	}
}

func TestNotifier_ContinuesPastFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}

	err := NewNotifier(bad, good).Notify(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("expected joined error naming the sender, got %v", err)
	}
	if len(good.titles) != 1 {
		t.Error("expected the healthy sender to still deliver")
	}
}

func TestExecutionLabel(t *testing.T) {
	opp := testOpportunity()
	if got := ExecutionLabel(opp); got != "SEMI-AUTO" {
		t.Errorf("expected SEMI-AUTO, got %s", got)
	}
	opp.ExecutableLegs = 2
	if got := ExecutionLabel(opp); got != "AUTO" {
		t.Errorf("expected AUTO, got %s", got)
	}
	opp.ExecutableLegs = 0
	if got := ExecutionLabel(opp); got != "MANUAL" {
		t.Errorf("expected MANUAL, got %s", got)
	}
}

func TestFormatOpportunity(t *testing.T) {
	title, body := FormatOpportunity(testOpportunity(), "semi")
	if title != "SEMI-AUTO | Edge 3.10%" {
		t.Errorf("unexpected title %q", title)
	}
	for _, want := range []string{
		"Novak Djokovic vs Carlos Alcaraz",
		"ATP Indian Wells",
		"Starts 20:30 01/03 UTC",
		"[book] bet365: Novak Djokovic @ 2.10 -> 49.14",
		"[exchange] smarkets: Carlos Alcaraz @ 2.05 -> 50.86",
		"Stake: 100.00",
		"Profit: 3.19 (3.19% ROI)",
		"Implied sum: 0.9690",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected body to contain %q:\n%s", want, body)
		}
	}
}

func TestAlerts_MinEdgeAndDedup(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	dedup := NewMemoryDeduper()
	a := NewAlerts(NewNotifier(rec), config.NotifyConfig{
		MinEdgeAlert: 1.0,
		DedupTTL:     config.Duration{Duration: 10 * time.Minute},
	}, dedup)
	ctx := context.Background()

	opp := testOpportunity()
	sent, err := a.Opportunity(ctx, opp, "dry")
	if err != nil || !sent {
		t.Fatalf("expected first alert sent, got sent=%v err=%v", sent, err)
	}

	// Same event, books and edge from a later scan.
	opp.ID = "arb_evt-1_1772402460"
	if sent, _ := a.Opportunity(ctx, opp, "dry"); sent {
		t.Error("expected repeat alert suppressed")
	}

	opp.Edge = 3.5
	if sent, _ := a.Opportunity(ctx, opp, "dry"); !sent {
		t.Error("expected a changed edge to alert again")
	}

	low := testOpportunity()
	low.EventID = "evt-2"
	low.Edge = 0.9
	if sent, _ := a.Opportunity(ctx, low, "dry"); sent {
		t.Error("expected edge below threshold to be skipped")
	}

	if len(rec.titles) != 2 {
		t.Errorf("expected 2 alerts delivered, got %d", len(rec.titles))
	}
}

func TestAlerts_FailedSendIsRetried(t *testing.T) {
	rec := &recordingSender{name: "telegram", err: errors.New("telegram: unexpected status 502")}
	a := NewAlerts(NewNotifier(rec), config.NotifyConfig{
		DedupTTL: config.Duration{Duration: 10 * time.Minute},
	}, NewMemoryDeduper())
	ctx := context.Background()
	opp := testOpportunity()

	sent, err := a.Opportunity(ctx, opp, "dry")
	if err == nil || sent {
		t.Fatalf("expected failed delivery, got sent=%v err=%v", sent, err)
	}

	rec.err = nil
	sent, err = a.Opportunity(ctx, opp, "dry")
	if err != nil || !sent {
		t.Fatalf("expected retry to deliver, got sent=%v err=%v", sent, err)
	}
	if len(rec.titles) != 1 {
		t.Errorf("expected one delivered alert, got %d", len(rec.titles))
	}

	if sent, _ := a.Opportunity(ctx, opp, "dry"); sent {
		t.Error("expected the delivered alert to be deduplicated")
	}
}

func TestAlerts_PartialDeliveryCounts(t *testing.T) {
	bad := &recordingSender{name: "discord", err: errors.New("boom")}
	good := &recordingSender{name: "telegram"}
	a := NewAlerts(NewNotifier(bad, good), config.NotifyConfig{
		DedupTTL: config.Duration{Duration: 10 * time.Minute},
	}, NewMemoryDeduper())
	ctx := context.Background()

	sent, err := a.Opportunity(ctx, testOpportunity(), "dry")
	if err != nil || !sent {
		t.Fatalf("expected delivery through the healthy sender, got sent=%v err=%v", sent, err)
	}
	if sent, _ := a.Opportunity(ctx, testOpportunity(), "dry"); sent {
		t.Error("expected repeat suppressed after a partial delivery")
	}
	if len(good.titles) != 1 {
		t.Errorf("expected one alert on the healthy sender, got %d", len(good.titles))
	}
}

func TestAlerts_NoSenders(t *testing.T) {
	a := NewAlerts(NewNotifier(), config.NotifyConfig{}, nil)
	sent, err := a.Opportunity(context.Background(), testOpportunity(), "dry")
	if err != nil || sent {
		t.Errorf("expected nothing sent, got sent=%v err=%v", sent, err)
	}
}

func TestAlerts_KillSwitch(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	a := NewAlerts(NewNotifier(rec), config.NotifyConfig{}, nil)
	state := store.RiskState{InitialBankroll: 1000, DailyPnL: -60}

	if err := a.KillSwitch(context.Background(), "daily drawdown limit reached", state); err != nil {
		t.Fatal(err)
	}
	if rec.titles[0] != "KILL SWITCH ACTIVATED" {
		t.Errorf("unexpected title %q", rec.titles[0])
	}
	if !strings.Contains(rec.bodies[0], "Drawdown: 6.00%") {
		t.Errorf("expected drawdown in body, got %q", rec.bodies[0])
	}
}

func TestMemoryDeduper_Expires(t *testing.T) {
	d := NewMemoryDeduper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if seen, _ := d.Seen(ctx, "k", time.Minute); seen {
		t.Fatal("expected new key")
	}
	if seen, _ := d.Seen(ctx, "k", time.Minute); !seen {
		t.Fatal("expected repeat within ttl")
	}

	if err := d.Forget(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if seen, _ := d.Seen(ctx, "k", time.Minute); seen {
		t.Fatal("expected forgotten key to be new")
	}

	now = now.Add(2 * time.Minute)
	if d.Len() != 0 {
		t.Errorf("expected key expired, got %d live", d.Len())
	}
	if seen, _ := d.Seen(ctx, "k", time.Minute); seen {
		t.Error("expected key new again after ttl")
	}
}

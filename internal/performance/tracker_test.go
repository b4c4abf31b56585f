package performance

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/samirdawaliby/autobet/internal/db"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/odds"
	"github.com/samirdawaliby/autobet/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.Repository) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database); err != nil {
		t.Fatal(err)
	}
	return NewTracker(database, 7), store.New(database, 1000)
}

func opportunity(id string, sport odds.Sport, edge float64, detected time.Time) detector.Opportunity {
	return detector.Opportunity{
		ID:               id,
		EventID:          "evt-" + id,
		EventName:        "A vs B",
		Sport:            sport,
		Market:           odds.H2H,
		DetectedAt:       detected,
		CommenceTime:     detected.Add(time.Hour),
		Edge:             edge,
		TotalStake:       100,
		GuaranteedProfit: edge,
		Legs: []detector.Leg{
			{Selection: "home", Bookmaker: "bet365", Odds: 2.1, EffectiveOdds: 2.1},
			{Selection: "away", Bookmaker: "smarkets", Odds: 2.05, EffectiveOdds: 2.01, IsExchange: true},
		},
		BookmakerCount: 2,
	}
}

func TestGenerate_Empty(t *testing.T) {
	tr, _ := newTestTracker(t)
	r, err := tr.Generate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Detected != 0 || r.AvgEdge != 0 || r.SettledCount != 0 {
		t.Errorf("expected empty report, got %+v", r)
	}
	if r.Days != 7 {
		t.Errorf("expected 7 day window, got %d", r.Days)
	}
}

func TestGenerate_Summarises(t *testing.T) {
	tr, repo := newTestTracker(t)
	ctx := context.Background()
	now := time.Now()

	opps := []detector.Opportunity{
		opportunity("arb_1", odds.Tennis, 2.0, now.Add(-time.Hour)),
		opportunity("arb_2", odds.Tennis, 4.0, now.Add(-2*time.Hour)),
		opportunity("arb_3", odds.Soccer, 3.0, now.Add(-3*time.Hour)),
		// Outside the window.
		opportunity("arb_old", odds.Soccer, 9.0, now.AddDate(0, 0, -30)),
	}
	if err := repo.SaveOpportunities(ctx, opps); err != nil {
		t.Fatal(err)
	}
	if err := repo.IncrementDailyScan(ctx, 12, 3, 4.0); err != nil {
		t.Fatal(err)
	}

	profit := 2.5
	if err := repo.UpdateOpportunityStatus(ctx, "arb_1", store.StatusExecuted, &profit); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.RecordTrade(ctx, 100, profit, true); err != nil {
		t.Fatal(err)
	}
	loss := -1.0
	if err := repo.UpdateOpportunityStatus(ctx, "arb_2", store.StatusPartial, &loss); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.RecordTrade(ctx, 100, loss, false); err != nil {
		t.Fatal(err)
	}

	r, err := tr.Generate(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if r.Scans != 1 || r.EventsScanned != 12 || r.Detected != 3 || r.Executed != 2 {
		t.Errorf("unexpected daily counters %+v", r)
	}
	if math.Abs(r.AvgEdge-3.0) > 1e-9 {
		t.Errorf("expected avg edge 3.0, got %f", r.AvgEdge)
	}
	if r.BestEdge != 4.0 {
		t.Errorf("expected best edge 4.0, got %f", r.BestEdge)
	}
	if r.StatusCounts["executed"] != 1 || r.StatusCounts["partial"] != 1 || r.StatusCounts["detected"] != 1 {
		t.Errorf("unexpected status counts %v", r.StatusCounts)
	}
	if r.SettledCount != 2 || math.Abs(r.RealisedPnL-1.5) > 1e-9 {
		t.Errorf("expected 2 settled with pnl 1.5, got %d/%f", r.SettledCount, r.RealisedPnL)
	}
	if r.WinRate != 0.5 {
		t.Errorf("expected win rate 0.5, got %f", r.WinRate)
	}
	if math.Abs(r.ROI-1.5/200) > 1e-9 {
		t.Errorf("expected roi %f, got %f", 1.5/200, r.ROI)
	}
	if r.SportStats["tennis"].Count != 2 || r.SportStats["soccer"].Count != 1 {
		t.Errorf("unexpected sport stats %v", r.SportStats)
	}
	if r.BookmakerLegs["bet365"].Count != 3 || r.BookmakerLegs["smarkets"].Count != 3 {
		t.Errorf("unexpected bookmaker legs %v", r.BookmakerLegs)
	}
	if math.Abs(r.CurrentBank-1001.5) > 1e-9 {
		t.Errorf("expected bankroll 1001.5, got %f", r.CurrentBank)
	}
}

func TestComputeDaily_Drawdown(t *testing.T) {
	tr, repo := newTestTracker(t)
	ctx := context.Background()
	database := repo.DB()

	today := time.Now().UTC()
	rows := []struct {
		offset int
		pnl    float64
	}{
		{-3, 10}, {-2, -4}, {-1, -3}, {0, 5},
	}
	for _, row := range rows {
		date := today.AddDate(0, 0, row.offset).Format("2006-01-02")
		if _, err := database.Exec(`INSERT INTO daily_stats (date, total_pnl) VALUES (?, ?)`, date, row.pnl); err != nil {
			t.Fatal(err)
		}
	}

	r, err := tr.Generate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Peak 10, trough 3.
	if math.Abs(r.MaxDrawdown-7) > 1e-9 {
		t.Errorf("expected max drawdown 7, got %f", r.MaxDrawdown)
	}
}

package risk

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/store"
)

type fakeStore struct {
	state    store.RiskState
	statuses map[string]store.Status
	profits  map[string]float64
	setCalls int
	readErr  error
}

func (f *fakeStore) RiskState(ctx context.Context) (*store.RiskState, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	s := f.state
	return &s, nil
}

func (f *fakeStore) SetKillSwitch(ctx context.Context, active bool, reason string) error {
	f.setCalls++
	f.state.KillSwitchActive = active
	if active {
		f.state.KillSwitchReason = reason
	} else {
		f.state.KillSwitchReason = ""
	}
	return nil
}

func (f *fakeStore) RecordTrade(ctx context.Context, stake, pnl float64, win bool) (*store.RiskState, error) {
	f.state.DailyStake += stake
	f.state.DailyPnL += pnl
	f.state.DailyTrades++
	f.state.TotalTrades++
	if win {
		f.state.DailyWins++
		f.state.TotalWins++
	}
	f.state.CurrentBankroll += pnl
	s := f.state
	return &s, nil
}

func (f *fakeStore) UpdateOpportunityStatus(ctx context.Context, id string, status store.Status, actualProfit *float64) error {
	if _, ok := f.statuses[id]; !ok {
		return store.ErrNotFound
	}
	f.statuses[id] = status
	if actualProfit != nil {
		f.profits[id] = *actualProfit
	}
	return nil
}

func newTestManager(bankroll float64) (*Manager, *fakeStore) {
	st := &fakeStore{
		state: store.RiskState{
			InitialBankroll: bankroll,
			CurrentBankroll: bankroll,
		},
		statuses: map[string]store.Status{"arb_1": store.StatusDetected},
		profits:  map[string]float64{},
	}
	cfg := config.RiskConfig{
		InitialBankroll:     bankroll,
		MaxStakePct:         0.02,
		MaxDailyStakePct:    0.10,
		MaxDailyDrawdownPct: 0.05,
	}
	return NewManager(cfg, st), st
}

func TestCanScan_Clear(t *testing.T) {
	m, _ := newTestManager(1000)
	ok, reason, err := m.CanScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ok || reason != "" {
		t.Errorf("expected scan allowed, got ok=%v reason=%q", ok, reason)
	}
}

func TestCanScan_KillSwitchActive(t *testing.T) {
	m, st := newTestManager(1000)
	st.state.KillSwitchActive = true
	st.state.KillSwitchReason = "manual"

	ok, reason, err := m.CanScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected scan refused")
	}
	if reason != "manual" {
		t.Errorf("expected reason manual, got %q", reason)
	}
}

func TestCanScan_TripsOnDrawdown(t *testing.T) {
	m, st := newTestManager(1000)
	// Limit is 5% of 1000 = 50.
	st.state.DailyPnL = -60

	var tripped string
	m.OnTrip(func(ctx context.Context, reason string, state store.RiskState) {
		tripped = reason
		if !state.KillSwitchActive {
			t.Error("expected trip hook to see the active switch")
		}
	})

	ok, reason, err := m.CanScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ok || reason != ReasonDrawdown {
		t.Errorf("expected drawdown refusal, got ok=%v reason=%q", ok, reason)
	}
	if !st.state.KillSwitchActive || st.state.KillSwitchReason != ReasonDrawdown {
		t.Errorf("expected kill switch persisted, got %+v", st.state)
	}
	if tripped != ReasonDrawdown {
		t.Errorf("expected trip hook called, got %q", tripped)
	}

	// Second call sees the persisted switch without tripping again.
	if _, _, err := m.CanScan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st.setCalls != 1 {
		t.Errorf("expected 1 kill switch write, got %d", st.setCalls)
	}
}

func TestCanScan_LossAtLimitAllowed(t *testing.T) {
	m, st := newTestManager(1000)
	st.state.DailyPnL = -50
	ok, _, err := m.CanScan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected a loss equal to the limit to be allowed")
	}
}

func TestCanScan_StoreError(t *testing.T) {
	m, st := newTestManager(1000)
	st.readErr = errors.New("disk gone")
	if _, _, err := m.CanScan(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStakeLimit_PerBetCap(t *testing.T) {
	m, st := newTestManager(1000)
	got := m.StakeLimit(st.state)
	if got != 20 {
		t.Errorf("expected 20 (2%% of 1000), got %f", got)
	}
}

func TestStakeLimit_DailyBudget(t *testing.T) {
	m, st := newTestManager(1000)
	st.state.DailyStake = 92.5
	got := m.StakeLimit(st.state)
	if got != 7.5 {
		t.Errorf("expected remaining daily budget 7.5, got %f", got)
	}

	st.state.DailyStake = 120
	if got := m.StakeLimit(st.state); got != 0 {
		t.Errorf("expected 0 once the budget is spent, got %f", got)
	}
}

func TestStakeLimit_Disabled(t *testing.T) {
	m := NewManager(config.RiskConfig{}, &fakeStore{})
	if got := m.StakeLimit(store.RiskState{CurrentBankroll: 1000}); !math.IsInf(got, 1) {
		t.Errorf("expected no limit, got %f", got)
	}
}

func TestSize_ScalesDown(t *testing.T) {
	m, st := newTestManager(1000)
	opp := detector.Opportunity{
		ID:         "arb_1",
		TotalStake: 100,
		Legs: []detector.Leg{
			{Selection: "home", Odds: 2.10, EffectiveOdds: 2.10, Stake: 49.14},
			{Selection: "away", Odds: 2.05, EffectiveOdds: 2.009, Stake: 50.86},
		},
	}

	sized, ok := m.Size(opp, st.state)
	if !ok {
		t.Fatal("expected opportunity sized")
	}
	if sized.TotalStake != 20 {
		t.Errorf("expected total stake 20, got %f", sized.TotalStake)
	}
	sum := sized.Legs[0].Stake + sized.Legs[1].Stake
	if math.Abs(sum-20) > 1e-9 {
		t.Errorf("expected leg stakes to sum to 20, got %f", sum)
	}
	if opp.Legs[0].Stake != 49.14 {
		t.Error("expected original legs untouched")
	}
}

func TestSize_NoBudget(t *testing.T) {
	m, st := newTestManager(1000)
	st.state.DailyStake = 100
	if _, ok := m.Size(detector.Opportunity{ID: "arb_1", TotalStake: 100}, st.state); ok {
		t.Error("expected sizing refused with no budget")
	}
}

func TestRecordResult_BooksTrade(t *testing.T) {
	m, st := newTestManager(1000)
	state, err := m.RecordResult(context.Background(), "arb_1", store.StatusExecuted, 20, 0.64)
	if err != nil {
		t.Fatal(err)
	}
	if st.statuses["arb_1"] != store.StatusExecuted {
		t.Errorf("expected executed status, got %s", st.statuses["arb_1"])
	}
	if st.profits["arb_1"] != 0.64 {
		t.Errorf("expected profit stored, got %f", st.profits["arb_1"])
	}
	if state.TotalTrades != 1 || state.TotalWins != 1 {
		t.Errorf("expected one winning trade, got %+v", state)
	}
	if state.KillSwitchActive {
		t.Error("expected kill switch untouched")
	}
}

func TestRecordResult_TripsOnLoss(t *testing.T) {
	m, st := newTestManager(1000)
	state, err := m.RecordResult(context.Background(), "arb_1", store.StatusPartial, 20, -55)
	if err != nil {
		t.Fatal(err)
	}
	if !state.KillSwitchActive || !st.state.KillSwitchActive {
		t.Error("expected kill switch tripped by the loss")
	}
}

func TestRecordResult_UnknownOpportunity(t *testing.T) {
	m, st := newTestManager(1000)
	_, err := m.RecordResult(context.Background(), "missing", store.StatusExecuted, 20, 1)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if st.state.TotalTrades != 0 {
		t.Error("expected no trade booked")
	}
}

package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/store"
)

// ReasonDrawdown is the kill switch reason written when the daily loss limit
// trips it.
const ReasonDrawdown = "daily drawdown limit reached"

// Store is the slice of the repository the manager needs.
type Store interface {
	RiskState(ctx context.Context) (*store.RiskState, error)
	SetKillSwitch(ctx context.Context, active bool, reason string) error
	RecordTrade(ctx context.Context, stake, pnl float64, win bool) (*store.RiskState, error)
	UpdateOpportunityStatus(ctx context.Context, id string, status store.Status, actualProfit *float64) error
}

// Manager gates scans on the persisted kill switch and caps suggested stakes.
type Manager struct {
	cfg    config.RiskConfig
	store  Store
	onTrip func(ctx context.Context, reason string, state store.RiskState)
}

func NewManager(cfg config.RiskConfig, st Store) *Manager {
	return &Manager{cfg: cfg, store: st}
}

// OnTrip registers fn to be called whenever the manager activates the kill
// switch itself.
func (m *Manager) OnTrip(fn func(ctx context.Context, reason string, state store.RiskState)) {
	m.onTrip = fn
}

// State returns the current persisted risk state.
func (m *Manager) State(ctx context.Context) (*store.RiskState, error) {
	return m.store.RiskState(ctx)
}

// CanScan reports whether a scan may run. A daily loss beyond the drawdown
// limit activates the kill switch before answering.
func (m *Manager) CanScan(ctx context.Context) (bool, string, error) {
	state, err := m.store.RiskState(ctx)
	if err != nil {
		return false, "", fmt.Errorf("reading risk state: %w", err)
	}

	if state.KillSwitchActive {
		reason := state.KillSwitchReason
		if reason == "" {
			reason = "kill switch active"
		}
		return false, reason, nil
	}

	if m.drawdownExceeded(*state) {
		if err := m.trip(ctx, *state); err != nil {
			return false, "", err
		}
		return false, ReasonDrawdown, nil
	}
	return true, "", nil
}

func (m *Manager) drawdownExceeded(state store.RiskState) bool {
	if m.cfg.MaxDailyDrawdownPct <= 0 || state.InitialBankroll <= 0 {
		return false
	}
	loss := -state.DailyPnL
	return loss > m.cfg.MaxDailyDrawdownPct*state.InitialBankroll
}

func (m *Manager) trip(ctx context.Context, state store.RiskState) error {
	if err := m.store.SetKillSwitch(ctx, true, ReasonDrawdown); err != nil {
		return fmt.Errorf("activating kill switch: %w", err)
	}
	state.KillSwitchActive = true
	state.KillSwitchReason = ReasonDrawdown

	slog.Warn("kill switch activated",
		"reason", ReasonDrawdown,
		"daily_pnl", state.DailyPnL,
		"limit", m.cfg.MaxDailyDrawdownPct*state.InitialBankroll,
	)
	if m.onTrip != nil {
		m.onTrip(ctx, ReasonDrawdown, state)
	}
	return nil
}

// SetKillSwitch activates or releases the kill switch by hand.
func (m *Manager) SetKillSwitch(ctx context.Context, active bool, reason string) error {
	if err := m.store.SetKillSwitch(ctx, active, reason); err != nil {
		return fmt.Errorf("setting kill switch: %w", err)
	}
	slog.Info("kill switch changed", "active", active, "reason", reason)
	return nil
}

// StakeLimit is the largest total stake a single opportunity may carry:
// the per-bet cap on the current bankroll, bounded by what is left of the
// daily budget. A zero percentage disables that cap.
func (m *Manager) StakeLimit(state store.RiskState) float64 {
	limit := math.Inf(1)
	if m.cfg.MaxStakePct > 0 {
		limit = state.CurrentBankroll * m.cfg.MaxStakePct
	}
	if m.cfg.MaxDailyStakePct > 0 {
		remaining := state.InitialBankroll*m.cfg.MaxDailyStakePct - state.DailyStake
		limit = math.Min(limit, remaining)
	}
	if limit <= 0 {
		return 0
	}
	if math.IsInf(limit, 1) {
		return limit
	}
	// Cents.
	return math.Floor(limit*100) / 100
}

// Size scales opp down to the stake limit. It returns false when no budget
// is left for the day.
func (m *Manager) Size(opp detector.Opportunity, state store.RiskState) (detector.Opportunity, bool) {
	limit := m.StakeLimit(state)
	if limit <= 0 {
		slog.Info("opportunity not sized: no stake budget left",
			"opportunity_id", opp.ID,
			"daily_stake", state.DailyStake,
		)
		return opp, false
	}
	if opp.TotalStake <= limit {
		return opp, true
	}
	return opp.WithStake(limit), true
}

// RecordResult settles an opportunity by hand: its status and profit are
// stored and the trade is booked against the bankroll. The kill switch is
// tripped if the result pushes the day past the loss limit.
func (m *Manager) RecordResult(ctx context.Context, id string, status store.Status, stake, profit float64) (*store.RiskState, error) {
	if err := m.store.UpdateOpportunityStatus(ctx, id, status, &profit); err != nil {
		return nil, err
	}

	state, err := m.store.RecordTrade(ctx, stake, profit, profit > 0)
	if err != nil {
		return nil, fmt.Errorf("recording trade for %s: %w", id, err)
	}

	slog.Info("opportunity settled",
		"opportunity_id", id,
		"status", status,
		"stake", stake,
		"profit", profit,
		"bankroll", state.CurrentBankroll,
	)

	if !state.KillSwitchActive && m.drawdownExceeded(*state) {
		if err := m.trip(ctx, *state); err != nil {
			return nil, err
		}
		state.KillSwitchActive = true
		state.KillSwitchReason = ReasonDrawdown
	}
	return state, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RiskState is the persisted bankroll, daily counters and kill switch.
type RiskState struct {
	InitialBankroll  float64    `json:"initial_bankroll"`
	CurrentBankroll  float64    `json:"current_bankroll"`
	DailyStake       float64    `json:"daily_stake"`
	DailyPnL         float64    `json:"daily_pnl"`
	DailyTrades      int        `json:"daily_trades"`
	DailyWins        int        `json:"daily_wins"`
	TotalStake       float64    `json:"total_stake"`
	TotalPnL         float64    `json:"total_pnl"`
	TotalTrades      int        `json:"total_trades"`
	TotalWins        int        `json:"total_wins"`
	KillSwitchActive bool       `json:"kill_switch_active"`
	KillSwitchReason string     `json:"kill_switch_reason,omitempty"`
	LastTradeAt      *time.Time `json:"last_trade_at,omitempty"`
	DailyResetAt     time.Time  `json:"daily_reset_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// WinRate is the share of settled trades that made money.
func (s RiskState) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.TotalWins) / float64(s.TotalTrades)
}

const riskColumns = `initial_bankroll, current_bankroll, daily_stake, daily_pnl, daily_trades, daily_wins,
	total_stake, total_pnl, total_trades, total_wins, kill_switch_active, kill_switch_reason,
	last_trade_at, daily_reset_at, updated_at`

type queryExecer interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RiskState returns the risk row, creating it with the initial bankroll on
// first use. Daily counters are reset when the UTC date has changed since
// the last reset.
func (r *Repository) RiskState(ctx context.Context) (*RiskState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	state, err := r.loadRiskState(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing risk state: %w", err)
	}
	return state, nil
}

func (r *Repository) loadRiskState(ctx context.Context, q queryExecer) (*RiskState, error) {
	now := r.now().UTC()

	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO risk_state (id, initial_bankroll, current_bankroll, daily_reset_at, updated_at)
		VALUES (1, ?, ?, ?, ?)`,
		r.initialBankroll, r.initialBankroll, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating risk state: %w", err)
	}

	state, err := scanRiskState(q.QueryRowContext(ctx, `SELECT `+riskColumns+` FROM risk_state WHERE id = 1`))
	if err != nil {
		return nil, fmt.Errorf("reading risk state: %w", err)
	}

	if dateKey(state.DailyResetAt) < dateKey(now) {
		_, err := q.ExecContext(ctx, `
			UPDATE risk_state SET
				daily_stake = 0, daily_pnl = 0, daily_trades = 0, daily_wins = 0,
				daily_reset_at = ?, updated_at = ?
			WHERE id = 1`,
			now.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return nil, fmt.Errorf("resetting daily risk counters: %w", err)
		}
		state.DailyStake, state.DailyPnL, state.DailyTrades, state.DailyWins = 0, 0, 0, 0
		state.DailyResetAt = fromMillis(now.UnixMilli())
		state.UpdatedAt = state.DailyResetAt
	}
	return state, nil
}

// RecordTrade adds one settled trade to the daily and total counters and
// moves the bankroll by pnl.
func (r *Repository) RecordTrade(ctx context.Context, stake, pnl float64, win bool) (*RiskState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := r.loadRiskState(ctx, tx); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	wins := boolToInt(win)
	_, err = tx.ExecContext(ctx, `
		UPDATE risk_state SET
			daily_stake = daily_stake + ?,
			daily_pnl = daily_pnl + ?,
			daily_trades = daily_trades + 1,
			daily_wins = daily_wins + ?,
			total_stake = total_stake + ?,
			total_pnl = total_pnl + ?,
			total_trades = total_trades + 1,
			total_wins = total_wins + ?,
			current_bankroll = current_bankroll + ?,
			last_trade_at = ?,
			updated_at = ?
		WHERE id = 1`,
		stake, pnl, wins, stake, pnl, wins, pnl, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("recording trade: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_stats (date, opportunities_executed, total_stake, total_pnl)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			opportunities_executed = opportunities_executed + 1,
			total_stake = total_stake + excluded.total_stake,
			total_pnl = total_pnl + excluded.total_pnl`,
		dateKey(now), stake, pnl,
	)
	if err != nil {
		return nil, fmt.Errorf("recording daily trade stats: %w", err)
	}

	state, err := scanRiskState(tx.QueryRowContext(ctx, `SELECT `+riskColumns+` FROM risk_state WHERE id = 1`))
	if err != nil {
		return nil, fmt.Errorf("reading risk state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing trade: %w", err)
	}
	return state, nil
}

// SetKillSwitch persists the kill switch. The reason is cleared when the
// switch is released.
func (r *Repository) SetKillSwitch(ctx context.Context, active bool, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := r.loadRiskState(ctx, tx); err != nil {
		return err
	}

	var why any
	if active && reason != "" {
		why = reason
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE risk_state SET kill_switch_active = ?, kill_switch_reason = ?, updated_at = ? WHERE id = 1`,
		boolToInt(active), why, r.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("setting kill switch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing kill switch: %w", err)
	}
	return nil
}

func scanRiskState(row *sql.Row) (*RiskState, error) {
	var (
		s                 RiskState
		killSwitch        int
		reason            sql.NullString
		lastTrade         sql.NullInt64
		resetAt, updateAt int64
	)
	err := row.Scan(
		&s.InitialBankroll, &s.CurrentBankroll, &s.DailyStake, &s.DailyPnL, &s.DailyTrades, &s.DailyWins,
		&s.TotalStake, &s.TotalPnL, &s.TotalTrades, &s.TotalWins, &killSwitch, &reason,
		&lastTrade, &resetAt, &updateAt,
	)
	if err != nil {
		return nil, err
	}
	s.KillSwitchActive = killSwitch != 0
	s.KillSwitchReason = reason.String
	s.LastTradeAt = nullTime(lastTrade)
	s.DailyResetAt = fromMillis(resetAt)
	s.UpdatedAt = fromMillis(updateAt)
	return &s, nil
}

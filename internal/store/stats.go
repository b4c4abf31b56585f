package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samirdawaliby/autobet/internal/odds"
	"github.com/samirdawaliby/autobet/internal/valuebet"
)

// DailyStats is one UTC day of scan and settlement counters.
type DailyStats struct {
	Date                  string  `json:"date"`
	ScansCount            int     `json:"scans_count"`
	EventsScanned         int     `json:"events_scanned"`
	OpportunitiesDetected int     `json:"opportunities_detected"`
	OpportunitiesExecuted int     `json:"opportunities_executed"`
	TotalStake            float64 `json:"total_stake"`
	TotalPnL              float64 `json:"total_pnl"`
	BestEdge              float64 `json:"best_edge"`
}

// DashboardStats is the summary served to the dashboard and the bot.
type DashboardStats struct {
	Risk                RiskState  `json:"risk_state"`
	Today               DailyStats `json:"daily_stats"`
	RecentOpportunities int        `json:"recent_opportunities"`
}

// IncrementDailyScan adds one scan to today's counters and raises the best
// edge if bestEdge beats it.
func (r *Repository) IncrementDailyScan(ctx context.Context, eventsScanned, opportunities int, bestEdge float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, scans_count, events_scanned, opportunities_detected, best_edge)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			scans_count = scans_count + 1,
			events_scanned = events_scanned + excluded.events_scanned,
			opportunities_detected = opportunities_detected + excluded.opportunities_detected,
			best_edge = MAX(best_edge, excluded.best_edge)`,
		dateKey(r.now()), eventsScanned, opportunities, bestEdge,
	)
	if err != nil {
		return fmt.Errorf("incrementing daily scan: %w", err)
	}
	return nil
}

// DailyStats returns up to days rows, newest first.
func (r *Repository) DailyStats(ctx context.Context, days int) ([]DailyStats, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, scans_count, events_scanned, opportunities_detected, opportunities_executed,
			total_stake, total_pnl, best_edge
		FROM daily_stats ORDER BY date DESC LIMIT ?`, days)
	if err != nil {
		return nil, fmt.Errorf("querying daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Date, &d.ScansCount, &d.EventsScanned, &d.OpportunitiesDetected,
			&d.OpportunitiesExecuted, &d.TotalStake, &d.TotalPnL, &d.BestEdge); err != nil {
			return nil, fmt.Errorf("scanning daily stats: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) today(ctx context.Context) (DailyStats, error) {
	d := DailyStats{Date: dateKey(r.now())}
	err := r.db.QueryRowContext(ctx, `
		SELECT scans_count, events_scanned, opportunities_detected, opportunities_executed,
			total_stake, total_pnl, best_edge
		FROM daily_stats WHERE date = ?`, d.Date,
	).Scan(&d.ScansCount, &d.EventsScanned, &d.OpportunitiesDetected, &d.OpportunitiesExecuted,
		&d.TotalStake, &d.TotalPnL, &d.BestEdge)
	if errors.Is(err, sql.ErrNoRows) {
		return d, nil
	}
	return d, err
}

// DashboardStats combines the risk state, today's counters and the number
// of opportunities detected in the last 24 hours.
func (r *Repository) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	risk, err := r.RiskState(ctx)
	if err != nil {
		return nil, err
	}
	today, err := r.today(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading today's stats: %w", err)
	}

	var recent int
	since := r.now().Add(-24 * time.Hour).UnixMilli()
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM opportunities WHERE detected_at > ?`, since).Scan(&recent); err != nil {
		return nil, fmt.Errorf("counting recent opportunities: %w", err)
	}

	return &DashboardStats{Risk: *risk, Today: today, RecentOpportunities: recent}, nil
}

// SaveValueBets stores a scan's value bets, ignoring ids already stored.
func (r *Repository) SaveValueBets(ctx context.Context, bets []valuebet.Bet) error {
	if len(bets) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO value_bets (id, event_id, event_name, sport, selection, bookmaker, odds,
			sharp_bookmaker, fair_probability, value, stake, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing value bet insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bets {
		if _, err := stmt.ExecContext(ctx, b.ID, b.EventID, b.EventName, string(b.Sport), b.Selection,
			b.Bookmaker, b.Odds, b.SharpBookmaker, b.FairProbability, b.Value, b.Stake,
			b.DetectedAt.UnixMilli()); err != nil {
			return fmt.Errorf("saving value bet %s: %w", b.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing value bets: %w", err)
	}
	return nil
}

// RecentValueBets returns up to limit value bets, newest first.
func (r *Repository) RecentValueBets(ctx context.Context, limit int) ([]valuebet.Bet, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, event_name, sport, selection, bookmaker, odds,
			sharp_bookmaker, fair_probability, value, stake, detected_at
		FROM value_bets ORDER BY detected_at DESC, value DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying value bets: %w", err)
	}
	defer rows.Close()

	var out []valuebet.Bet
	for rows.Next() {
		var (
			b        valuebet.Bet
			sport    string
			detected int64
		)
		if err := rows.Scan(&b.ID, &b.EventID, &b.EventName, &sport, &b.Selection, &b.Bookmaker, &b.Odds,
			&b.SharpBookmaker, &b.FairProbability, &b.Value, &b.Stake, &detected); err != nil {
			return nil, fmt.Errorf("scanning value bet: %w", err)
		}
		b.Sport = odds.Sport(sport)
		b.DetectedAt = fromMillis(detected)
		out = append(out, b)
	}
	return out, rows.Err()
}

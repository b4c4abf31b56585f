package performance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// Tracker computes performance metrics from the database.
type Tracker struct {
	db   *sql.DB
	days int
	now  func() time.Time
}

// NewTracker reports over the last days days; zero or less means seven.
func NewTracker(db *sql.DB, days int) *Tracker {
	if days <= 0 {
		days = 7
	}
	return &Tracker{db: db, days: days, now: time.Now}
}

// Report contains all performance metrics for the window.
type Report struct {
	Since time.Time
	Days  int

	Scans         int
	EventsScanned int
	Detected      int
	Executed      int
	StatusCounts  map[string]int

	AvgEdge   float64
	BestEdge  float64
	AvgProfit float64

	SettledCount  int
	TotalStake    float64
	RealisedPnL   float64
	ROI           float64
	WinRate       float64
	MaxDrawdown   float64
	InitialBank   float64
	CurrentBank   float64
	KillSwitchOn  bool
	SportStats    map[string]GroupStats
	BookmakerLegs map[string]GroupStats
}

// GroupStats summarises the opportunities of one sport or bookmaker.
type GroupStats struct {
	Count   int
	AvgEdge float64
}

// Generate computes the full performance report.
func (t *Tracker) Generate(ctx context.Context) (*Report, error) {
	now := t.now().UTC()
	r := &Report{
		Since:         now.AddDate(0, 0, -t.days),
		Days:          t.days,
		StatusCounts:  make(map[string]int),
		SportStats:    make(map[string]GroupStats),
		BookmakerLegs: make(map[string]GroupStats),
	}

	if err := t.computeDaily(ctx, r); err != nil {
		return nil, fmt.Errorf("computing daily stats: %w", err)
	}
	if err := t.computeOpportunities(ctx, r); err != nil {
		return nil, fmt.Errorf("computing opportunity stats: %w", err)
	}
	if err := t.computeGroups(ctx, r); err != nil {
		return nil, fmt.Errorf("computing group stats: %w", err)
	}
	if err := t.computeBankroll(ctx, r); err != nil {
		return nil, fmt.Errorf("computing bankroll: %w", err)
	}
	return r, nil
}

func (t *Tracker) computeDaily(ctx context.Context, r *Report) error {
	rows, err := t.db.QueryContext(ctx, `
		SELECT scans_count, events_scanned, opportunities_detected, opportunities_executed,
		       total_stake, total_pnl, best_edge
		FROM daily_stats WHERE date >= ? ORDER BY date ASC`, r.Since.Format("2006-01-02"))
	if err != nil {
		return err
	}
	defer rows.Close()

	// Drawdown runs over cumulative daily PnL.
	var cum, peak, maxDD float64
	for rows.Next() {
		var scans, events, detected, executed int
		var stake, pnl, best float64
		if err := rows.Scan(&scans, &events, &detected, &executed, &stake, &pnl, &best); err != nil {
			return err
		}
		r.Scans += scans
		r.EventsScanned += events
		r.Detected += detected
		r.Executed += executed
		r.TotalStake += stake
		r.BestEdge = math.Max(r.BestEdge, best)

		cum += pnl
		peak = math.Max(peak, cum)
		maxDD = math.Max(maxDD, peak-cum)
	}
	r.MaxDrawdown = maxDD
	return rows.Err()
}

func (t *Tracker) computeOpportunities(ctx context.Context, r *Report) error {
	since := r.Since.UnixMilli()

	row := t.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(edge), 0), COALESCE(MAX(edge), 0), COALESCE(AVG(guaranteed_profit), 0)
		FROM opportunities WHERE detected_at >= ?`, since)
	var best float64
	if err := row.Scan(&r.AvgEdge, &best, &r.AvgProfit); err != nil {
		return err
	}
	r.BestEdge = math.Max(r.BestEdge, best)

	rows, err := t.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM opportunities WHERE detected_at >= ? GROUP BY status`, since)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return err
		}
		r.StatusCounts[status] = n
	}
	if err := rows.Err(); err != nil {
		return err
	}

	row = t.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(actual_profit), 0),
		       COALESCE(SUM(CASE WHEN actual_profit > 0 THEN 1 ELSE 0 END), 0)
		FROM opportunities WHERE detected_at >= ? AND actual_profit IS NOT NULL`, since)
	var wins int
	if err := row.Scan(&r.SettledCount, &r.RealisedPnL, &wins); err != nil {
		return err
	}
	if r.SettledCount > 0 {
		r.WinRate = float64(wins) / float64(r.SettledCount)
	}
	if r.TotalStake > 0 {
		r.ROI = r.RealisedPnL / r.TotalStake
	}
	return nil
}

func (t *Tracker) computeGroups(ctx context.Context, r *Report) error {
	since := r.Since.UnixMilli()

	rows, err := t.db.QueryContext(ctx, `
		SELECT sport, COUNT(*), AVG(edge) FROM opportunities
		WHERE detected_at >= ? GROUP BY sport`, since)
	if err != nil {
		return err
	}
	if err := scanGroups(rows, r.SportStats); err != nil {
		return err
	}

	rows, err = t.db.QueryContext(ctx, `
		SELECT json_extract(leg.value, '$.bookmaker'), COUNT(*), AVG(o.edge)
		FROM opportunities o, json_each(o.legs) AS leg
		WHERE o.detected_at >= ? GROUP BY 1`, since)
	if err != nil {
		return err
	}
	return scanGroups(rows, r.BookmakerLegs)
}

func scanGroups(rows *sql.Rows, into map[string]GroupStats) error {
	defer rows.Close()
	for rows.Next() {
		var name string
		var g GroupStats
		if err := rows.Scan(&name, &g.Count, &g.AvgEdge); err != nil {
			return err
		}
		into[name] = g
	}
	return rows.Err()
}

func (t *Tracker) computeBankroll(ctx context.Context, r *Report) error {
	var kill int
	err := t.db.QueryRowContext(ctx,
		`SELECT initial_bankroll, current_bankroll, kill_switch_active FROM risk_state WHERE id = 1`,
	).Scan(&r.InitialBank, &r.CurrentBank, &kill)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	r.KillSwitchOn = kill != 0
	return nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/odds"
)

// OpportunityRecord is a stored opportunity with its settlement state.
type OpportunityRecord struct {
	detector.Opportunity
	Status       Status     `json:"status"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	ActualProfit *float64   `json:"actual_profit,omitempty"`
}

const opportunityColumns = `id, event_id, event_name, sport, league, market, commence_time,
	edge, implied_probability_sum, total_stake, guaranteed_profit, roi, legs,
	executable_legs, requires_manual, bookmaker_count, min_odds_age_seconds, max_odds_age_seconds,
	status, detected_at, executed_at, actual_profit`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveOpportunity inserts opp, or refreshes its metrics if it was already
// stored. The status of an existing row is left alone.
func (r *Repository) SaveOpportunity(ctx context.Context, opp detector.Opportunity) error {
	return saveOpportunity(ctx, r.db, opp)
}

// SaveOpportunities stores a scan's opportunities in one transaction.
func (r *Repository) SaveOpportunities(ctx context.Context, opps []detector.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, opp := range opps {
		if err := saveOpportunity(ctx, tx, opp); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing opportunities: %w", err)
	}
	return nil
}

func saveOpportunity(ctx context.Context, ex execer, opp detector.Opportunity) error {
	legs, err := json.Marshal(opp.Legs)
	if err != nil {
		return fmt.Errorf("encoding legs for %s: %w", opp.ID, err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO opportunities (id, event_id, event_name, sport, league, market, commence_time,
			edge, implied_probability_sum, total_stake, guaranteed_profit, roi, legs,
			executable_legs, requires_manual, bookmaker_count, min_odds_age_seconds, max_odds_age_seconds,
			status, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			edge = excluded.edge,
			implied_probability_sum = excluded.implied_probability_sum,
			total_stake = excluded.total_stake,
			guaranteed_profit = excluded.guaranteed_profit,
			roi = excluded.roi,
			legs = excluded.legs,
			min_odds_age_seconds = excluded.min_odds_age_seconds,
			max_odds_age_seconds = excluded.max_odds_age_seconds`,
		opp.ID, opp.EventID, opp.EventName, string(opp.Sport), opp.League, string(opp.Market),
		opp.CommenceTime.UnixMilli(),
		opp.Edge, opp.ImpliedProbabilitySum, opp.TotalStake, opp.GuaranteedProfit, opp.ROI, string(legs),
		opp.ExecutableLegs, boolToInt(opp.RequiresManual), opp.BookmakerCount,
		opp.MinOddsAgeSeconds, opp.MaxOddsAgeSeconds,
		string(StatusDetected), opp.DetectedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// UpdateOpportunityStatus moves an opportunity to status. actualProfit is
// only written when non-nil. Executed and partial rows get an executed_at.
func (r *Repository) UpdateOpportunityStatus(ctx context.Context, id string, status Status, actualProfit *float64) error {
	var executedAt any
	if status == StatusExecuted || status == StatusPartial {
		executedAt = r.now().UnixMilli()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE opportunities SET
			status = ?,
			actual_profit = COALESCE(?, actual_profit),
			executed_at = COALESCE(?, executed_at)
		WHERE id = ?`,
		string(status), actualProfit, executedAt, id,
	)
	if err != nil {
		return fmt.Errorf("updating opportunity %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating opportunity %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Repository) Opportunity(ctx context.Context, id string) (*OpportunityRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE id = ?`, id)
	rec, err := scanOpportunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading opportunity %s: %w", id, err)
	}
	return rec, nil
}

// RecentOpportunities returns up to limit opportunities, newest first. An
// empty status matches every status.
func (r *Repository) RecentOpportunities(ctx context.Context, limit int, status Status) ([]OpportunityRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + opportunityColumns + ` FROM opportunities`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY detected_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying opportunities: %w", err)
	}
	defer rows.Close()

	var out []OpportunityRecord
	for rows.Next() {
		rec, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning opportunity: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ExpireOpportunities marks detected opportunities older than olderThan as
// expired and returns how many changed.
func (r *Repository) ExpireOpportunities(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE opportunities SET status = ? WHERE status = ? AND detected_at < ?`,
		string(StatusExpired), string(StatusDetected), olderThan.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("expiring opportunities: %w", err)
	}
	return res.RowsAffected()
}

// StatusCounts returns the number of stored opportunities per status.
func (r *Repository) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM opportunities GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting opportunities: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[Status(s)] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row rowScanner) (*OpportunityRecord, error) {
	var (
		rec                   OpportunityRecord
		sport, market, status string
		legs                  string
		commence, detected    int64
		requiresManual        int
		executedAt            sql.NullInt64
		actualProfit          sql.NullFloat64
	)
	err := row.Scan(
		&rec.ID, &rec.EventID, &rec.EventName, &sport, &rec.League, &market, &commence,
		&rec.Edge, &rec.ImpliedProbabilitySum, &rec.TotalStake, &rec.GuaranteedProfit, &rec.ROI, &legs,
		&rec.ExecutableLegs, &requiresManual, &rec.BookmakerCount, &rec.MinOddsAgeSeconds, &rec.MaxOddsAgeSeconds,
		&status, &detected, &executedAt, &actualProfit,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(legs), &rec.Legs); err != nil {
		return nil, fmt.Errorf("decoding legs for %s: %w", rec.ID, err)
	}
	rec.Sport = odds.Sport(sport)
	rec.Market = odds.Market(market)
	rec.CommenceTime = fromMillis(commence)
	rec.DetectedAt = fromMillis(detected)
	rec.RequiresManual = requiresManual != 0
	rec.Status = Status(status)
	rec.ExecutedAt = nullTime(executedAt)
	rec.ActualProfit = nullFloat(actualProfit)
	return &rec, nil
}

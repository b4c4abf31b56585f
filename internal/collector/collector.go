package collector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirdawaliby/autobet/internal/aggregator"
	"github.com/samirdawaliby/autobet/internal/config"
)

// Collector records every merged quote of a snapshot into odds_history so
// the backtest can replay it later.
type Collector struct {
	db  *sql.DB
	cfg config.CollectorConfig
	now func() time.Time
}

func NewCollector(db *sql.DB, cfg config.CollectorConfig) *Collector {
	return &Collector{db: db, cfg: cfg, now: time.Now}
}

func (c *Collector) Enabled() bool { return c.cfg.Enabled }

// Record stores snap's quotes in one transaction and returns the row count.
func (c *Collector) Record(ctx context.Context, snap *aggregator.Snapshot) (int, error) {
	if !c.cfg.Enabled || snap == nil || snap.Len() == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO odds_history (event_id, sport, league, home_team, away_team, commence_time,
			bookmaker, selection, selection_name, odds, observed_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing odds insert: %w", err)
	}
	defer stmt.Close()

	recordedAt := c.now().UnixMilli()
	inserted := 0
	for _, ev := range snap.Events() {
		for _, sel := range ev.Selections() {
			for _, q := range ev.Quotes(sel) {
				_, err := stmt.ExecContext(ctx,
					ev.ID, string(ev.Sport), ev.League, ev.HomeTeam, ev.AwayTeam, ev.CommenceTime.UnixMilli(),
					q.Bookmaker, sel, q.Selection, q.Odds, q.Timestamp.UnixMilli(), recordedAt,
				)
				if err != nil {
					return 0, fmt.Errorf("recording odds for %s/%s: %w", ev.ID, q.Bookmaker, err)
				}
				inserted++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing odds history: %w", err)
	}
	slog.Info("odds history recorded", "events", snap.Len(), "quotes", inserted)
	return inserted, nil
}

// Prune deletes history observed before the retention window. A
// non-positive retention keeps everything.
func (c *Collector) Prune(ctx context.Context) (int64, error) {
	if c.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-time.Duration(c.cfg.RetentionDays) * 24 * time.Hour)
	res, err := c.db.ExecContext(ctx, `DELETE FROM odds_history WHERE observed_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning odds history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning odds history: %w", err)
	}
	if n > 0 {
		slog.Info("odds history pruned", "rows", n, "cutoff", cutoff)
	}
	return n, nil
}

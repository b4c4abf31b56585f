package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samirdawaliby/autobet/internal/aggregator"
	"github.com/samirdawaliby/autobet/internal/commission"
	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/odds"
)

// DefaultBucket is the replay step when none is given.
const DefaultBucket = 5 * time.Minute

// Runner replays recorded odds history through the detector.
type Runner struct {
	db       *sql.DB
	detector *detector.Detector
	bucket   time.Duration
	now      func() time.Time
}

// NewRunner builds a runner stepping by bucket. The detector's max odds age
// is widened to the bucket so quotes recorded inside one step stay usable.
func NewRunner(db *sql.DB, cfg config.DetectorConfig, model *commission.Model, bucket time.Duration) *Runner {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	if cfg.MaxOddsAge.Duration > 0 && cfg.MaxOddsAge.Duration < bucket {
		cfg.MaxOddsAge = config.Duration{Duration: bucket}
	}
	return &Runner{
		db:       db,
		detector: detector.New(cfg, model),
		bucket:   bucket,
		now:      time.Now,
	}
}

// Result summarises one replay.
type Result struct {
	From, To time.Time
	Buckets  int
	Quotes   int

	// Detections counts every (bucket, event) hit; Distinct counts each
	// event and bookmaker combination once.
	Detections int
	Distinct   int

	BestEdge    float64
	AvgEdge     float64
	TotalProfit float64
	BySport     map[odds.Sport]int
	Top         []detector.Opportunity
}

type historyRow struct {
	event     odds.Event
	bookmaker string
	name      string
	odds      float64
	observed  time.Time
}

type quoteKey struct {
	event, selection, bookmaker string
}

// Run executes the backtest over the given date range. Dates are
// YYYY-MM-DD and to is inclusive.
func (r *Runner) Run(ctx context.Context, fromStr, toStr string) (*Result, error) {
	from, to, err := parseDateRange(fromStr, toStr, r.now())
	if err != nil {
		return nil, err
	}

	slog.Info("backtest starting",
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"),
		"bucket", r.bucket.String(),
	)

	rows, err := r.loadHistory(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading odds history: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no odds history found in range %s to %s", fromStr, toStr)
	}
	slog.Info("loaded odds history", "quotes", len(rows))

	res := &Result{From: from, To: to, Quotes: len(rows), BySport: make(map[odds.Sport]int)}
	latest := make(map[quoteKey]historyRow)
	seen := make(map[string]bool)
	var edgeSum float64
	next := 0

	for _, boundary := range replayPoints(from, to, r.bucket) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for next < len(rows) && !rows[next].observed.After(boundary) {
			row := rows[next]
			latest[quoteKey{row.event.ID, row.name, row.bookmaker}] = row
			next++
		}
		res.Buckets++

		snap := buildSnapshot(latest, boundary)
		if snap.Len() == 0 {
			continue
		}
		for _, opp := range r.detector.Detect(snap, boundary) {
			res.Detections++
			edgeSum += opp.Edge
			if opp.Edge > res.BestEdge {
				res.BestEdge = opp.Edge
			}

			key := opp.EventID + "|" + strings.Join(opp.Bookmakers(), ",")
			if seen[key] {
				continue
			}
			seen[key] = true
			res.Distinct++
			res.TotalProfit += opp.GuaranteedProfit
			res.BySport[opp.Sport]++
			res.Top = append(res.Top, opp)
		}
	}

	if res.Detections > 0 {
		res.AvgEdge = edgeSum / float64(res.Detections)
	}
	detector.Rank(res.Top)
	if len(res.Top) > 10 {
		res.Top = res.Top[:10]
	}

	logResult(res)
	return res, nil
}

// replayPoints lists every bucket boundary after from up to to. When the
// range is not a whole number of buckets, to itself closes the last partial
// bucket.
func replayPoints(from, to time.Time, bucket time.Duration) []time.Time {
	var out []time.Time
	t := from.Add(bucket)
	for ; !t.After(to); t = t.Add(bucket) {
		out = append(out, t)
	}
	if len(out) == 0 || out[len(out)-1].Before(to) {
		out = append(out, to)
	}
	return out
}

// buildSnapshot assembles the latest quotes as seen at ts. Events that have
// already started are left out.
func buildSnapshot(latest map[quoteKey]historyRow, ts time.Time) *aggregator.Snapshot {
	b := aggregator.NewBuilder(ts)
	for _, row := range latest {
		if !row.event.CommenceTime.After(ts) {
			continue
		}
		b.Insert(row.event, odds.Quote{
			Selection: row.name,
			Odds:      row.odds,
			Bookmaker: row.bookmaker,
			Timestamp: row.observed,
		})
	}
	return b.Build()
}

func logResult(res *Result) {
	slog.Info("=== BACKTEST RESULTS ===",
		"period", fmt.Sprintf("%s to %s", res.From.Format("2006-01-02"), res.To.Format("2006-01-02")),
		"buckets", res.Buckets,
		"quotes_replayed", res.Quotes,
		"detections", res.Detections,
		"distinct_opportunities", res.Distinct,
		"best_edge", res.BestEdge,
		"avg_edge", res.AvgEdge,
		"total_guaranteed_profit", res.TotalProfit,
	)

	sports := make([]string, 0, len(res.BySport))
	for s := range res.BySport {
		sports = append(sports, string(s))
	}
	sort.Strings(sports)
	for _, s := range sports {
		slog.Info("backtest sport", "sport", s, "opportunities", res.BySport[odds.Sport(s)])
	}
	for i, opp := range res.Top {
		slog.Info("backtest top opportunity",
			"rank", i+1,
			"event", opp.EventName,
			"edge", opp.Edge,
			"profit", opp.GuaranteedProfit,
			"detected_at", opp.DetectedAt,
		)
	}
}

func parseDateRange(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	var from, to time.Time

	if fromStr == "" {
		from = now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -7) // Default: one week back.
	} else {
		var err error
		from, err = time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing from date: %w", err)
		}
	}

	if toStr == "" {
		to = now.UTC()
	} else {
		d, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing to date: %w", err)
		}
		to = d.AddDate(0, 0, 1)
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from %s is not before to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return from, to, nil
}

func (r *Runner) loadHistory(ctx context.Context, from, to time.Time) ([]historyRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, sport, league, home_team, away_team, commence_time,
		       bookmaker, selection_name, odds, observed_at
		FROM odds_history
		WHERE observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at, id`,
		from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []historyRow
	for rows.Next() {
		var (
			row               historyRow
			sport             string
			commence, observe int64
		)
		if err := rows.Scan(
			&row.event.ID, &sport, &row.event.League, &row.event.HomeTeam, &row.event.AwayTeam, &commence,
			&row.bookmaker, &row.name, &row.odds, &observe,
		); err != nil {
			return nil, err
		}
		row.event.Sport = odds.Sport(sport)
		row.event.CommenceTime = time.UnixMilli(commence).UTC()
		row.observed = time.UnixMilli(observe).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

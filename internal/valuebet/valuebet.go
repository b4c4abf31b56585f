// Package valuebet finds soft-bookmaker prices above a sharp bookmaker's
// de-margined fair odds.
package valuebet

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samirdawaliby/autobet/internal/aggregator"
	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/odds"
)

// Bet is one value selection with its suggested stake.
type Bet struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	EventName       string     `json:"event_name"`
	Sport           odds.Sport `json:"sport"`
	League          string     `json:"league"`
	Selection       string     `json:"selection"`
	SelectionName   string     `json:"selection_name"`
	Bookmaker       string     `json:"bookmaker"`
	Odds            float64    `json:"odds"`
	SharpBookmaker  string     `json:"sharp_bookmaker"`
	FairProbability float64    `json:"fair_probability"`
	FairOdds        float64    `json:"fair_odds"`
	Value           float64    `json:"value"`
	Kelly           float64    `json:"kelly"`
	Stake           float64    `json:"stake"`
	DetectedAt      time.Time  `json:"detected_at"`
}

type Detector struct {
	cfg    config.ValueBetConfig
	maxAge time.Duration
	sharp  map[string]bool
}

// New returns a Detector. Quotes older than maxAge are ignored on both the
// sharp and the soft side; zero disables the age check.
func New(cfg config.ValueBetConfig, maxAge time.Duration) *Detector {
	sharp := make(map[string]bool, len(cfg.SharpBookmakers))
	for _, bk := range cfg.SharpBookmakers {
		sharp[strings.ToLower(bk)] = true
	}
	return &Detector{cfg: cfg, maxAge: maxAge, sharp: sharp}
}

func (d *Detector) Enabled() bool { return d.cfg.Enabled }

// Detect returns value bets across snap sized against bankroll, highest
// value first.
func (d *Detector) Detect(snap *aggregator.Snapshot, now time.Time, bankroll float64) []Bet {
	var bets []Bet
	for _, ev := range snap.Events() {
		bets = append(bets, d.evaluateEvent(ev, now, bankroll)...)
	}

	sort.SliceStable(bets, func(i, j int) bool {
		if bets[i].Value != bets[j].Value {
			return bets[i].Value > bets[j].Value
		}
		if bets[i].EventID != bets[j].EventID {
			return bets[i].EventID < bets[j].EventID
		}
		return bets[i].Selection < bets[j].Selection
	})

	slog.Info("value bet scan complete", "events_scanned", snap.Len(), "value_bets", len(bets))
	return bets
}

func (d *Detector) evaluateEvent(ev *aggregator.EventOdds, now time.Time, bankroll float64) []Bet {
	selections := ev.Selections()
	if len(selections) < 2 {
		return nil
	}

	sharpBook, fair, ok := d.fairProbabilities(ev, selections, now)
	if !ok {
		return nil
	}

	var bets []Bet
	for _, sel := range selections {
		q, ok := d.bestSoft(ev, sel, now)
		if !ok {
			continue
		}
		p := fair[sel]
		value := (q.Odds*p - 1) * 100
		if value < d.cfg.MinValue {
			continue
		}

		kelly := kellyFraction(q.Odds, p) * d.cfg.KellyFraction
		stake := kelly * bankroll
		if limit := d.cfg.MaxStakePct * bankroll; d.cfg.MaxStakePct > 0 && stake > limit {
			stake = limit
		}

		bets = append(bets, Bet{
			ID:              fmt.Sprintf("vb_%s_%s_%d", ev.ID, sel, now.Unix()),
			EventID:         ev.ID,
			EventName:       ev.Name,
			Sport:           ev.Sport,
			League:          ev.League,
			Selection:       sel,
			SelectionName:   q.Selection,
			Bookmaker:       q.Bookmaker,
			Odds:            q.Odds,
			SharpBookmaker:  sharpBook,
			FairProbability: round(p, 4),
			FairOdds:        round(1/p, 3),
			Value:           round(value, 2),
			Kelly:           round(kelly, 4),
			Stake:           round(stake, 2),
			DetectedAt:      now,
		})
	}
	return bets
}

// fairProbabilities removes the sharp bookmaker's margin proportionally.
// The first configured sharp bookmaker with a fresh quote on every
// selection is used.
func (d *Detector) fairProbabilities(ev *aggregator.EventOdds, selections []string, now time.Time) (string, map[string]float64, bool) {
	for _, sharp := range d.cfg.SharpBookmakers {
		prices := make(map[string]float64, len(selections))
		var overround float64
		for _, sel := range selections {
			q, ok := ev.Quote(sel, sharp)
			if !ok || !d.fresh(q, now) {
				break
			}
			prices[sel] = q.Odds
			overround += 1 / q.Odds
		}
		if len(prices) != len(selections) {
			continue
		}

		fair := make(map[string]float64, len(selections))
		for sel, price := range prices {
			fair[sel] = (1 / price) / overround
		}
		return sharp, fair, true
	}
	return "", nil, false
}

// bestSoft returns the highest fresh price for sel outside the sharp set.
func (d *Detector) bestSoft(ev *aggregator.EventOdds, sel string, now time.Time) (odds.Quote, bool) {
	var (
		best  odds.Quote
		found bool
	)
	for _, q := range ev.Quotes(sel) {
		if d.sharp[strings.ToLower(q.Bookmaker)] || !d.fresh(q, now) {
			continue
		}
		if !found || q.Odds > best.Odds {
			best = q
			found = true
		}
	}
	return best, found
}

func (d *Detector) fresh(q odds.Quote, now time.Time) bool {
	return d.maxAge <= 0 || now.Sub(q.Timestamp) <= d.maxAge
}

// kellyFraction is the full Kelly stake fraction f* = (bp - q) / b for
// decimal odds and win probability p.
func kellyFraction(price, p float64) float64 {
	b := price - 1
	if b <= 0 {
		return 0
	}
	f := (b*p - (1 - p)) / b
	if f < 0 {
		return 0
	}
	return f
}

func round(x float64, places int32) float64 {
	return decimal.NewFromFloat(x).Round(places).InexactFloat64()
}

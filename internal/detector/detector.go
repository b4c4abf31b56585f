// Package detector finds guaranteed-profit configurations across bookmakers.
package detector

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samirdawaliby/autobet/internal/aggregator"
	"github.com/samirdawaliby/autobet/internal/commission"
	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/odds"
)

// Leg is one side of an arbitrage.
type Leg struct {
	Selection       string    `json:"selection"`
	SelectionName   string    `json:"selection_name"`
	Bookmaker       string    `json:"bookmaker"`
	Odds            float64   `json:"odds"`
	EffectiveOdds   float64   `json:"effective_odds"`
	Stake           float64   `json:"stake"`
	PotentialReturn float64   `json:"potential_return"`
	IsExchange      bool      `json:"is_exchange"`
	Timestamp       time.Time `json:"timestamp"`
	Liquidity       *float64  `json:"liquidity,omitempty"`
}

// Opportunity is one detected arbitrage. It is immutable once returned.
type Opportunity struct {
	ID                    string      `json:"id"`
	EventID               string      `json:"event_id"`
	EventName             string      `json:"event_name"`
	Sport                 odds.Sport  `json:"sport"`
	League                string      `json:"league"`
	Market                odds.Market `json:"market"`
	CommenceTime          time.Time   `json:"commence_time"`
	DetectedAt            time.Time   `json:"detected_at"`
	Edge                  float64     `json:"edge"`
	ImpliedProbabilitySum float64     `json:"implied_probability_sum"`
	Legs                  []Leg       `json:"legs"`
	TotalStake            float64     `json:"total_stake"`
	GuaranteedProfit      float64     `json:"guaranteed_profit"`
	ROI                   float64     `json:"roi"`
	ExecutableLegs        int         `json:"executable_legs"`
	RequiresManual        bool        `json:"requires_manual"`
	BookmakerCount        int         `json:"bookmaker_count"`
	MinOddsAgeSeconds     float64     `json:"min_odds_age_seconds"`
	MaxOddsAgeSeconds     float64     `json:"max_odds_age_seconds"`
}

// Bookmakers returns the leg bookmakers in leg order.
func (o Opportunity) Bookmakers() []string {
	out := make([]string, len(o.Legs))
	for i, l := range o.Legs {
		out[i] = l.Bookmaker
	}
	return out
}

// WithStake returns a copy of o with the legs reallocated for a new total
// stake. Edge and implied sum do not depend on the stake and are kept.
func (o Opportunity) WithStake(total float64) Opportunity {
	legs := make([]Leg, len(o.Legs))
	copy(legs, o.Legs)
	o.Legs = legs

	var implied float64
	for _, l := range legs {
		implied += 1 / l.EffectiveOdds
	}
	o.TotalStake, o.GuaranteedProfit, o.ROI = allocate(o.Legs, total, implied)
	return o
}

// Detector is stateless apart from its configuration; Detect may be called
// concurrently on different snapshots.
type Detector struct {
	cfg        config.DetectorConfig
	commission *commission.Model
}

func New(cfg config.DetectorConfig, model *commission.Model) *Detector {
	if model == nil {
		model = commission.Default()
	}
	return &Detector{cfg: cfg, commission: model}
}

func (d *Detector) Config() config.DetectorConfig { return d.cfg }

// WithConfig returns a detector with cfg and the same commission model.
func (d *Detector) WithConfig(cfg config.DetectorConfig) *Detector {
	return &Detector{cfg: cfg, commission: d.commission}
}

// Detect evaluates every event in snap at now and returns the qualifying
// opportunities ranked by edge.
func (d *Detector) Detect(snap *aggregator.Snapshot, now time.Time) []Opportunity {
	var opps []Opportunity
	evaluated := 0

	for _, ev := range snap.Events() {
		if ev.BookmakerCount() < d.cfg.MinBookmakers {
			continue
		}
		evaluated++

		opp, ok := d.evaluateEvent(ev, now)
		if !ok {
			continue
		}
		opps = append(opps, opp)
	}

	Rank(opps)

	bestEdge := 0.0
	if len(opps) > 0 {
		bestEdge = opps[0].Edge
	}
	slog.Info("arbitrage scan complete",
		"events_scanned", snap.Len(),
		"events_evaluated", evaluated,
		"opportunities", len(opps),
		"best_edge", bestEdge,
	)
	return opps
}

// Rank orders opportunities by edge, highest first. Equal edges are ordered
// by event id so the output is reproducible.
func Rank(opps []Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].Edge != opps[j].Edge {
			return opps[i].Edge > opps[j].Edge
		}
		return opps[i].EventID < opps[j].EventID
	})
}

func (d *Detector) evaluateEvent(ev *aggregator.EventOdds, now time.Time) (Opportunity, bool) {
	selections := ev.Selections()
	if len(selections) < 2 {
		return Opportunity{}, false
	}

	legs := make([]Leg, 0, len(selections))
	var implied float64
	for _, sel := range selections {
		q, ok := d.freshestBest(ev, sel, now)
		if !ok {
			// One stale selection voids the whole event this cycle.
			return Opportunity{}, false
		}
		eff := d.commission.EffectiveOdds(q.Odds, q.Bookmaker)
		implied += 1 / eff
		legs = append(legs, Leg{
			Selection:     sel,
			SelectionName: q.Selection,
			Bookmaker:     q.Bookmaker,
			Odds:          q.Odds,
			EffectiveOdds: eff,
			IsExchange:    d.commission.IsExchange(q.Bookmaker),
			Timestamp:     q.Timestamp,
			Liquidity:     q.Liquidity,
		})
	}

	if implied >= 1 {
		return Opportunity{}, false
	}
	edge := (1 - implied) * 100
	if edge < d.cfg.MinEdge {
		return Opportunity{}, false
	}

	opp := Opportunity{
		ID:                    fmt.Sprintf("arb_%s_%d", ev.ID, now.Unix()),
		EventID:               ev.ID,
		EventName:             ev.Name,
		Sport:                 ev.Sport,
		League:                ev.League,
		Market:                odds.H2H,
		CommenceTime:          ev.CommenceTime,
		DetectedAt:            now,
		Edge:                  round(edge, 2),
		ImpliedProbabilitySum: round(implied, 4),
		Legs:                  legs,
	}
	opp.TotalStake, opp.GuaranteedProfit, opp.ROI = allocate(legs, d.cfg.BaseStake, implied)
	if opp.GuaranteedProfit <= 0 {
		slog.Debug("arbitrage rounded away",
			"event_id", ev.ID, "edge", opp.Edge, "profit", opp.GuaranteedProfit)
		return Opportunity{}, false
	}

	for i, l := range legs {
		if l.IsExchange {
			opp.ExecutableLegs++
		}

		age := now.Sub(l.Timestamp).Seconds()
		if i == 0 || age < opp.MinOddsAgeSeconds {
			opp.MinOddsAgeSeconds = age
		}
		if i == 0 || age > opp.MaxOddsAgeSeconds {
			opp.MaxOddsAgeSeconds = age
		}
	}
	opp.RequiresManual = opp.ExecutableLegs < len(legs)
	// One bookmaker per leg, counted even when a book wins several legs.
	opp.BookmakerCount = len(legs)

	slog.Debug("arbitrage opportunity found",
		"event_id", ev.ID,
		"event", ev.Name,
		"edge", opp.Edge,
		"implied_sum", opp.ImpliedProbabilitySum,
		"legs", len(legs),
	)
	return opp, true
}

// freshestBest returns the highest-priced quote for sel that is no older
// than the configured max age. The cached best is used directly when it is
// fresh; otherwise the selection's quotes are scanned in bookmaker order so
// ties resolve to the smallest bookmaker id.
func (d *Detector) freshestBest(ev *aggregator.EventOdds, sel string, now time.Time) (odds.Quote, bool) {
	if best, ok := ev.Best(sel); ok {
		if q, ok := ev.Quote(sel, best.Bookmaker); ok && d.fresh(q, now) {
			return q, true
		}
	}

	var (
		out   odds.Quote
		found bool
	)
	for _, q := range ev.Quotes(sel) {
		if !d.fresh(q, now) {
			continue
		}
		if !found || q.Odds > out.Odds {
			out = q
			found = true
		}
	}
	return out, found
}

// fresh reports whether q is within max_odds_age of now. A zero max age
// disables the check.
func (d *Detector) fresh(q odds.Quote, now time.Time) bool {
	if d.cfg.MaxOddsAge.Duration <= 0 {
		return true
	}
	return now.Sub(q.Timestamp) <= d.cfg.MaxOddsAge.Duration
}

// allocate fills the stake and return of every leg for a total stake,
// splitting it in proportion to each leg's implied probability. Stakes are
// rounded to cents and the rounding remainder goes to the largest leg so the
// stakes always sum to total. Profit is the worst-case payout minus total.
func allocate(legs []Leg, total, implied float64) (stake, profit, roi float64) {
	s := decimal.NewFromFloat(total).Round(2)
	sum := decimal.Zero
	largest := 0
	stakes := make([]decimal.Decimal, len(legs))
	for i, l := range legs {
		share := 1 / l.EffectiveOdds / implied
		stakes[i] = s.Mul(decimal.NewFromFloat(share)).Round(2)
		sum = sum.Add(stakes[i])
		if stakes[i].GreaterThan(stakes[largest]) {
			largest = i
		}
	}
	if len(legs) > 0 {
		stakes[largest] = stakes[largest].Add(s.Sub(sum))
	}

	var minReturn decimal.Decimal
	for i := range legs {
		ret := stakes[i].Mul(decimal.NewFromFloat(legs[i].Odds)).Round(2)
		legs[i].Stake = stakes[i].InexactFloat64()
		legs[i].PotentialReturn = ret.InexactFloat64()
		if i == 0 || ret.LessThan(minReturn) {
			minReturn = ret
		}
	}

	p := minReturn.Sub(s)
	profit = p.Round(2).InexactFloat64()
	if !s.IsZero() {
		roi = p.Div(s).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return s.InexactFloat64(), profit, roi
}

func round(x float64, places int32) float64 {
	return decimal.NewFromFloat(x).Round(places).InexactFloat64()
}

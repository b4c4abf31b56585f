package aggregator

import (
	"sort"
	"time"

	"github.com/samirdawaliby/autobet/internal/normalize"
	"github.com/samirdawaliby/autobet/internal/odds"
)

// BestQuote is the cached maximum price for one selection.
type BestQuote struct {
	Odds      float64
	Bookmaker string
}

// EventOdds holds every known quote for one event, keyed by canonical
// selection then bookmaker. It is only mutated through a Builder.
type EventOdds struct {
	ID           string
	Name         string
	Sport        odds.Sport
	League       string
	HomeTeam     string
	AwayTeam     string
	CommenceTime time.Time

	quotes map[string]map[string]odds.Quote
	best   map[string]BestQuote
}

func newEventOdds(ev odds.Event) *EventOdds {
	return &EventOdds{
		ID:           ev.ID,
		Name:         ev.DisplayName(),
		Sport:        ev.Sport,
		League:       ev.League,
		HomeTeam:     ev.HomeTeam,
		AwayTeam:     ev.AwayTeam,
		CommenceTime: ev.CommenceTime,
		quotes:       make(map[string]map[string]odds.Quote),
		best:         make(map[string]BestQuote),
	}
}

// insert stores q under its canonical selection, replacing any earlier quote
// from the same bookmaker, and keeps the best cache exact.
func (e *EventOdds) insert(q odds.Quote) string {
	sel := normalize.Selection(q.Selection, e.HomeTeam, e.AwayTeam)

	byBook, ok := e.quotes[sel]
	if !ok {
		byBook = make(map[string]odds.Quote)
		e.quotes[sel] = byBook
	}
	byBook[q.Bookmaker] = q

	cur, ok := e.best[sel]
	switch {
	case !ok || beats(q.Odds, q.Bookmaker, cur):
		e.best[sel] = BestQuote{Odds: q.Odds, Bookmaker: q.Bookmaker}
	case cur.Bookmaker == q.Bookmaker && q.Odds < cur.Odds:
		// The cached best was just lowered by its own bookmaker.
		e.best[sel] = scanBest(byBook)
	}
	return sel
}

// beats orders quotes by odds, then by the lexicographically smaller bookmaker.
func beats(price float64, bookmaker string, cur BestQuote) bool {
	if price != cur.Odds {
		return price > cur.Odds
	}
	return bookmaker < cur.Bookmaker
}

func scanBest(byBook map[string]odds.Quote) BestQuote {
	var best BestQuote
	first := true
	for bk, q := range byBook {
		if first || beats(q.Odds, bk, best) {
			best = BestQuote{Odds: q.Odds, Bookmaker: bk}
			first = false
		}
	}
	return best
}

// Selections returns the canonical selections in home, draw, away order.
func (e *EventOdds) Selections() []string {
	out := make([]string, 0, len(e.quotes))
	for sel := range e.quotes {
		out = append(out, sel)
	}
	normalize.Sort(out)
	return out
}

// Quotes returns the quotes for sel ordered by bookmaker.
func (e *EventOdds) Quotes(sel string) []odds.Quote {
	byBook := e.quotes[sel]
	out := make([]odds.Quote, 0, len(byBook))
	for _, q := range byBook {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bookmaker < out[j].Bookmaker })
	return out
}

// Quote returns the stored quote for one selection and bookmaker.
func (e *EventOdds) Quote(sel, bookmaker string) (odds.Quote, bool) {
	q, ok := e.quotes[sel][bookmaker]
	return q, ok
}

// Best returns the cached best quote for sel.
func (e *EventOdds) Best(sel string) (BestQuote, bool) {
	b, ok := e.best[sel]
	return b, ok
}

// BookmakerCount is the number of distinct bookmakers quoting any selection.
func (e *EventOdds) BookmakerCount() int {
	return len(e.bookmakers())
}

func (e *EventOdds) bookmakers() map[string]struct{} {
	seen := make(map[string]struct{})
	for _, byBook := range e.quotes {
		for bk := range byBook {
			seen[bk] = struct{}{}
		}
	}
	return seen
}

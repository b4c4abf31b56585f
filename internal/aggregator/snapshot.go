package aggregator

import (
	"log/slog"
	"sort"
	"time"

	"github.com/samirdawaliby/autobet/internal/odds"
)

// Snapshot is the aggregated, read-only view of one polling cycle.
type Snapshot struct {
	Timestamp       time.Time
	TotalBookmakers int

	events      map[string]*EventOdds
	ids         []string
	sourceStats map[string]int
	remaining   map[string]int
}

// Events returns the events ordered by id.
func (s *Snapshot) Events() []*EventOdds {
	out := make([]*EventOdds, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.events[id])
	}
	return out
}

func (s *Snapshot) Event(id string) (*EventOdds, bool) {
	ev, ok := s.events[id]
	return ev, ok
}

func (s *Snapshot) Len() int { return len(s.ids) }

// SourceStats returns a copy of the per-source event counts.
func (s *Snapshot) SourceStats() map[string]int {
	return copyCounts(s.sourceStats)
}

// RemainingRequests returns a copy of the last quota reported per source.
func (s *Snapshot) RemainingRequests() map[string]int {
	return copyCounts(s.remaining)
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Builder accumulates provider batches into a Snapshot. It is not safe for
// concurrent use; the aggregator merges sequentially after its fetch barrier.
type Builder struct {
	ts          time.Time
	events      map[string]*EventOdds
	sourceStats map[string]int
	remaining   map[string]int
}

func NewBuilder(ts time.Time) *Builder {
	return &Builder{
		ts:          ts,
		events:      make(map[string]*EventOdds),
		sourceStats: make(map[string]int),
		remaining:   make(map[string]int),
	}
}

// AddBatch merges the head-to-head quotes of every event in b. Other market
// types are ignored.
func (b *Builder) AddBatch(batch *odds.Batch) {
	if batch == nil {
		return
	}
	for _, ev := range batch.Events {
		for bookmaker, markets := range ev.Markets {
			for _, q := range markets[odds.H2H] {
				if q.Bookmaker == "" {
					q.Bookmaker = bookmaker
				}
				b.Insert(ev, q)
			}
		}
		// Events without h2h quotes still count towards the source.
		b.event(ev)
	}
	b.sourceStats[batch.Source] += len(batch.Events)
	if batch.RemainingRequests != nil {
		b.remaining[batch.Source] = *batch.RemainingRequests
	}
}

// Insert normalizes q's selection name and stores it under ev. Invalid odds
// are dropped.
func (b *Builder) Insert(ev odds.Event, q odds.Quote) {
	if !q.Valid() {
		slog.Warn("dropping quote with invalid odds",
			"event_id", ev.ID, "bookmaker", q.Bookmaker, "selection", q.Selection, "odds", q.Odds)
		return
	}
	b.event(ev).insert(q)
}

func (b *Builder) event(ev odds.Event) *EventOdds {
	e, ok := b.events[ev.ID]
	if !ok {
		e = newEventOdds(ev)
		b.events[ev.ID] = e
	}
	return e
}

// Build freezes the accumulated state into a Snapshot and resets the builder.
func (b *Builder) Build() *Snapshot {
	snap := &Snapshot{
		Timestamp:   b.ts,
		events:      b.events,
		sourceStats: b.sourceStats,
		remaining:   b.remaining,
	}
	snap.ids = make([]string, 0, len(b.events))
	books := make(map[string]struct{})
	for id, ev := range b.events {
		snap.ids = append(snap.ids, id)
		for bk := range ev.bookmakers() {
			books[bk] = struct{}{}
		}
	}
	sort.Strings(snap.ids)
	snap.TotalBookmakers = len(books)

	*b = *NewBuilder(b.ts)
	return snap
}

// Package aggregator merges provider odds into per-event matrices.
package aggregator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samirdawaliby/autobet/internal/odds"
)

// Aggregator fans a polling cycle out to every provider and sport.
type Aggregator struct {
	providers   []odds.Provider
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

// New returns an Aggregator. A zero timeout leaves fetches bounded only by
// the caller's context; a concurrency below 1 means unlimited.
func New(providers []odds.Provider, timeout time.Duration, concurrency int) *Aggregator {
	return &Aggregator{
		providers:   providers,
		timeout:     timeout,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (a *Aggregator) Providers() []odds.Provider { return a.providers }

// FetchAll fetches every (provider, sport) pair concurrently, waits for all
// of them, then merges the successful batches into one Snapshot. A failed
// pair is logged and contributes nothing. The only error returned is the
// caller's context error; the partial snapshot is still returned with it.
func (a *Aggregator) FetchAll(ctx context.Context, sports []odds.Sport, markets []odds.Market) (*Snapshot, error) {
	type task struct {
		provider odds.Provider
		sport    odds.Sport
	}
	var tasks []task
	for _, p := range a.providers {
		for _, sp := range sports {
			tasks = append(tasks, task{provider: p, sport: sp})
		}
	}

	results := make([]*odds.Batch, len(tasks))

	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, t := range tasks {
		g.Go(func() error {
			fetchCtx := ctx
			if a.timeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(ctx, a.timeout)
				defer cancel()
			}

			batch, err := t.provider.Fetch(fetchCtx, t.sport, markets)
			if err != nil {
				slog.Error("provider fetch failed",
					"source", t.provider.Name(), "sport", string(t.sport), "error", err)
				return nil
			}
			results[i] = batch
			return nil
		})
	}
	_ = g.Wait()

	b := NewBuilder(a.now().UTC())
	for _, batch := range results {
		b.AddBatch(batch)
	}
	snap := b.Build()

	slog.Info("aggregation complete",
		"event_count", snap.Len(),
		"total_bookmakers", snap.TotalBookmakers,
		"source_stats", snap.SourceStats(),
	)

	return snap, ctx.Err()
}

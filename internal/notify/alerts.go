package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/store"
)

// Alerts decides which events become notifications and formats them.
type Alerts struct {
	notifier *Notifier
	minEdge  float64
	dedup    Deduper
	ttl      time.Duration
}

// NewAlerts builds Alerts over n. A nil dedup sends every qualifying alert.
func NewAlerts(n *Notifier, cfg config.NotifyConfig, dedup Deduper) *Alerts {
	return &Alerts{
		notifier: n,
		minEdge:  cfg.MinEdgeAlert,
		dedup:    dedup,
		ttl:      cfg.DedupTTL.Duration,
	}
}

// dedupKey identifies an alert by event, bookmaker set and edge to one
// decimal.
func dedupKey(opp detector.Opportunity) string {
	books := opp.Bookmakers()
	sort.Strings(books)
	return fmt.Sprintf("%s|%s|%.1f", opp.EventID, strings.Join(books, ","), opp.Edge)
}

// Opportunity sends an alert for opp unless its edge is below the alert
// threshold or the same alert went out within the dedup window. An alert no
// sender accepted is forgotten so the next scan retries it.
func (a *Alerts) Opportunity(ctx context.Context, opp detector.Opportunity, mode string) (bool, error) {
	if opp.Edge < a.minEdge || !a.notifier.Enabled() {
		return false, nil
	}

	key := dedupKey(opp)
	marked := false
	if a.dedup != nil && a.ttl > 0 {
		seen, err := a.dedup.Seen(ctx, key, a.ttl)
		switch {
		case err != nil:
			// Dedup errors fall through to sending.
			slog.Warn("alert dedup failed", "opportunity_id", opp.ID, "error", err)
		case seen:
			slog.Debug("alert suppressed as repeat", "opportunity_id", opp.ID, "event_id", opp.EventID)
			return false, nil
		default:
			marked = true
		}
	}

	title, body := FormatOpportunity(opp, mode)
	delivered, err := a.notifier.deliver(ctx, title, body)
	if delivered > 0 {
		// Partial failures were logged per sender.
		return true, nil
	}
	if marked {
		if ferr := a.dedup.Forget(ctx, key); ferr != nil {
			slog.Warn("alert dedup forget failed", "opportunity_id", opp.ID, "error", ferr)
		}
	}
	return false, err
}

func (a *Alerts) KillSwitch(ctx context.Context, reason string, state store.RiskState) error {
	title, body := FormatKillSwitch(reason, state)
	return a.notifier.Notify(ctx, title, body)
}

func (a *Alerts) Startup(ctx context.Context, mode string, sports []string) error {
	title, body := FormatStartup(mode, sports)
	return a.notifier.Notify(ctx, title, body)
}

func (a *Alerts) ScanError(ctx context.Context, err error) error {
	return a.notifier.Notify(ctx, "Scan failed", err.Error())
}

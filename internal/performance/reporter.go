package performance

import (
	"log/slog"
	"sort"
)

// LogReport logs the performance report as structured JSON.
func LogReport(r *Report) {
	slog.Info("=== PERFORMANCE REPORT ===",
		"days", r.Days,
		"scans", r.Scans,
		"events_scanned", r.EventsScanned,
		"opportunities_detected", r.Detected,
		"opportunities_executed", r.Executed,
		"avg_edge", r.AvgEdge,
		"best_edge", r.BestEdge,
		"avg_profit", r.AvgProfit,
		"settled", r.SettledCount,
		"total_stake", r.TotalStake,
		"realised_pnl", r.RealisedPnL,
		"roi", r.ROI,
		"win_rate", r.WinRate,
		"max_drawdown", r.MaxDrawdown,
		"bankroll", r.CurrentBank,
		"kill_switch", r.KillSwitchOn,
	)

	for _, status := range sortedKeys(r.StatusCounts) {
		slog.Info("opportunity status", "status", status, "count", r.StatusCounts[status])
	}
	for _, sport := range sortedKeys(r.SportStats) {
		s := r.SportStats[sport]
		slog.Info("sport performance", "sport", sport, "opportunities", s.Count, "avg_edge", s.AvgEdge)
	}
	for _, bk := range sortedKeys(r.BookmakerLegs) {
		s := r.BookmakerLegs[bk]
		slog.Info("bookmaker legs", "bookmaker", bk, "legs", s.Count, "avg_edge", s.AvgEdge)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

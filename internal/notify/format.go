package notify

import (
	"fmt"
	"strings"

	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/store"
)

// ExecutionLabel is AUTO when every leg is on an exchange, SEMI-AUTO when
// some are and MANUAL when none are.
func ExecutionLabel(opp detector.Opportunity) string {
	switch {
	case len(opp.Legs) > 0 && opp.ExecutableLegs == len(opp.Legs):
		return "AUTO"
	case opp.ExecutableLegs > 0:
		return "SEMI-AUTO"
	default:
		return "MANUAL"
	}
}

// FormatOpportunity renders an opportunity alert.
func FormatOpportunity(opp detector.Opportunity, mode string) (title, body string) {
	title = fmt.Sprintf("%s | Edge %.2f%%", ExecutionLabel(opp), opp.Edge)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", opp.EventName)
	if opp.League != "" {
		fmt.Fprintf(&b, "%s\n", opp.League)
	}
	fmt.Fprintf(&b, "Starts %s UTC\n\n", opp.CommenceTime.UTC().Format("15:04 02/01"))

	for _, l := range opp.Legs {
		marker := "book"
		if l.IsExchange {
			marker = "exchange"
		}
		name := l.SelectionName
		if name == "" {
			name = l.Selection
		}
		fmt.Fprintf(&b, "  [%s] %s: %s @ %.2f -> %.2f\n", marker, l.Bookmaker, name, l.Odds, l.Stake)
	}

	fmt.Fprintf(&b, "\nStake: %.2f\n", opp.TotalStake)
	fmt.Fprintf(&b, "Profit: %.2f (%.2f%% ROI)\n", opp.GuaranteedProfit, opp.ROI)
	fmt.Fprintf(&b, "Implied sum: %.4f\n", opp.ImpliedProbabilitySum)
	fmt.Fprintf(&b, "Mode: %s", mode)
	return title, b.String()
}

func FormatKillSwitch(reason string, state store.RiskState) (title, body string) {
	var drawdown float64
	if state.InitialBankroll > 0 && state.DailyPnL < 0 {
		drawdown = -state.DailyPnL / state.InitialBankroll * 100
	}
	title = "KILL SWITCH ACTIVATED"
	body = fmt.Sprintf("Reason: %s\nDaily PnL: %+.2f\nDrawdown: %.2f%%\n\nScanning paused. Use /killswitch off to resume.",
		reason, state.DailyPnL, drawdown)
	return title, body
}

func FormatStartup(mode string, sports []string) (title, body string) {
	title = "AutoBet scanner started"
	body = fmt.Sprintf("Mode: %s\nSports: %s\n\nCommands: /status /stats /opportunities /risk /killswitch /mode /help",
		mode, strings.Join(sports, ", "))
	return title, body
}

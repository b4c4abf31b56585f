package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/samirdawaliby/autobet/internal/scheduler"
	"github.com/samirdawaliby/autobet/internal/store"
)

const helpText = `<b>AutoBet Commands</b>

<b>Monitoring</b>
/status - Current system status
/stats - Today's statistics
/opportunities - Recent opportunities

<b>Risk Management</b>
/risk - Risk state and limits
/killswitch [on|off] - Toggle kill switch

<b>Settings</b>
/mode [dry|semi|auto] - Change execution mode`

// handle turns one message into a reply. It has no side effects beyond the
// backend calls a command asks for.
func (b *Bot) handle(ctx context.Context, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return unknownCommand
	}
	cmd := strings.ToLower(fields[0])
	// Group chats address commands as /status@botname.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	reply, err := b.dispatch(ctx, cmd, args)
	if err != nil {
		slog.Error("telegram command failed", "command", cmd, "error", err)
		return "Command failed: " + html.EscapeString(err.Error())
	}
	return reply
}

const unknownCommand = "Unknown command. Use /help for available commands."

func (b *Bot) dispatch(ctx context.Context, cmd string, args []string) (string, error) {
	switch cmd {
	case "/start":
		return "Welcome to AutoBet Scanner!\n\nUse /help to see available commands.", nil
	case "/help":
		return helpText, nil
	case "/status":
		return b.status(ctx)
	case "/stats":
		return b.statsReply(ctx)
	case "/opportunities":
		return b.opportunities(ctx)
	case "/risk":
		return b.riskReply(ctx)
	case "/killswitch":
		return b.killSwitch(ctx, args)
	case "/mode":
		return b.mode(args)
	}
	return unknownCommand, nil
}

func onOff(active bool) string {
	if active {
		return "ACTIVE"
	}
	return "OFF"
}

func (b *Bot) status(ctx context.Context) (string, error) {
	st := b.scanner.Status()
	dash, err := b.stats.DashboardStats(ctx)
	if err != nil {
		return "", err
	}

	scanner := "Stopped"
	switch {
	case st.Running && st.Paused:
		scanner = "Paused"
	case st.Running:
		scanner = "Running"
	}
	lastScan := "Never"
	if st.LastScanAt != nil {
		lastScan = st.LastScanAt.UTC().Format(time.RFC3339)
	}

	return fmt.Sprintf(`<b>System Status</b>

Mode: %s
Scanner: %s
Last scan: %s
Min edge: %.2f%%

Events tracked: %d
Opportunities today: %d

Bankroll: %.2f
Daily PnL: %+.2f

Kill switch: %s`,
		st.Mode, scanner, lastScan, st.MinEdge,
		st.LastEvents, dash.Today.OpportunitiesDetected,
		dash.Risk.CurrentBankroll, dash.Risk.DailyPnL,
		onOff(dash.Risk.KillSwitchActive),
	), nil
}

func (b *Bot) statsReply(ctx context.Context) (string, error) {
	dash, err := b.stats.DashboardStats(ctx)
	if err != nil {
		return "", err
	}
	counts, err := b.stats.StatusCounts(ctx)
	if err != nil {
		return "", err
	}

	today := dash.Today
	var roi float64
	if today.TotalStake > 0 {
		roi = today.TotalPnL / today.TotalStake * 100
	}

	return fmt.Sprintf(`<b>Today's Statistics</b>

Scans: %d
Events scanned: %d
Opportunities detected: %d

Executed: %d
Partial: %d
Failed: %d

Total stake: %.2f
Total PnL: %+.2f
ROI: %.2f%%

Best edge: %.2f%%`,
		today.ScansCount, today.EventsScanned, today.OpportunitiesDetected,
		counts[store.StatusExecuted], counts[store.StatusPartial], counts[store.StatusFailed],
		today.TotalStake, today.TotalPnL, roi,
		today.BestEdge,
	), nil
}

func statusMarker(s store.Status) string {
	switch s {
	case store.StatusDetected:
		return "[new]"
	case store.StatusExecuted:
		return "[done]"
	case store.StatusFailed:
		return "[failed]"
	case store.StatusPartial:
		return "[partial]"
	case store.StatusExpired:
		return "[expired]"
	}
	return "[" + string(s) + "]"
}

func (b *Bot) opportunities(ctx context.Context) (string, error) {
	recs, err := b.stats.RecentOpportunities(ctx, 5, "")
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "No recent opportunities.", nil
	}

	lines := []string{"<b>Recent Opportunities</b>", ""}
	for _, r := range recs {
		lines = append(lines, fmt.Sprintf("%s %s\n   Edge: %.2f%% | Profit: %.2f",
			statusMarker(r.Status), html.EscapeString(r.EventName), r.Edge, r.GuaranteedProfit))
	}
	return strings.Join(lines, "\n"), nil
}

func (b *Bot) riskReply(ctx context.Context) (string, error) {
	s, err := b.risk.State(ctx)
	if err != nil {
		return "", err
	}

	var totalROI, drawdown float64
	if s.InitialBankroll > 0 {
		totalROI = s.TotalPnL / s.InitialBankroll * 100
		if s.DailyPnL < 0 {
			drawdown = -s.DailyPnL / s.InitialBankroll * 100
		}
	}
	kill := onOff(s.KillSwitchActive)
	if s.KillSwitchActive && s.KillSwitchReason != "" {
		kill += " - " + html.EscapeString(s.KillSwitchReason)
	}

	return fmt.Sprintf(`<b>Risk Management State</b>

<b>Bankroll</b>
Initial: %.2f
Current: %.2f
Change: %+.2f (%+.2f%%)

<b>Daily Limits</b>
Daily stake: %.2f / %.2f
Daily drawdown: %.2f%% / %.2f%%

<b>Statistics</b>
Total trades: %d
Win rate: %.1f%%

Kill switch: %s`,
		s.InitialBankroll, s.CurrentBankroll, s.TotalPnL, totalROI,
		s.DailyStake, s.InitialBankroll*b.limits.MaxDailyStakePct,
		drawdown, b.limits.MaxDailyDrawdownPct*100,
		s.TotalTrades, s.WinRate()*100,
		kill,
	), nil
}

func (b *Bot) killSwitch(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /killswitch [on|off]\nExample: /killswitch on", nil
	}
	var active bool
	switch strings.ToLower(args[0]) {
	case "on":
		active = true
	case "off":
	default:
		return "Invalid option. Use 'on' or 'off'.", nil
	}

	reason := ""
	if active {
		reason = "Manual activation via Telegram"
	}
	if err := b.risk.SetKillSwitch(ctx, active, reason); err != nil {
		return "", err
	}
	if active {
		return "Kill switch activated.", nil
	}
	return "Kill switch deactivated.", nil
}

func (b *Bot) mode(args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /mode [dry|semi|auto]\n\n" +
			"dry - Detect only, no execution\n" +
			"semi - Alert and wait for manual settlement\n" +
			"auto - Not supported, behaves like semi", nil
	}
	m, err := scheduler.ParseMode(strings.ToLower(args[0]))
	if err != nil {
		return "Invalid mode. Use 'dry', 'semi', or 'auto'.", nil
	}
	if err := b.scanner.SetMode(m); err != nil {
		return "", err
	}
	return fmt.Sprintf("Mode changed to: %s", m), nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samirdawaliby/autobet/internal/aggregator"
	"github.com/samirdawaliby/autobet/internal/backtest"
	"github.com/samirdawaliby/autobet/internal/bot"
	"github.com/samirdawaliby/autobet/internal/cache"
	"github.com/samirdawaliby/autobet/internal/collector"
	"github.com/samirdawaliby/autobet/internal/commission"
	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/db"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/notify"
	"github.com/samirdawaliby/autobet/internal/odds"
	"github.com/samirdawaliby/autobet/internal/performance"
	"github.com/samirdawaliby/autobet/internal/provider/theoddsapi"
	"github.com/samirdawaliby/autobet/internal/risk"
	"github.com/samirdawaliby/autobet/internal/scheduler"
	"github.com/samirdawaliby/autobet/internal/server"
	"github.com/samirdawaliby/autobet/internal/server/ws"
	"github.com/samirdawaliby/autobet/internal/store"
	"github.com/samirdawaliby/autobet/internal/valuebet"
)

func main() {
	configPath := flag.String("config", "", "Path to the TOML config (default config.toml or $AUTOBET_CONFIG_PATH)")
	once := flag.Bool("once", false, "Run one scan cycle and exit")
	backtestMode := flag.Bool("backtest", false, "Replay recorded odds history instead of scanning live")
	backtestFrom := flag.String("from", "", "Backtest start date (YYYY-MM-DD)")
	backtestTo := flag.String("to", "", "Backtest end date (YYYY-MM-DD, inclusive)")
	bucket := flag.Duration("bucket", backtest.DefaultBucket, "Backtest replay step")
	sportsFlag := flag.String("sports", "", "Comma-separated sports overriding scan.sports")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = "config.toml"
		if p := os.Getenv("AUTOBET_CONFIG_PATH"); p != "" {
			path = p
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	if *sportsFlag != "" {
		cfg.Scan.Sports = strings.Split(*sportsFlag, ",")
	}

	setupLogging(cfg.General.LogLevel)
	slog.Info("autobet starting", "config", config.Redacted(cfg))

	sports, err := odds.ParseSports(cfg.Scan.Sports)
	if err != nil {
		slog.Error("invalid sports", "error", err)
		os.Exit(1)
	}
	markets, err := parseMarkets(cfg.Scan.Markets)
	if err != nil {
		slog.Error("invalid markets", "error", err)
		os.Exit(1)
	}
	mode, err := scheduler.ParseMode(cfg.General.Mode)
	if err != nil {
		slog.Error("invalid mode", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.General.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database initialized", "path", cfg.General.DBPath)

	model := commission.New(cfg.Commission.Exchanges, cfg.Commission.Rates, cfg.Commission.DefaultRate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *backtestMode {
		runner := backtest.NewRunner(database, cfg.Detector, model, *bucket)
		if _, err := runner.Run(ctx, *backtestFrom, *backtestTo); err != nil {
			slog.Error("backtest failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, database, model, sports, markets, mode, *once); err != nil {
		slog.Error("autobet stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("autobet stopped")
}

func run(ctx context.Context, cfg *config.Config, database *sql.DB, model *commission.Model,
	sports []odds.Sport, markets []odds.Market, mode scheduler.Mode, once bool) error {

	repo := store.New(database, cfg.Risk.InitialBankroll)
	riskMgr := risk.NewManager(cfg.Risk, repo)
	if cfg.Risk.KillSwitch {
		if err := riskMgr.SetKillSwitch(ctx, true, "Activated by configuration"); err != nil {
			return err
		}
	}

	var providers []odds.Provider
	if cfg.OddsAPI.Enabled {
		providers = append(providers, theoddsapi.New(cfg.OddsAPI))
	}
	if len(providers) == 0 {
		return errors.New("no odds providers enabled")
	}
	agg := aggregator.New(providers, cfg.Schedule.FetchTimeout.Duration, cfg.Scan.MaxConcurrentFetches)

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders...)

	deps := scheduler.Deps{
		Fetcher:   agg,
		Detector:  detector.New(cfg.Detector, model),
		Risk:      riskMgr,
		Store:     repo,
		Collector: collector.NewCollector(database, cfg.Collector),
		Tracker:   performance.NewTracker(database, 7),
		ValueBets: valuebet.New(cfg.ValueBet, cfg.Detector.MaxOddsAge.Duration),
	}

	var dedup notify.Deduper = notify.NewMemoryDeduper()
	var feed *cache.Feed
	if cfg.Redis.Enabled {
		rc, err := cache.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		dedup = cache.NewDeduper(rc)
		feed = cache.NewFeed(rc, cfg.Redis)
		deps.Publishers = append(deps.Publishers, feed)
		deps.Locker = cache.NewLockManager(rc)
		slog.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	alerts := notify.NewAlerts(notifier, cfg.Notify, dedup)
	deps.Alerter = alerts
	riskMgr.OnTrip(func(ctx context.Context, reason string, state store.RiskState) {
		if err := alerts.KillSwitch(ctx, reason, state); err != nil {
			slog.Warn("failed to send kill switch alert", "error", err)
		}
	})

	var hub *ws.Hub
	if cfg.Server.Enabled && !once {
		hub = ws.NewHub()
		deps.Publishers = append(deps.Publishers, hub)
	}

	sched := scheduler.New(scheduler.Options{
		Schedule: cfg.Schedule,
		Sports:   sports,
		Markets:  markets,
		Mode:     mode,
	}, deps)

	if once {
		res, err := sched.ScanOnce(ctx)
		if err != nil {
			return err
		}
		if res.Skipped {
			slog.Warn("scan skipped", "reason", res.SkipReason)
		}
		return nil
	}

	if notifier.Enabled() {
		if err := alerts.Startup(ctx, string(mode), cfg.Scan.Sports); err != nil {
			slog.Warn("failed to send startup alert", "error", err)
		}
	}

	var srv *server.Server
	if hub != nil {
		go hub.Run(ctx)
		sdeps := server.Deps{
			Scanner: sched,
			Stats:   repo,
			Risk:    riskMgr,
			DB:      database,
			WS:      hub.HandleWS,
		}
		if feed != nil {
			sdeps.Feed = feed
		}
		srv = server.New(cfg.Server, sdeps)
		go func() {
			if err := srv.Start(); err != nil {
				slog.Error("http server failed", "error", err)
			}
		}()
	}

	if cfg.Notify.TelegramCommands && cfg.Notify.TelegramToken != "" {
		b := bot.New(cfg.Notify, cfg.Risk, sched, repo, riskMgr)
		go func() {
			if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("telegram bot stopped", "error", err)
			}
		}()
	}

	err := sched.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			slog.Warn("http server shutdown failed", "error", serr)
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})))
}

func parseMarkets(names []string) ([]odds.Market, error) {
	out := make([]odds.Market, 0, len(names))
	for _, n := range names {
		m, err := odds.ParseMarket(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides overwrites fields whose AUTOBET_* variable is set and
// non-empty. Secrets are expected to arrive this way rather than in the file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.General.DBPath, "AUTOBET_DB_PATH")
	setStr(&cfg.General.LogLevel, "AUTOBET_LOG_LEVEL")
	setStr(&cfg.General.Mode, "AUTOBET_MODE")

	setDuration(&cfg.Schedule.ScanInterval, "AUTOBET_SCAN_INTERVAL")
	setDuration(&cfg.Schedule.FetchTimeout, "AUTOBET_FETCH_TIMEOUT")
	setStringSlice(&cfg.Scan.Sports, "AUTOBET_SPORTS")

	setFloat64(&cfg.Detector.MinEdge, "AUTOBET_MIN_EDGE")
	setDuration(&cfg.Detector.MaxOddsAge, "AUTOBET_MAX_ODDS_AGE")
	setInt(&cfg.Detector.MinBookmakers, "AUTOBET_MIN_BOOKMAKERS")
	setFloat64(&cfg.Detector.BaseStake, "AUTOBET_BASE_STAKE")

	setBool(&cfg.ValueBet.Enabled, "AUTOBET_VALUEBET_ENABLED")

	setBool(&cfg.OddsAPI.Enabled, "AUTOBET_ODDS_API_ENABLED")
	setStr(&cfg.OddsAPI.APIKey, "AUTOBET_ODDS_API_KEY")
	setStr(&cfg.OddsAPI.BaseURL, "AUTOBET_ODDS_API_BASE_URL")
	setStringSlice(&cfg.OddsAPI.Bookmakers, "AUTOBET_ODDS_API_BOOKMAKERS")

	setFloat64(&cfg.Risk.InitialBankroll, "AUTOBET_RISK_INITIAL_BANKROLL")
	setFloat64(&cfg.Risk.MaxStakePct, "AUTOBET_RISK_MAX_STAKE_PCT")
	setFloat64(&cfg.Risk.MaxDailyStakePct, "AUTOBET_RISK_MAX_DAILY_STAKE_PCT")
	setFloat64(&cfg.Risk.MaxDailyDrawdownPct, "AUTOBET_RISK_MAX_DAILY_DRAWDOWN_PCT")
	setBool(&cfg.Risk.KillSwitch, "AUTOBET_RISK_KILL_SWITCH")

	setStr(&cfg.Notify.TelegramToken, "AUTOBET_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AUTOBET_TELEGRAM_CHAT_ID")
	setBool(&cfg.Notify.TelegramCommands, "AUTOBET_TELEGRAM_COMMANDS")
	setStr(&cfg.Notify.DiscordWebhookURL, "AUTOBET_DISCORD_WEBHOOK_URL")
	setFloat64(&cfg.Notify.MinEdgeAlert, "AUTOBET_MIN_EDGE_ALERT")

	setBool(&cfg.Redis.Enabled, "AUTOBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AUTOBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUTOBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUTOBET_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "AUTOBET_REDIS_TLS_ENABLED")

	setBool(&cfg.Server.Enabled, "AUTOBET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "AUTOBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUTOBET_SERVER_CORS_ORIGINS")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// Redacted returns a copy of cfg with secrets masked, for logging.
func Redacted(cfg *Config) Config {
	out := *cfg
	redact(&out.OddsAPI.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Redis.Password)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}

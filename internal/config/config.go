package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	General    GeneralConfig    `toml:"general"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Scan       ScanConfig       `toml:"scan"`
	Detector   DetectorConfig   `toml:"detector"`
	Commission CommissionConfig `toml:"commission"`
	ValueBet   ValueBetConfig   `toml:"valuebet"`
	OddsAPI    OddsAPIConfig    `toml:"odds_api"`
	Risk       RiskConfig       `toml:"risk"`
	Collector  CollectorConfig  `toml:"collector"`
	Notify     NotifyConfig     `toml:"notify"`
	Redis      RedisConfig      `toml:"redis"`
	Server     ServerConfig     `toml:"server"`
}

type GeneralConfig struct {
	DBPath   string `toml:"db_path"`
	LogLevel string `toml:"log_level"`
	// Mode is one of dry, semi or auto.
	Mode string `toml:"mode"`
}

type ScheduleConfig struct {
	ScanInterval        Duration `toml:"scan_interval"`
	MaintenanceInterval Duration `toml:"maintenance_interval"`
	PerformanceInterval Duration `toml:"performance_interval"`
	FetchTimeout        Duration `toml:"fetch_timeout"`
	// OpportunityTTL is how long a detected opportunity stays "detected"
	// before maintenance marks it expired.
	OpportunityTTL Duration `toml:"opportunity_ttl"`
}

type ScanConfig struct {
	Sports               []string `toml:"sports"`
	Markets              []string `toml:"markets"`
	MaxConcurrentFetches int      `toml:"max_concurrent_fetches"`
}

type DetectorConfig struct {
	MinEdge       float64  `toml:"min_edge"`
	MaxOddsAge    Duration `toml:"max_odds_age"`
	MinBookmakers int      `toml:"min_bookmakers"`
	BaseStake     float64  `toml:"base_stake"`
}

type CommissionConfig struct {
	Exchanges   []string           `toml:"exchanges"`
	Rates       map[string]float64 `toml:"rates"`
	DefaultRate float64            `toml:"default_rate"`
}

type ValueBetConfig struct {
	Enabled         bool     `toml:"enabled"`
	SharpBookmakers []string `toml:"sharp_bookmakers"`
	MinValue        float64  `toml:"min_value"`
	KellyFraction   float64  `toml:"kelly_fraction"`
	MaxStakePct     float64  `toml:"max_stake_pct"`
}

type OddsAPIConfig struct {
	Enabled           bool     `toml:"enabled"`
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	Regions           []string `toml:"regions"`
	Bookmakers        []string `toml:"bookmakers"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	Timeout           Duration `toml:"timeout"`
}

type RiskConfig struct {
	InitialBankroll     float64 `toml:"initial_bankroll"`
	MaxStakePct         float64 `toml:"max_stake_pct"`
	MaxDailyStakePct    float64 `toml:"max_daily_stake_pct"`
	MaxDailyDrawdownPct float64 `toml:"max_daily_drawdown_pct"`
	// KillSwitch activates the persisted kill switch on startup.
	KillSwitch bool `toml:"kill_switch"`
}

type CollectorConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramCommands  bool     `toml:"telegram_commands"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	MinEdgeAlert      float64  `toml:"min_edge_alert"`
	DedupTTL          Duration `toml:"dedup_ttl"`
}

type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	RecentLimit  int      `toml:"recent_limit"`
	RecentTTL    Duration `toml:"recent_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// Duration wraps time.Duration for TOML unmarshaling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load decodes the TOML file at path over the defaults, then applies
// AUTOBET_* environment overrides (a .env file is loaded first if present).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	_ = godotenv.Load()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the scanner cannot run with.
func (c *Config) Validate() error {
	var problems []string

	switch c.General.Mode {
	case "dry", "semi", "auto":
	default:
		problems = append(problems, fmt.Sprintf("general.mode %q must be dry, semi or auto", c.General.Mode))
	}
	if c.Schedule.ScanInterval.Duration <= 0 {
		problems = append(problems, "schedule.scan_interval must be positive")
	}
	if len(c.Scan.Sports) == 0 {
		problems = append(problems, "scan.sports must not be empty")
	}
	if c.Detector.MinBookmakers < 1 {
		problems = append(problems, "detector.min_bookmakers must be at least 1")
	}
	if c.Detector.BaseStake <= 0 {
		problems = append(problems, "detector.base_stake must be positive")
	}
	if c.Detector.MaxOddsAge.Duration < 0 {
		problems = append(problems, "detector.max_odds_age must not be negative")
	}
	for name, rate := range c.Commission.Rates {
		if rate < 0 || rate >= 1 {
			problems = append(problems, fmt.Sprintf("commission.rates.%s must be in [0,1)", name))
		}
	}
	if c.Commission.DefaultRate < 0 || c.Commission.DefaultRate >= 1 {
		problems = append(problems, "commission.default_rate must be in [0,1)")
	}
	if c.Risk.InitialBankroll < 0 {
		problems = append(problems, "risk.initial_bankroll must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when redis is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DBPath:   "./data/autobet.db",
			LogLevel: "info",
			Mode:     "dry",
		},
		Schedule: ScheduleConfig{
			ScanInterval:        Duration{60 * time.Second},
			MaintenanceInterval: Duration{15 * time.Minute},
			PerformanceInterval: Duration{1 * time.Hour},
			FetchTimeout:        Duration{30 * time.Second},
			OpportunityTTL:      Duration{5 * time.Minute},
		},
		Scan: ScanConfig{
			Sports:               []string{"tennis", "soccer"},
			Markets:              []string{"h2h"},
			MaxConcurrentFetches: 8,
		},
		Detector: DetectorConfig{
			MinEdge:       0.8,
			MaxOddsAge:    Duration{5 * time.Second},
			MinBookmakers: 2,
			BaseStake:     100,
		},
		Commission: CommissionConfig{
			Exchanges: []string{
				"betfair", "betfair_ex_eu", "betfair_ex_uk", "betfair_ex_au",
				"smarkets", "matchbook", "betdaq",
			},
			Rates: map[string]float64{
				"betfair":       0.05,
				"betfair_ex_eu": 0.05,
				"betfair_ex_uk": 0.05,
				"betfair_ex_au": 0.05,
				"smarkets":      0.02,
				"matchbook":     0.02,
				"betdaq":        0.02,
			},
			DefaultRate: 0.05,
		},
		ValueBet: ValueBetConfig{
			Enabled:         false,
			SharpBookmakers: []string{"pinnacle", "pinnaclesports"},
			MinValue:        3.0,
			KellyFraction:   0.25,
			MaxStakePct:     0.02,
		},
		OddsAPI: OddsAPIConfig{
			Enabled: true,
			BaseURL: "https://api.the-odds-api.com/v4",
			Regions: []string{"eu", "uk", "us", "au"},
			Bookmakers: []string{
				"pinnacle", "bet365", "1xbet", "unibet", "williamhill",
				"betfair_ex_eu", "smarkets", "matchbook", "betdaq",
				"marathonbet", "betvictor", "ladbrokes", "coral",
				"paddypower", "betway", "888sport", "bwin",
			},
			RequestsPerSecond: 2,
			Burst:             4,
			Timeout:           Duration{30 * time.Second},
		},
		Risk: RiskConfig{
			InitialBankroll:     1000,
			MaxStakePct:         0.02,
			MaxDailyStakePct:    0.10,
			MaxDailyDrawdownPct: 0.05,
		},
		Collector: CollectorConfig{
			Enabled:       true,
			RetentionDays: 7,
		},
		Notify: NotifyConfig{
			MinEdgeAlert: 0.5,
			DedupTTL:     Duration{10 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			RecentLimit:  20,
			RecentTTL:    Duration{1 * time.Hour},
			StreamMaxLen: 10000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
	}
}

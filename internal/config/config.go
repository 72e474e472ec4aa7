package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/mrsadri/xRate/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig                  `mapstructure:"app"`
	Logging    logging.Config             `mapstructure:"logging"`
	Database   DatabaseConfig             `mapstructure:"database"`
	HTTP       HTTPConfig                 `mapstructure:"http"`
	Scheduler  SchedulerConfig            `mapstructure:"scheduler"`
	Sources    SourcesConfig              `mapstructure:"sources"`
	Chains     ChainsConfig               `mapstructure:"chains"`
	Thresholds map[string]ThresholdConfig `mapstructure:"thresholds"`
	Alerting   AlertingConfig             `mapstructure:"alerting"`
	RateLimit  map[string]RateLimitRule   `mapstructure:"ratelimit"`
	State      StateConfig                `mapstructure:"state"`
	Export     ExportConfig               `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN
// disables the audit store entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// HTTPConfig covers outbound HTTP behaviour shared by all sources.
type HTTPConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SchedulerConfig governs the polling and decision cadence.
type SchedulerConfig struct {
	// DecisionInterval is the cadence of the threshold decision cycle.
	// Zero means derive it from the shortest source TTL.
	DecisionInterval time.Duration `mapstructure:"decision_interval"`
	AlignToInterval  bool          `mapstructure:"align_to_interval"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
}

// SourceConfig is the common shape for REST and scraper sources.
type SourceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ChainlinkConfig covers the on-chain EUR/USD feed.
type ChainlinkConfig struct {
	RPCURL      string        `mapstructure:"rpc_url"`
	FeedAddress string        `mapstructure:"feed_address"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// SourcesConfig holds per-source settings.
type SourcesConfig struct {
	Bonbast        SourceConfig    `mapstructure:"bonbast"`
	Alanchand      SourceConfig    `mapstructure:"alanchand"`
	BRSAPI         SourceConfig    `mapstructure:"brsapi"`
	Navasan        SourceConfig    `mapstructure:"navasan"`
	FastForex      SourceConfig    `mapstructure:"fastforex"`
	Wallex         SourceConfig    `mapstructure:"wallex"`
	Chainlink      ChainlinkConfig `mapstructure:"chainlink"`
	FailureBackoff time.Duration   `mapstructure:"failure_backoff"`
}

// ChainsConfig orders source IDs per category. The order is the
// fallback priority.
type ChainsConfig struct {
	Iranian []string `mapstructure:"iranian"`
	FX      []string `mapstructure:"fx"`
	Tether  []string `mapstructure:"tether"`
}

// ThresholdConfig holds the announce margins for one instrument, in
// percent of the last announced value.
type ThresholdConfig struct {
	UpperPct      float64 `mapstructure:"upper_pct"`
	LowerPct      float64 `mapstructure:"lower_pct"`
	HysteresisPct float64 `mapstructure:"hysteresis_pct"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// RateLimitRule caps calls per namespace.
type RateLimitRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// StateConfig locates the persisted breach state.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("XRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "xrate")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("http.request_timeout", "10s")
	v.SetDefault("http.user_agent", "xrate/1.0")

	v.SetDefault("scheduler.decision_interval", "0s")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x78526174))

	// TTLs are deliberately co-prime-ish so upstream sites are never
	// hit in lockstep.
	v.SetDefault("sources.bonbast.ttl", "37m")
	v.SetDefault("sources.alanchand.ttl", "43m")
	v.SetDefault("sources.brsapi.ttl", "15m")
	v.SetDefault("sources.navasan.ttl", "28m")
	v.SetDefault("sources.fastforex.ttl", "15m")
	v.SetDefault("sources.wallex.ttl", "15m")
	v.SetDefault("sources.chainlink.ttl", "15m")
	v.SetDefault("sources.failure_backoff", "5m")

	v.SetDefault("chains.iranian", []string{"bonbast", "alanchand", "brsapi", "navasan"})
	v.SetDefault("chains.fx", []string{"brsapi", "fastforex", "chainlink"})
	v.SetDefault("chains.tether", []string{"wallex"})

	for _, inst := range []string{"usd_toman", "eur_toman", "gold_18k_toman", "eurusd", "tether_toman"} {
		v.SetDefault("thresholds."+inst+".upper_pct", 1.0)
		v.SetDefault("thresholds."+inst+".lower_pct", 2.0)
		v.SetDefault("thresholds."+inst+".hysteresis_pct", 0.2)
	}

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("ratelimit.public.limit", 10)
	v.SetDefault("ratelimit.public.window", "1m")
	v.SetDefault("ratelimit.admin.limit", 30)
	v.SetDefault("ratelimit.admin.window", "1m")
	v.SetDefault("ratelimit.health.limit", 5)
	v.SetDefault("ratelimit.health.window", "1m")

	v.SetDefault("state.path", "data/breach_state.json")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.DecisionInterval < 0 {
		return fmt.Errorf("scheduler.decision_interval cannot be negative")
	}
	for name, ttl := range map[string]time.Duration{
		"sources.bonbast.ttl":   c.Sources.Bonbast.TTL,
		"sources.alanchand.ttl": c.Sources.Alanchand.TTL,
		"sources.brsapi.ttl":    c.Sources.BRSAPI.TTL,
		"sources.navasan.ttl":   c.Sources.Navasan.TTL,
		"sources.fastforex.ttl": c.Sources.FastForex.TTL,
		"sources.wallex.ttl":    c.Sources.Wallex.TTL,
		"sources.chainlink.ttl": c.Sources.Chainlink.TTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be greater than zero", name)
		}
	}
	for inst, th := range c.Thresholds {
		if th.UpperPct <= 0 || th.LowerPct <= 0 {
			return fmt.Errorf("thresholds.%s: upper_pct and lower_pct must be greater than zero", inst)
		}
		if th.HysteresisPct < 0 {
			return fmt.Errorf("thresholds.%s: hysteresis_pct cannot be negative", inst)
		}
	}
	if len(c.Chains.Iranian) == 0 || len(c.Chains.FX) == 0 || len(c.Chains.Tether) == 0 {
		return fmt.Errorf("every chain needs at least one source")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	return nil
}

// ResolveDecisionInterval returns the configured decision cadence, or
// the shortest source TTL when none is set.
func (c *Config) ResolveDecisionInterval() time.Duration {
	if c.Scheduler.DecisionInterval > 0 {
		return c.Scheduler.DecisionInterval
	}
	min := c.Sources.Bonbast.TTL
	for _, ttl := range []time.Duration{
		c.Sources.Alanchand.TTL,
		c.Sources.BRSAPI.TTL,
		c.Sources.Navasan.TTL,
		c.Sources.FastForex.TTL,
		c.Sources.Wallex.TTL,
		c.Sources.Chainlink.TTL,
	} {
		if ttl > 0 && ttl < min {
			min = ttl
		}
	}
	if min <= 0 {
		min = 15 * time.Minute
	}
	return min
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

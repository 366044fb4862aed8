package config

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tradehub/tradehub-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig               `yaml:"store" mapstructure:"store"`
	Paths       PathsConfig               `yaml:"paths" mapstructure:"paths"`
	Suggestions SuggestionsConfig         `yaml:"suggestions" mapstructure:"suggestions"`
	Freshness   FreshnessConfig           `yaml:"freshness" mapstructure:"freshness"`
	Rank        RankConfig                `yaml:"rank" mapstructure:"rank"`
	Strategies  map[string]StrategyConfig `yaml:"strategies" mapstructure:"strategies" validate:"dive"`
	Pipeline    PipelineConfig            `yaml:"pipeline" mapstructure:"pipeline"`
	Poll        PollConfig                `yaml:"poll" mapstructure:"poll"`
	Maintenance MaintenanceConfig         `yaml:"maintenance" mapstructure:"maintenance"`
	Validation  ValidateConfig            `yaml:"validate" mapstructure:"validate"`
	Monitoring  MonitoringConfig          `yaml:"monitoring" mapstructure:"monitoring"`
	Server      ServerConfig              `yaml:"server" mapstructure:"server"`
	Log         LogConfig                 `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres none"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// RetryAttempts bounds ledger writes retried on busy or dropped connections.
	RetryAttempts  int `yaml:"retry_attempts" mapstructure:"retry_attempts" validate:"gte=1"`
	RetryBackoffMs int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms" validate:"gte=0"`
}

// PathsConfig holds the on-disk layout. L1 and L2 artifacts live under
// <l1_dir>/<strategy> and <l2_dir>/<strategy>.
type PathsConfig struct {
	RawDir        string `yaml:"raw_dir" mapstructure:"raw_dir" validate:"required"`
	L1Dir         string `yaml:"l1_dir" mapstructure:"l1_dir" validate:"required"`
	L2Dir         string `yaml:"l2_dir" mapstructure:"l2_dir" validate:"required"`
	OutputDir     string `yaml:"output_dir" mapstructure:"output_dir" validate:"required"`
	QuarantineDir string `yaml:"quarantine_dir" mapstructure:"quarantine_dir"`
}

// SuggestionsConfig configures suggestion file publication.
type SuggestionsConfig struct {
	// Glob is the discovery pattern the hub uses to enumerate suggestion files.
	Glob      string `yaml:"glob" mapstructure:"glob"`
	WriteYAML bool   `yaml:"write_yaml" mapstructure:"write_yaml"`
}

// FreshnessConfig configures the normalizer gate. MaxAgeMinutes <= 0 disables it.
type FreshnessConfig struct {
	MaxAgeMinutes int  `yaml:"max_age_minutes" mapstructure:"max_age_minutes" validate:"gte=0"`
	AllowStale    bool `yaml:"allow_stale" mapstructure:"allow_stale"`
}

// RankConfig holds ranker defaults shared by all strategies.
type RankConfig struct {
	TopK          int     `yaml:"top_k" mapstructure:"top_k" validate:"gte=1"`
	AllowFallback bool    `yaml:"allow_fallback" mapstructure:"allow_fallback"`
	IVRMin        float64 `yaml:"ivr_min" mapstructure:"ivr_min" validate:"gte=0"`
	DTEMin        int     `yaml:"dte_min" mapstructure:"dte_min" validate:"gte=0"`
	DTEMax        int     `yaml:"dte_max" mapstructure:"dte_max" validate:"gte=0"`
}

// StrategyConfig overrides defaults for one strategy. Pointer fields are
// optional; nil means inherit.
type StrategyConfig struct {
	Enabled       *bool    `yaml:"enabled" mapstructure:"enabled"`
	Sources       []string `yaml:"sources" mapstructure:"sources"`
	TopK          *int     `yaml:"top_k" mapstructure:"top_k" validate:"omitempty,gte=1"`
	IVRMin        *float64 `yaml:"ivr_min" mapstructure:"ivr_min" validate:"omitempty,gte=0"`
	DTEMin        *int     `yaml:"dte_min" mapstructure:"dte_min" validate:"omitempty,gte=0"`
	DTEMax        *int     `yaml:"dte_max" mapstructure:"dte_max" validate:"omitempty,gte=0"`
	AllowFallback *bool    `yaml:"allow_fallback" mapstructure:"allow_fallback"`
	MaxAgeMinutes *int     `yaml:"max_age_minutes" mapstructure:"max_age_minutes" validate:"omitempty,gte=0"`
	AllowStale    *bool    `yaml:"allow_stale" mapstructure:"allow_stale"`
}

// PipelineConfig configures orchestration.
type PipelineConfig struct {
	MaxConcurrentStrategies int    `yaml:"max_concurrent_strategies" mapstructure:"max_concurrent_strategies" validate:"gte=1"`
	StageTimeoutSecs        int    `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs" validate:"gte=1"`
	ValidateInline          bool   `yaml:"validate_inline" mapstructure:"validate_inline"`
	SourceEncoding          string `yaml:"source_encoding" mapstructure:"source_encoding" validate:"oneof=utf-8 windows-1252"`
}

// PollConfig configures the watch loop cadence.
type PollConfig struct {
	Timezone             string `yaml:"timezone" mapstructure:"timezone" validate:"required"`
	ActiveStartHour      int    `yaml:"active_start_hour" mapstructure:"active_start_hour" validate:"gte=0,lte=23"`
	ActiveEndHour        int    `yaml:"active_end_hour" mapstructure:"active_end_hour" validate:"gte=0,lte=24"`
	ActiveIntervalSecs   int    `yaml:"active_interval_secs" mapstructure:"active_interval_secs" validate:"gte=1"`
	OffPeakIntervalSecs  int    `yaml:"off_peak_interval_secs" mapstructure:"off_peak_interval_secs" validate:"gte=1"`
	CooldownSecs         int    `yaml:"cooldown_secs" mapstructure:"cooldown_secs" validate:"gte=0"`
	IterationTimeoutSecs int    `yaml:"iteration_timeout_secs" mapstructure:"iteration_timeout_secs" validate:"gte=1"`
}

// MaintenanceConfig schedules repair and validate sweeps in watch mode.
// Empty expressions disable the job.
type MaintenanceConfig struct {
	RepairCron   string `yaml:"repair_cron" mapstructure:"repair_cron"`
	ValidateCron string `yaml:"validate_cron" mapstructure:"validate_cron"`
}

// ValidateConfig sets drift tolerances as fractions.
type ValidateConfig struct {
	RowDeltaTolerance   float64 `yaml:"row_delta_tolerance" mapstructure:"row_delta_tolerance" validate:"gte=0"`
	FieldDriftTolerance float64 `yaml:"field_drift_tolerance" mapstructure:"field_drift_tolerance" validate:"gte=0"`
}

// MonitoringConfig configures alerting. Without a webhook URL alerts are
// only logged.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	AlertsPerMinute      int     `yaml:"alerts_per_minute" mapstructure:"alerts_per_minute" validate:"gte=1"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gte=1"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
}

// ServerConfig configures the watch status server. Port 0 disables it.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRADEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/tradehub.db")
	v.SetDefault("store.retry_attempts", 3)
	v.SetDefault("store.retry_backoff_ms", 200)
	v.SetDefault("paths.raw_dir", "data/raw")
	v.SetDefault("paths.l1_dir", "data/l1")
	v.SetDefault("paths.l2_dir", "data/l2")
	v.SetDefault("paths.output_dir", "outputs/suggestions")
	v.SetDefault("paths.quarantine_dir", "outputs/quarantine")
	v.SetDefault("suggestions.glob", "outputs/suggestions/*_suggestions.json")
	v.SetDefault("suggestions.write_yaml", true)
	v.SetDefault("freshness.max_age_minutes", 15)
	v.SetDefault("freshness.allow_stale", false)
	v.SetDefault("rank.top_k", 10)
	v.SetDefault("rank.allow_fallback", false)
	v.SetDefault("rank.ivr_min", 0)
	v.SetDefault("rank.dte_min", 0)
	v.SetDefault("rank.dte_max", 0)
	v.SetDefault("pipeline.max_concurrent_strategies", 4)
	v.SetDefault("pipeline.stage_timeout_secs", 60)
	v.SetDefault("pipeline.validate_inline", true)
	v.SetDefault("pipeline.source_encoding", "utf-8")
	v.SetDefault("poll.timezone", "America/Chicago")
	v.SetDefault("poll.active_start_hour", 8)
	v.SetDefault("poll.active_end_hour", 17)
	v.SetDefault("poll.active_interval_secs", 30)
	v.SetDefault("poll.off_peak_interval_secs", 300)
	v.SetDefault("poll.cooldown_secs", 10)
	v.SetDefault("poll.iteration_timeout_secs", 120)
	v.SetDefault("maintenance.repair_cron", "0 */15 * * * *")
	v.SetDefault("maintenance.validate_cron", "0 5 * * * *")
	v.SetDefault("validate.row_delta_tolerance", 0.05)
	v.SetDefault("validate.field_drift_tolerance", 0.10)
	v.SetDefault("monitoring.alerts_per_minute", 6)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 6)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgres")
	}
	if c.Rank.DTEMax > 0 && c.Rank.DTEMax < c.Rank.DTEMin {
		return eris.Errorf("config: rank.dte_max %d < dte_min %d", c.Rank.DTEMax, c.Rank.DTEMin)
	}
	if _, err := time.LoadLocation(c.Poll.Timezone); err != nil {
		return eris.Wrapf(err, "config: poll.timezone %q", c.Poll.Timezone)
	}
	for name := range c.Strategies {
		if _, err := model.Lookup(name); err != nil {
			return eris.Wrap(err, "config: strategies")
		}
	}
	return nil
}

// StrategySettings is the effective configuration for one strategy after
// applying its overrides to the shared defaults.
type StrategySettings struct {
	Strategy      model.Strategy
	Enabled       bool
	Sources       []string
	TopK          int
	IVRMin        float64
	DTEMin        int
	DTEMax        int
	AllowFallback bool
	MaxAge        time.Duration
	AllowStale    bool
}

// ForStrategy resolves the effective settings for a strategy. Sources default
// to <raw_dir>/<strategy>/main.csv and custom.csv.
func (c *Config) ForStrategy(s model.Strategy) StrategySettings {
	out := StrategySettings{
		Strategy:      s,
		Enabled:       true,
		TopK:          c.Rank.TopK,
		IVRMin:        c.Rank.IVRMin,
		DTEMin:        c.Rank.DTEMin,
		DTEMax:        c.Rank.DTEMax,
		AllowFallback: c.Rank.AllowFallback,
		MaxAge:        time.Duration(c.Freshness.MaxAgeMinutes) * time.Minute,
		AllowStale:    c.Freshness.AllowStale,
	}
	o, ok := c.Strategies[string(s)]
	if ok {
		if o.Enabled != nil {
			out.Enabled = *o.Enabled
		}
		out.Sources = o.Sources
		if o.TopK != nil {
			out.TopK = *o.TopK
		}
		if o.IVRMin != nil {
			out.IVRMin = *o.IVRMin
		}
		if o.DTEMin != nil {
			out.DTEMin = *o.DTEMin
		}
		if o.DTEMax != nil {
			out.DTEMax = *o.DTEMax
		}
		if o.AllowFallback != nil {
			out.AllowFallback = *o.AllowFallback
		}
		if o.MaxAgeMinutes != nil {
			out.MaxAge = time.Duration(*o.MaxAgeMinutes) * time.Minute
		}
		if o.AllowStale != nil {
			out.AllowStale = *o.AllowStale
		}
	}
	if len(out.Sources) == 0 {
		dir := strings.TrimRight(c.Paths.RawDir, "/") + "/" + string(s)
		out.Sources = []string{dir + "/main.csv", dir + "/custom.csv"}
	}
	return out
}

// Enabled returns the enabled strategies in registry order.
func (c *Config) Enabled() []model.Strategy {
	var out []model.Strategy
	for _, s := range model.Strategies() {
		if c.ForStrategy(s).Enabled {
			out = append(out, s)
		}
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Package config loads runtime settings from defaults, an optional YAML file,
// a .env file and ATSGUARD_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/roach88/atsguard/internal/matcher"
	"github.com/roach88/atsguard/internal/notify"
	"github.com/roach88/atsguard/internal/store"
)

// EnvPrefix prefixes every environment variable, e.g.
// ATSGUARD_DATABASE_DSN for database.dsn.
const EnvPrefix = "ATSGUARD"

// Config is the full runtime configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Matcher    MatcherConfig    `mapstructure:"matcher"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Token      TokenConfig      `mapstructure:"token"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig selects the storage dialect.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`

	// DSN is a file path for SQLite and a connection string for Postgres.
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max-open-conns"`
}

// RedisConfig configures the notification publisher. An empty URL disables
// Redis.
type RedisConfig struct {
	URL           string `mapstructure:"url"`
	ChannelPrefix string `mapstructure:"channel-prefix"`
}

// MatcherConfig holds the duplicate detection thresholds.
type MatcherConfig struct {
	Threshold          float64  `mapstructure:"threshold"`
	ReviewThreshold    float64  `mapstructure:"review-threshold"`
	NameOnlyConfidence float64  `mapstructure:"name-only-confidence"`
	FlagStatuses       []string `mapstructure:"flag-statuses"`
}

// DispatcherConfig tunes the outbox dispatcher.
type DispatcherConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch-size"`
	MaxAttempts int           `mapstructure:"max-attempts"`
}

// TokenConfig controls issued API tokens.
type TokenConfig struct {
	// TTL of issued tokens; zero issues tokens without expiry.
	TTL        time.Duration `mapstructure:"ttl"`
	BcryptCost int           `mapstructure:"bcrypt-cost"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

// SetDefaults registers a default for every key. Keys without a default are
// invisible to environment overrides during Unmarshal.
func SetDefaults(v *viper.Viper) {
	mc := matcher.DefaultConfig()

	v.SetDefault("database.driver", store.DialectSQLite)
	v.SetDefault("database.dsn", "atsguard.db")
	v.SetDefault("database.max-open-conns", 10)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel-prefix", notify.DefaultChannelPrefix)
	v.SetDefault("matcher.threshold", mc.Threshold)
	v.SetDefault("matcher.review-threshold", mc.ReviewThreshold)
	v.SetDefault("matcher.name-only-confidence", mc.NameOnlyConfidence)
	v.SetDefault("matcher.flag-statuses", mc.FlagStatuses)
	v.SetDefault("dispatcher.interval", notify.DefaultInterval)
	v.SetDefault("dispatcher.batch-size", notify.DefaultBatchSize)
	v.SetDefault("dispatcher.max-attempts", notify.DefaultMaxAttempts)
	v.SetDefault("token.ttl", time.Duration(0))
	v.SetDefault("token.bcrypt-cost", 12)
	v.SetDefault("log.json", false)
	v.SetDefault("log.debug", false)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Missing files are skipped and variables
// already set are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration into v and decodes it. file is an optional YAML
// config path.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case store.DialectSQLite, store.DialectPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q",
			store.DialectSQLite, store.DialectPostgres, c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, errors.New("database.max-open-conns must be at least 1"))
	}
	for name, val := range map[string]float64{
		"matcher.threshold":            c.Matcher.Threshold,
		"matcher.review-threshold":     c.Matcher.ReviewThreshold,
		"matcher.name-only-confidence": c.Matcher.NameOnlyConfidence,
	} {
		if val <= 0 || val > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %v", name, val))
		}
	}
	if c.Matcher.ReviewThreshold < c.Matcher.Threshold {
		errs = append(errs, errors.New("matcher.review-threshold must not be below matcher.threshold"))
	}
	if c.Dispatcher.Interval <= 0 {
		errs = append(errs, errors.New("dispatcher.interval must be positive"))
	}
	if c.Dispatcher.BatchSize < 1 || c.Dispatcher.MaxAttempts < 1 {
		errs = append(errs, errors.New("dispatcher.batch-size and dispatcher.max-attempts must be at least 1"))
	}
	if c.Token.TTL < 0 {
		errs = append(errs, errors.New("token.ttl must not be negative"))
	}
	if c.Token.BcryptCost < 4 || c.Token.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("token.bcrypt-cost must be in [4, 31], got %d", c.Token.BcryptCost))
	}
	return errors.Join(errs...)
}

// MatcherConfig converts the matcher section.
func (c Config) MatcherConfig() matcher.Config {
	return matcher.Config{
		Threshold:          c.Matcher.Threshold,
		ReviewThreshold:    c.Matcher.ReviewThreshold,
		NameOnlyConfidence: c.Matcher.NameOnlyConfidence,
		FlagStatuses:       c.Matcher.FlagStatuses,
	}
}

// Package config loads runtime settings from an optional YAML file and
// STUDIO_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/studio"
)

type Config struct {
	App struct {
		Env      string
		LogLevel string `mapstructure:"log_level"`
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr           string
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"http"`

	Store struct {
		Driver     string
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"store"`

	Booking struct {
		CancellationWindow time.Duration `mapstructure:"cancellation_window"`
		ValidityWeeks      int           `mapstructure:"validity_weeks"`
		MaxCommitRetries   int           `mapstructure:"max_commit_retries"`
		RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
		Selection          string
		CatalogDays        int `mapstructure:"catalog_days"`
	} `mapstructure:"booking"`

	AnnualFee struct {
		Amount      string
		Currency    string
		Window      string
		SeasonStart string `mapstructure:"season_start"`
	} `mapstructure:"annual_fee"`

	Plans struct {
		Path string
	} `mapstructure:"plans"`

	Schedule struct {
		Path string
	} `mapstructure:"schedule"`

	Sweeper struct {
		Enabled  bool
		Interval time.Duration
	} `mapstructure:"sweeper"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.timezone", "Europe/Madrid")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite_path", "studio.db")
	v.SetDefault("booking.cancellation_window", "24h")
	v.SetDefault("booking.validity_weeks", studio.DefaultValidityWeeks)
	v.SetDefault("booking.max_commit_retries", 3)
	v.SetDefault("booking.retry_backoff", "5ms")
	v.SetDefault("booking.selection", string(studio.SelectPurchaseOrder))
	v.SetDefault("booking.catalog_days", 35)
	v.SetDefault("annual_fee.amount", "35.00")
	v.SetDefault("annual_fee.currency", string(generic.EUR))
	v.SetDefault("annual_fee.window", string(generic.PeriodCalendarYear))
	v.SetDefault("annual_fee.season_start", "2026-01-01")
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", "1h")
	v.SetDefault("metrics.enabled", true)
}

// Load reads path (if non-empty) and applies environment overrides, e.g.
// STUDIO_STORE_DRIVER=sqlite or STUDIO_BOOKING_CANCELLATION_WINDOW=12h.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("STUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Booking.CancellationWindow < 0 {
		return fmt.Errorf("booking.cancellation_window must not be negative")
	}
	if c.Booking.MaxCommitRetries < 0 {
		return fmt.Errorf("booking.max_commit_retries must not be negative")
	}
	if !studio.SelectionPolicy(c.Booking.Selection).Valid() {
		return fmt.Errorf("booking.selection: unknown policy %q", c.Booking.Selection)
	}
	switch generic.PeriodType(c.AnnualFee.Window) {
	case generic.PeriodCalendarYear, generic.PeriodRolling:
	default:
		return fmt.Errorf("annual_fee.window: unknown window %q", c.AnnualFee.Window)
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive when the sweeper is enabled")
	}
	return nil
}

// Location resolves app.timezone, falling back to UTC when unset.
func (c Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app.timezone %q: %w", c.App.Timezone, err)
	}
	return loc, nil
}

// ServiceConfig converts the loaded settings into the booking service's
// configuration.
func (c Config) ServiceConfig() (studio.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return studio.Config{}, err
	}

	amount, err := decimal.NewFromString(c.AnnualFee.Amount)
	if err != nil {
		return studio.Config{}, fmt.Errorf("annual_fee.amount %q: %w", c.AnnualFee.Amount, err)
	}

	var season time.Time
	if c.AnnualFee.SeasonStart != "" {
		season, err = time.ParseInLocation(time.DateOnly, c.AnnualFee.SeasonStart, loc)
		if err != nil {
			return studio.Config{}, fmt.Errorf("annual_fee.season_start %q: %w", c.AnnualFee.SeasonStart, err)
		}
	}

	currency := generic.EUR
	if c.AnnualFee.Currency != "" {
		currency = generic.Currency(strings.ToUpper(c.AnnualFee.Currency))
	}

	engine := studio.DefaultEngineConfig()
	engine.CancellationWindow = c.Booking.CancellationWindow
	engine.MaxCommitRetries = c.Booking.MaxCommitRetries
	if c.Booking.RetryBackoff > 0 {
		engine.RetryBackoff = c.Booking.RetryBackoff
	}
	engine.Selection = studio.SelectionPolicy(c.Booking.Selection)

	return studio.Config{
		Engine: engine,
		Fee: studio.FeePolicy{
			Amount:      generic.Money{Amount: amount, Currency: currency},
			Window:      generic.PeriodConfig{Type: generic.PeriodType(c.AnnualFee.Window), Location: loc},
			SeasonStart: season,
		},
		ValidityWeeks: c.Booking.ValidityWeeks,
		CatalogDays:   c.Booking.CatalogDays,
	}, nil
}

// NewLogger builds the JSON logger. dev environments log at debug.
func (c Config) NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.App.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if c.App.Env == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

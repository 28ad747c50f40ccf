// Package config loads runtime settings from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // BATCH_TIMEZONE must resolve on hosts without a zoneinfo database

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// InstrumentConfig seeds one tradable instrument. Price, when set, seeds
// the static market data provider.
type InstrumentConfig struct {
	Symbol   string `mapstructure:"symbol"   validate:"required,uppercase,max=10"`
	Ref      string `mapstructure:"ref"      validate:"required"`
	Currency string `mapstructure:"currency" validate:"required,len=3,uppercase"`
	Price    string `mapstructure:"price"`
}

// Config holds all runtime configuration for the batch broker.
type Config struct {
	Port     int    `mapstructure:"port"      validate:"min=1,max=65535"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `mapstructure:"log_file"`

	BatchSchedule     string        `mapstructure:"batch_schedule"      validate:"required"`
	BatchTimezone     string        `mapstructure:"batch_timezone"      validate:"required"`
	BatchCutoffOffset time.Duration `mapstructure:"batch_cutoff_offset" validate:"gte=0"`
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"  validate:"gt=0"`

	ReservationBuffer string        `mapstructure:"reservation_buffer"`
	LedgerLockTimeout time.Duration `mapstructure:"ledger_lock_timeout" validate:"gt=0"`
	MarketURL         string        `mapstructure:"market_url"          validate:"omitempty,url"`
	MarketTimeout     time.Duration `mapstructure:"market_timeout"      validate:"gt=0"`
	JournalPath       string        `mapstructure:"journal_path"`
	OverviewTTL       time.Duration `mapstructure:"overview_ttl"        validate:"gte=0"`
	BrokerCash        string        `mapstructure:"broker_cash"`
	WebhookTimeout    time.Duration `mapstructure:"webhook_timeout"     validate:"gt=0"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"     validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	Instruments []InstrumentConfig `mapstructure:"instruments" validate:"dive"`

	// Parsed forms, filled by Load.
	Location *time.Location  `mapstructure:"-"`
	Buffer   decimal.Decimal `mapstructure:"-"`
	CashPool decimal.Decimal `mapstructure:"-"`
}

var defaults = map[string]any{
	"port":                8080,
	"log_level":           "info",
	"log_file":            "",
	"batch_schedule":      "0 14 * * *",
	"batch_timezone":      "Europe/Paris",
	"batch_cutoff_offset": 5 * time.Minute,
	"scheduler_interval":  time.Second,
	"reservation_buffer":  "0.02",
	"ledger_lock_timeout": 2 * time.Second,
	"market_url":          "",
	"market_timeout":      3 * time.Second,
	"journal_path":        "",
	"overview_ttl":        2 * time.Second,
	"broker_cash":         "0",
	"webhook_timeout":     5 * time.Second,
	"read_timeout":        5 * time.Second,
	"write_timeout":       10 * time.Second,
	"idle_timeout":        60 * time.Second,
	"shutdown_timeout":    10 * time.Second,
}

// Load reads configuration from environment variables and, when
// CONFIG_FILE is set, a YAML file. Environment values win over the file.
// It returns an error for any invalid value.
func Load() (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve checks the rules the struct tags cannot express and fills the
// parsed fields.
func (c *Config) resolve() error {
	loc, err := time.LoadLocation(c.BatchTimezone)
	if err != nil {
		return fmt.Errorf("invalid BATCH_TIMEZONE: %w", err)
	}
	c.Location = loc

	if _, err := cron.ParseStandard(c.BatchSchedule); err != nil {
		return fmt.Errorf("invalid BATCH_SCHEDULE %q: %w", c.BatchSchedule, err)
	}

	buf, err := decimal.NewFromString(c.ReservationBuffer)
	if err != nil || buf.IsNegative() || buf.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid RESERVATION_BUFFER %q: must be a fraction in [0, 1)", c.ReservationBuffer)
	}
	c.Buffer = buf

	cash, err := domain.ParseAmount(c.BrokerCash)
	if err != nil {
		return fmt.Errorf("invalid BROKER_CASH: %w", err)
	}
	if cash.IsNegative() {
		return fmt.Errorf("invalid BROKER_CASH: must be >= 0")
	}
	c.CashPool = cash

	seen := make(map[string]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if seen[in.Symbol] {
			return fmt.Errorf("duplicate instrument %q", in.Symbol)
		}
		seen[in.Symbol] = true
		if in.Price == "" {
			continue
		}
		if p, err := decimal.NewFromString(in.Price); err != nil || !p.IsPositive() {
			return fmt.Errorf("invalid price %q for instrument %s", in.Price, in.Symbol)
		}
	}
	return nil
}

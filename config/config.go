/*
Package config loads server configuration and builds the logger.

Configuration comes from an optional YAML file plus environment
variables (prefix LEAVE_, e.g. LEAVE_SERVER_PORT). The tenant registry
lives here too: only tenants listed in configuration can be resolved,
and each may override the shipped per-category leave policies.
*/
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/policy"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server  Server       `mapstructure:"server"`
	Storage Storage      `mapstructure:"storage"`
	Log     Log          `mapstructure:"log"`
	Tenants []TenantSpec `mapstructure:"tenants"`
}

type Server struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Storage struct {
	Driver      string `mapstructure:"driver"` // memory | sqlite | postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

type Log struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // json | text
}

// TenantSpec is one registry entry. FiscalYearStart is the month number
// the tenant's fiscal year begins (1 = January, 4 = April).
type TenantSpec struct {
	ID              string           `mapstructure:"id"`
	FiscalYearStart int              `mapstructure:"fiscal_year_start"`
	Policies        []PolicyOverride `mapstructure:"policies"`
}

// PolicyOverride replaces the shipped default for one category.
type PolicyOverride struct {
	Category               string  `mapstructure:"category"`
	AnnualAllocation       float64 `mapstructure:"annual_allocation"`
	CarryForwardEnabled    bool    `mapstructure:"carry_forward_enabled"`
	MaxCarryableDays       float64 `mapstructure:"max_carryable_days"`
	ValidityMonths         int     `mapstructure:"validity_months"`
	MinimumEligibleBalance float64 `mapstructure:"minimum_eligible_balance"`
}

// Load reads configuration from the optional file at path (empty means
// no file) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.sqlite_path", "./data/leave.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetEnvPrefix("LEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	for _, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenant registry entry missing id")
		}
		if t.FiscalYearStart < 0 || t.FiscalYearStart > 12 {
			return fmt.Errorf("tenant %s: fiscal_year_start %d out of range", t.ID, t.FiscalYearStart)
		}
	}
	return nil
}

// TenantIDs returns the configured tenant registry.
func (c *Config) TenantIDs() []string {
	out := make([]string, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		out = append(out, t.ID)
	}
	return out
}

// PolicySource builds the static policy source from the registry:
// shipped defaults overlaid with each tenant's overrides.
func (c *Config) PolicySource() *policy.Static {
	tenants := make(map[string]policy.TenantConfig, len(c.Tenants))
	for _, t := range c.Tenants {
		tc := policy.TenantConfig{FiscalYearStart: time.Month(t.FiscalYearStart)}
		for _, o := range t.Policies {
			tc.Overrides = append(tc.Overrides, policy.LeavePolicy{
				Category:         ledger.Category(o.Category),
				AnnualAllocation: decimal.NewFromFloat(o.AnnualAllocation),
				CarryForward: policy.CarryForward{
					Enabled:                o.CarryForwardEnabled,
					MaxCarryableDays:       decimal.NewFromFloat(o.MaxCarryableDays),
					ValidityMonths:         o.ValidityMonths,
					MinimumEligibleBalance: decimal.NewFromFloat(o.MinimumEligibleBalance),
				},
			})
		}
		tenants[t.ID] = tc
	}
	return policy.NewStatic(tenants)
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if c.Log.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// Package config loads engine settings from a YAML file and STORAGECOST_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rshade/storagecost/internal/pricing"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STORAGECOST_"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
)

// PricingConfig configures the retail catalog client.
type PricingConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	MaxPages     int           `yaml:"max_pages"`
}

// AssumptionsConfig configures the assumption service.
type AssumptionsConfig struct {
	GlobalCacheTTL             time.Duration `yaml:"global_cache_ttl"`
	DefaultCoolPercentage      float64       `yaml:"default_cool_percentage"`
	DefaultRetrievalPercentage float64       `yaml:"default_retrieval_percentage"`
}

// TelemetryConfig configures metrics lookups.
type TelemetryConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	LookbackDays int           `yaml:"lookback_days"`
	File         string        `yaml:"file"`
}

// RecalcConfig configures batch recalculation.
type RecalcConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	StateFile     string `yaml:"state_file"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	Region        string `yaml:"region"`
}

// HistoryConfig configures the daily cost source.
type HistoryConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Config is the complete engine configuration.
type Config struct {
	Pricing     PricingConfig     `yaml:"pricing"`
	Assumptions AssumptionsConfig `yaml:"assumptions"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Recalc      RecalcConfig      `yaml:"recalc"`
	Store       StoreConfig       `yaml:"store"`
	History     HistoryConfig     `yaml:"history"`
	Log         struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	c := Config{
		Pricing: PricingConfig{
			Endpoint:     pricing.DefaultEndpoint,
			CacheTTL:     pricing.DefaultCacheTTL,
			FetchTimeout: pricing.DefaultFetchTimeout,
			MaxRetries:   pricing.DefaultMaxRetries,
			MaxPages:     pricing.DefaultMaxPages,
		},
		Assumptions: AssumptionsConfig{
			GlobalCacheTTL:             5 * time.Minute,
			DefaultCoolPercentage:      80,
			DefaultRetrievalPercentage: 15,
		},
		Telemetry: TelemetryConfig{
			FetchTimeout: 10 * time.Second,
			LookbackDays: 30,
		},
		Recalc: RecalcConfig{Concurrency: 4},
		Store: StoreConfig{
			Backend:   BackendMemory,
			StateFile: "storagecost-state.json",
		},
		History: HistoryConfig{Table: "daily_costs"},
	}
	c.Log.Level = "info"
	return c
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path skips the file. Invalid override values are logged and ignored.
func Load(path string, logger zerolog.Logger) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyEnv(os.LookupEnv, logger)
	return c, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc, logger zerolog.Logger) {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
			return
		}
		logger.Warn().Str("value", v).Msgf("invalid %s%s, using default", EnvPrefix, name)
	}
	integer := func(name string, dst *int) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
			return
		}
		logger.Warn().Str("value", v).Msgf("invalid %s%s, using default", EnvPrefix, name)
	}
	percent := func(name string, dst *float64) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 100 {
			*dst = f
			return
		}
		logger.Warn().Str("value", v).Msgf("invalid %s%s, using default", EnvPrefix, name)
	}

	str("PRICING_ENDPOINT", &c.Pricing.Endpoint)
	dur("PRICING_CACHE_TTL", &c.Pricing.CacheTTL)
	dur("PRICING_FETCH_TIMEOUT", &c.Pricing.FetchTimeout)
	integer("PRICING_MAX_RETRIES", &c.Pricing.MaxRetries)
	integer("PRICING_MAX_PAGES", &c.Pricing.MaxPages)
	dur("ASSUMPTIONS_GLOBAL_CACHE_TTL", &c.Assumptions.GlobalCacheTTL)
	percent("ASSUMPTIONS_DEFAULT_COOL_PERCENTAGE", &c.Assumptions.DefaultCoolPercentage)
	percent("ASSUMPTIONS_DEFAULT_RETRIEVAL_PERCENTAGE", &c.Assumptions.DefaultRetrievalPercentage)
	dur("TELEMETRY_FETCH_TIMEOUT", &c.Telemetry.FetchTimeout)
	integer("TELEMETRY_LOOKBACK_DAYS", &c.Telemetry.LookbackDays)
	str("TELEMETRY_FILE", &c.Telemetry.File)
	integer("RECALC_CONCURRENCY", &c.Recalc.Concurrency)
	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_STATE_FILE", &c.Store.StateFile)
	str("STORE_DYNAMODB_TABLE", &c.Store.DynamoDBTable)
	str("STORE_REGION", &c.Store.Region)
	str("HISTORY_DSN", &c.History.DSN)
	str("HISTORY_TABLE", &c.History.Table)
	str("LOG_LEVEL", &c.Log.Level)
	str("METRICS_LISTEN", &c.Metrics.Listen)

	c.Store.Backend = strings.ToLower(c.Store.Backend)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("pricing.cache_ttl", c.Pricing.CacheTTL)
	positive("pricing.fetch_timeout", c.Pricing.FetchTimeout)
	positive("assumptions.global_cache_ttl", c.Assumptions.GlobalCacheTTL)
	positive("telemetry.fetch_timeout", c.Telemetry.FetchTimeout)

	if c.Pricing.Endpoint == "" {
		errs = append(errs, errors.New("pricing.endpoint is required"))
	}
	if c.Pricing.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pricing.max_retries must not be negative, got %d", c.Pricing.MaxRetries))
	}
	if c.Pricing.MaxPages <= 0 {
		errs = append(errs, fmt.Errorf("pricing.max_pages must be positive, got %d", c.Pricing.MaxPages))
	}
	if c.Telemetry.LookbackDays <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.lookback_days must be positive, got %d", c.Telemetry.LookbackDays))
	}
	if c.Recalc.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("recalc.concurrency must be positive, got %d", c.Recalc.Concurrency))
	}
	for name, v := range map[string]float64{
		"assumptions.default_cool_percentage":      c.Assumptions.DefaultCoolPercentage,
		"assumptions.default_retrieval_percentage": c.Assumptions.DefaultRetrievalPercentage,
	} {
		if !(v >= 0 && v <= 100) {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 100, got %g", name, v))
		}
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendDynamoDB:
		if c.Store.DynamoDBTable == "" {
			errs = append(errs, errors.New("store.dynamodb_table is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of %s, %s", c.Store.Backend, BackendMemory, BackendDynamoDB))
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Package config loads the service configuration from YAML and can emit
// a JSON schema for editor completion.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	defaultMonthlyArchiveBase = "https://data.binance.vision/data/spot/monthly/klines"
	defaultDailyArchiveBase   = "https://data.binance.vision/data/spot/daily/klines"
	defaultDatabasePath       = "tradeforge.db"
)

// Config is the service configuration shared by the scheduler and the
// worker processes.
type Config struct {
	// DatabasePath is the SQLite job store location. Scheduler and worker
	// must point at the same file.
	DatabasePath string `yaml:"database_path" json:"database_path" validate:"required" jsonschema:"title=Database Path,description=SQLite job store location"`

	Archive ArchiveConfig `yaml:"archive" json:"archive"`

	// ProgressInterval is how often a worker persists progress; zero uses
	// the worker default.
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval" jsonschema:"title=Progress Interval"`

	// IterationBudget bounds one strategy iteration; zero uses the bridge
	// default.
	IterationBudget time.Duration `yaml:"iteration_budget" json:"iteration_budget" jsonschema:"title=Iteration Budget"`

	// LedgerExportDir enables per-execution Parquet ledger exports when set.
	LedgerExportDir string `yaml:"ledger_export_dir,omitempty" json:"ledger_export_dir,omitempty" jsonschema:"title=Ledger Export Directory"`
}

// ArchiveConfig addresses the bulk kline archive endpoints.
type ArchiveConfig struct {
	MonthlyBase string `yaml:"monthly_base" json:"monthly_base" validate:"required,url" jsonschema:"title=Monthly Archive Base URL"`
	DailyBase   string `yaml:"daily_base" json:"daily_base" validate:"required,url" jsonschema:"title=Daily Archive Base URL"`
}

// UnmarshalYAML implements custom unmarshaling so duration fields accept
// strings like "250ms", and absent fields keep their defaults.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type raw struct {
		DatabasePath     string        `yaml:"database_path"`
		Archive          ArchiveConfig `yaml:"archive"`
		ProgressInterval string        `yaml:"progress_interval"`
		IterationBudget  string        `yaml:"iteration_budget"`
		LedgerExportDir  string        `yaml:"ledger_export_dir"`
	}

	var r raw
	if err := unmarshal(&r); err != nil {
		return err
	}

	if r.DatabasePath != "" {
		c.DatabasePath = r.DatabasePath
	}

	if r.Archive.MonthlyBase != "" {
		c.Archive.MonthlyBase = r.Archive.MonthlyBase
	}

	if r.Archive.DailyBase != "" {
		c.Archive.DailyBase = r.Archive.DailyBase
	}

	if r.LedgerExportDir != "" {
		c.LedgerExportDir = r.LedgerExportDir
	}

	if r.ProgressInterval != "" {
		d, err := time.ParseDuration(r.ProgressInterval)
		if err != nil {
			return err
		}

		c.ProgressInterval = d
	}

	if r.IterationBudget != "" {
		d, err := time.ParseDuration(r.IterationBudget)
		if err != nil {
			return err
		}

		c.IterationBudget = d
	}

	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DatabasePath: defaultDatabasePath,
		Archive: ArchiveConfig{
			MonthlyBase: defaultMonthlyArchiveBase,
			DailyBase:   defaultDailyArchiveBase,
		},
	}
}

// Load reads and validates the configuration file. Missing optional
// fields fall back to defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidRequest, err, "failed to read config file %s", path)
	}

	config := Default()
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidRequest, err, "failed to parse config file %s", path)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks the configuration shape.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidRequest, "invalid configuration", err)
	}

	return nil
}

// GenerateSchemaJSON renders the JSON schema for the configuration.
func GenerateSchemaJSON() (string, error) {
	schema := jsonschema.Reflect(&Config{})

	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

// Package config loads the pipeline configuration from environment
// variables (prefix CARDPULSE) with an optional YAML file supplying
// values the environment leaves unset.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete pipeline configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database" envconfig:"DATABASE"`
	CardAPI     CardAPIConfig     `yaml:"card_api" envconfig:"CARD_API"`
	Window      WindowConfig      `yaml:"window" envconfig:"WINDOW"`
	Outlier     OutlierConfig     `yaml:"outlier" envconfig:"OUTLIER"`
	Reconcile   ReconcileConfig   `yaml:"reconcile" envconfig:"RECONCILE"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" envconfig:"DIAGNOSTICS"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Paths       PathsConfig       `yaml:"paths" envconfig:"PATHS"`
}

// DatabaseConfig points at the TimescaleDB holding the market tables.
type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"HOST" default:"localhost"`
	Port     int    `yaml:"port" envconfig:"PORT" default:"5432"`
	Name     string `yaml:"name" envconfig:"NAME" validate:"required"`
	User     string `yaml:"user" envconfig:"USER" validate:"required"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"SSL_MODE" default:"disable"`
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// CardAPIConfig configures the card catalog client and its CSV fallback.
type CardAPIConfig struct {
	Endpoint      string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	UseAPI        bool          `yaml:"use_api" envconfig:"USE_API"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"30s"`
	RequestsPerSec float64      `yaml:"requests_per_sec" envconfig:"REQUESTS_PER_SEC" default:"5"`
	AttributesCSV string        `yaml:"attributes_csv" envconfig:"ATTRIBUTES_CSV" default:"data/raw/card_attributes.csv"`
	CardListCSV   string        `yaml:"card_list_csv" envconfig:"CARD_LIST_CSV" default:"data/raw/card_list.csv"`
}

// WindowConfig is the inclusive analysis day range. The window is a
// required runtime input; the pipeline never assumes a fixed range.
type WindowConfig struct {
	StartDate string `yaml:"start_date" envconfig:"START_DATE" validate:"required,datetime=2006-01-02"`
	EndDate   string `yaml:"end_date" envconfig:"END_DATE" validate:"required,datetime=2006-01-02"`
	Timezone  string `yaml:"timezone" envconfig:"TIMEZONE" default:"US/Eastern"`
}

// OutlierConfig selects the sale-price outlier method and thresholds.
type OutlierConfig struct {
	Method          string  `yaml:"method" envconfig:"METHOD" default:"asymmetric_iqr" validate:"oneof=zscore iqr asymmetric_iqr percentile"`
	ZThreshold      float64 `yaml:"z_threshold" envconfig:"Z_THRESHOLD" default:"6" validate:"gt=0"`
	LowMultiplier   float64 `yaml:"low_multiplier" envconfig:"LOW_MULTIPLIER" default:"1.5" validate:"gte=0"`
	HighMultiplier  float64 `yaml:"high_multiplier" envconfig:"HIGH_MULTIPLIER" default:"5.0" validate:"gte=0"`
	PercentileLower float64 `yaml:"percentile_lower" envconfig:"PERCENTILE_LOWER" default:"0.01" validate:"gte=0,lte=1"`
	PercentileUpper float64 `yaml:"percentile_upper" envconfig:"PERCENTILE_UPPER" default:"0.99" validate:"gte=0,lte=1,gtfield=PercentileLower"`
}

// ReconcileConfig carries the merge engine thresholds.
type ReconcileConfig struct {
	LowInventoryThreshold    int64   `yaml:"low_inventory_threshold" envconfig:"LOW_INVENTORY_THRESHOLD" default:"5" validate:"gte=0"`
	ExtremeOutlierMultiplier float64 `yaml:"extreme_outlier_multiplier" envconfig:"EXTREME_OUTLIER_MULTIPLIER" default:"100" validate:"gt=0"`
	FillStrategy             string  `yaml:"fill_strategy" envconfig:"FILL_STRATEGY" default:"forward_backward" validate:"oneof=forward forward_backward"`
	Workers                  int     `yaml:"workers" envconfig:"WORKERS"`
	RowBudget                int     `yaml:"row_budget" envconfig:"ROW_BUDGET" default:"5000000" validate:"gt=0"`
}

// DiagnosticsConfig tunes the report output.
type DiagnosticsConfig struct {
	Multipliers []float64 `yaml:"multipliers" envconfig:"MULTIPLIERS" default:"25,50,100"`
	SampleSize  int       `yaml:"sample_size" envconfig:"SAMPLE_SIZE" default:"20" validate:"gt=0"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout" validate:"oneof=stdout file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/pipeline.log"`
}

// PathsConfig holds the output locations.
type PathsConfig struct {
	OutputDir      string `yaml:"output_dir" envconfig:"OUTPUT_DIR" default:"data/processed"`
	DiagnosticsDir string `yaml:"diagnostics_dir" envconfig:"DIAGNOSTICS_DIR" default:"logs"`
}

// Override mutates the configuration after the environment and file
// have been merged but before validation. Used for CLI flag overrides.
type Override func(*Config)

// Load builds the configuration: .env file, then environment variables
// and defaults, then a YAML file filling whatever is still unset, then
// any overrides. Environment always wins over the file; overrides win
// over both, and validation sees the final values.
func Load(configFile string, overrides ...Override) (*Config, error) {
	// Missing .env is fine; environments without one are common.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CARDPULSE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileCfg, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = mergeConfigs(*fileCfg, cfg)
		}
	}

	for _, override := range overrides {
		override(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct-level constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs lets the file supply values the environment (including
// envconfig defaults) left zero. Environment takes precedence.
func mergeConfigs(fileCfg, envCfg Config) Config {
	if envCfg.Database.Name == "" {
		envCfg.Database.Name = fileCfg.Database.Name
	}
	if envCfg.Database.User == "" {
		envCfg.Database.User = fileCfg.Database.User
	}
	if envCfg.Database.Password == "" {
		envCfg.Database.Password = fileCfg.Database.Password
	}
	if envCfg.CardAPI.Endpoint == "" {
		envCfg.CardAPI.Endpoint = fileCfg.CardAPI.Endpoint
	}
	if !envCfg.CardAPI.UseAPI {
		envCfg.CardAPI.UseAPI = fileCfg.CardAPI.UseAPI
	}
	if envCfg.Window.StartDate == "" {
		envCfg.Window.StartDate = fileCfg.Window.StartDate
	}
	if envCfg.Window.EndDate == "" {
		envCfg.Window.EndDate = fileCfg.Window.EndDate
	}
	if envCfg.Reconcile.Workers == 0 {
		envCfg.Reconcile.Workers = fileCfg.Reconcile.Workers
	}
	return envCfg
}

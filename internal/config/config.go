// Package config provides Viper-based hierarchical configuration management
// for the reconciliation engine.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config represents the complete engine configuration.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`

	CSV struct {
		Delimiter  string `mapstructure:"delimiter" yaml:"delimiter"`
		DateFormat string `mapstructure:"date_format" yaml:"date_format"`
		SkipRows   int    `mapstructure:"skip_rows" yaml:"skip_rows"`
		ChunkSize  int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	} `mapstructure:"csv" yaml:"csv"`

	Scoring struct {
		AmountWeight      float64 `mapstructure:"amount_weight" yaml:"amount_weight"`
		DateWeight        float64 `mapstructure:"date_weight" yaml:"date_weight"`
		DescriptionWeight float64 `mapstructure:"description_weight" yaml:"description_weight"`
		AmountDecayPct    float64 `mapstructure:"amount_decay_pct" yaml:"amount_decay_pct"`
		DateDecayDays     int     `mapstructure:"date_decay_days" yaml:"date_decay_days"`
		DescriptionFloor  float64 `mapstructure:"description_floor" yaml:"description_floor"`
	} `mapstructure:"scoring" yaml:"scoring"`

	Matching struct {
		AutoMatchLimit  int `mapstructure:"auto_match_limit" yaml:"auto_match_limit"`
		WorkerCount     int `mapstructure:"worker_count" yaml:"worker_count"`
		SuggestionLimit int `mapstructure:"suggestion_limit" yaml:"suggestion_limit"`
	} `mapstructure:"matching" yaml:"matching"`
}

// InitializeConfig initializes Viper configuration with hierarchical loading:
// defaults, then an optional config file, then BANKRECON_* environment variables.
func InitializeConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.bank-recon")
	v.AddConfigPath(".bank-recon")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BANKRECON")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Continue with defaults and env vars; a broken config file should
			// not make the CLI unusable.
			fmt.Printf("Warning: error reading config file %s: %v\n", v.ConfigFileUsed(), err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets the documented default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("csv.delimiter", ",")
	v.SetDefault("csv.date_format", "YYYY-MM-DD")
	v.SetDefault("csv.skip_rows", 0)
	v.SetDefault("csv.chunk_size", 500)

	v.SetDefault("scoring.amount_weight", 0.40)
	v.SetDefault("scoring.date_weight", 0.30)
	v.SetDefault("scoring.description_weight", 0.30)
	v.SetDefault("scoring.amount_decay_pct", 5.0)
	v.SetDefault("scoring.date_decay_days", 14)
	v.SetDefault("scoring.description_floor", 0.2)

	v.SetDefault("matching.auto_match_limit", 100)
	v.SetDefault("matching.worker_count", 4)
	v.SetDefault("matching.suggestion_limit", 5)
}

// validateConfig validates the configuration values.
func validateConfig(config *Config) error {
	if _, err := logrus.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", config.Log.Format)
	}

	if len(config.CSV.Delimiter) != 1 {
		return fmt.Errorf("CSV delimiter must be a single character, got: %s", config.CSV.Delimiter)
	}
	if config.CSV.ChunkSize < 1 {
		return fmt.Errorf("csv.chunk_size must be positive, got: %d", config.CSV.ChunkSize)
	}

	s := config.Scoring
	weightSum := s.AmountWeight + s.DateWeight + s.DescriptionWeight
	if math.Abs(weightSum-1.0) > 0.001 {
		return fmt.Errorf("scoring weights must sum to 1.0, got: %.3f", weightSum)
	}
	if s.AmountDecayPct <= 0 {
		return fmt.Errorf("scoring.amount_decay_pct must be positive, got: %f", s.AmountDecayPct)
	}
	if s.DateDecayDays <= 0 {
		return fmt.Errorf("scoring.date_decay_days must be positive, got: %d", s.DateDecayDays)
	}
	if s.DescriptionFloor < 0 || s.DescriptionFloor > 1 {
		return fmt.Errorf("scoring.description_floor must be between 0.0 and 1.0, got: %f", s.DescriptionFloor)
	}

	m := config.Matching
	if m.AutoMatchLimit < 1 {
		return fmt.Errorf("matching.auto_match_limit must be positive, got: %d", m.AutoMatchLimit)
	}
	if m.WorkerCount < 1 {
		return fmt.Errorf("matching.worker_count must be positive, got: %d", m.WorkerCount)
	}
	if m.SuggestionLimit < 1 {
		return fmt.Errorf("matching.suggestion_limit must be positive, got: %d", m.SuggestionLimit)
	}

	return nil
}

// ConfigureLoggingFromConfig builds a logrus logger from the Log section.
func ConfigureLoggingFromConfig(config *Config) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(config.Log.Level))
	if err != nil {
		logger.Warnf("Invalid log level '%s', using 'info'", config.Log.Level)
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if strings.ToLower(config.Log.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

// LoadEnv loads a .env file from the working directory or the project root,
// silently doing nothing when none exists.
func LoadEnv() {
	envFile := ".env"
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		envFile = filepath.Join("..", ".env")
		if _, err := os.Stat(envFile); os.IsNotExist(err) {
			return
		}
	}
	_ = godotenv.Load(envFile)
}

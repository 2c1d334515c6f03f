// Package config manages Subwatch configuration.
//
// Settings load from a .env file (if present) and then from environment
// variables, all prefixed SUBWATCH_. Tuning constants for the reconciliation
// engine (cadence bands, match window, amount tolerance) have sensible
// defaults and rarely need overriding.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration.
type Config struct {
	// Storage
	DataDir string // directory for the sqlite database

	// Logging
	LogLevel  string
	LogFormat string // "json", "console", or "auto"

	// Scheduling
	ScanInterval    time.Duration // how often the reconciliation pass runs
	UserConcurrency int           // max users reconciled in parallel

	// Metrics
	MetricsAddr string // host:port for the prometheus endpoint, empty disables

	// AI classifier/extractor
	AIProvider string
	AIBaseURL  string
	AIAPIKey   string
	AIModel    string
	AITimeout  time.Duration

	Tuning Tuning
}

// Tuning carries the reconciliation engine's numeric knobs. Defaults match
// the engine contract; boundary billing cycles (for example a 36-day cadence)
// can be accommodated per deployment by widening a band.
type Tuning struct {
	// Amount tolerance for grouping occurrences in the pattern detector,
	// expressed as a fraction (0.05 = ±5%).
	AmountTolerance float64
	// Lookback window for prior occurrences.
	PatternLookback time.Duration
	// Email corroboration window on each side of a transaction date.
	MatchWindow time.Duration
	// Cadence bands in days, inclusive.
	MonthlyMinDays, MonthlyMaxDays int
	YearlyMinDays, YearlyMaxDays   int
	WeeklyMinDays, WeeklyMaxDays   int
}

// DefaultTuning returns the engine's contractual constants.
func DefaultTuning() Tuning {
	return Tuning{
		AmountTolerance: 0.05,
		PatternLookback: 6 * 30 * 24 * time.Hour,
		MatchWindow:     7 * 24 * time.Hour,
		MonthlyMinDays:  25,
		MonthlyMaxDays:  35,
		YearlyMinDays:   350,
		YearlyMaxDays:   380,
		WeeklyMinDays:   6,
		WeeklyMaxDays:   8,
	}
}

// Load reads configuration from .env and the environment.
func Load() (*Config, error) {
	// .env is optional; real deployments usually rely on the environment.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded configuration from .env")
	}

	cfg := &Config{
		DataDir:         getEnv("SUBWATCH_DATA_DIR", "/var/lib/subwatch"),
		LogLevel:        getEnv("SUBWATCH_LOG_LEVEL", "info"),
		LogFormat:       getEnv("SUBWATCH_LOG_FORMAT", "auto"),
		ScanInterval:    getDuration("SUBWATCH_SCAN_INTERVAL", 6*time.Hour),
		UserConcurrency: getInt("SUBWATCH_USER_CONCURRENCY", 4),
		MetricsAddr:     getEnv("SUBWATCH_METRICS_ADDR", ""),
		AIProvider:      getEnv("SUBWATCH_AI_PROVIDER", "openai"),
		AIBaseURL:       getEnv("SUBWATCH_AI_BASE_URL", "https://api.openai.com/v1"),
		AIAPIKey:        getEnv("SUBWATCH_AI_API_KEY", ""),
		AIModel:         getEnv("SUBWATCH_AI_MODEL", "gpt-4o-mini"),
		AITimeout:       getDuration("SUBWATCH_AI_TIMEOUT", 60*time.Second),
		Tuning:          DefaultTuning(),
	}

	cfg.Tuning.AmountTolerance = getFloat("SUBWATCH_AMOUNT_TOLERANCE", cfg.Tuning.AmountTolerance)
	cfg.Tuning.PatternLookback = getDuration("SUBWATCH_PATTERN_LOOKBACK", cfg.Tuning.PatternLookback)
	cfg.Tuning.MatchWindow = getDuration("SUBWATCH_MATCH_WINDOW", cfg.Tuning.MatchWindow)
	cfg.Tuning.MonthlyMinDays = getInt("SUBWATCH_MONTHLY_MIN_DAYS", cfg.Tuning.MonthlyMinDays)
	cfg.Tuning.MonthlyMaxDays = getInt("SUBWATCH_MONTHLY_MAX_DAYS", cfg.Tuning.MonthlyMaxDays)
	cfg.Tuning.YearlyMinDays = getInt("SUBWATCH_YEARLY_MIN_DAYS", cfg.Tuning.YearlyMinDays)
	cfg.Tuning.YearlyMaxDays = getInt("SUBWATCH_YEARLY_MAX_DAYS", cfg.Tuning.YearlyMaxDays)
	cfg.Tuning.WeeklyMinDays = getInt("SUBWATCH_WEEKLY_MIN_DAYS", cfg.Tuning.WeeklyMinDays)
	cfg.Tuning.WeeklyMaxDays = getInt("SUBWATCH_WEEKLY_MAX_DAYS", cfg.Tuning.WeeklyMaxDays)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ScanInterval < time.Minute {
		return fmt.Errorf("scan interval %s too short, minimum 1m", c.ScanInterval)
	}
	if c.UserConcurrency < 1 {
		return fmt.Errorf("user concurrency must be at least 1, got %d", c.UserConcurrency)
	}
	t := c.Tuning
	if t.AmountTolerance < 0 || t.AmountTolerance >= 1 {
		return fmt.Errorf("amount tolerance must be in [0,1), got %g", t.AmountTolerance)
	}
	for _, band := range []struct {
		name     string
		min, max int
	}{
		{"monthly", t.MonthlyMinDays, t.MonthlyMaxDays},
		{"yearly", t.YearlyMinDays, t.YearlyMaxDays},
		{"weekly", t.WeeklyMinDays, t.WeeklyMaxDays},
	} {
		if band.min <= 0 || band.max < band.min {
			return fmt.Errorf("invalid %s band [%d,%d]", band.name, band.min, band.max)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid float in environment, using default")
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}

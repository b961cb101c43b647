// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"slotkeeper/internal/availability"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Holds struct {
		TTLMinutes         int `yaml:"ttl_minutes"`
		RecordGraceSeconds int `yaml:"record_grace_seconds"`
		DefaultCapacity    int `yaml:"default_capacity"`
		MaxPerCustomer     int `yaml:"max_per_customer"`
		MaxPerGuest        int `yaml:"max_per_guest"`
		AlternativeDays    int `yaml:"alternative_days"`
		AlternativeLimit   int `yaml:"alternative_limit"`
	} `yaml:"holds"`

	Availability AvailabilityConfig `yaml:"availability"`

	Sweeper struct {
		IntervalSeconds int     `yaml:"interval_seconds"`
		ReleaseRate     float64 `yaml:"release_rate"`
		ReleaseBurst    int     `yaml:"release_burst"`
	} `yaml:"sweeper"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		StoragePath   string `yaml:"storage_path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		GRPCHealthPort    int  `yaml:"grpc_health_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "console" or "json"
	} `yaml:"log"`
}

// AvailabilityConfig holds slot-cutting defaults. Pointer fields tell an
// explicit zero apart from an omitted key.
type AvailabilityConfig struct {
	SlotDurationMinutes *int   `yaml:"slot_duration_minutes"`
	BufferMinutes       *int   `yaml:"buffer_minutes"`
	MinimumNoticeHours  *int   `yaml:"minimum_notice_hours"`
	Timezone            string `yaml:"timezone"`
}

// LoadEnv loads KEY=VALUE pairs from files that exist; missing files are
// skipped. Variables already set in the environment win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/slotkeeper.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8080
	}
	if cfg.Monitoring.PrometheusPort == 0 {
		cfg.Monitoring.PrometheusPort = 9090
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	if c.Holds.TTLMinutes < 0 || c.Holds.RecordGraceSeconds < 0 {
		return errors.New("holds: ttl_minutes and record_grace_seconds must not be negative")
	}
	if c.Holds.DefaultCapacity < 0 || c.Holds.MaxPerCustomer < 0 || c.Holds.MaxPerGuest < 0 {
		return errors.New("holds: capacity and limits must not be negative")
	}
	if c.Sweeper.ReleaseRate < 0 {
		return errors.New("sweeper: release_rate must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// HoldTTL returns the hold window, 10 minutes by default.
func (c *Config) HoldTTL() time.Duration {
	if c.Holds.TTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Holds.TTLMinutes) * time.Minute
}

// RecordGrace returns how long hold records outlive their window.
func (c *Config) RecordGrace() time.Duration {
	if c.Holds.RecordGraceSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Holds.RecordGraceSeconds) * time.Second
}

// DefaultCapacity returns the per-slot capacity, 1 by default.
func (c *Config) DefaultCapacity() int {
	if c.Holds.DefaultCapacity <= 0 {
		return 1
	}
	return c.Holds.DefaultCapacity
}

// HoldLimits returns max concurrent holds for customers and guests.
func (c *Config) HoldLimits() (customer, guest int) {
	customer, guest = 3, 1
	if c.Holds.MaxPerCustomer > 0 {
		customer = c.Holds.MaxPerCustomer
	}
	if c.Holds.MaxPerGuest > 0 {
		guest = c.Holds.MaxPerGuest
	}
	return customer, guest
}

// Alternatives returns how many days to scan and how many slots to offer.
func (c *Config) Alternatives() (days, limit int) {
	days, limit = 7, 5
	if c.Holds.AlternativeDays > 0 {
		days = c.Holds.AlternativeDays
	}
	if c.Holds.AlternativeLimit > 0 {
		limit = c.Holds.AlternativeLimit
	}
	return days, limit
}

// AvailabilitySettings merges configured values over the calculator defaults.
func (c *Config) AvailabilitySettings() availability.Settings {
	s := availability.DefaultSettings()
	a := c.Availability
	if a.SlotDurationMinutes != nil && *a.SlotDurationMinutes > 0 {
		s.SlotDurationMinutes = *a.SlotDurationMinutes
	}
	if a.BufferMinutes != nil && *a.BufferMinutes >= 0 {
		s.BufferMinutes = *a.BufferMinutes
	}
	if a.MinimumNoticeHours != nil && *a.MinimumNoticeHours >= 0 {
		s.MinimumNoticeHours = *a.MinimumNoticeHours
	}
	return s
}

// Location returns the calendar timezone, UTC when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Availability.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Availability.Timezone)
	if err != nil {
		return nil, fmt.Errorf("availability: timezone %q: %w", c.Availability.Timezone, err)
	}
	return loc, nil
}

// BackupInterval returns the snapshot period, daily by default.
func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

// SweepInterval returns the sweeper period, 30 seconds by default.
func (c *Config) SweepInterval() time.Duration {
	if c.Sweeper.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

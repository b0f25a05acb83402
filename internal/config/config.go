package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"easytrip/internal/eligibility"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	Server struct {
		Port            int `yaml:"port"`
		ShutdownSeconds int `yaml:"shutdown_seconds"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking BookingConfig `yaml:"booking"`

	Monitor struct {
		IntervalSeconds       int `yaml:"interval_seconds"`
		ReloadIntervalSeconds int `yaml:"reload_interval_seconds"`
	} `yaml:"monitor"`

	Session struct {
		TTLMinutes int `yaml:"ttl_minutes"`
	} `yaml:"session"`

	Telegram struct {
		BotToken        string  `yaml:"bot_token"`
		OperatorChatIDs []int64 `yaml:"operator_chat_ids"`
	} `yaml:"telegram"`

	RateLimit struct {
		RequestsPerMinute int `yaml:"requests_per_minute"`
		Burst             int `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// BookingConfig is the smart booking rules block.
type BookingConfig struct {
	MaintenanceStartHour *int   `yaml:"maintenance_start_hour"`
	MaintenanceEndHour   *int   `yaml:"maintenance_end_hour"`
	CutoffMinutes        *int   `yaml:"cutoff_minutes"`
	RebookingWaitMinutes *int   `yaml:"rebooking_wait_minutes"`
	Timezone             string `yaml:"timezone"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${VAR} placeholders can reference it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes and validates raw YAML, expanding ${ENV_VAR} placeholders.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownSeconds <= 0 {
		c.Server.ShutdownSeconds = 5
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/easytrip.db"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 30
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return c.Booking.Validate()
}

// Validate checks the booking rules block.
func (b *BookingConfig) Validate() error {
	if b.MaintenanceStartHour != nil && (*b.MaintenanceStartHour < 0 || *b.MaintenanceStartHour > 23) {
		return fmt.Errorf("booking.maintenance_start_hour: must be 0-23, got %d", *b.MaintenanceStartHour)
	}
	if b.MaintenanceEndHour != nil && (*b.MaintenanceEndHour < 0 || *b.MaintenanceEndHour > 23) {
		return fmt.Errorf("booking.maintenance_end_hour: must be 0-23, got %d", *b.MaintenanceEndHour)
	}
	if b.CutoffMinutes != nil && *b.CutoffMinutes < 0 {
		return fmt.Errorf("booking.cutoff_minutes cannot be negative")
	}
	if b.RebookingWaitMinutes != nil && *b.RebookingWaitMinutes < 0 {
		return fmt.Errorf("booking.rebooking_wait_minutes cannot be negative")
	}
	if b.Timezone != "" {
		if _, err := time.LoadLocation(b.Timezone); err != nil {
			return fmt.Errorf("booking.timezone: unknown zone '%s'", b.Timezone)
		}
	}
	return nil
}

// Rules converts the block into evaluator rules. Unset fields keep the
// defaults.
func (b *BookingConfig) Rules() eligibility.Rules {
	r := eligibility.DefaultRules()
	if b.MaintenanceStartHour != nil {
		r.MaintenanceStartHour = *b.MaintenanceStartHour
	}
	if b.MaintenanceEndHour != nil {
		r.MaintenanceEndHour = *b.MaintenanceEndHour
	}
	if b.CutoffMinutes != nil {
		r.Cutoff = time.Duration(*b.CutoffMinutes) * time.Minute
	}
	if b.RebookingWaitMinutes != nil {
		r.RebookingWait = time.Duration(*b.RebookingWaitMinutes) * time.Minute
	}
	if b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			r.Location = loc
		}
	}
	return r
}

func (c *Config) MonitorInterval() time.Duration {
	if c.Monitor.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

func (c *Config) ReloadInterval() time.Duration {
	if c.Monitor.ReloadIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Monitor.ReloadIntervalSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	if c.Session.TTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

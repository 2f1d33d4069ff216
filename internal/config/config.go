package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type FleetConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	OfflineWindow     time.Duration `yaml:"offline_window"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
}

type SchedulerConfig struct {
	SlotMinutes    int           `yaml:"slot_minutes"`
	HorizonDays    int           `yaml:"horizon_days"`
	BlackoutStart  string        `yaml:"blackout_start"`
	BlackoutEnd    string        `yaml:"blackout_end"`
	CronSchedule   string        `yaml:"cron_schedule"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	CandidateLimit int           `yaml:"candidate_limit"`
}

type AlertsConfig struct {
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	WebhookURL  string        `yaml:"webhook_url"`
	Secret      string        `yaml:"secret"`
}

type ArchiveConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/farm.db",
		},
		Fleet: FleetConfig{
			PollInterval:      10 * time.Second,
			OfflineWindow:     60 * time.Second,
			SettleDelay:       15 * time.Second,
			TelemetryInterval: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			SlotMinutes:    30,
			HorizonDays:    7,
			BlackoutStart:  "22:30",
			BlackoutEnd:    "05:30",
			CronSchedule:   "*/15 * * * *",
			StaleAfter:     2 * time.Hour,
			CandidateLimit: 10,
		},
		Alerts: AlertsConfig{
			WorkerCount: 3,
			QueueSize:   100,
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
		},
		Archive: ArchiveConfig{
			Path:          "./data/archives",
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers configuration: defaults, then the yaml file if it exists,
// then FARM_* environment overrides on top.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FARM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("FARM_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FARM_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}

	if v := os.Getenv("FARM_WEBHOOK_URL"); v != "" {
		cfg.Alerts.WebhookURL = v
	}

	if v := os.Getenv("FARM_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Secret = v
	}

	if v := os.Getenv("FARM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// BlackoutMinutes returns the blackout window as minute-of-day offsets.
// The window may wrap midnight (start > end).
func (c *SchedulerConfig) BlackoutMinutes() (start, end int, err error) {
	start, err = parseClock(c.BlackoutStart)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid blackout start %q: %w", c.BlackoutStart, err)
	}
	end, err = parseClock(c.BlackoutEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid blackout end %q: %w", c.BlackoutEnd, err)
	}
	return start, end, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Fleet.PollInterval <= 0 {
		return fmt.Errorf("fleet poll interval must be positive")
	}

	if c.Fleet.OfflineWindow < c.Fleet.PollInterval {
		return fmt.Errorf("offline window must be at least the poll interval")
	}

if c.Scheduler.SlotMinutes < 1 || c.Scheduler.SlotMinutes > 24*60 {
		return fmt.Errorf("slot minutes must be between 1 and 1440, got %d", c.Scheduler.SlotMinutes)
	}

	if c.Scheduler.HorizonDays < 1 {
		return fmt.Errorf("horizon days must be at least 1")
	}

	if _, _, err := c.Scheduler.BlackoutMinutes(); err != nil {
		return err
	}

	if c.Scheduler.CandidateLimit < 1 {
		return fmt.Errorf("candidate limit must be at least 1")
	}

	if c.Alerts.WorkerCount < 1 {
		return fmt.Errorf("alert worker count must be at least 1")
	}

	if c.Archive.RetentionDays < 0 {
		return fmt.Errorf("archive retention days must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

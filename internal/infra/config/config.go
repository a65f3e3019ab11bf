// Package config manages application configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment environment.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// IOConfig holds the date-templated file patterns consumed and produced by a
// run. The literal token {dataDate} is replaced with the business date
// formatted as YYYY-MM-DD.
type IOConfig struct {
	InputPattern      string `yaml:"inputPattern"`
	AggregatesPattern string `yaml:"aggregatesPattern"`
	RejectsPattern    string `yaml:"rejectsPattern"`
}

func (c *IOConfig) applyDefaults() {
	if strings.TrimSpace(c.InputPattern) == "" {
		c.InputPattern = "data/in/orders_{dataDate}.csv"
	}
	if strings.TrimSpace(c.AggregatesPattern) == "" {
		c.AggregatesPattern = "data/out/{dataDate}/aggregates.csv"
	}
	if strings.TrimSpace(c.RejectsPattern) == "" {
		c.RejectsPattern = "data/out/{dataDate}/rejects.csv"
	}
}

func (c IOConfig) validate() error {
	for name, pattern := range map[string]string{
		"inputPattern":      c.InputPattern,
		"aggregatesPattern": c.AggregatesPattern,
		"rejectsPattern":    c.RejectsPattern,
	} {
		if !strings.Contains(pattern, "{dataDate}") {
			return fmt.Errorf("io.%s must contain the {dataDate} token", name)
		}
	}
	return nil
}

// ScheduleConfig configures the periodic trigger.
type ScheduleConfig struct {
	Cron    string `yaml:"cron"`
	Enabled *bool  `yaml:"enabled"`
}

func (c *ScheduleConfig) applyDefaults() {
	if strings.TrimSpace(c.Cron) == "" {
		c.Cron = "0 0 20 * * *"
	}
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
}

// ScheduleEnabled reports whether the cron trigger should run.
func (c ScheduleConfig) ScheduleEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// DatabaseConfig configures the Postgres pool backing aggregate and execution
// history persistence.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ConnectTimeout    time.Duration `yaml:"connectTimeout"`
	RunMigrations     bool          `yaml:"runMigrations"`
	// MigrationsPath overrides the migrations embedded in the binary with a
	// directory of SQL files. Empty selects the embedded set.
	MigrationsPath string `yaml:"migrationsPath"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/orderingest"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	c.MigrationsPath = strings.TrimSpace(c.MigrationsPath)
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("database.dsn required")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("database.minConns must be <= maxConns")
	}
	return nil
}

// APIServerConfig configures the admin HTTP surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
	// TriggerRatePerMinute throttles POST run requests; 0 keeps the default.
	TriggerRatePerMinute int `yaml:"triggerRatePerMinute"`
}

func (c *APIServerConfig) applyDefaults() {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.TriggerRatePerMinute <= 0 {
		c.TriggerRatePerMinute = 30
	}
}

// TelemetryConfig configures the OTLP metrics exporter.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

func (c *TelemetryConfig) applyDefaults() {
	c.OTLPEndpoint = strings.TrimSpace(c.OTLPEndpoint)
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4318"
	}
	c.ServiceName = strings.TrimSpace(c.ServiceName)
	if c.ServiceName == "" {
		c.ServiceName = "orderingest"
	}
}

// AppConfig is the unified application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Timezone    string          `yaml:"timezone"`
	IO          IOConfig        `yaml:"io"`
	Schedule    ScheduleConfig  `yaml:"schedule"`
	Database    DatabaseConfig  `yaml:"database"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file is present.
func Default() AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(configPath string) (AppConfig, error) {
	bytes, err := os.ReadFile(configPath)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads the config file when it exists, otherwise returns
// defaults. The boolean reports whether a file was read.
func LoadOrDefault(configPath string) (AppConfig, bool, error) {
	cfg, err := Load(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), false, nil
		}
		return AppConfig{}, false, err
	}
	return cfg, true, nil
}

func (c *AppConfig) applyDefaults() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Timezone = strings.TrimSpace(c.Timezone)
	if c.Timezone == "" {
		c.Timezone = "Asia/Singapore"
	}
	c.IO.applyDefaults()
	c.Schedule.applyDefaults()
	c.Database.applyDefaults()
	c.APIServer.applyDefaults()
	c.Telemetry.applyDefaults()
}

// Validate checks cross-field consistency after defaults are applied.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod (got %q)", c.Environment)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if err := c.IO.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone. Validate guarantees it parses.
func (c AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/opspulse/streammon/internal/model"
)

// Config holds the tunable surface of the monitor. Values come from
// built-in defaults, optionally overridden by a YAML file and then by
// environment variables.
type Config struct {
	HTTPAddr         string             `yaml:"http_addr"`
	NATSURL          string             `yaml:"nats_url"`
	BufferCapacity   int                `yaml:"buffer_capacity"`
	DedupeCapacity   int                `yaml:"dedupe_capacity"`
	AuditCapacity    int                `yaml:"audit_capacity"`
	SubscriberBuffer int                `yaml:"subscriber_buffer"`
	RetentionDays    int                `yaml:"audit_retention_days"`
	SLAHours         map[string]float64 `yaml:"sla_hours"`
}

// DefaultSLAHours is the built-in severity to SLA-hours table.
var DefaultSLAHours = map[model.Severity]float64{
	model.SeverityCritical: 4,
	model.SeverityHigh:     24,
	model.SeverityMedium:   72,
	model.SeverityLow:      168,
	model.SeverityInfo:     720,
}

// Default returns the built-in configuration.
func Default() *Config {
	sla := make(map[string]float64, len(DefaultSLAHours))
	for sev, hours := range DefaultSLAHours {
		sla[string(sev)] = hours
	}
	return &Config{
		HTTPAddr:         ":8080",
		NATSURL:          "nats://localhost:4222",
		BufferCapacity:   1000,
		DedupeCapacity:   100000,
		AuditCapacity:    10000,
		SubscriberBuffer: 64,
		RetentionDays:    30,
		SLAHours:         sla,
	}
}

// Load builds the configuration from defaults, an optional YAML file at
// path (empty path skips the file), and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.HTTPAddr = getEnv("SM_HTTP_ADDR", cfg.HTTPAddr)
	cfg.NATSURL = getEnv("SM_NATS_URL", cfg.NATSURL)
	cfg.BufferCapacity = getEnvInt("SM_BUFFER_CAPACITY", cfg.BufferCapacity)
	cfg.DedupeCapacity = getEnvInt("SM_DEDUPE_CAP", cfg.DedupeCapacity)
	cfg.AuditCapacity = getEnvInt("SM_AUDIT_CAPACITY", cfg.AuditCapacity)
	cfg.SubscriberBuffer = getEnvInt("SM_SUBSCRIBER_BUFFER", cfg.SubscriberBuffer)
	cfg.RetentionDays = getEnvInt("SM_AUDIT_RETENTION_DAYS", cfg.RetentionDays)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive, got %d", c.BufferCapacity)
	}
	if c.AuditCapacity <= 0 {
		return fmt.Errorf("audit_capacity must be positive, got %d", c.AuditCapacity)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber_buffer must be positive, got %d", c.SubscriberBuffer)
	}
	for sev, hours := range c.SLAHours {
		if !model.ValidSeverity(model.Severity(sev)) {
			return fmt.Errorf("sla_hours references unknown severity %q", sev)
		}
		if hours <= 0 {
			return fmt.Errorf("sla_hours for %q must be positive, got %v", sev, hours)
		}
	}
	return nil
}

// SLATable returns the effective severity to hours lookup, falling back to
// the built-in table for severities the file left out.
func (c *Config) SLATable() map[model.Severity]float64 {
	table := make(map[model.Severity]float64, len(DefaultSLAHours))
	for sev, hours := range DefaultSLAHours {
		table[sev] = hours
	}
	for sev, hours := range c.SLAHours {
		table[model.Severity(sev)] = hours
	}
	return table
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

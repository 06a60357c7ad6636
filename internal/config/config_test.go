package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspulse/streammon/internal/model"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 1000, cfg.BufferCapacity)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, 4.0, cfg.SLAHours["critical"])
	assert.Equal(t, 720.0, cfg.SLAHours["info"])
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfigFile(t, `
http_addr: ":9090"
buffer_capacity: 250
sla_hours:
  critical: 2
  high: 12
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 250, cfg.BufferCapacity)
	// Untouched values keep their defaults.
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 2.0, cfg.SLAHours["critical"])
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `http_addr: ":9090"`)
	t.Setenv("SM_HTTP_ADDR", ":7070")
	t.Setenv("SM_BUFFER_CAPACITY", "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, 42, cfg.BufferCapacity)
}

func TestLoadIgnoresUnparseableEnvInt(t *testing.T) {
	t.Setenv("SM_BUFFER_CAPACITY", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.BufferCapacity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "http_addr: [unbalanced")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero buffer capacity",
			mutate:  func(c *Config) { c.BufferCapacity = 0 },
			wantErr: "buffer_capacity",
		},
		{
			name:    "negative audit capacity",
			mutate:  func(c *Config) { c.AuditCapacity = -1 },
			wantErr: "audit_capacity",
		},
		{
			name:    "zero subscriber buffer",
			mutate:  func(c *Config) { c.SubscriberBuffer = 0 },
			wantErr: "subscriber_buffer",
		},
		{
			name:    "unknown severity",
			mutate:  func(c *Config) { c.SLAHours["catastrophic"] = 1 },
			wantErr: "unknown severity",
		},
		{
			name:    "non-positive sla hours",
			mutate:  func(c *Config) { c.SLAHours["critical"] = 0 },
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSLATable(t *testing.T) {
	cfg := Default()
	cfg.SLAHours = map[string]float64{"critical": 1}

	table := cfg.SLATable()
	assert.Equal(t, 1.0, table[model.SeverityCritical])
	// Severities the override left out fall back to the built-in table.
	assert.Equal(t, 24.0, table[model.SeverityHigh])
	assert.Equal(t, 168.0, table[model.SeverityLow])
}

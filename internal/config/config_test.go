package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 100000.0, cfg.Workflow.HighValueThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, SinkStore, cfg.Notify.Sink)
	assert.Equal(t, "@every 15m", cfg.Reminders.Schedule)
	assert.True(t, cfg.IsDev())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	writeFile(t, dir, "config.yaml", `
db:
  driver: SQLite
  path: /tmp/crm.db
workflow:
  high_value_threshold: 250000
cache:
  ttl: 30s
notify:
  sink: redis
`)
	t.Setenv("CRM_NOTIFY_REDIS_CHANNEL", "sales")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, "/tmp/crm.db", cfg.DB.Path)
	assert.Equal(t, 250000.0, cfg.Workflow.HighValueThreshold)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, SinkRedis, cfg.Notify.Sink)
	assert.Equal(t, "sales", cfg.Notify.RedisChannel)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	envFile := writeFile(t, dir, "test.env", "CRM_DB_HOST=db.internal\nCRM_LOG_LEVEL=debug\n")
	t.Cleanup(func() {
		os.Unsetenv("CRM_DB_HOST")
		os.Unsetenv("CRM_LOG_LEVEL")
	})

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Contains(t, cfg.PostgresDSN(), "host=db.internal")
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := LoadConfig("does-not-exist.env")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.DB.Driver = DriverPostgres
		c.DB.Port = 5432
		c.Notify.Sink = SinkStore
		c.Telemetry.Exporter = ExporterStdout
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.DB.Driver = "oracle" }, true},
		{"bad port", func(c *Config) { c.DB.Port = 0 }, true},
		{"sqlite without path", func(c *Config) { c.DB.Driver = DriverSQLite }, true},
		{"unknown sink", func(c *Config) { c.Notify.Sink = "pigeon" }, true},
		{"webhook without url", func(c *Config) { c.Notify.Sink = SinkWebhook }, true},
		{"negative threshold", func(c *Config) { c.Workflow.HighValueThreshold = -1 }, true},
		{"otlp exporter", func(c *Config) { c.Telemetry.Exporter = ExporterOTLP }, false},
		{"unknown exporter", func(c *Config) { c.Telemetry.Exporter = "zipkin" }, true},
		{"tls without cert", func(c *Config) { c.TLS.Enable = true }, true},
		{"reminder schedule", func(c *Config) { c.Reminders.Enable = true; c.Reminders.Schedule = "@every 15m" }, false},
		{"cron reminder schedule", func(c *Config) { c.Reminders.Enable = true; c.Reminders.Schedule = "*/10 8-18 * * 1-5" }, false},
		{"bad reminder schedule", func(c *Config) { c.Reminders.Enable = true; c.Reminders.Schedule = "sometimes" }, true},
		{"disabled reminders ignore schedule", func(c *Config) { c.Reminders.Schedule = "sometimes" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

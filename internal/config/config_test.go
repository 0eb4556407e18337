package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, DispatchSync, cfg.Map.Dispatch)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090

[storage]
backend = "pebble"
pebble_dir = "/tmp/flights"

[map]
dispatch = "async"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15, cfg.Server.ReadTimeoutSecs)
	assert.Equal(t, BackendPebble, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/flights", cfg.Storage.PebbleDir)
	assert.Equal(t, DispatchAsync, cfg.Map.Dispatch)
	assert.Equal(t, "flight_map.html", cfg.Map.OutputPath)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[server\nport = "))
	assert.Error(t, err)
}

func TestLoadWithFallback_NoFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, path, err := LoadWithFallback("")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithFallback_PreferredPath(t *testing.T) {
	path := writeConfig(t, "[logging]\nlevel = \"debug\"\n")

	cfg, used, err := LoadWithFallback(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("API_PORT", "7000")
	t.Setenv("STORAGE_BACKEND", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")
	t.Setenv("MONGO_URI", "mongodb://mongo:27017")
	t.Setenv("TEMPORAL_HOST", "temporal:7233")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("MAP_OUTPUT_PATH", "/srv/map.html")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.Storage.PostgresURL)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Storage.MongoURI)
	assert.Equal(t, "temporal:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/srv/map.html", cfg.Map.OutputPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"negative rate", func(c *Config) { c.Server.RateLimitRPS = -1 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = "" }},
		{"same collections", func(c *Config) {
			c.Storage.Backend = BackendMongo
			c.Storage.LogsCollection = c.Storage.ActiveCollection
		}},
		{"no map path", func(c *Config) { c.Map.OutputPath = "" }},
		{"bad center", func(c *Config) { c.Map.CenterLat = 95 }},
		{"unknown dispatch", func(c *Config) { c.Map.Dispatch = "cron" }},
		{"temporal without queue", func(c *Config) {
			c.Map.Dispatch = DispatchTemporal
			c.Temporal.TaskQueue = ""
		}},
		{"kafka without topic", func(c *Config) {
			c.Events.KafkaBrokers = "localhost:9092"
			c.Events.KafkaTopic = ""
		}},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_FillsDerivedDefaults(t *testing.T) {
	cfg := Default()
	cfg.Server.RateLimitRPS = 5
	cfg.Server.RateLimitBurst = 0
	cfg.Map.Dispatch = ""
	cfg.Map.QueueSize = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Server.RateLimitBurst)
	assert.Equal(t, DispatchSync, cfg.Map.Dispatch)
	assert.Equal(t, 256, cfg.Map.QueueSize)
}

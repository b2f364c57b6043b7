package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "supervision_raw", cfg.Store.RawTable)
	assert.Equal(t, "sucursales", cfg.Store.RegistryTable)
	assert.Equal(t, "supervision_normalized", cfg.Store.NormalizedTable)
	assert.Equal(t, int32(4), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "America/Monterrey", cfg.Engine.Timezone)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Engine.CacheTTL())
	assert.Equal(t, 4, cfg.Engine.MinSubstringLen)
	assert.Equal(t, []string{"PUNTOS MAXIMOS", "PUNTAJE MAXIMO"}, cfg.Engine.MaxPointsMarkers)
	assert.Equal(t, []string{"Nuevo León"}, cfg.Territory.LocalStates)
	assert.Equal(t, []string{"GRUPO SALTILLO"}, cfg.Territory.LocalGroups)
	assert.Empty(t, cfg.Territory.ForaneaExceptions)
	assert.InDelta(t, 0.05, cfg.Quality.UnmappedRateThreshold, 0.001)
	assert.InDelta(t, 0.10, cfg.Quality.InsufficientRateThreshold, 0.001)
	assert.InDelta(t, 0.25, cfg.Quality.WarningRateThreshold, 0.001)
	assert.Equal(t, 5, cfg.Quality.MinSubmissions)
	assert.Equal(t, 900, cfg.Quality.CheckIntervalSecs)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250, cfg.Retry.InitialBackoffMs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: supervision.db
  registry_table: branches
log:
  level: debug
  format: console
engine:
  workers: 2
  cache_ttl_secs: 30
territory:
  local_states: ["Nuevo León", "Coahuila"]
  foranea_exceptions: [12, 40]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "supervision.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "branches", cfg.Store.RegistryTable)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.Engine.CacheTTL())
	assert.Equal(t, []string{"Nuevo León", "Coahuila"}, cfg.Territory.LocalStates)
	assert.Equal(t, []int{12, 40}, cfg.Territory.ForaneaExceptions)
	// Defaults still apply for unset values
	assert.Equal(t, "supervision_raw", cfg.Store.RawTable)
	assert.Equal(t, []string{"GRUPO SALTILLO"}, cfg.Territory.LocalGroups)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SUPERVISION_STORE_DRIVER", "postgres")
	t.Setenv("SUPERVISION_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SUPERVISION_ENGINE_TIMEZONE", "America/Mexico_City")
	t.Setenv("SUPERVISION_QUALITY_MIN_SUBMISSIONS", "20")
	t.Setenv("SUPERVISION_STORE_DATABASE_URL", "postgres://localhost/supervision")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/supervision", cfg.Store.DatabaseURL)
	assert.Equal(t, "America/Mexico_City", cfg.Engine.Timezone)
	assert.Equal(t, 20, cfg.Quality.MinSubmissions)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [driver"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.MaxConns = 4
	cfg.Engine.Timezone = "America/Monterrey"
	cfg.Engine.Workers = 8
	cfg.Engine.CacheTTLSecs = 600
	cfg.Engine.MinSubstringLen = 4
	cfg.Quality.UnmappedRateThreshold = 0.05
	cfg.Quality.InsufficientRateThreshold = 0.10
	cfg.Quality.WarningRateThreshold = 0.25
	cfg.Retry.MaxAttempts = 3
	return cfg
}

func TestValidate_AllModesPass(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"store", "engine", "quality"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateStore_PostgresRequiresURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/supervision"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateStore_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `got "mysql"`)
}

func TestValidateStore_ConnBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.MinConns = 8

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_conns/max_conns")
}

func TestValidateStore_IgnoresEngineSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Engine.Workers = 0
	cfg.Engine.Timezone = ""

	assert.NoError(t, cfg.Validate("store"))
	assert.Error(t, cfg.Validate("engine"))
}

func TestValidateEngine_CollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Engine.Workers = 0
	cfg.Engine.CacheTTLSecs = -1
	cfg.Engine.MinSubstringLen = 0
	cfg.Engine.Timezone = "Mars/Olympus_Mons"
	cfg.Territory.ForaneaExceptions = []int{12, -3}
	cfg.Retry.MaxAttempts = 0

	err := cfg.Validate("engine")
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "engine.workers")
	assert.Contains(t, msg, "engine.cache_ttl_secs")
	assert.Contains(t, msg, "engine.min_substring_len")
	assert.Contains(t, msg, "Mars/Olympus_Mons")
	assert.Contains(t, msg, "got -3")
	assert.Contains(t, msg, "retry.max_attempts")
}

func TestValidateQuality_Thresholds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unmapped above one", func(c *Config) { c.Quality.UnmappedRateThreshold = 1.5 }, "quality.unmapped_rate_threshold"},
		{"insufficient negative", func(c *Config) { c.Quality.InsufficientRateThreshold = -0.1 }, "quality.insufficient_rate_threshold"},
		{"warning above one", func(c *Config) { c.Quality.WarningRateThreshold = 2 }, "quality.warning_rate_threshold"},
		{"webhook scheme", func(c *Config) { c.Quality.WebhookURL = "ftp://alerts" }, "quality.webhook_url"},
		{"disabled thresholds are valid", func(c *Config) {
			c.Quality.UnmappedRateThreshold = 0
			c.Quality.WebhookURL = "https://hooks.example.com/x"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("quality")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}

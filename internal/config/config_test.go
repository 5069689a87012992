package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "femasync.db", cfg.Store.SQLitePath)
	assert.Equal(t, "https://www.fema.gov/api/open/v2/DisasterDeclarationsSummaries", cfg.API.URL)
	assert.Equal(t, 10000, cfg.API.PageSize)
	assert.Equal(t, 0, cfg.API.Skip)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "femasync.log", cfg.Log.File)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/declarations.db
api:
  page_size: 500
  skip: 1500
log:
  level: debug
  format: console
  file: ""
metrics:
  addr: ":9464"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/declarations.db", cfg.Store.SQLitePath)
	assert.Equal(t, 500, cfg.API.PageSize)
	assert.Equal(t, 1500, cfg.API.Skip)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Empty(t, cfg.Log.File)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)

	t.Setenv("FEMASYNC_STORE_USER", "etl")
	t.Setenv("FEMASYNC_STORE_PASSWORD", "secret")
	t.Setenv("FEMASYNC_STORE_HOST", "db.internal")
	t.Setenv("FEMASYNC_STORE_PORT", "5433")
	t.Setenv("FEMASYNC_STORE_DATABASE", "disasters")
	t.Setenv("FEMASYNC_METRICS_ADDR", ":9464")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "etl", cfg.Store.User)
	assert.Equal(t, "secret", cfg.Store.Password)
	assert.Equal(t, "db.internal", cfg.Store.Host)
	assert.Equal(t, 5433, cfg.Store.Port)
	assert.Equal(t, "disasters", cfg.Store.Database)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
api:
  page_size: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("FEMASYNC_API_PAGE_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.API.PageSize)
}

func validConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:   "postgres",
			User:     "etl",
			Password: "secret",
			Host:     "db.internal",
			Port:     5432,
			Database: "disasters",
		},
		API: APIConfig{
			URL:      "https://www.fema.gov/api/open/v2/DisasterDeclarationsSummaries",
			PageSize: 10000,
		},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingPostgresFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no user", func(c *Config) { c.Store.User = "" }, "store.user"},
		{"no password", func(c *Config) { c.Store.Password = "" }, "store.password"},
		{"no host", func(c *Config) { c.Store.Host = "" }, "store.host"},
		{"no port", func(c *Config) { c.Store.Port = 0 }, "store.port"},
		{"no database", func(c *Config) { c.Store.Database = "" }, "store.database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_MissingPostgresFields_ListsAll(t *testing.T) {
	cfg := validConfig()
	cfg.Store.User = ""
	cfg.Store.Host = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.user")
	assert.Contains(t, err.Error(), "store.host")
}

func TestValidate_SQLiteDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Store = StoreConfig{Driver: "sqlite", SQLitePath: "local.db"}
	assert.NoError(t, cfg.Validate())

	cfg.Store.SQLitePath = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite_path")
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Driver = "oracle"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestValidate_APISettings(t *testing.T) {
	cfg := validConfig()
	cfg.API.URL = ""
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.API.PageSize = 0
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.API.Skip = -1
	require.Error(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	s := StoreConfig{
		User:     "etl",
		Password: "p@ss word",
		Host:     "db.internal",
		Port:     5433,
		Database: "disasters",
	}
	dsn := s.DSN()
	assert.Contains(t, dsn, "postgres://")
	assert.Contains(t, dsn, "etl:p%40ss%20word@db.internal:5433/disasters")
}

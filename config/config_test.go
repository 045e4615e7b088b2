package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/family-ledger/config"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.DriverSQLite, cfg.Database.Driver)

	rate, err := cfg.RewardRate()
	require.NoError(t, err)
	assert.Equal(t, "0.01", rate.String())

	// No secret by default
	require.Error(t, cfg.Validate())
	cfg.Auth.JWTSecret = "s3cret"
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A YAML file setting port and rate, and PORT in the environment
	// WHEN: Loading
	// THEN: The environment wins for port; the file supplies the rest

	dir := chdirTemp(t)
	path := filepath.Join(dir, "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
database:
  driver: postgres
  dsn: postgres://localhost/ledger
ledger:
  points_to_currency_rate: "0.05"
  timezone: America/New_York
cors:
  allowed_origins: [https://app.example.com]
`), 0o600))
	t.Setenv("PORT", "9100")
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, config.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/ledger", cfg.Database.DSN)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)

	every, err := cfg.AuditEvery()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, every)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CORS_ALLOWED_ORIGINS=https://a.test, https://b.test\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CORS_ALLOWED_ORIGINS") })

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "mysql"
	cfg.Ledger.PointsToCurrencyRate = "-1"
	cfg.Ledger.Timezone = "Mars/Olympus"
	cfg.Ledger.AuditInterval = "soon"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"database.driver", "points_to_currency_rate", "ledger.timezone", "audit_interval", "jwt_secret"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	chdirTemp(t)
	_, err := config.Load("does-not-exist.yaml")
	assert.Error(t, err)
}

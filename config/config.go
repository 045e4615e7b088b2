// Package config loads server settings. Precedence, lowest first: built-in
// defaults, an optional YAML file, a .env file and the process environment.
// Command-line flags are applied on top by cmd/server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port     string   `yaml:"port"`
	Database Database `yaml:"database"`
	Ledger   Ledger   `yaml:"ledger"`
	Auth     Auth     `yaml:"auth"`
	Log      Log      `yaml:"log"`
	CORS     CORS     `yaml:"cors"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Ledger struct {
	// PointsToCurrencyRate is kept as text so 0.01 is never a float.
	PointsToCurrencyRate string `yaml:"points_to_currency_rate"`
	Timezone             string `yaml:"timezone"`
	// AuditInterval is how often the server re-checks every balance
	// against its ledger; "0" turns the audit off.
	AuditInterval string `yaml:"audit_interval"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or human
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func Default() *Config {
	return &Config{
		Port:     "8080",
		Database: Database{Driver: DriverSQLite, DSN: "family-ledger.db"},
		Ledger:   Ledger{PointsToCurrencyRate: "0.01", Timezone: "UTC", AuditInterval: "1h"},
		Log:      Log{Level: "info", Format: "json"},
		CORS:     CORS{AllowedOrigins: []string{"*"}},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DATABASE_URL", c.Database.DSN)
	c.Ledger.PointsToCurrencyRate = getEnv("POINTS_TO_CURRENCY_RATE", c.Ledger.PointsToCurrencyRate)
	c.Ledger.Timezone = getEnv("LEDGER_TIMEZONE", c.Ledger.Timezone)
	c.Ledger.AuditInterval = getEnv("AUDIT_INTERVAL", c.Ledger.AuditInterval)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.CORS.AllowedOrigins = splitList(v)
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if _, err := c.RewardRate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.AuditEvery(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Log.Format {
	case "json", "human":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or human, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// RewardRate is the currency value of one chore point.
func (c *Config) RewardRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Ledger.PointsToCurrencyRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.points_to_currency_rate: %w", err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, errors.New("ledger.points_to_currency_rate must be positive")
	}
	return rate, nil
}

// Location is where weekly and monthly spending windows start.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("ledger.timezone: %w", err)
	}
	return loc, nil
}

// AuditEvery parses AuditInterval. Zero means disabled.
func (c *Config) AuditEvery() (time.Duration, error) {
	s := strings.TrimSpace(c.Ledger.AuditInterval)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("ledger.audit_interval: %w", err)
	}
	if d < 0 {
		return 0, errors.New("ledger.audit_interval must not be negative")
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

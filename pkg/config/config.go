package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for warehouse-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3400"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (product PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Managed warehouse configuration
	ManagedWarehouse ManagedWarehouseConfig `yaml:"managed_warehouse"`

	// Query execution configuration
	Query QueryConfig `yaml:"query"`

	// Credential encryption key for data source connection params.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds product PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"warehouse_engine"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"warehouse_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ManagedWarehouseConfig holds admin credentials for the managed event
// warehouse. The admin user provisions per-datasource readonly users and runs
// schema DDL; the provisioned users only ever read.
type ManagedWarehouseConfig struct {
	Host          string `yaml:"host" env:"MANAGED_WH_HOST" env-default:""`
	Port          int    `yaml:"port" env:"MANAGED_WH_PORT" env-default:"5432"`
	Database      string `yaml:"database" env:"MANAGED_WH_DATABASE" env-default:"events"`
	AdminUser     string `yaml:"admin_user" env:"MANAGED_WH_ADMIN_USER" env-default:""`
	AdminPassword string `yaml:"-" env:"MANAGED_WH_ADMIN_PASSWORD"` // Secret - not in YAML
	SSLMode       string `yaml:"ssl_mode" env:"MANAGED_WH_SSLMODE" env-default:"require"`
	EventsTable   string `yaml:"events_table" env:"MANAGED_WH_EVENTS_TABLE" env-default:"events"`
}

// IsAvailable returns true if the managed warehouse is configured.
func (c *ManagedWarehouseConfig) IsAvailable() bool {
	return c.Host != "" && c.AdminUser != ""
}

// AdminParams returns connection params for the admin user, in the shape the
// postgres adapter expects.
func (c *ManagedWarehouseConfig) AdminParams() map[string]any {
	return map[string]any{
		"host":         c.Host,
		"port":         c.Port,
		"database":     c.Database,
		"user":         c.AdminUser,
		"password":     c.AdminPassword,
		"ssl_mode":     c.SSLMode,
		"events_table": c.EventsTable,
	}
}

// QueryConfig holds query execution limits.
type QueryConfig struct {
	// TestTimeoutSeconds bounds exposure query preview execution.
	TestTimeoutSeconds int `yaml:"test_timeout_seconds" env:"QUERY_TEST_TIMEOUT_SECONDS" env-default:"30"`
	// RunTimeoutSeconds bounds free-form query execution.
	RunTimeoutSeconds int `yaml:"run_timeout_seconds" env:"QUERY_RUN_TIMEOUT_SECONDS" env-default:"120"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Secrets (PGPASSWORD, CREDENTIALS_KEY,
// MANAGED_WH_ADMIN_PASSWORD) must come from environment variables.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if cfg.CredentialsKey == "" {
		return nil, fmt.Errorf("CREDENTIALS_KEY environment variable is required")
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

package mssql

import (
	"fmt"
	"net/url"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from a generic params map.
func FromMap(params map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	host, ok := params["host"].(string)
	if !ok || host == "" {
		return nil, fmt.Errorf("host is required")
	}
	cfg.Host = host

	if port, ok := params["port"].(float64); ok { // JSON numbers are float64
		cfg.Port = int(port)
	} else if port, ok := params["port"].(int); ok {
		cfg.Port = port
	}

	database, ok := params["database"].(string)
	if !ok || database == "" {
		return nil, fmt.Errorf("database is required")
	}
	cfg.Database = database

	if user, ok := params["user"].(string); ok {
		cfg.Username = user
	}
	if password, ok := params["password"].(string); ok {
		cfg.Password = password
	}
	if encrypt, ok := params["encrypt"].(bool); ok {
		cfg.Encrypt = encrypt
	}
	if trust, ok := params["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}
	if timeout, ok := params["connection_timeout"].(float64); ok {
		cfg.ConnectionTimeout = int(timeout)
	}

	return cfg, nil
}

// buildConnectionString builds a sqlserver URL with proper escaping.
func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Set("database", cfg.Database)
	query.Set("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	if cfg.Encrypt {
		query.Set("encrypt", "true")
	} else {
		query.Set("encrypt", "disable")
	}
	if cfg.TrustServerCertificate {
		query.Set("trustservercertificate", "true")
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

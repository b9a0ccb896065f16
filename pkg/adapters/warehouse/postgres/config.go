package postgres

import (
	"fmt"
	"net/url"
)

// DefaultEventsTable is the managed warehouse table materialized columns are
// added to.
const DefaultEventsTable = "events"

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// EventsTable is the table managed materialized columns live on.
	// Only meaningful for the managed kind.
	EventsTable string
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// FromMap creates a Config from a generic params map.
func FromMap(params map[string]any) (*Config, error) {
	cfg := &Config{
		Port:        DefaultPort(),
		SSLMode:     "require",
		EventsTable: DefaultEventsTable,
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
		cfg.User = user
	}
	if password, ok := params["password"].(string); ok {
		cfg.Password = password
	}
	if sslMode, ok := params["ssl_mode"].(string); ok && sslMode != "" {
		cfg.SSLMode = sslMode
	}
	if eventsTable, ok := params["events_table"].(string); ok && eventsTable != "" {
		cfg.EventsTable = eventsTable
	}

	return cfg, nil
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields must be URL-escaped to handle special characters
// in passwords (e.g., @, /, #, ?) that would otherwise break URL parsing.
func buildConnectionString(cfg *Config) string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		cfg.SSLMode,
	)
}

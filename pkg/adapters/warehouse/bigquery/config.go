package bigquery

import (
	"encoding/json"
	"fmt"
)

// Config contains BigQuery-specific connection options. Authentication uses a
// service account key (client email + private key).
type Config struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string
	Dataset     string
}

// FromMap creates a Config from a generic params map.
func FromMap(params map[string]any) (*Config, error) {
	cfg := &Config{}

	projectID, ok := params["project_id"].(string)
	if !ok || projectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	cfg.ProjectID = projectID

	clientEmail, ok := params["client_email"].(string)
	if !ok || clientEmail == "" {
		return nil, fmt.Errorf("client_email is required")
	}
	cfg.ClientEmail = clientEmail

	privateKey, ok := params["private_key"].(string)
	if !ok || privateKey == "" {
		return nil, fmt.Errorf("private_key is required")
	}
	cfg.PrivateKey = privateKey

	if dataset, ok := params["dataset"].(string); ok {
		cfg.Dataset = dataset
	}

	return cfg, nil
}

// credentialsJSON assembles the service-account key document the Google client
// libraries expect.
func credentialsJSON(cfg *Config) ([]byte, error) {
	creds := map[string]string{
		"type":         "service_account",
		"project_id":   cfg.ProjectID,
		"client_email": cfg.ClientEmail,
		"private_key":  cfg.PrivateKey,
		"token_uri":    "https://oauth2.googleapis.com/token",
	}
	return json.Marshal(creds)
}

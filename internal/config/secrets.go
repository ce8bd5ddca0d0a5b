package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Secrets holds sensitive configuration loaded from environment variables.
// Secrets never live in the YAML config file, and are not accepted as CLI
// flags because flags are visible in process listings (ps auxww).
type Secrets struct {
	// DBKey is the SQLCipher encryption key for the history database.
	// Env: URLSENTRY_DB_KEY
	DBKey string `envconfig:"URLSENTRY_DB_KEY"`

	// ProviderAPIKey is passed through to injected evidence producers that
	// need upstream authentication.
	// Env: URLSENTRY_PROVIDER_API_KEY
	ProviderAPIKey string `envconfig:"URLSENTRY_PROVIDER_API_KEY"`
}

// LoadSecrets loads secrets from environment variables
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("failed to load secrets from environment: %w", err)
	}
	return &s, nil
}

// ValidateDBKey validates the database encryption key if set
func (s *Secrets) ValidateDBKey() error {
	if s.DBKey != "" && len(s.DBKey) < 16 {
		return errors.New("database encryption key must be at least 16 characters")
	}
	return nil
}

// HasDBEncryption returns true if database encryption is configured
func (s *Secrets) HasDBEncryption() bool {
	return s.DBKey != ""
}

// MaskProviderAPIKey returns a masked version of the provider API key for logging
func (s *Secrets) MaskProviderAPIKey() string {
	if s.ProviderAPIKey == "" {
		return "(not set)"
	}
	if len(s.ProviderAPIKey) <= 8 {
		return "****"
	}
	return s.ProviderAPIKey[:4] + "****" + s.ProviderAPIKey[len(s.ProviderAPIKey)-4:]
}

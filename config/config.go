package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server's runtime settings.
type Config struct {
	// Identity provider
	KeycloakServerURL    string
	KeycloakRealm        string
	KeycloakClientID     string
	KeycloakClientSecret string

	// Storage API
	StorageAPIBaseURL string
	StorageAPITimeout time.Duration

	// Server identity, used for the User-Agent header
	ServerName    string
	ServerVersion string

	// Logging
	LogLevel string
}

// Environment variable names.
const (
	EnvKeycloakServerURL    = "KEYCLOAK_SERVER_URL"
	EnvKeycloakRealm        = "KEYCLOAK_REALM"
	EnvKeycloakClientID     = "KEYCLOAK_CLIENT_ID"
	EnvKeycloakClientSecret = "KEYCLOAK_CLIENT_SECRET"
	EnvStorageAPIBaseURL    = "MINIO_API_BASE_URL"
	EnvStorageAPITimeout    = "MINIO_API_TIMEOUT"
	EnvServerName           = "MCP_SERVER_NAME"
	EnvServerVersion        = "MCP_SERVER_VERSION"
	EnvLogLevel             = "LOG_LEVEL"
)

// FromEnv loads configuration from the process environment.
func FromEnv() (*Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) (string, error) {
		v, ok := lookup(key)
		if !ok {
			return "", nil
		}
		expanded, err := ExpandEnvStrict(v)
		if err != nil {
			return "", fmt.Errorf("config: %s: %w", key, err)
		}
		return expanded, nil
	}

	cfg := &Config{
		StorageAPITimeout: 30 * time.Second,
		ServerName:        "storagegate",
		ServerVersion:     "1.0.0",
		LogLevel:          "info",
	}

	var err error
	if cfg.KeycloakServerURL, err = get(EnvKeycloakServerURL); err != nil {
		return nil, err
	}
	if cfg.KeycloakRealm, err = get(EnvKeycloakRealm); err != nil {
		return nil, err
	}
	if cfg.KeycloakClientID, err = get(EnvKeycloakClientID); err != nil {
		return nil, err
	}
	if cfg.KeycloakClientSecret, err = get(EnvKeycloakClientSecret); err != nil {
		return nil, err
	}
	if cfg.StorageAPIBaseURL, err = get(EnvStorageAPIBaseURL); err != nil {
		return nil, err
	}

	if v, ok := lookup(EnvStorageAPITimeout); ok && v != "" {
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			return nil, fmt.Errorf("config: %s must be an integer number of seconds, got %q", EnvStorageAPITimeout, v)
		}
		cfg.StorageAPITimeout = time.Duration(secs) * time.Second
	}
	if v, ok := lookup(EnvServerName); ok && v != "" {
		cfg.ServerName = v
	}
	if v, ok := lookup(EnvServerVersion); ok && v != "" {
		cfg.ServerVersion = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration and normalizes URLs.
func (c *Config) Validate() error {
	if err := validateURL("keycloak server URL", c.KeycloakServerURL); err != nil {
		return err
	}
	c.KeycloakServerURL = strings.TrimRight(c.KeycloakServerURL, "/")

	if c.KeycloakRealm == "" {
		return fmt.Errorf("config: keycloak realm is required")
	}
	if c.KeycloakClientID == "" {
		return fmt.Errorf("config: keycloak client ID is required")
	}

	if err := validateURL("storage API base URL", c.StorageAPIBaseURL); err != nil {
		return err
	}
	c.StorageAPIBaseURL = strings.TrimRight(c.StorageAPIBaseURL, "/")

	if c.StorageAPITimeout < time.Second || c.StorageAPITimeout > 300*time.Second {
		return fmt.Errorf("config: storage API timeout must be between 1s and 300s, got %s", c.StorageAPITimeout)
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("config: log level must be one of debug|info|warn|error, got %q", c.LogLevel)
	}

	return nil
}

// UserAgent returns the User-Agent string for storage API calls.
func (c *Config) UserAgent() string {
	return c.ServerName + "/" + c.ServerVersion
}

func validateURL(name, v string) error {
	if v == "" {
		return fmt.Errorf("config: %s is required", name)
	}
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return fmt.Errorf("config: %s must start with http:// or https://, got %q", name, v)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Detection DetectionConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Auth      AuthConfig
	Catalog   CatalogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/csp-rules.db"`
}

// DetectionConfig holds detection rule service configuration.
type DetectionConfig struct {
	KibanaURL         string        `env:"DETECTION_KIBANA_URL"`
	Space             string        `env:"DETECTION_SPACE"`
	APIKey            string        `env:"DETECTION_API_KEY"`
	OAuthClientID     string        `env:"DETECTION_OAUTH_CLIENT_ID"`
	OAuthClientSecret string        `env:"DETECTION_OAUTH_CLIENT_SECRET"`
	OAuthTokenURL     string        `env:"DETECTION_OAUTH_TOKEN_URL"`
	OAuthScopes       string        `env:"DETECTION_OAUTH_SCOPES"`
	FileShim          string        `env:"DETECTION_FILE_SHIM"` // Path to a JSON file of detection rules (disables Kibana)
	Timeout           time.Duration `env:"DETECTION_TIMEOUT" envDefault:"30s"`
	LookupConcurrency int           `env:"DETECTION_LOOKUP_CONCURRENCY" envDefault:"4"`
}

// GetOAuthScopes returns the OAuth scopes as a slice.
func (c *DetectionConfig) GetOAuthScopes() []string {
	return splitList(c.OAuthScopes)
}

// Enabled reports whether any detection rule backend is configured.
func (c *DetectionConfig) Enabled() bool {
	return c.FileShim != "" || c.KibanaURL != ""
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	BootstrapAPIKey    string `env:"BOOTSTRAP_API_KEY"`
	OIDCEnabled        bool   `env:"OIDC_ENABLED" envDefault:"false"`
	OIDCIssuerURL      string `env:"OIDC_ISSUER_URL"`
	OIDCClientID       string `env:"OIDC_CLIENT_ID"`
	OIDCAllowedDomains string `env:"OIDC_ALLOWED_DOMAINS"`
}

// GetAllowedDomains returns the allowed domains as a slice.
func (c *AuthConfig) GetAllowedDomains() []string {
	return splitList(c.OIDCAllowedDomains)
}

// CatalogConfig holds the benchmark rule catalog source.
type CatalogConfig struct {
	File  string `env:"CATALOG_FILE"`
	Watch bool   `env:"CATALOG_WATCH" envDefault:"false"`
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load loads configuration from a .env file, if present, and environment
// variables. Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Detection); err != nil {
		return nil, fmt.Errorf("parsing detection config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}
	if err := env.Parse(&cfg.Metrics); err != nil {
		return nil, fmt.Errorf("parsing metrics config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.Catalog); err != nil {
		return nil, fmt.Errorf("parsing catalog config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	// The file shim replaces Kibana entirely.
	if c.Detection.FileShim == "" && c.Detection.KibanaURL != "" {
		if _, err := url.ParseRequestURI(c.Detection.KibanaURL); err != nil {
			return fmt.Errorf("DETECTION_KIBANA_URL is not a valid URL: %w", err)
		}
		if c.Detection.APIKey == "" && c.Detection.OAuthClientID == "" {
			return fmt.Errorf("DETECTION_API_KEY or DETECTION_OAUTH_CLIENT_ID is required with DETECTION_KIBANA_URL")
		}
		if c.Detection.OAuthClientID != "" && c.Detection.OAuthTokenURL == "" {
			return fmt.Errorf("DETECTION_OAUTH_TOKEN_URL is required with DETECTION_OAUTH_CLIENT_ID")
		}
	}
	if c.Detection.LookupConcurrency < 1 {
		return fmt.Errorf("DETECTION_LOOKUP_CONCURRENCY must be at least 1")
	}

	if c.Auth.OIDCEnabled {
		if c.Auth.OIDCIssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled")
		}
		if c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled")
		}
	}

	if c.Catalog.Watch && c.Catalog.File == "" {
		return fmt.Errorf("CATALOG_FILE is required when CATALOG_WATCH is enabled")
	}

	return nil
}

// UseFileShim returns true if the file shim should be used instead of Kibana.
func (c *Config) UseFileShim() bool {
	return c.Detection.FileShim != ""
}

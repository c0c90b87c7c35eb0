package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/kbgate/internal/docs"
	"github.com/alexjbarnes/kbgate/internal/logging"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for kbgate.
//
// The signing key and upstream OAuth settings are deliberately not
// required at startup. Routes that need them answer with server_error
// until they are set, which keeps the discovery endpoints and health
// checks usable on a half-configured deployment.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8090"`

	// Issuer overrides the issuer derived from the request origin.
	Issuer     string `env:"OAUTH_ISSUER"`
	SigningKey string `env:"OAUTH_SIGNING_KEY"`

	// Upstream identity provider (confidential client).
	AccessClientID         string        `env:"ACCESS_CLIENT_ID"`
	AccessClientSecret     string        `env:"ACCESS_CLIENT_SECRET"`
	AccessAuthorizationURL string        `env:"ACCESS_AUTHORIZATION_URL"`
	AccessTokenURL         string        `env:"ACCESS_TOKEN_URL"`
	AccessJWKSURL          string        `env:"ACCESS_JWKS_URL"`
	AccessOIDCIssuer       string        `env:"ACCESS_OIDC_ISSUER"`
	UpstreamTimeout        time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	// Protected documentation site.
	PublicBaseURL   string `env:"PUBLIC_BASE_URL"`
	AllowedPrefixes string `env:"ALLOWED_PREFIXES"`
	SearchIndexPath string `env:"SEARCH_INDEX_PATH" envDefault:"/search/search_index.json"`

	MCPServerName    string `env:"MCP_SERVER_NAME" envDefault:"VB Knowledge Base"`
	MCPServerVersion string `env:"MCP_SERVER_VERSION" envDefault:"1.0.0"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the signing key to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.trim()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) trim() {
	for _, s := range []*string{
		&c.Issuer,
		&c.SigningKey,
		&c.AccessClientID,
		&c.AccessClientSecret,
		&c.AccessAuthorizationURL,
		&c.AccessTokenURL,
		&c.AccessJWKSURL,
		&c.AccessOIDCIssuer,
		&c.PublicBaseURL,
		&c.SearchIndexPath,
	} {
		*s = strings.TrimSpace(*s)
	}

	c.Issuer = strings.TrimRight(c.Issuer, "/")
}

func (c *Config) validate() error {
	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}

	urls := []struct {
		name  string
		value string
	}{
		{"OAUTH_ISSUER", c.Issuer},
		{"ACCESS_AUTHORIZATION_URL", c.AccessAuthorizationURL},
		{"ACCESS_TOKEN_URL", c.AccessTokenURL},
		{"ACCESS_JWKS_URL", c.AccessJWKSURL},
		{"PUBLIC_BASE_URL", c.PublicBaseURL},
	}
	for _, u := range urls {
		if u.value == "" {
			continue
		}
		if err := validateHTTPURL(u.value); err != nil {
			return fmt.Errorf("%s: %w", u.name, err)
		}
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}

	if u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// MissingUpstream lists the upstream settings that are not configured.
func (c *Config) MissingUpstream() []string {
	var missing []string

	for _, f := range []struct {
		name  string
		value string
	}{
		{"ACCESS_CLIENT_ID", c.AccessClientID},
		{"ACCESS_CLIENT_SECRET", c.AccessClientSecret},
		{"ACCESS_AUTHORIZATION_URL", c.AccessAuthorizationURL},
		{"ACCESS_TOKEN_URL", c.AccessTokenURL},
		{"ACCESS_JWKS_URL", c.AccessJWKSURL},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}

	return missing
}

// ParseAllowedPrefixes returns the normalized ALLOWED_PREFIXES list.
func (c *Config) ParseAllowedPrefixes() []string {
	return docs.ParsePrefixes(c.AllowedPrefixes)
}

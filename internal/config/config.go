package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the companion service.
type Config struct {
	// Mode controls logging verbosity and gin mode: "prod" (default) or "testing".
	Mode string

	// DataDir is the directory holding profile documents.
	DataDir string

	// PublicProfiles is a comma-separated list of profile names that are never encrypted.
	PublicProfiles string

	// DatastoreType selects the profile store plugin.
	DatastoreType string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	ManagementAccessLog       bool
	// AdminEndpoints mounts the /admin session API wherever management routes are served.
	AdminEndpoints            bool
	CORSEnabled               bool
	CORSOrigins               string

	// Sessions
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration

	// WatchProfiles reloads live sessions when a profile document is edited outside the service.
	WatchProfiles bool
	WatchDebounce time.Duration

	// Encryption
	// EncryptionCipher names the provider used for new envelopes ("aesgcm" or "xchacha").
	// Existing envelopes are always opened with the provider named in their header.
	EncryptionCipher string
	// EncryptionKDFLogN is log2 of the scrypt cost parameter for new envelopes.
	EncryptionKDFLogN int

	// Key-derivation cache backend ("local" or "none").
	CacheType    string
	CacheMaxKeys int64

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeProd,
		DataDir:        "./data/profiles",
		PublicProfiles: "default,template",
		DatastoreType:  "file",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         false,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		SessionIdleTimeout:   30 * time.Minute,
		SessionSweepInterval: time.Minute,
		WatchDebounce:        500 * time.Millisecond,
		EncryptionCipher:     "aesgcm",
		EncryptionKDFLogN:    15,
		CacheType:            "local",
		CacheMaxKeys:         1024,
		MetricsLabels:        "service=companion-service",
		MaxBodySize:          2 * 1024 * 1024,
		DrainTimeout:         30,
	}
}

// PublicProfileNames returns the configured public profile names, trimmed and de-duplicated.
func (c *Config) PublicProfileNames() []string {
	if c == nil {
		return nil
	}
	seen := map[string]bool{}
	var names []string
	for _, part := range strings.Split(c.PublicProfiles, ",") {
		name := strings.TrimSpace(part)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// DefaultProfileName is the public profile used when nothing else was selected.
func (c *Config) DefaultProfileName() string {
	names := c.PublicProfileNames()
	if len(names) == 0 {
		return "default"
	}
	return names[0]
}

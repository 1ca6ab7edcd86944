package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/config"
	registrycache "github.com/chirino/companion-service/internal/registry/cache"
	registryencrypt "github.com/chirino/companion-service/internal/registry/encrypt"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/companion-service/internal/plugin/cache/local"
	_ "github.com/chirino/companion-service/internal/plugin/cache/noop"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/aesgcm"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/xchacha"
	_ "github.com/chirino/companion-service/internal/plugin/route/system"
	_ "github.com/chirino/companion-service/internal/plugin/store/filestore"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the companion service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Run mode: prod or testing",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.BoolFlag{
			Name:        "admin-endpoints",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_ADMIN_ENDPOINTS"),
			Destination: &cfg.AdminEndpoints,
			Usage:       "Serve the unauthenticated /admin session API next to the management endpoints",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS headers for browser clients",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins; empty allows any",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout",
			Category:    "Server:",
			Sources:     cli.EnvVars("COMPANION_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("COMPANION_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("COMPANION_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("COMPANION_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("COMPANION_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("COMPANION_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("COMPANION_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── Profiles ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "data-dir",
			Category:    "Profiles:",
			Sources:     cli.EnvVars("COMPANION_DATA_DIR"),
			Destination: &cfg.DataDir,
			Value:       cfg.DataDir,
			Usage:       "Directory holding profile documents",
		},
		&cli.StringFlag{
			Name:        "public-profiles",
			Category:    "Profiles:",
			Sources:     cli.EnvVars("COMPANION_PUBLIC_PROFILES"),
			Destination: &cfg.PublicProfiles,
			Value:       cfg.PublicProfiles,
			Usage:       "Comma-separated character names that are never encrypted; the first is the default character",
		},
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Profiles:",
			Sources:     cli.EnvVars("COMPANION_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Profile store (" + strings.Join(registrystore.Names(), ", ") + ")",
		},
		&cli.BoolFlag{
			Name:        "watch-profiles",
			Category:    "Profiles:",
			Sources:     cli.EnvVars("COMPANION_WATCH_PROFILES"),
			Destination: &cfg.WatchProfiles,
			Usage:       "Reload live sessions when a profile document is edited outside the service",
		},
		&cli.DurationFlag{
			Name:        "watch-debounce",
			Category:    "Profiles:",
			Sources:     cli.EnvVars("COMPANION_WATCH_DEBOUNCE"),
			Destination: &cfg.WatchDebounce,
			Value:       cfg.WatchDebounce,
			Usage:       "Quiet period before an edited profile is reloaded",
		},

		// ── Sessions ──────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "session-idle-timeout",
			Category:    "Sessions:",
			Sources:     cli.EnvVars("COMPANION_SESSION_IDLE_TIMEOUT"),
			Destination: &cfg.SessionIdleTimeout,
			Value:       cfg.SessionIdleTimeout,
			Usage:       "Sessions idle longer than this are removed",
		},
		&cli.DurationFlag{
			Name:        "session-sweep-interval",
			Category:    "Sessions:",
			Sources:     cli.EnvVars("COMPANION_SESSION_SWEEP_INTERVAL"),
			Destination: &cfg.SessionSweepInterval,
			Value:       cfg.SessionSweepInterval,
			Usage:       "How often idle sessions are swept (0 disables sweeping)",
		},

		// ── Encryption ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "encryption-cipher",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("COMPANION_ENCRYPTION_CIPHER"),
			Destination: &cfg.EncryptionCipher,
			Value:       cfg.EncryptionCipher,
			Usage:       "Cipher for new envelopes (" + strings.Join(registryencrypt.Names(), ", ") + ")",
		},
		&cli.IntFlag{
			Name:        "encryption-kdf-log-n",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("COMPANION_ENCRYPTION_KDF_LOG_N"),
			Destination: &cfg.EncryptionKDFLogN,
			Value:       cfg.EncryptionKDFLogN,
			Usage:       "log2 of the scrypt cost for new envelopes",
		},
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("COMPANION_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Derived-key cache (" + strings.Join(registrycache.Names(), ", ") + ")",
		},
		&cli.Int64Flag{
			Name:        "cache-max-keys",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("COMPANION_CACHE_MAX_KEYS"),
			Destination: &cfg.CacheMaxKeys,
			Value:       cfg.CacheMaxKeys,
			Usage:       "Maximum derived keys kept by the local cache",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("COMPANION_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}

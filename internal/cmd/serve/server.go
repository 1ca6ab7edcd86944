package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/agent"
	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/dataencryption"
	_ "github.com/chirino/companion-service/internal/plugin/route/admin"
	_ "github.com/chirino/companion-service/internal/plugin/route/chat"
	_ "github.com/chirino/companion-service/internal/plugin/route/profiles"
	routesystem "github.com/chirino/companion-service/internal/plugin/route/system"
	storemetrics "github.com/chirino/companion-service/internal/plugin/store/metrics"
	registrycache "github.com/chirino/companion-service/internal/registry/cache"
	registrymigrate "github.com/chirino/companion-service/internal/registry/migrate"
	registryroute "github.com/chirino/companion-service/internal/registry/route"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/chirino/companion-service/internal/security"
	"github.com/chirino/companion-service/internal/service"
	"github.com/chirino/companion-service/internal/session"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config         *config.Config
	Store          registrystore.ProfileStore
	Sessions       *session.Manager
	Router         *gin.Engine
	Running        *RunningServers
	Management     *RunningServers
	stopBackground context.CancelFunc
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	if s.stopBackground != nil {
		s.stopBackground()
	}
	if s.Management != nil {
		_ = s.Management.Close(ctx)
	}
	return s.Running.Close(ctx)
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting companion service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"dataDir", cfg.DataDir,
		"cipher", cfg.EncryptionCipher,
		"cache", cfg.CacheType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Initialize the derived-key cache and inject it into context so the cipher can read it.
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if keyCache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		ctx = registrycache.WithKeyCacheContext(ctx, keyCache)
	}

	cipher, err := dataencryption.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	ctx = dataencryption.WithContext(ctx, cipher)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	rawStore, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store := storemetrics.Wrap(rawStore)

	sessions := session.NewManager(agent.CompanionFactory(store), cfg.SessionIdleTimeout)

	// Set up gin
	if cfg.Mode == config.ModeTesting {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.CORSEnabled {
		router.Use(newCORSPolicy(cfg.CORSOrigins).middleware())
	}
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.OptionalSessionMiddleware(sessions))
	router.Use(security.AuditMiddleware("/v1/password", "/v1/profiles"))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	deps := registryroute.Deps{Config: cfg, Store: store, Sessions: sessions}
	if err := registryroute.Mount(router, registryroute.RouteTypeMain, deps); err != nil {
		return nil, err
	}

	// Start background services. They stop on Shutdown or when ctx ends.
	bgCtx, stopBackground := context.WithCancel(ctx)

	sweeper := service.NewSessionSweeper(sessions, cfg.SessionSweepInterval)
	go sweeper.Start(bgCtx)

	if cfg.WatchProfiles {
		dir := cfg.DataDir
		if d, ok := rawStore.(interface{ Dir() string }); ok {
			dir = d.Dir()
		}
		watcher := service.NewProfileWatcher(dir, sessions, store, cfg.WatchDebounce)
		if err := watcher.Start(bgCtx); err != nil {
			log.Warn("Profile watcher disabled", "dir", dir, "err", err)
		}
	}

	// Mount management route plugins. If a dedicated management port is configured,
	// run them on a bare gin engine served by the management server. Otherwise,
	// mount them on the main router so existing single-port behaviour is unchanged.
	var management *RunningServers
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := mountManagement(mgmtRouter, cfg, deps); err != nil {
			stopBackground()
			return nil, err
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		management, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			stopBackground()
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		if cfg.AdminEndpoints {
			log.Warn("Admin endpoints are served on the main port without authentication")
		}
		if err := mountManagement(router, cfg, deps); err != nil {
			stopBackground()
			return nil, err
		}
	}

	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		stopBackground()
		if management != nil {
			_ = management.Close(context.Background())
		}
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:         cfg,
		Store:          store,
		Sessions:       sessions,
		Router:         router,
		Running:        running,
		Management:     management,
		stopBackground: stopBackground,
	}, nil
}

// mountManagement mounts health and metrics routes, then admin routes when enabled.
func mountManagement(r gin.IRouter, cfg *config.Config, deps registryroute.Deps) error {
	if err := registryroute.Mount(r, registryroute.RouteTypeManagement, deps); err != nil {
		return err
	}
	if !cfg.AdminEndpoints {
		return nil
	}
	return registryroute.Mount(r, registryroute.RouteTypeAdmin, deps)
}

// Package main provides the entry point for the SSO ticket service.
// It initializes all dependencies, sets up HTTP routes with middleware,
// and starts the server with graceful shutdown support.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/auth"
	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/cookie"
	"github.com/apereo/cas-sub072/internal/database/postgres"
	"github.com/apereo/cas-sub072/internal/handlers"
	"github.com/apereo/cas-sub072/internal/logout"
	"github.com/apereo/cas-sub072/internal/middleware"
	"github.com/apereo/cas-sub072/internal/registry"
	"github.com/apereo/cas-sub072/internal/repository"
	"github.com/apereo/cas-sub072/internal/services"
	"github.com/apereo/cas-sub072/internal/startup"
	"github.com/apereo/cas-sub072/internal/ticket"
	"github.com/apereo/cas-sub072/pkg/logger"
)

func main() {
	// Load .env.local file only in development (when GO_ENV is not set or set to "development")
	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" || goEnv == "development" {
		if err := godotenv.Load(".env.local"); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Error loading .env.local file: %v\n", err)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithConfig(&cfg.Logging)
	log.Info("Starting SSO ticket service")
	log.WithFields(logrus.Fields{
		"port":     cfg.Server.Port,
		"host":     cfg.Server.Host,
		"registry": cfg.Ticket.RegistryBackend,
		"tls":      cfg.IsTLSEnabled(),
	}).Info("Service configuration loaded")

	// Ticket registry backend
	reg, redisClient := initializeRegistry(cfg, log)
	defer closeRegistry(reg, log)

	// Service database (optional; the registry degrades without it)
	dbMgr := initializeDatabase(cfg, log)
	defer closeDatabase(dbMgr, log)

	// Registered-service lookup
	serviceManager, serviceRepo := initializeServiceManager(dbMgr, redisClient, log)

	// Seed registrations from the configuration file when enabled
	if serviceRepo != nil {
		registrar := startup.NewServiceRegistrar(cfg, serviceRepo, log)
		if regErr := registrar.RegisterServices(context.Background()); regErr != nil {
			log.WithError(regErr).Error("Failed to register services during startup")
			// Don't exit, continue with service startup
		}
	}

	// Core ticket lifecycle
	factory := ticket.NewFactory(&cfg.Ticket)
	dispatcher := logout.NewManager(&cfg.Logout, serviceManager, log)
	central := auth.NewCentralService(reg, serviceManager, factory, dispatcher, log)

	// Background expired-ticket sweeping, cascading through the coordinator
	// so expired sessions fire single sign-out like explicit destruction
	cleaner := registry.NewCleaner(reg, func(ctx context.Context, tgtID string) error {
		_, destroyErr := central.DestroyTicketGrantingTicket(ctx, tgtID)
		return destroyErr
	}, cfg.Ticket.CleanupInterval, log)
	cleaner.Start()
	defer cleaner.Stop()

	server := setupServer(cfg, central, reg, dbMgr, cleaner, redisClient, log)
	runServer(server, cfg, log)
}

// initializeRegistry selects the ticket registry backend. The Redis client
// is returned separately so other components can share its pool; it is nil
// for the memory backend.
func initializeRegistry(cfg *config.Config, log *logrus.Logger) (registry.Registry, *goredis.Client) {
	if cfg.Ticket.RegistryBackend == config.RegistryRedis {
		redisRegistry, err := registry.NewRedisRegistry(&cfg.Redis, log)
		if err != nil {
			log.WithError(err).Warn("Failed to connect to Redis, falling back to in-memory registry")
			log.Warn("Note: in-memory registry will not share sessions across nodes")
			return registry.NewMemoryRegistry(log), nil
		}
		return redisRegistry, redisRegistry.Client()
	}

	return registry.NewMemoryRegistry(log), nil
}

// initializeDatabase connects to the PostgreSQL service registry when
// configured. A nil manager means static or file-seeded registrations only.
func initializeDatabase(cfg *config.Config, log *logrus.Logger) *postgres.Manager {
	if !cfg.IsPostgresDatabaseConfigured() {
		log.Info("Service database not configured, registered services are file-seeded only")
		return nil
	}

	dbMgr, err := postgres.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize service database manager")
		return nil
	}
	return dbMgr
}

// initializeServiceManager builds the registered-service lookup path:
// Postgres primary with Redis cache when both are available, degrading to
// whichever is present, and finally to an empty static registry.
func initializeServiceManager(
	dbMgr *postgres.Manager,
	redisClient *goredis.Client,
	log *logrus.Logger,
) (services.Manager, repository.ServiceRepository) {
	var repo repository.ServiceRepository

	switch {
	case dbMgr != nil && redisClient != nil:
		repo = repository.NewHybridServiceRepository(
			repository.NewPostgresServiceRepository(dbMgr.Pool),
			repository.NewRedisServiceRepository(redisClient, log),
			log,
		)
		log.Info("Using hybrid Postgres+Redis service repository")
	case dbMgr != nil:
		repo = repository.NewPostgresServiceRepository(dbMgr.Pool)
		log.Info("Using Postgres service repository")
	default:
		log.Warn("No service database available; no registered services will resolve")
		return services.NewStaticManager(nil), nil
	}

	return services.NewRepositoryManager(repo, log), repo
}

func closeRegistry(reg registry.Registry, log *logrus.Logger) {
	if err := reg.Close(); err != nil {
		log.WithError(err).Error("Failed to close ticket registry")
	}
}

func closeDatabase(dbMgr *postgres.Manager, log *logrus.Logger) {
	if dbMgr != nil {
		dbMgr.Close()
		log.Info("Database connections closed")
	}
}

func setupServer(
	cfg *config.Config,
	central *auth.CentralService,
	reg registry.Registry,
	dbMgr *postgres.Manager,
	cleaner *registry.Cleaner,
	redisClient *goredis.Client,
	log *logrus.Logger,
) *http.Server {
	cookies := cookie.NewManager(&cfg.Cookie, &cfg.Security)

	ticketHandler := handlers.NewTicketHandler(central, cookies, log)
	healthHandler := handlers.NewHealthHandler(cfg, reg, dbMgr, log)
	adminHandler := handlers.NewAdminHandler(reg, cleaner, log)

	middlewareStack := middleware.NewStack(cfg, redisClient, log)

	router := mux.NewRouter()

	apiV1Router := router.PathPrefix("/api/v1").Subrouter()
	healthHandler.RegisterRoutes(apiV1Router)
	ticketHandler.RegisterRoutes(apiV1Router)

	// Admin surface behind API-key auth
	adminRouter := apiV1Router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middlewareStack.AdminAuth)
	adminHandler.RegisterRoutes(adminRouter)

	finalHandler := middlewareStack.Chain(
		router,
		middlewareStack.Recovery,
		middlewareStack.RequestLogger,
		middlewareStack.Metrics,
		middlewareStack.SecurityHeaders,
		middlewareStack.CORS,
		middlewareStack.RateLimit,
		middlewareStack.ContentType,
	)

	return &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      finalHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func runServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	go startServer(server, cfg, log)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Server forced to shutdown")
	} else {
		log.Info("Server exited gracefully")
	}
}

func startServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	log.WithFields(logrus.Fields{
		"addr": server.Addr,
		"tls":  cfg.IsTLSEnabled(),
	}).Info("Starting HTTP server")

	var startErr error
	if cfg.IsTLSEnabled() {
		startErr = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
	} else {
		startErr = server.ListenAndServe()
	}

	if startErr != nil && startErr != http.ErrServerClosed {
		log.WithError(startErr).Fatal("Failed to start server")
	}
}

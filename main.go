package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/adapters/datasource"
	_ "github.com/panelhub-io/panelhub-engine/pkg/adapters/datasource/postgres"
	"github.com/panelhub-io/panelhub-engine/pkg/auth"
	"github.com/panelhub-io/panelhub-engine/pkg/authz"
	"github.com/panelhub-io/panelhub-engine/pkg/config"
	"github.com/panelhub-io/panelhub-engine/pkg/crypto"
	"github.com/panelhub-io/panelhub-engine/pkg/database"
	"github.com/panelhub-io/panelhub-engine/pkg/handlers"
	"github.com/panelhub-io/panelhub-engine/pkg/middleware"
	"github.com/panelhub-io/panelhub-engine/pkg/repositories"
	"github.com/panelhub-io/panelhub-engine/pkg/services"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure on exit is harmless

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("authVerification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Host),
	)

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to metadata store", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	box, err := crypto.NewSecretBox(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("invalid credentials key", zap.Error(err))
	}

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSURL:            cfg.Auth.JWKSURL,
	})
	if err != nil {
		logger.Fatal("failed to create JWKS client", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(jwksClient, logger)

	registry := datasource.NewRegistry(datasource.RegistryConfig{
		TTLMinutes:         cfg.Gateway.PoolTTLMinutes,
		PoolMaxConns:       cfg.Gateway.PoolMaxConns,
		PoolMinConns:       cfg.Gateway.PoolMinConns,
		HealthCheckTimeout: time.Duration(cfg.Gateway.HealthTimeoutSeconds) * time.Second,
		ConnectTimeout:     time.Duration(cfg.Gateway.ConnectTimeoutSeconds) * time.Second,
	}, logger)
	factory := datasource.NewFactory(registry)

	connectionRepo := repositories.NewConnectionRepository(db)
	memberRepo := repositories.NewMemberRepository(db)
	hierarchyRepo := repositories.NewHierarchyRepository(db)

	resolver := authz.NewResolver(hierarchyRepo, memberRepo)

	connectionService := services.NewConnectionService(connectionRepo, resolver, box, registry, logger)
	gatewayService := services.NewGatewayService(connectionRepo, hierarchyRepo, resolver, factory, box, services.GatewayTimeouts{
		HealthCheck: time.Duration(cfg.Gateway.HealthTimeoutSeconds) * time.Second,
		Query:       time.Duration(cfg.Gateway.QueryTimeoutSeconds) * time.Second,
	}, logger)
	projectService := services.NewProjectService(hierarchyRepo, memberRepo, connectionRepo, resolver, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(db, cfg.Version, logger).RegisterRoutes(mux)
	handlers.NewProjectsHandler(projectService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewHierarchyHandler(projectService, gatewayService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewConnectionsHandler(connectionService, gatewayService, logger).RegisterRoutes(mux, authMiddleware)

	server := &http.Server{
		Addr:         cfg.BindAddr + ":" + cfg.Port,
		Handler:      middleware.RequestLogger(logger)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting panelhub-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
		)
		if cfg.TLSCertPath != "" {
			errCh <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}

		stats := registry.GetStats()
		logger.Info("closing pool registry",
			zap.Int("pools", stats.TotalPools),
			zap.Int("activeLeases", stats.ActiveLeases),
		)
		if err := registry.Close(); err != nil {
			logger.Error("failed to close pool registry", zap.Error(err))
		}
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runMigrations applies schema migrations through database/sql, which the
// migration tooling requires; the pgx pool is used everywhere else.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
}

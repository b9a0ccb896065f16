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

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	_ "github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse/bigquery"
	_ "github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse/mssql"
	wpostgres "github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse/postgres"
	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/config"
	"github.com/uplift-analytics/warehouse-engine/pkg/crypto"
	"github.com/uplift-analytics/warehouse-engine/pkg/database"
	"github.com/uplift-analytics/warehouse-engine/pkg/handlers"
	"github.com/uplift-analytics/warehouse-engine/pkg/repositories"
	"github.com/uplift-analytics/warehouse-engine/pkg/services"
)

// Version is set at build time via ldflags
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
	defer logger.Sync() //nolint:errcheck // stderr sync failure at exit is harmless

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host),
		zap.Bool("managed_warehouse", cfg.ManagedWarehouse.IsAvailable()),
	)

	ctx := context.Background()

	// Migrations run over database/sql; the application itself uses pgxpool.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, "migrations", logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MinConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Failed to create credential encryptor", zap.Error(err))
	}

	factory := warehouse.NewFactory(encryptor)

	// The managed admin adapter provisions per-datasource readonly users.
	var managedAdmin warehouse.UserProvisioner
	if cfg.ManagedWarehouse.IsAvailable() {
		admin, err := wpostgres.NewManagedAdapter(cfg.ManagedWarehouse.AdminParams())
		if err != nil {
			logger.Fatal("Failed to configure managed warehouse admin", zap.Error(err))
		}
		managedAdmin = admin
	}

	// Repositories
	dsRepo := repositories.NewDataSourceRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)
	factTableRepo := repositories.NewFactTableRepository(db)
	dimensionSlicesRepo := repositories.NewDimensionSlicesRepository(db)
	queryHistoryRepo := repositories.NewQueryHistoryRepository(db)

	// Services
	policy := auth.NewRolePolicy()
	dsService := services.NewDataSourceService(dsRepo, orgRepo, encryptor, factory, policy, managedAdmin, logger)
	columnService := services.NewMaterializedColumnService(dsRepo, factTableRepo, factory, policy, nil, logger)
	queryService := services.NewQueryService(dsRepo, queryHistoryRepo, factory, policy,
		time.Duration(cfg.Query.TestTimeoutSeconds)*time.Second,
		time.Duration(cfg.Query.RunTimeoutSeconds)*time.Second,
		logger)
	slicesService := services.NewDimensionSlicesService(dimensionSlicesRepo, dsRepo, factory, policy, logger)

	// HTTP surface
	mw := auth.NewMiddleware(logger)
	mux := http.NewServeMux()
	handlers.NewDataSourcesHandler(dsService, logger).RegisterRoutes(mux, mw)
	handlers.NewMaterializedColumnsHandler(columnService, logger).RegisterRoutes(mux, mw)
	handlers.NewQueriesHandler(queryService, logger).RegisterRoutes(mux, mw)
	handlers.NewDimensionSlicesHandler(slicesService, logger).RegisterRoutes(mux, mw)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := handlers.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": cfg.Version,
		}); err != nil {
			logger.Error("Failed to write health response", zap.Error(err))
		}
	})

	addr := cfg.BindAddr + ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting warehouse-engine", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

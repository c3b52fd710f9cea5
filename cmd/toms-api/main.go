package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/toms-api/api/swagger"
	"github.com/noah-isme/toms-api/internal/handler"
	"github.com/noah-isme/toms-api/internal/middleware"
	"github.com/noah-isme/toms-api/internal/models"
	"github.com/noah-isme/toms-api/internal/repository"
	"github.com/noah-isme/toms-api/internal/service"
	"github.com/noah-isme/toms-api/pkg/cache"
	"github.com/noah-isme/toms-api/pkg/config"
	"github.com/noah-isme/toms-api/pkg/database"
	"github.com/noah-isme/toms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/toms-api/pkg/middleware/cors"
	"github.com/noah-isme/toms-api/pkg/middleware/session"
)

// @title TOMs API
// @version 1.0.0
// @description Proposal-scoped editing of traffic orders: restrictions, proposals and their acceptance.
// @BasePath /api/v1
// @schemes http

func main() {
	var (
		migrateOnly   bool
		migrationsDir string
		tomsPath      string
	)
	pflag.BoolVar(&migrateOnly, "migrate-only", false, "apply pending migrations and exit")
	pflag.StringVar(&migrationsDir, "migrations", "", "migrations directory (overrides TOMS_MIGRATIONS_DIR)")
	pflag.StringVar(&tomsPath, "toms-config", "", "directory holding TOMs.conf (overrides TOMS_CONFIG_PATH)")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if migrationsDir != "" {
		cfg.TOMs.MigrationsDir = migrationsDir
	}
	if tomsPath != "" {
		cfg.TOMs.ConfigPath = tomsPath
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	permissions, err := models.PermissionsForElevation(cfg.Deploy.UserElevation)
	if err != nil {
		logr.Fatal("invalid deployment elevation", zap.Error(err))
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	applied, err := database.ApplyMigrations(context.Background(), db, cfg.TOMs.MigrationsDir)
	if err != nil {
		logr.Fatal("failed to apply migrations", zap.Error(err))
	}
	logr.Info("migrations applied", zap.Strings("files", applied))
	if migrateOnly {
		return
	}

	tomsFile, err := config.LoadTOMsFile(cfg.TOMs.ConfigPath)
	if err != nil {
		logr.Fatal("failed to load TOMs configuration", zap.Error(err))
	}

	restrictionRepo := repository.NewRestrictionRepository(db, cfg.TOMs.SRID)
	ledgerRepo := repository.NewRestrictionsInProposalsRepository(db)
	proposalRepo := repository.NewProposalRepository(db)
	layerRepo := repository.NewRestrictionLayerRepository(db)

	layerSvc := service.NewLayerService(layerRepo, logr)
	if _, err := layerSvc.Verify(context.Background(), tomsFile.Layers); err != nil {
		logr.Fatal("restriction layers are not available", zap.Error(err))
	}

	var sessions cache.SessionStore = cache.NewMemorySessionStore()
	if cfg.TOMs.RedisSessions {
		client, err := cache.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close() //nolint:errcheck
		sessions = cache.NewRedisSessionStore(client, cfg.TOMs.SessionTTL)
	}

	metricsSvc := service.NewMetricsService()
	coordinator := service.NewTransactionCoordinator(database.SQLXBeginner{DB: db}, logr,
		service.WithTransactionObserver(metricsSvc),
		service.WithGroupIdleTimeout(cfg.TOMs.GroupIdleTimeout))
	engine := service.NewVersioningService(restrictionRepo, ledgerRepo, logr, service.WithVersioningObserver(metricsSvc))
	acceptance := service.NewAcceptanceService(ledgerRepo, restrictionRepo, proposalRepo, logr)
	registry := service.NewProposalService(proposalRepo, sessions, acceptance, coordinator, permissions, logr)
	mappingSvc := service.NewMappingUpdateService(restrictionRepo, ledgerRepo, logr)
	exportSvc := service.NewExportService(ledgerRepo, registry, logr)
	editing := service.NewEditingService(engine, restrictionRepo, coordinator, registry, mappingSvc, validator.New(), logr)
	splits := service.NewSplitCollector(engine, coordinator, registry, cfg.TOMs.SplitQuietWindow, logr,
		service.WithSplitCompletion(func(outcome service.SplitOutcome) {
			if outcome.ErrorCode != "" {
				logr.Warn("split gesture failed",
					zap.String("session_id", outcome.SessionID),
					zap.String("geometry_id", outcome.GeometryID),
					zap.String("code", outcome.ErrorCode))
			}
		}))

	sessionHandler := handler.NewSessionHandler(registry, coordinator)
	proposalHandler := handler.NewProposalHandler(registry, editing, exportSvc)
	restrictionHandler := handler.NewRestrictionHandler(editing, layerSvc, splits)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(session.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	write := middleware.RequirePermission(registry, models.PermWrite)
	confirm := middleware.RequirePermission(registry, models.PermConfirmOrders)

	api := r.Group(cfg.APIPrefix)
	{
		api.GET("/session/proposal", sessionHandler.CurrentProposal)
		api.PUT("/session/proposal", sessionHandler.SetCurrentProposal)
		api.GET("/session/transaction", sessionHandler.TransactionStatus)
		api.POST("/session/transaction", write, sessionHandler.StartTransaction)
		api.POST("/session/transaction/commit", write, sessionHandler.CommitTransaction)
		api.POST("/session/transaction/rollback", sessionHandler.RollbackTransaction)
		api.GET("/session/split", restrictionHandler.SplitStatus)
		api.POST("/session/split/flush", write, restrictionHandler.FlushSplit)
		api.DELETE("/session/split", restrictionHandler.CancelSplit)

		api.GET("/proposals", proposalHandler.List)
		api.POST("/proposals/initialise", write, proposalHandler.Initialise)
		api.GET("/proposals/:id", proposalHandler.Get)
		api.PUT("/proposals/:id", write, proposalHandler.Save)
		api.POST("/proposals/:id/accept", confirm, proposalHandler.Accept)
		api.POST("/proposals/:id/reject", confirm, proposalHandler.Reject)
		api.GET("/proposals/:id/schedule", middleware.RequirePermission(registry, models.PermPrint), proposalHandler.Schedule)
		api.POST("/mapping-updates/publish", middleware.RequirePermission(registry, models.PermFullControl), proposalHandler.PublishMappingUpdates)

		api.GET("/layers", restrictionHandler.Layers)
		api.GET("/layers/:layer/restrictions/:geometryId", restrictionHandler.Get)
		api.POST("/layers/:layer/restrictions", write, restrictionHandler.Create)
		api.PUT("/layers/:layer/restrictions/:geometryId", write, restrictionHandler.Update)
		api.DELETE("/layers/:layer/restrictions/:geometryId", write, restrictionHandler.Delete)
		api.POST("/layers/:layer/restrictions/:geometryId/split", write, restrictionHandler.Split)
		api.POST("/layers/:layer/restrictions/:geometryId/split-fragments", write, restrictionHandler.AddSplitFragment)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go coordinator.RunExpiry(ctx, time.Minute)

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "permissions", permissions.String(), "layers", len(tomsFile.Layers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	splits.Close()
	coordinator.Close(shutdownCtx)
}

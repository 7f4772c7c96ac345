package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"IBT-ASSESS/internal"
	"IBT-ASSESS/internal/config"
	"IBT-ASSESS/internal/handlers"
	"IBT-ASSESS/internal/logging"
	"IBT-ASSESS/internal/middleware"
	"IBT-ASSESS/internal/salesforce"
	"IBT-ASSESS/internal/services"
	"IBT-ASSESS/internal/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Server.Environment, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	policy := storage.RetryPolicy(cfg.Retry)
	policy.Logger = logger

	provider, err := storage.NewProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage provider: %w", err)
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}

	crm := salesforce.NewClient(salesforce.Options{
		Username:       cfg.Salesforce.Username,
		Password:       cfg.Salesforce.Password,
		SecurityToken:  cfg.Salesforce.SecurityToken,
		ConsumerKey:    cfg.Salesforce.ConsumerKey,
		ConsumerSecret: cfg.Salesforce.ConsumerSecret,
		TokenURL:       cfg.Salesforce.TokenURL,
		APIVersion:     cfg.Salesforce.APIVersion,
		Timeout:        cfg.Salesforce.Timeout,
	}, logger)

	projects := services.NewProjectService(provider, cfg.Storage.TemplatePaths(), logger)
	records := services.NewRecordService(crm, policy, logger)

	intakeOpts := services.IntakeOptions{
		Projects:      projects,
		Records:       records,
		BrowseBaseURL: cfg.Storage.BrowseBaseURL,
		Logger:        logger,
	}

	if cfg.Gotenberg.URL != "" {
		pdf, err := services.NewPDFService(cfg.Gotenberg.URL, cfg.Gotenberg.Timeout, policy, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize PDF service: %w", err)
		}
		intakeOpts.PDF = pdf
	} else {
		logger.Info("GOTENBERG_URL not set, PDF reports disabled")
	}

	var (
		db          *gorm.DB
		ledger      *services.SubmissionLedger
		activityLog *services.ActivityLogService
	)
	if cfg.Database.Enabled() {
		db, err = internal.OpenDB(cfg, logger)
		if err != nil {
			return err
		}
		defer internal.CloseDB(db)

		ledger = services.NewSubmissionLedger(db, logger)
		intakeOpts.Ledger = ledger
		activityLog = services.NewActivityLogService(db, logger)
		defer activityLog.Wait()

		if cfg.Database.LogRetention > 0 {
			cleanup := services.NewLogCleanupService(db, cfg.Database.LogRetention, logger)
			cleanup.Start()
			defer cleanup.Stop()
		}
	} else {
		logger.Info("DB_HOST not set, submission ledger and activity logs disabled")
	}

	intake := services.NewIntakeService(intakeOpts)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 32 << 20

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", handlers.Health)

	v1 := r.Group("/api/v1")
	if cfg.Auth.Enabled() {
		auth, stop, err := middleware.NewEntraJWTMiddleware(cfg.Auth, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize authentication: %w", err)
		}
		defer stop()
		v1.Use(auth)
	} else {
		logger.Warn("ENTRA_JWKS_URL not set, API is unauthenticated")
	}
	if activityLog != nil {
		v1.Use(activityLog.LoggingMiddleware())
	}

	assessmentHandler := handlers.NewAssessmentHandler(intake, records, cfg.Server.MaxUploadMB, logger)
	{
		v1.POST("/assessments/:type", assessmentHandler.Submit)
		v1.GET("/assessments/types", handlers.GetAssessmentTypes)
		v1.GET("/accounts", assessmentHandler.GetAccounts)
		v1.GET("/countries", handlers.GetCountries)
	}

	if ledger != nil {
		submissionsHandler := handlers.NewSubmissionsHandler(ledger)
		v1.GET("/submissions", submissionsHandler.List)
		v1.GET("/submissions/:id", submissionsHandler.Get)
	}
	if activityLog != nil {
		logsHandler := handlers.NewLogsHandler(activityLog)
		v1.GET("/logs", logsHandler.GetAllLogs)
		v1.GET("/logs/stats", logsHandler.GetLogStats)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("port", cfg.Server.Port),
			zap.String("storage", cfg.Storage.Provider),
			zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

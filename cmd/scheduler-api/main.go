package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/carewell/scheduling-api/api/swagger"
	"github.com/carewell/scheduling-api/internal/handler"
	"github.com/carewell/scheduling-api/internal/middleware"
	"github.com/carewell/scheduling-api/internal/repository"
	"github.com/carewell/scheduling-api/internal/service"
	"github.com/carewell/scheduling-api/pkg/billing"
	"github.com/carewell/scheduling-api/pkg/cache"
	"github.com/carewell/scheduling-api/pkg/config"
	"github.com/carewell/scheduling-api/pkg/database"
	"github.com/carewell/scheduling-api/pkg/export"
	"github.com/carewell/scheduling-api/pkg/jobs"
	"github.com/carewell/scheduling-api/pkg/locks"
	"github.com/carewell/scheduling-api/pkg/logger"
	corsmiddleware "github.com/carewell/scheduling-api/pkg/middleware/cors"
	reqidmiddleware "github.com/carewell/scheduling-api/pkg/middleware/requestid"
	"github.com/carewell/scheduling-api/pkg/notify"
)

// @title CareWell Scheduling API
// @version 0.1.0
// @description Individualized and cohort scheduling engine for multi-clinic therapy programs
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("redis connection failed", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	scheduleRepo := repository.NewCustomScheduleRepository(db)
	slotRepo := repository.NewSessionSlotRepository(db)
	modificationRepo := repository.NewModificationRepository(db)
	resolutionRepo := repository.NewResolutionRepository(db)
	cohortRepo := repository.NewCohortRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	syncOpRepo := repository.NewSyncOperationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	holidayRepo := repository.NewHolidayRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	notifier, stopNotifier := buildNotifier(ctx, cfg, logr)
	defer stopNotifier()

	validate := validator.New()
	metrics := service.NewMetricsService()

	// One lock map for every service that mutates enrollment schedules, so a
	// sync batch and a modification on the same enrollment never interleave.
	scheduleLocks := locks.NewKeyedMutex()
	var biller billing.Biller = billing.Nop{}

	genCfg := service.GeneratorConfig{
		AllowWeekends: cfg.Scheduler.AllowWeekends,
		AvoidHolidays: cfg.Scheduler.AvoidHolidays,
		Holidays:      cfg.Scheduler.Holidays,
	}

	generator := service.NewCalendarGeneratorService(
		enrollmentRepo, scheduleRepo, slotRepo, holidayRepo, validate, logr, genCfg,
	)
	detector := service.NewConflictDetectorService(slotRepo, enrollmentRepo, cohortRepo, notifier, validate, logr)
	resolver := service.NewConflictResolverService(
		detector, slotRepo, resolutionRepo, cacheRepo, db, validate, logr,
		service.ResolverConfig{
			LookaheadDays:   cfg.Conflicts.LookaheadDays,
			BulkConcurrency: cfg.Conflicts.BulkConcurrency,
			PatternCacheTTL: cfg.Analytics.CacheTTL,
		},
	)
	modification := service.NewModificationService(
		enrollmentRepo, slotRepo, scheduleRepo, modificationRepo, auditRepo,
		detector, holidayRepo, db, scheduleLocks, notifier, biller, validate, logr, genCfg,
	)
	cohort := service.NewCohortCoordinatorService(
		cohortRepo, enrollmentRepo, slotRepo, detector, auditRepo, cacheRepo,
		db, scheduleLocks, biller, validate, logr, cfg.Analytics.CacheTTL,
	)
	syncEngine := service.NewTemplateSyncService(
		templateRepo, enrollmentRepo, slotRepo, scheduleRepo, syncOpRepo,
		auditRepo, holidayRepo, db, scheduleLocks, notifier, validate, logr,
		service.SyncEngineConfig{
			BatchSize:           cfg.Sync.BatchSize,
			RollbackWindowHours: cfg.Sync.RollbackWindowHours,
			BackupSchedules:     cfg.Sync.BackupSchedules,
			Generation:          genCfg,
		},
	)
	exporter := service.NewExportService(slotRepo, detector, logr, export.NewCSVExporter(), export.NewPDFExporter())

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	handler.RegisterRoutes(r, handler.Handlers{
		Calendar:     handler.NewCalendarHandler(generator, metrics),
		Conflict:     handler.NewConflictHandler(detector, resolver, metrics),
		Modification: handler.NewModificationHandler(modification, metrics),
		Cohort:       handler.NewCohortHandler(cohort),
		Sync:         handler.NewSyncHandler(syncEngine, metrics),
		Export:       handler.NewExportHandler(exporter),
		Metrics:      handler.NewMetricsHandler(metrics),
	}, handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		JWTSecret:      cfg.JWT.Secret,
		AuditRepo:      auditRepo,
		ExportsEnabled: cfg.Export.Enabled,
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	runner := cron.New()
	if cfg.Sync.ScheduledCron != "" {
		_, err := runner.AddFunc(cfg.Sync.ScheduledCron, func() {
			if err := syncEngine.RunScheduled(context.Background()); err != nil {
				logr.Sugar().Errorw("scheduled sync run failed", "error", err)
			}
		})
		if err != nil {
			logr.Sugar().Fatalw("invalid scheduled sync cron expression", "cron", cfg.Sync.ScheduledCron, "error", err)
		}
		runner.Start()
		defer runner.Stop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// buildNotifier returns the configured notifier and a stop function for its
// worker queue. Without a Resend key events are discarded.
func buildNotifier(ctx context.Context, cfg *config.Config, logr *zap.Logger) (notify.Notifier, func()) {
	if !cfg.Notifications.Enabled || cfg.Notifications.ResendAPIKey == "" {
		return notify.Nop{}, func() {}
	}

	email := notify.NewEmailNotifier(cfg.Notifications.ResendAPIKey, cfg.Notifications.FromAddress, logr)
	queue := jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(notify.Event)
		if !ok {
			return fmt.Errorf("unexpected notification payload %T", job.Payload)
		}
		return email.Send(ctx, event)
	}, jobs.QueueConfig{
		Workers: cfg.Notifications.Workers,
		Logger:  logr,
	})
	queue.Start(ctx)
	return notify.NewQueued(queue), queue.Stop
}

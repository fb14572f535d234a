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
	"go.uber.org/zap"

	"github.com/klangwerk/lessonledger-api/internal/handler"
	"github.com/klangwerk/lessonledger-api/internal/middleware"
	"github.com/klangwerk/lessonledger-api/internal/repository"
	"github.com/klangwerk/lessonledger-api/internal/service"
	"github.com/klangwerk/lessonledger-api/pkg/cache"
	"github.com/klangwerk/lessonledger-api/pkg/config"
	"github.com/klangwerk/lessonledger-api/pkg/database"
	"github.com/klangwerk/lessonledger-api/pkg/logger"
	corsmiddleware "github.com/klangwerk/lessonledger-api/pkg/middleware/cors"
	reqidmiddleware "github.com/klangwerk/lessonledger-api/pkg/middleware/requestid"
)

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	// Redis is optional: pricing lookups just skip the cache without it.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, pricing cache disabled", zap.Error(err))
		redisClient = nil
	}

	templateRepo := repository.NewCourseTemplateRepository(db)
	holidayRepo := repository.NewHolidayRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	pricingRepo := repository.NewPricingRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	lessonSvc := service.NewLessonService(templateRepo, lessonRepo, enrollmentRepo, holidayRepo, metricsSvc, logr)
	pricingSvc := service.NewPricingService(pricingRepo, cacheRepo, db, nil, logr, cfg.Billing.PricingCacheTTL)
	ledgerSvc := service.NewLedgerService(ledgerRepo, paymentRepo, invoiceRepo, db, nil, logr, metricsSvc)
	invoiceSvc := service.NewInvoiceService(
		enrollmentRepo, studentRepo, templateRepo, lessonRepo, invoiceRepo,
		pricingSvc, ledgerSvc, db, nil, logr, metricsSvc, cfg.Billing)
	creditSvc := service.NewCreditService(ledgerRepo, invoiceRepo, ledgerSvc, studentRepo, db, nil, logr, metricsSvc)
	schedulerSvc := service.NewSchedulerService(lessonSvc, cfg.Generation, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(middleware.RequestLogger(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	lessonHandler := handler.NewLessonHandler(lessonSvc, schedulerSvc)
	pricingHandler := handler.NewPricingHandler(pricingSvc)
	invoiceHandler := handler.NewInvoiceHandler(invoiceSvc)
	ledgerHandler := handler.NewLedgerHandler(ledgerSvc)
	creditHandler := handler.NewCreditHandler(creditSvc)

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/courses/:id/lessons/generate", lessonHandler.Generate)
		api.POST("/lessons/generate-bulk", lessonHandler.GenerateBulk)
		api.PATCH("/lessons/:id/status", lessonHandler.UpdateStatus)
		api.POST("/lessons/scheduler/trigger", lessonHandler.TriggerScheduler)

		api.GET("/course-types/:id/pricing", pricingHandler.Current)
		api.GET("/course-types/:id/pricing/at", pricingHandler.At)
		api.GET("/course-types/:id/pricing/validate", pricingHandler.ValidateHistory)
		api.POST("/course-types/:id/pricing", pricingHandler.CreateVersion)
		api.PUT("/course-types/:id/pricing", pricingHandler.UpdateCurrent)

		api.POST("/enrollments/:id/invoices", invoiceHandler.Generate)
		api.POST("/invoices/generate-batch", invoiceHandler.GenerateBatch)
		api.GET("/invoices/:id", invoiceHandler.Get)
		api.POST("/invoices/:id/recalculate", invoiceHandler.Recalculate)
		api.POST("/invoices/:id/send", invoiceHandler.Send)
		api.POST("/invoices/:id/cancel", invoiceHandler.Cancel)

		api.POST("/payments", ledgerHandler.RecordPayment)
		api.GET("/students/:id/balance", ledgerHandler.Balance)
		api.GET("/students/:id/ledger", ledgerHandler.Statement)

		api.POST("/credit-notes", creditHandler.Create)
		api.GET("/credit-notes/:id/remaining", creditHandler.Remaining)
		api.POST("/credit-notes/:id/apply", creditHandler.Apply)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulerSvc.Start(ctx)
	defer schedulerSvc.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

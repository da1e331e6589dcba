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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/eutiquio/farm-portal-api/api/swagger"
	"github.com/eutiquio/farm-portal-api/internal/handler"
	"github.com/eutiquio/farm-portal-api/internal/middleware"
	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/internal/repository"
	"github.com/eutiquio/farm-portal-api/internal/service"
	"github.com/eutiquio/farm-portal-api/pkg/cache"
	"github.com/eutiquio/farm-portal-api/pkg/config"
	"github.com/eutiquio/farm-portal-api/pkg/database"
	"github.com/eutiquio/farm-portal-api/pkg/email"
	"github.com/eutiquio/farm-portal-api/pkg/logger"
	corsmiddleware "github.com/eutiquio/farm-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/eutiquio/farm-portal-api/pkg/middleware/requestid"
	"github.com/eutiquio/farm-portal-api/pkg/storage"
)

// @title Farm Portal API
// @version 1.0.0
// @description Course catalog, enrollment ledger, and visit booking backend for the Eutiquio Integrated Farm.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.Connect(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, catalog cache disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled && redisClient != nil)

	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewPreEnrollmentRepository(db, courseRepo)
	bookingRepo := repository.NewBookingRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)

	notificationSvc := service.NewNotificationService(notificationRepo, logr)

	mailerSvc := service.NewMailerService(email.NewSMTPSender(cfg.SMTP, logr), notificationSvc, metricsSvc,
		cfg.Mailer.Workers, cfg.Mailer.BufferSize, logr)
	mailerSvc.Start(ctx)
	defer mailerSvc.Stop()

	documentStore, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "farm-portal-api",
	})
	courseSvc := service.NewCourseService(courseRepo, cacheSvc, cfg.Catalog.CacheTTL, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, cacheSvc, notificationSvc, mailerSvc, validate, logr)
	documentSvc := service.NewDocumentService(enrollmentRepo, documentStore, signer, cfg.Documents, logr)
	bookingSvc := service.NewBookingService(bookingRepo, notificationSvc, mailerSvc, validate, logr)
	exportSvc := service.NewExportService(enrollmentRepo, bookingRepo, metricsSvc, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, documentSvc, exportSvc)
	bookingHandler := handler.NewBookingHandler(bookingSvc, exportSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	courses := api.Group("/courses")
	{
		courses.GET("", middleware.OptionalJWT(authSvc), courseHandler.List)
		courses.GET("/available", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleStudent), courseHandler.Available)
		courses.GET("/:id", middleware.OptionalJWT(authSvc), courseHandler.Get)

		admin := courses.Group("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
		admin.POST("", courseHandler.Create)
		admin.PUT("/:id", courseHandler.Update)
		admin.PATCH("/:id/toggle", courseHandler.ToggleStatus)
		admin.DELETE("/:id", courseHandler.Delete)
	}

	enrollments := api.Group("/enrollments", middleware.JWT(authSvc))
	{
		enrollments.GET("", enrollmentHandler.List)
		enrollments.GET("/status", enrollmentHandler.Status)
		enrollments.GET("/export", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Export)
		enrollments.POST("", middleware.RequireRoles(models.RoleStudent), enrollmentHandler.Submit)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.PUT("/:id/status", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Decide)
		enrollments.PUT("/:id/unenroll", middleware.RequireRoles(models.RoleStudent), enrollmentHandler.Unenroll)
		enrollments.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Delete)
		enrollments.POST("/:id/documents", middleware.RequireRoles(models.RoleStudent), enrollmentHandler.UploadDocument)
		enrollments.GET("/:id/documents", enrollmentHandler.DocumentURL)
	}

	// Signed download links work without a session.
	api.GET("/documents/:token", enrollmentHandler.DownloadDocument)

	bookings := api.Group("/bookings", middleware.JWT(authSvc))
	{
		bookings.GET("", bookingHandler.List)
		bookings.GET("/export", middleware.RequireRoles(models.RoleAdmin), bookingHandler.Export)
		bookings.POST("", middleware.RequireRoles(models.RoleVisitor), bookingHandler.Create)
		bookings.GET("/:id", bookingHandler.Get)
		bookings.PUT("/:id/status", middleware.RequireRoles(models.RoleAdmin), bookingHandler.Decide)
		bookings.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), bookingHandler.Delete)
	}

	notifications := api.Group("/notifications", middleware.JWT(authSvc))
	{
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread", notificationHandler.UnreadCount)
		notifications.PUT("/read", notificationHandler.MarkAllRead)
		notifications.PUT("/:id/read", notificationHandler.MarkRead)
		notifications.DELETE("", notificationHandler.Purge)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/chatmate-app/chatmate/server/api/rest"
	"github.com/chatmate-app/chatmate/server/api/sse"
	apows "github.com/chatmate-app/chatmate/server/api/ws"
	"github.com/chatmate-app/chatmate/server/audit"
	"github.com/chatmate-app/chatmate/server/cache"
	"github.com/chatmate-app/chatmate/server/chat"
	"github.com/chatmate-app/chatmate/server/config"
	dbadapter "github.com/chatmate-app/chatmate/server/db"
	"github.com/chatmate-app/chatmate/server/mailer"
	"github.com/chatmate-app/chatmate/server/metrics"
	mw "github.com/chatmate-app/chatmate/server/middleware"
	"github.com/chatmate-app/chatmate/server/model"
	"github.com/chatmate-app/chatmate/server/notify"
	"github.com/chatmate-app/chatmate/server/scheduler"
	"github.com/chatmate-app/chatmate/server/session"
	"github.com/chatmate-app/chatmate/server/social"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		log.Fatal("security.jwt_secret must be set")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.New(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Realtime core ----
	sm := session.NewManager(logger)
	notifier := notify.New(sm, pubsub, logger)

	// ---- Services ----
	chatSvc := chat.NewService(db, notifier, logger)
	socialSvc := social.NewService(db, sm, notifier, logger)
	mail := mailer.New(cfg.Mail, logger)

	// ---- Periodic tasks ----
	sched.Every("audit_prune", time.Hour, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := auditSvc.Prune(ctx, cfg.Audit.Retention); err != nil {
			logger.Error("audit prune failed", zap.Error(err))
		}
	})
	sched.Every("session_gauge", time.Minute, func() {
		metrics.BoundSessions.Set(float64(sm.Count()))
	})

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	wsH := apows.NewHandler(c, cfg.Security, sm, wsRouter, logger)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))
	r.Use(metrics.Gin())

	// Health check
	r.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus metrics, optionally restricted by IP.
	r.GET("/metrics", mw.IPWhitelist(cfg.Security.MetricsAllowedIPs),
		gin.WrapH(promhttp.Handler()))

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security, mail, auditSvc, logger)
	chatH := apirest.NewChatHandler(chatSvc, logger)
	friendH := apirest.NewFriendHandler(socialSvc, auditSvc, logger)

	api := r.Group("/api")
	{
		authH.Register(api.Group("/auth"))

		authed := api.Group("", mw.Auth(cfg.Security, c))
		authH.RegisterAuthed(authed.Group("/auth"))
		chatH.Register(authed.Group("/chat"))
		friendH.Register(authed.Group("/friends"))
	}

	// ---- WebSocket ----
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	// ---- Serve with graceful shutdown ----
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	sm.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

package main

import (
	"context"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/config"
	"performer-slots-backend/internal/handlers"
	"performer-slots-backend/internal/middleware"
	"performer-slots-backend/internal/models"
	"performer-slots-backend/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Env != "production" {
		logger.SetLevel(logrus.DebugLevel)
	}

	store, err := services.NewRedisService(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer store.Close()

	locker := redislock.New(store.Client())

	symbols, err := models.LoadSymbolSet(cfg.SymbolsPath)
	if err != nil {
		log.Fatalf("Failed to load symbol table: %v", err)
	}

	engine, err := services.NewSpinEngine(symbols, cfg.IntegritySecret)
	if err != nil {
		log.Fatalf("Failed to build spin engine: %v", err)
	}

	gateway := services.NewHTTPLedgerGateway(cfg.LedgerBaseURL, cfg.LedgerTimeout)
	breaker := services.NewBreakerGateway(gateway, services.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		HalfOpenMax:      cfg.BreakerHalfOpenMax,
	}, logger)

	ledger := services.NewTransactionLedger(store, breaker, locker, cfg.IntegritySecret, logger)
	limiter := services.NewRateLimiter(store, logger)
	queueManager := services.NewQueueManager(store, ledger, breaker, limiter, locker, cfg, logger)
	scheduler := services.NewSessionScheduler(store, queueManager, ledger, breaker, limiter, engine, cfg, logger)
	audit := services.NewAuditReader(store, ledger, logger)

	jwtService := services.NewJWTService(cfg)

	wsHandler := handlers.NewWebSocketHandler(logger)
	dispatcher := services.NewEventDispatcher(store, logger, wsHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatcher.Run(ctx)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				queueManager.ExpireStale(ctx)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scheduler.DrainQueues(ctx)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scheduler.CleanupStaleSessions(ctx, 10*time.Minute)
			}
		}
	}()

	queueHandler := handlers.NewQueueHandler(queueManager, scheduler, logger)
	gameHandler := handlers.NewGameHandler(scheduler, store, breaker, limiter, services.WindowSpec{
		Action: "spin",
		Limit:  cfg.SpinLimitPerWindow,
		Window: cfg.RateLimitWindow,
	})
	auditHandler := handlers.NewAuditHandler(audit)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService))
	{
		protected.GET("/ws", wsHandler.HandleWebSocket)

		queue := protected.Group("/queue")
		{
			queue.POST("/join", queueHandler.Join)
			queue.POST("/leave", queueHandler.Leave)
			queue.GET("/status", queueHandler.Status)
		}

		games := protected.Group("/games")
		{
			games.POST("/spin", gameHandler.Spin)
			games.POST("/sessions/:session_id/complete", gameHandler.Complete)
			games.POST("/sessions/:session_id/abandon", gameHandler.Abandon)
			games.GET("/sessions/:session_id/spins", gameHandler.SpinHistory)
			games.GET("/history", gameHandler.SessionHistory)
			games.GET("/balance", gameHandler.Balance)
		}

		protected.GET("/limits", gameHandler.RateLimitStatus)

		auditGroup := protected.Group("/audit")
		{
			auditGroup.GET("/trail", auditHandler.Trail)
			auditGroup.GET("/verify/:transaction_id", auditHandler.Verify)
		}
	}

	logger.WithField("port", cfg.Port).Info("server starting")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

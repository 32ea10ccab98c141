package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	intDatabase "shopcall-backend/internal/database"
	callHandler "shopcall-backend/internal/handler/http/call"
	wsHandler "shopcall-backend/internal/handler/ws"
	"shopcall-backend/internal/middleware"
	"shopcall-backend/internal/repository/cassandra"
	"shopcall-backend/internal/repository/cockroach"
	redisRepo "shopcall-backend/internal/repository/redis"
	browseService "shopcall-backend/internal/service/browse"
	callService "shopcall-backend/internal/service/call"
	controlService "shopcall-backend/internal/service/control"
	"shopcall-backend/internal/service/sweeper"
	"shopcall-backend/internal/transport"
	pkgDatabase "shopcall-backend/pkg/database"
	"shopcall-backend/pkg/env"
	"shopcall-backend/pkg/jwt"
	"shopcall-backend/pkg/logger"
	"shopcall-backend/pkg/metrics"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.InitDefault()
	defer logger.Sync()

	// 1. Setup JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, 15*time.Minute, 30*24*time.Hour)

	// 2. Connect to CockroachDB for the call archive with retry logic
	dbConfig := &pkgDatabase.CockroachConfig{
		Host:     env.GetString("DB_HOST", "localhost"),
		Port:     26257,
		User:     env.GetString("DB_USER", "root"),
		Password: env.GetStringFromFile("DB_PASSWORD", ""),
		Database: env.GetString("DB_NAME", "shopcall"),
		SSLMode:  "disable",
	}

	var db *pkgDatabase.CockroachDB
	var err error

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err = pkgDatabase.NewCockroachDB(ctx, dbConfig)
	if err != nil {
		for attempt := 2; attempt <= maxRetries; attempt++ {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			log.Printf("⚠️  CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt, err, delay)
			time.Sleep(delay)

			db, err = pkgDatabase.NewCockroachDB(ctx, dbConfig)
			if err == nil {
				break
			}
		}
	}

	if err != nil {
		log.Printf("Warning: Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
		log.Println("Running in limited mode without call history persistence")
	}

	var archiveRepo *cockroach.CallArchiveRepository
	var callArchive callService.CallArchive
	if db != nil {
		defer db.Close()
		archiveRepo = cockroach.NewCallArchiveRepository(db.Pool)
		callArchive = archiveRepo
		log.Println("✅ Connected to CockroachDB")
	}

	// 3. Connect to Cassandra for the browse and cart audit log
	var auditArchive browseService.AuditArchiver
	cassandraDB, err := pkgDatabase.NewCassandraDBFromEnv()
	if err != nil {
		log.Printf("Warning: Failed to connect to Cassandra: %v", err)
		log.Println("Running in limited mode without browse audit log")
	} else {
		defer cassandraDB.Close()
		auditArchive = cassandra.NewAuditRepository(cassandraDB.Session)
		log.Println("✅ Connected to Cassandra")
	}

	// 4. Initialize Redis. Session state lives here, so this one is fatal.
	intDatabase.InitRedisMetrics()
	redisConfig := &intDatabase.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     6379,
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}

	redisDB, err := intDatabase.NewRedisDB(redisConfig)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()

	if err := redisDB.HealthCheck(ctx); err != nil {
		log.Fatalf("Redis health check failed: %v", err)
	}
	log.Println("✅ Connected to Redis")

	go redisDB.StartHealthCheck(ctx, 10*time.Second)
	log.Println("✅ Redis health check started (10s interval)")

	// 5. Initialize repositories and transport
	sessionStore := redisRepo.NewSessionStore(redisDB.Client)
	membershipRepo := redisRepo.NewMembershipRepository(redisDB.Client)
	eventTransport := transport.NewRedisTransport(redisDB.Client)

	// 6. Initialize Metrics
	appMetrics := metrics.NewMetrics("call-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 7. Initialize Services
	coordinator := controlService.NewCoordinator(sessionStore, eventTransport, appMetrics, controlService.Config{
		RequestTTL: env.GetDuration("CONTROL_REQUEST_TTL", controlService.DefaultRequestTTL),
		HoldTTL:    env.GetDuration("CONTROL_HOLD_TTL", controlService.DefaultHoldTTL),
	})
	synchronizer := browseService.NewSynchronizer(sessionStore, eventTransport, auditArchive, appMetrics)
	callSvc := callService.NewService(sessionStore, membershipRepo, callArchive, eventTransport, appMetrics)

	// 8. Start the expiry sweeper
	expirySweeper := sweeper.NewSweeper(sessionStore, coordinator, appMetrics,
		env.GetDuration("SWEEP_INTERVAL", sweeper.DefaultInterval))
	go expirySweeper.Run(ctx)

	// 9. Initialize Handlers
	callHdlr := callHandler.NewHandler(callSvc, coordinator, synchronizer, archiveRepo)
	callHub := wsHandler.NewCallHub(eventTransport, callSvc, coordinator, synchronizer, appMetrics)

	// 10. Setup Gin Router
	router := gin.New()

	trustedProxies := []string{}
	if env := os.Getenv("ENV"); env == "production" {
		trustedProxies = []string{
			"https://api.shopcall.example.com",
			"https://*.shopcall.example.com",
		}
	} else {
		trustedProxies = []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		}
	}
	router.SetTrustedProxies(trustedProxies)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	// Per-user rate limiting backed by Redis
	rateLimiter := middleware.NewRateLimiter(redisDB.Client,
		env.GetInt("RATE_LIMIT_REQUESTS", 300),
		env.GetDuration("RATE_LIMIT_WINDOW", time.Minute))
	router.Use(rateLimiter.Middleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})

	// Metrics endpoint (for Prometheus scraping)
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// Revocation checker
	revocationChecker := middleware.NewRedisRevocationChecker(redisDB)

	// Shopping call routes (all require authentication)
	v1 := router.Group("/v1/shopping-calls")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		v1.POST("", callHdlr.StartCall)
		v1.GET("/:id", callHdlr.GetCall)
		v1.POST("/:id/join", callHdlr.JoinCall)
		v1.POST("/:id/leave", callHdlr.LeaveCall)
		v1.POST("/:id/end", callHdlr.EndCall)
		v1.GET("/:id/browsing", callHdlr.GetBrowsingState)

		v1.POST("/:id/control/request", callHdlr.RequestControl)
		v1.POST("/:id/control/approve", callHdlr.ApproveControl)
		v1.POST("/:id/control/deny", callHdlr.DenyControl)
		v1.POST("/:id/control/release", callHdlr.ReleaseControl)

		// WebSocket endpoint for live call events
		v1.GET("/ws", callHub.ServeWS)
	}

	// Room call history
	rooms := router.Group("/v1/rooms")
	rooms.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		rooms.GET("/:room_id/shopping-calls", callHdlr.GetRoomHistory)
	}

	// 11. Start server
	port := env.GetString("PORT", "8084")
	addr := fmt.Sprintf(":%s", port)

	log.Printf("🚀 Call Service starting on port %s\n", port)
	log.Println("📡 Live call events: /v1/shopping-calls/ws")
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

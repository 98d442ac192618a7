package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saashqdev/delightful-im/internal/cache"
	"github.com/saashqdev/delightful-im/internal/config"
	"github.com/saashqdev/delightful-im/internal/database"
	"github.com/saashqdev/delightful-im/internal/dispatch"
	"github.com/saashqdev/delightful-im/internal/handlers"
	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/lock"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/metrics"
	"github.com/saashqdev/delightful-im/internal/middleware"
	"github.com/saashqdev/delightful-im/internal/priority"
	"github.com/saashqdev/delightful-im/internal/queue"
	"github.com/saashqdev/delightful-im/internal/routes"
	"github.com/saashqdev/delightful-im/internal/services"
	"github.com/saashqdev/delightful-im/internal/store/mongo"
	"github.com/saashqdev/delightful-im/internal/store/postgres"
	"github.com/saashqdev/delightful-im/internal/transport"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		logger.Log.Info("no .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.LogLevel, cfg.LogSink)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sequences, conversations and group membership
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer database.DisconnectPostgres()

	// Locks, dispatch lanes, stream cache and the push relay
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer database.DisconnectRedis()

	// Message bodies and versions
	if err := database.Connect(cfg.MongoURI, cfg.MongoDatabase); err != nil {
		log.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer database.Disconnect()

	ids := idgen.NewSnowflake(cfg.NodeID)
	st := postgres.NewStore(database.PostgresDB, ids)
	msgs := mongo.NewMessageStore(database.DB)

	locks := lock.NewRedisLock(database.RedisClient, lock.Options{
		TTL:       cfg.LockTTL,
		SpinWait:  cfg.SpinLockWait,
		MutexWait: cfg.MutexLockWait,
	})

	var q queue.MessageQueue
	switch cfg.QueueBackend {
	case "memory":
		q = queue.NewMemoryQueue(cfg.QueueCapacity)
		log.Warn("using in-process dispatch queue, units are lost on restart")
	default:
		host, _ := os.Hostname()
		q = queue.NewRedisQueue(database.RedisClient, queue.RedisOptions{Consumer: host, ClaimIdle: cfg.QueueClaimIdle}, log)
	}
	defer q.Close()

	var streams cache.StreamCache
	switch cfg.StreamCacheBackend {
	case "redis":
		streams = cache.NewRedisStreamCache(database.RedisClient, cfg.StreamCacheTTL)
	default:
		mc := cache.NewMemoryStreamCache(cfg.StreamCacheTTL, cfg.StreamCacheMaxEntries, time.Minute)
		defer mc.Close()
		streams = mc
	}

	hub := transport.NewHub(log)
	relay := transport.NewRedisRelay(database.RedisClient, hub, log)
	relay.Start(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metrics.RegisterGauge(reg, "connected_devices", "Websocket devices connected to this instance.", func() float64 {
		return float64(hub.ConnectionCount())
	})

	engine := dispatch.NewEngine(dispatch.Deps{
		Queue:    q,
		Seqs:     st.Sequences(),
		Messages: msgs,
		Sink:     relay,
		Locks:    locks,
		Ledger:   cache.NewRedisLedger(database.RedisClient),
		Metrics:  m,
		Logger:   log,
	}, dispatch.Config{
		PushRetryAttempts: cfg.PushRetryAttempts,
		PushRetryDelay:    cfg.PushRetryDelay,
		PushRedeliveries:  cfg.PushRedeliveries,
		DedupTTL:          cfg.DedupTTL,
	})
	go func() {
		err := engine.RunAll(ctx, map[priority.Priority]int{
			priority.Highest: cfg.WorkersHighest,
			priority.High:    cfg.WorkersHigh,
			priority.Medium:  cfg.WorkersMedium,
			priority.Low:     cfg.WorkersLow,
		})
		if err != nil {
			log.Error("dispatch consumers stopped", "error", err)
			stop()
		}
	}()

	chat := services.NewChatService(services.ChatDeps{
		Store:               st,
		Messages:            msgs,
		IDs:                 ids,
		Dispatcher:          engine,
		Locks:               locks,
		StreamCache:         streams,
		Sink:                relay,
		Metrics:             m,
		Logger:              log,
		StreamFlushInterval: cfg.StreamFlushInterval,
	})
	groups := services.NewGroupService(st, st.Conversations(), log)

	sendLimiter := middleware.NewLimiter(cfg.SendRatePerSecond, cfg.SendRateBurst)
	go sendLimiter.Run(ctx)

	// Setup router
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.IsProduction() {
		perIP := middleware.NewLimiter(50, 100)
		go perIP.Run(ctx)
		for _, mw := range middleware.ProductionSecurity(perIP) {
			r.Use(mw)
		}
		log.Info("production security enabled")
	}

	routes.SetupRoutes(r, routes.Handlers{
		Messages:    handlers.NewMessageHandler(chat, log),
		Groups:      handlers.NewGroupHandler(groups, log),
		WebSocket:   handlers.NewWebSocketHandler(hub, chat, cfg.AllowedOrigins, log),
		SendLimiter: sendLimiter,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "port", cfg.Port, "env", cfg.Environment,
		"queue", cfg.QueueBackend, "stream_cache", cfg.StreamCacheBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

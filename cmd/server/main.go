package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/shortloop/shortloop/config"
	appmodel "github.com/shortloop/shortloop/internal/app/model"
	apprepository "github.com/shortloop/shortloop/internal/app/repository"
	appserver "github.com/shortloop/shortloop/internal/app/server"
	appservice "github.com/shortloop/shortloop/internal/app/service"
	"github.com/shortloop/shortloop/internal/app/shortid"
	"github.com/shortloop/shortloop/internal/infra/logger"
	infraNATS "github.com/shortloop/shortloop/internal/infra/nats"
	infraPostgres "github.com/shortloop/shortloop/internal/infra/postgres"
	infraPrometheus "github.com/shortloop/shortloop/internal/infra/prometheus"
	infraRedis "github.com/shortloop/shortloop/internal/infra/redis"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("addr", cfg.App.ListenAddr()),
		zap.String("base_url", cfg.App.PublicBaseURL()),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Int("nats_port", cfg.NATS.Port),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB, &appmodel.Link{}, &appmodel.ClickEvent{}); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()

	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	natsConn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer natsConn.Drain()
	log.Info("Connected to NATS successfully", zap.Bool("jetstream_ready", js != nil))

	if !isDev {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	baseRepo := apprepository.NewLinkRepository(gormDB)
	cachedRepo := apprepository.NewCachedLinkRepository(baseRepo, redisClient, log)
	if err := cachedRepo.Warm(ctx); err != nil {
		log.Warn("Failed to warm the short ID filter, continuing cold", zap.Error(err))
	}

	reaper := apprepository.NewExpiryReaper(log, baseRepo)
	reaper.Start()
	defer reaper.Stop()

	clickConsumer := appservice.NewClickConsumer(js, log)
	if err := clickConsumer.Start(); err != nil {
		log.Fatal("Failed to start click event consumer", zap.Error(err))
	}
	defer clickConsumer.Stop()

	links := appservice.NewLinkService(appservice.LinkServiceDeps{
		Logger:   log,
		Repo:     cachedRepo,
		IDs:      shortid.NewGenerator(),
		Enricher: appservice.BoundEnricher(appservice.NewNoopEnricher(), cfg.App.GeoLookupTimeout(), log),
		Clicks:   appservice.NewClickPublisher(js),
		OnCreate: reaper.Notify,
	})

	// Analytics reads go straight to Postgres so click counts are live.
	analytics := appservice.NewAnalyticsService(baseRepo, cfg.App.PublicBaseURL())

	server := appserver.New(appserver.Dependencies{
		Logger:    log,
		Redis:     redisClient,
		Links:     links,
		Analytics: analytics,
		BaseURL:   cfg.App.PublicBaseURL(),
	})

	if err := server.Listen(cfg.App.ListenAddr()); err != nil {
		log.Fatal("Fiber server exited", zap.Error(err))
	}
}

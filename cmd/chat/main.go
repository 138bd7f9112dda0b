package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/api"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/auth"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/config"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/discovery"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/hub"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/kafka"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/metrics"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/presence"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/redis"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/repository"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/service"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/storage"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/utils"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/ws"
)

func main() {
	_ = godotenv.Load() // load .env if present

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}

	logger, err := utils.NewLogger(cfg.App.Dev())
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	instanceID := cfg.App.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger = logger.With(zap.String("instance_id", instanceID))
	logger.Info("starting chat service", zap.String("env", cfg.App.Env), zap.Int("port", cfg.App.Port))

	metrics.Init()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Mongo, or the in-memory store for local runs
	var (
		mc   *mongo.Client
		repo repository.Repository
	)
	if cfg.Mongo.Enabled {
		mc, err = repository.NewMongoClient(ctx, cfg.Mongo.URI, cfg.ConnectTimeout, time.Minute, logger)
		if err != nil {
			logger.Fatal("mongo connect", zap.Error(err))
		}
		db := mc.Database(cfg.Mongo.Database)
		mrepo := repository.NewMongoRepository(
			db.Collection(cfg.Mongo.MessagesCollection),
			db.Collection(cfg.Mongo.ConversationsCollection),
			cfg.OpTimeout,
		)
		if err := mrepo.EnsureIndexes(ctx); err != nil {
			logger.Fatal("mongo indexes", zap.Error(err))
		}
		repo = mrepo
	} else {
		logger.Warn("mongo disabled, using in-memory store")
		repo = repository.NewMemoryStore()
	}

	h := hub.NewHub(logger)
	reg := presence.NewRegistry()
	reg.AddNotifier(ws.PresenceNotifier(h, reg, logger))

	deps := service.Deps{
		Repo:        repo,
		Presence:    reg,
		Broadcaster: h,
		Logger:      logger,
	}

	// Redis presence mirror and cross-instance relay
	var (
		rdb   *goredis.Client
		store *redis.Store
	)
	if cfg.Redis.Enabled {
		rdb, err = redis.Connect(ctx, &goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Pass,
			DB:       cfg.Redis.DB,
		}, time.Minute, logger)
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		store = redis.NewStore(rdb, cfg.Redis.Prefix, cfg.PresenceTTL, logger)
		reg.AddNotifier(store)
		deps.RemotePresence = store

		relay := redis.NewRelay(store, cfg.Redis.RelayChannel, instanceID, logger)
		h.PublishToOtherInstances = relay.Publish
		go relay.Run(ctx, h)
	}

	// Kafka domain events
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, kafka.BreakerSettings{
			MaxFailures: cfg.Kafka.Breaker.MaxFailures,
			Interval:    time.Duration(cfg.Kafka.Breaker.IntervalSeconds) * time.Second,
			Timeout:     time.Duration(cfg.Kafka.Breaker.TimeoutSeconds) * time.Second,
		}, logger)
		deps.Events = producer
	}

	chat := service.NewChatService(deps)

	var jv *auth.JWTValidator
	if cfg.JWT.Enabled {
		if cfg.JWT.Algorithm == "RS256" {
			jv, err = auth.NewJWTValidatorRS256(cfg.JWT.PublicKeyPath)
		} else {
			jv, err = auth.NewJWTValidatorHS256(cfg.JWT.HSSecret)
		}
		if err != nil {
			logger.Fatal("jwt validator init", zap.Error(err))
		}
	}

	opts := api.Options{
		JWT:            jv,
		Limiter:        api.NewIPRateLimiter(ctx, cfg.HTTP.RateLimitPerMinute, 0, logger),
		RequestTimeout: cfg.RequestTimeout,
	}
	if cfg.S3.Enabled {
		s3store, err := storage.NewS3Store(ctx, storage.S3Options{
			Region:        cfg.S3.Region,
			Bucket:        cfg.S3.Bucket,
			Endpoint:      cfg.S3.Endpoint,
			PublicBaseURL: cfg.S3.PublicBaseURL,
			UploadTTL:     cfg.UploadTTL,
		})
		if err != nil {
			logger.Fatal("s3 init", zap.Error(err))
		}
		opts.Presigner = s3store
	}
	app := api.NewServer(chat, opts, logger)

	disp := ws.NewDispatcher(h, chat, reg, logger, cfg.RequestTimeout)
	if store != nil {
		disp.WithToucher(store)
	}
	ws.NewServer(disp, jv, ws.Options{
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
		WriteDeadline:  cfg.WriteDeadline,
		MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
		SendBuffer:     cfg.WS.SendBuffer,
		RatePerSecond:  cfg.WS.RatePerSecond,
		Burst:          cfg.WS.Burst,
	}, logger).Register(app, "/ws")

	var registrar *discovery.Registrar
	if cfg.Consul.Addr != "" {
		registrar, err = discovery.NewRegistrar(cfg.Consul.Addr, logger)
		if err != nil {
			logger.Fatal("consul client", zap.Error(err))
		}
		addr := cfg.Consul.ServiceAddress
		if addr == "" {
			addr, _ = os.Hostname()
		}
		if err := registrar.Register(discovery.Service{
			ID:            cfg.Consul.ServiceName + "-" + instanceID,
			Name:          cfg.Consul.ServiceName,
			Address:       addr,
			Port:          cfg.App.Port,
			CheckInterval: time.Duration(cfg.Consul.CheckIntervalSeconds) * time.Second,
		}); err != nil {
			logger.Warn("consul registration failed", zap.Error(err))
			registrar = nil
		}
	}

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		logger.Info("listening", zap.String("addr", addr))
		errs <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server error", zap.Error(err))
		}
	case s := <-quit:
		logger.Info("signal received", zap.String("signal", s.String()))
	}

	logger.Info("shutting down chat service")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if registrar != nil {
		_ = registrar.Deregister(cfg.Consul.ServiceName + "-" + instanceID)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
	if producer != nil {
		_ = producer.Close(shutdownCtx)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if mc != nil {
		_ = mc.Disconnect(shutdownCtx)
	}
	logger.Info("shutdown complete")
}

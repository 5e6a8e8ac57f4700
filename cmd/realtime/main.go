package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/api"
	"github.com/fathima-sithara/tiffin-realtime/internal/auth"
	"github.com/fathima-sithara/tiffin-realtime/internal/config"
	"github.com/fathima-sithara/tiffin-realtime/internal/discovery"
	"github.com/fathima-sithara/tiffin-realtime/internal/events"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
	"github.com/fathima-sithara/tiffin-realtime/internal/kafka"
	"github.com/fathima-sithara/tiffin-realtime/internal/logger"
	"github.com/fathima-sithara/tiffin-realtime/internal/metrics"
	"github.com/fathima-sithara/tiffin-realtime/internal/middleware"
	presence "github.com/fathima-sithara/tiffin-realtime/internal/redis"
	"github.com/fathima-sithara/tiffin-realtime/internal/repository"
	"github.com/fathima-sithara/tiffin-realtime/internal/service"
	"github.com/fathima-sithara/tiffin-realtime/internal/storage"
	"github.com/fathima-sithara/tiffin-realtime/internal/ws"
)

type stores struct {
	messages      repository.MessageStore
	notifications repository.NotificationStore
	users         repository.UserDirectory
	client        *mongo.Client
}

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Development: cfg.Development(), Level: cfg.App.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.With("instance_id", cfg.App.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStores(ctx, cfg, log)
	if err != nil {
		log.Fatalw("store init", "driver", cfg.Store.Driver, "error", err)
	}

	verifier, err := auth.NewVerifier(cfg.JWT.Alg, cfg.JWT.Secret, cfg.JWT.PublicKeyPath)
	if err != nil {
		log.Fatalw("jwt verifier init", "error", err)
	}

	m := metrics.New()
	h := hub.New(log, hub.WithObserver(m))

	var (
		rdb     *goredis.Client
		relay   *presence.Relay
		pstore  *presence.Store
		limiter *middleware.RateLimiter
		wsPres  ws.Presence
		apiPres api.PresenceReader
	)
	if cfg.Redis.Addr != "" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalw("redis connect", "addr", cfg.Redis.Addr, "error", err)
		}
		pstore = presence.NewStore(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)
		relay = presence.NewRelay(rdb, cfg.Redis.Prefix, cfg.App.InstanceID, log)
		limiter = middleware.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit.Requests, cfg.RateWindow, log)
		h.SetRelay(relay)
		wsPres, apiPres = pstore, pstore
	} else {
		log.Warnw("redis.addr not set: running single instance without presence mirror or rate limits")
	}

	pub, err := buildPublisher(cfg, log)
	if err != nil {
		log.Fatalw("events init", "driver", cfg.Events.Driver, "error", err)
	}

	notify := service.NewNotificationService(st.notifications, h, pub, m, log)
	chat := service.NewChatService(service.ChatDeps{
		Store:     st.messages,
		Users:     st.users,
		Hub:       h,
		Publisher: pub,
		Notifier:  notify,
		Typing:    service.NewTypingTracker(cfg.TypingIdle),
		Recorder:  m,
		Log:       log,
	})

	socket := ws.NewHandler(h, ws.NewDispatcher(chat, notify, h, m, log), chat, wsPres, ws.HandlerConfig{
		InstanceID:        cfg.App.InstanceID,
		PingInterval:      cfg.PingInterval,
		WriteDeadline:     cfg.WriteDeadline,
		MaxMessageSize:    cfg.WS.MaxMessageSizeBytes,
		SendBuffer:        cfg.WS.SendBuffer,
		MessagesPerSecond: cfg.WS.MessagesPerSecond,
	}, log)

	var uploads api.Uploader
	if cfg.S3.Bucket != "" {
		s3store, err := storage.NewS3Store(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.PresignTTL)
		if err != nil {
			log.Fatalw("s3 init", "bucket", cfg.S3.Bucket, "error", err)
		}
		uploads = s3store
	}

	deps := api.Deps{
		InstanceID:   cfg.App.InstanceID,
		AllowOrigins: cfg.App.AllowOrigins,
		Verifier:     verifier,
		Users:        st.users,
		Chat:         chat,
		Notify:       notify,
		Hub:          h,
		Presence:     apiPres,
		Uploads:      uploads,
		RateLimit:    limiter,
		Socket:       socket,
		Log:          log,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = m.Handler()
	}
	app := api.NewServer(deps)

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Errorw("background worker stopped", "worker", name, "error", err)
			}
		}()
	}

	if relay != nil {
		background("relay", func(ctx context.Context) error { return relay.Run(ctx, h) })
	}
	background("notification-purge", func(ctx context.Context) error {
		notify.RunPurge(ctx, cfg.PurgeInterval)
		return nil
	})

	var consumer *kafka.Consumer
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.TopicNotifications != "" {
		reader := kafka.NewReader(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.TopicNotifications,
			GroupID: cfg.Kafka.GroupID,
		})
		var dlq kafka.MessageWriter
		if cfg.Kafka.DLQTopic != "" {
			dlq = kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.DLQTopic)
		}
		consumer = kafka.NewConsumer(reader, dlq, notify, cfg.Kafka.MaxRetries, cfg.RetryBackoff, log)
		background("notification-consumer", consumer.Start)
	}

	var registrar *discovery.Registrar
	if cfg.Consul.Addr != "" {
		registrar, err = discovery.NewConsulRegistrar(cfg.Consul.Addr, discovery.Registration{
			ServiceName: cfg.Consul.ServiceName,
			InstanceID:  cfg.App.InstanceID,
			Host:        cfg.Consul.ServiceHost,
			Port:        cfg.App.Port,
		}, log)
		if err == nil {
			err = registrar.Register(ctx)
		}
		if err != nil {
			log.Warnw("consul registration failed", "addr", cfg.Consul.Addr, "error", err)
			registrar = nil
		}
	}

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		log.Infow("realtime service listening", "addr", addr, "store", cfg.Store.Driver, "events", cfg.Events.Driver)
		errs <- app.Listen(addr)
	}()

	select {
	case err := <-errs:
		log.Errorw("server error", "error", err)
		stop()
	case <-ctx.Done():
		log.Infow("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if registrar != nil {
		if err := registrar.Deregister(shutdownCtx); err != nil {
			log.Warnw("consul deregister failed", "error", err)
		}
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Warnw("kafka consumer close", "error", err)
		}
	}
	wg.Wait()

	if err := pub.Close(shutdownCtx); err != nil {
		log.Warnw("event publisher close", "error", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if st.client != nil {
		if err := st.client.Disconnect(shutdownCtx); err != nil {
			log.Warnw("mongo disconnect", "error", err)
		}
	}
	log.Infow("shutdown complete")
}

func buildStores(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		log.Warnw("memory store driver: data is lost on restart")
		return &stores{
			messages:      repository.NewMemoryMessageStore(),
			notifications: repository.NewMemoryNotificationStore(),
			users:         repository.NewMemoryUserDirectory(),
		}, nil
	}

	db, client, err := repository.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log)
	if err != nil {
		return nil, err
	}
	msgs := repository.NewMongoMessageStore(db, cfg.Mongo.MessagesCollection)
	notes := repository.NewMongoNotificationStore(db, cfg.Mongo.NotificationsCollection)
	if err := msgs.EnsureIndexes(ctx); err != nil {
		log.Warnw("message indexes", "error", err)
	}
	if err := notes.EnsureIndexes(ctx); err != nil {
		log.Warnw("notification indexes", "error", err)
	}
	return &stores{
		messages:      msgs,
		notifications: notes,
		users:         repository.NewMongoUserDirectory(db, cfg.Mongo.UsersCollection),
		client:        client,
	}, nil
}

// buildPublisher wraps the configured broker in a circuit breaker.
func buildPublisher(cfg *config.Config, log *zap.SugaredLogger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "kafka":
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicChatEvents)
		return events.NewBreaker(p, events.DefaultBreakerConfig("kafka-chat-events"), log), nil
	case "nats":
		p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return nil, err
		}
		return events.NewBreaker(p, events.DefaultBreakerConfig("nats-chat-events"), log), nil
	}
	return events.Nop{}, nil
}

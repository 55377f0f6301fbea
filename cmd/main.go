package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"eventhub-realtime/internal/auth"
	"eventhub-realtime/internal/config"
	"eventhub-realtime/internal/conversation"
	"eventhub-realtime/internal/delivery"
	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/events"
	"eventhub-realtime/internal/infrastructure/kafka"
	"eventhub-realtime/internal/infrastructure/redis"
	"eventhub-realtime/internal/logger"
	"eventhub-realtime/internal/messaging"
	"eventhub-realtime/internal/notify"
	"eventhub-realtime/internal/presence"
	"eventhub-realtime/internal/relay"
	"eventhub-realtime/internal/store"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.New(cfg.Environment, cfg.LogLevel)

	// Log a panic before the process exits.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Application recovered from panic")
			os.Exit(1)
		}
	}()

	log.Info().
		Str("env", cfg.Environment).
		Str("port", cfg.Port).
		Str("store", cfg.StoreBackend).
		Str("presence", cfg.PresenceBackend).
		Str("presence_scope", cfg.PresenceScope).
		Bool("kafka", cfg.KafkaEnabled).
		Str("cors_origins", cfg.GetCORSOrigins()).
		Msg("Starting EventHub realtime server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("Failed to open store")
	}
	defer dataStore.Close()

	if cfg.SeedDemoUsers {
		seedDemoUsers(ctx, dataStore, log)
	}

	hub := delivery.NewHub(log)

	var (
		tracker     presence.Tracker   = presence.NewMemoryTracker()
		broadcaster domain.Broadcaster = hub
		redisClient *redis.RedisClient
		redisRelay  *redis.Relay
	)
	if cfg.PresenceBackend == "redis" {
		redisClient = redis.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
		if err := redisClient.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr()).Msg("Redis connection failed")
		}
		log.Info().Str("addr", cfg.RedisAddr()).Msg("Redis connection successful")

		redisRelay = redis.NewRelay(redisClient, cfg.RedisChannel, hub, log)
		if err := redisRelay.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to broadcast channel")
		}
		tracker = redis.NewPresenceTracker(redisClient)
		broadcaster = redisRelay
	}

	contacts := func(ctx context.Context, userID string) ([]string, error) {
		summaries, err := dataStore.ListConversationsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(summaries))
		for _, s := range summaries {
			ids = append(ids, s.OtherUserID)
		}
		return ids, nil
	}
	presenceSvc := presence.NewService(tracker, broadcaster, cfg.PresenceScope, contacts, log)

	router := conversation.NewRouter(dataStore, dataStore, presenceSvc, cfg.SupportWindow, log)
	bus := events.NewBus(log)

	notifySvc := notify.NewService(dataStore, presenceSvc, broadcaster, log)
	for _, eventType := range notify.HandledEvents() {
		bus.Subscribe(eventType, notifySvc.HandleEvent)
	}

	messagingSvc := messaging.NewService(dataStore, dataStore, router, presenceSvc, broadcaster, bus, log)
	typing := relay.NewTyping(presenceSvc, broadcaster, log)
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, dataStore)

	wsManager := delivery.NewWSManager(authenticator, hub, broadcaster, presenceSvc, messagingSvc, notifySvc, typing, log)
	server := delivery.NewServer(cfg, authenticator, hub, wsManager, messagingSvc, notifySvc, log)
	server.AddHealthCheck("store", dataStore.Ping)
	if redisClient != nil {
		server.AddHealthCheck("redis", redisClient.Ping)
	}

	var (
		kafkaConsumer *kafka.KafkaConsumer
		kafkaProducer *kafka.KafkaProducer
	)
	if cfg.KafkaEnabled {
		kafkaProducer = kafka.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaOutboundTopic, log)
		bus.SubscribeAll(kafkaProducer.Forward)

		kafkaConsumer = kafka.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaInboundTopics, bus, log)
		kafkaConsumer.Start(ctx)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Strs("topics", cfg.KafkaInboundTopics).Msg("Kafka bridge started")
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down HTTP server")
		}
		if kafkaConsumer != nil {
			if err := kafkaConsumer.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing Kafka consumer")
			}
		}
		if kafkaProducer != nil {
			if err := kafkaProducer.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing Kafka producer")
			}
		}
		if redisRelay != nil {
			if err := redisRelay.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing Redis relay")
			}
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing Redis client")
			}
		}
	}()

	if err := server.Start(); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.DataStore, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		sqlite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sqlite, nil
	}
}

// seedDemoUsers stands in for the CRUD layer during local development.
func seedDemoUsers(ctx context.Context, users store.UserDirectory, log zerolog.Logger) {
	demo := []domain.User{
		{ID: "admin-1", Name: "EventHub Support", Email: "support@eventhub.local", Role: domain.RoleAdmin},
		{ID: "user-1", Name: "Alice", Email: "alice@eventhub.local", Role: domain.RoleUser},
		{ID: "user-2", Name: "Bob", Email: "bob@eventhub.local", Role: domain.RoleUser},
	}
	for _, u := range demo {
		if err := users.UpsertUser(ctx, u); err != nil {
			log.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to seed demo user")
		}
	}
	log.Info().Int("count", len(demo)).Msg("Seeded demo users")
}

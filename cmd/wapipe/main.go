package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"wapipe/config"
	"wapipe/internal/ai"
	"wapipe/internal/archive"
	"wapipe/internal/automation"
	"wapipe/internal/cache"
	"wapipe/internal/crypto"
	"wapipe/internal/db"
	"wapipe/internal/events"
	"wapipe/internal/meta"
	"wapipe/internal/pipeline"
	"wapipe/internal/queue"
	"wapipe/internal/refresher"
	"wapipe/internal/store"
	"wapipe/internal/webhook"
	"wapipe/pkg/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	conn, err := db.Connect(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer conn.Close()

	if err := db.InitSchema(conn); err != nil {
		log.Fatal().Err(err).Msg("Schema initialization failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var credCache cache.Cache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Address).Msg("Redis connection failed")
		}
		credCache = cache.NewRedisCache(rdb)
		log.Info().Str("addr", cfg.Redis.Address).Msg("Using Redis credential cache")
	} else {
		credCache = cache.NewMemoryCache()
	}

	var dispatcher events.Dispatcher = events.NopDispatcher{}
	if cfg.Events.AMQPURL != "" {
		amqpDispatcher, err := events.NewAMQPDispatcher(cfg.Events.AMQPURL, cfg.Events.QueuePrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("RabbitMQ connection failed")
		}
		defer amqpDispatcher.Close()
		dispatcher = amqpDispatcher
	} else {
		log.Warn().Msg("AMQP_URL not set, pipeline events will be dropped")
	}

	cipher, err := crypto.New(cfg.Meta.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Token cipher initialization failed")
	}

	accounts := store.NewAccountStore(conn)
	conversations := store.NewConversationStore(conn)
	messages := store.NewMessageStore(conn)
	automations := store.NewAutomationStore(conn)

	creds := meta.NewCredentialProvider(accounts, credCache, cipher)
	graph := meta.NewClient(cfg.Meta.GraphBaseURL, cfg.Meta.APIVersion, creds)

	var aiService ai.Service = ai.NopService{}
	if cfg.AI.ServiceURL != "" {
		aiService = ai.NewHTTPService(cfg.AI.ServiceURL, cfg.AI.Concurrency)
	} else {
		log.Warn().Msg("AI_SERVICE_URL not set, AI replies disabled")
	}

	engine := automation.NewEngine(automations, conversations, graph, aiService)
	keywords := automation.NewKeywordEvaluator(automations, graph)
	router := automation.NewRouter(engine, keywords)

	processor := pipeline.NewProcessor(accounts, conversations, messages, dispatcher, router, aiService)

	var archiver queue.Archiver
	if cfg.Archive.Enabled {
		archiver = archive.NewS3Archiver(cfg.Archive)
	}

	jobStore := queue.NewStore(conn, cfg.Queue.MaxAttempts, cfg.Queue.BackoffBase)
	jobDispatcher := queue.NewDispatcher(jobStore, processor, archiver,
		cfg.Queue.Workers, cfg.Queue.PollInterval, cfg.Queue.AttemptTimeout)
	jobDispatcher.Start(ctx)

	tokenRefresher := refresher.New(accounts, graph, creds, cipher,
		cfg.Meta.AppID, cfg.Meta.AppSecret,
		cfg.Refresher.ExpiryWindow, cfg.Refresher.Interval)
	tokenRefresher.Start(ctx)

	verifier := webhook.NewVerifier(cfg.Meta.AppSecret, cfg.Meta.VerifyToken)
	handler := webhook.NewHandler(verifier, jobStore, cfg.Server.WebhookPath)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Address).Str("path", cfg.Server.WebhookPath).Msg("Webhook server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	jobDispatcher.Stop()
	log.Info().Msg("Shutdown complete")
}

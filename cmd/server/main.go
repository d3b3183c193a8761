// Package main is the entry point for the laiive backend service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dialogoo/laiive-cbd51641-sub000/config"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/api"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/events"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/extract"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/handlers"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/llm"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/moderation"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/queue"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/ratelimit"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/redisx"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/speech"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/store"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/toolcat"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/tools"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/urlguard"
)

const (
	version         = "1.2.0"
	shutdownTimeout = 5 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}
	log.Printf("Starting laiive backend v%s", version)

	cfg := config.Load()
	log.Printf("Configuration loaded - datastore: %s, gateway: %s, chat model: %s",
		cfg.DataStoreDriver, cfg.GatewayBaseURL, cfg.ChatModel)

	eventStore, err := store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
	if err != nil {
		log.Fatalf("Failed to open datastore: %v", err)
	}
	defer eventStore.Close()

	redisClient, err := redisx.NewClient(redisx.Config{
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TLSEnabled:  cfg.RedisTLSEnabled,
		TLSInsecure: cfg.RedisTLSInsecure,
	})
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := events.NewBus(events.Options{
		Client:  redisClient,
		Logger:  log.Default(),
		Channel: cfg.EventsChannel,
	})

	catalog, err := toolcat.Load(cfg.ToolCatalogPath)
	if err != nil {
		log.Fatalf("Failed to load tool catalog: %v", err)
	}

	gateway := llm.NewClient(llm.Config{
		BaseURL:           cfg.GatewayBaseURL,
		APIKey:            cfg.GatewayAPIKey,
		ChatModel:         cfg.ChatModel,
		ExtractionModel:   cfg.ExtractionModel,
		StreamTimeout:     cfg.StreamTimeout,
		CompletionTimeout: cfg.CompletionTimeout,
	})

	executor := tools.New(tools.Options{
		Store:    eventStore,
		Catalog:  catalog,
		Bus:      bus,
		RadiusKM: cfg.SearchRadiusKM,
	})

	deps := handlers.Deps{
		Gateway:   gateway,
		Executor:  executor,
		Catalog:   catalog,
		Extractor: extract.New(gateway, catalog),
		Fetcher:   urlguard.NewFetcher(cfg.FetchTimeout, cfg.FetchMaxBytes),
		Speech: speech.NewClient(speech.Config{
			URL:     cfg.SpeechAPIURL,
			APIKey:  cfg.SpeechAPIKey,
			Model:   cfg.SpeechModel,
			Timeout: time.Minute,
		}),
		Moderator: moderation.NewClient(cfg.ModerationURL, cfg.ModerationTimeout),
		Limiter:   ratelimit.New(cfg.RateLimit, cfg.RateWindow, cfg.RateMaxEntries),
		Bus:       bus,
	}
	if redisClient != nil {
		deps.LogQueue = queue.NewProducer(redisClient, cfg.ConversationLogStream)
	} else {
		log.Println("Conversation logging disabled (REDIS_ADDR not set)")
	}

	handler := handlers.New(deps, handlers.Options{
		MaxAudioBytes:        cfg.MaxAudioBytes,
		MaxURLLength:         cfg.MaxURLLength,
		ConversationFailOpen: cfg.ConversationFailOpen,
		EventFailOpen:        cfg.EventFailOpen,
	})

	server := api.NewServer(handler, api.Options{APIToken: cfg.APIToken})
	srv := server.Start(":" + cfg.ServerPort)
	log.Printf("Server listening on :%s", cfg.ServerPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server stopped")
}

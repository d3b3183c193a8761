// Package main bootstraps the background worker that drains the
// conversation-log stream into the datastore.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dialogoo/laiive-cbd51641-sub000/config"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/logutil"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/queue"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/redisx"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/store"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/worker"
)

const workerVersion = "1.2.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	_ = godotenv.Load()
	log.Printf("Starting laiive worker v%s", workerVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logutil.Info("worker_bootstrap", map[string]interface{}{
		"version":   workerVersion,
		"redisAddr": cfg.RedisAddr,
		"stream":    cfg.ConversationLogStream,
		"group":     cfg.ConversationLogGroup,
	})

	eventStore, err := store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
	if err != nil {
		log.Fatalf("worker: failed to open datastore: %v", err)
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
		log.Fatalf("worker: failed to connect to redis: %v", err)
	}
	if redisClient == nil {
		log.Fatal("worker: REDIS_ADDR is required")
	}
	defer redisClient.Close()

	host, _ := os.Hostname()
	consumerName := fmt.Sprintf("%s-%d", host, time.Now().UnixNano())
	consumer := queue.NewConsumer(redisClient, cfg.ConversationLogStream, cfg.ConversationLogGroup, consumerName)

	runner := worker.New(worker.Options{
		Store:  eventStore,
		Queue:  consumer,
		Logger: log.Default(),
	})

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
	log.Println("worker exited cleanly")
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"absensi/internal/config"
	"absensi/internal/notify"
	"absensi/internal/queue"
	"absensi/internal/settings"
	"absensi/internal/store"
)

// Worker drains the notification queue and delivers messages to Telegram.
// It only makes sense with the redis backend; with the memory backend the
// server process runs the same loop in a goroutine.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory has no cross-process queue; run the server alone or switch to redis")
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("data dir init failed: %v", err)
	}
	resolver := settings.NewResolver(st)

	redisClient := queue.NewRedis(cfg.RedisAddr)
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, will keep retrying", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	telegram := notify.NewTelegram(resolver)

	log.Println("worker started, waiting for messages...")
	if err := notify.Deliver(ctx, q, telegram); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	log.Println("worker stopped")
}

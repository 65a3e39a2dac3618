package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seongmin-k/coupon-rush/internal/config"
	"github.com/seongmin-k/coupon-rush/internal/database"
	"github.com/seongmin-k/coupon-rush/internal/service"
	"github.com/seongmin-k/coupon-rush/internal/stream"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(2)
	}

	log.Printf("Starting coupon consumer in %s mode", cfg.App.Environment)

	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database connections: %v", err)
		}
	}()

	if err := database.Migrate(ctx, db.Postgres); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	processor := service.NewRecordProcessor(db.Postgres)
	consumer := stream.NewConsumer(stream.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		Topic:           cfg.Kafka.Topic,
		GroupID:         cfg.Consumer.GroupID,
		DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		MaxAttempts:     cfg.Consumer.MaxAttempts,
		BackoffBase:     time.Duration(cfg.Consumer.BackoffBase) * time.Second,
		BackoffCap:      time.Duration(cfg.Consumer.BackoffCap) * time.Second,
	}, processor)
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Printf("Error closing consumer: %v", err)
		}
	}()

	// Expose /metrics so the writer's record and retry counters are scrapeable
	metricsServer := &http.Server{
		Addr:    cfg.Server.GetServerAddr(),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(runCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down consumer...")
		cancel()
		if err := <-done; err != nil {
			log.Printf("Consumer stopped with error: %v", err)
		}
	case err := <-done:
		cancel()
		if err != nil {
			log.Fatalf("Consumer failed: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server forced to shutdown: %v", err)
	}

	log.Println("Consumer exited gracefully")
}
